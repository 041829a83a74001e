package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

const (
	cacheKey        = "inventory:cars"
	defaultCacheTTL = 5 * time.Minute
)

// CachedStore serves List from Redis and invalidates it on every write.
// Cache failures fall through to the store.
type CachedStore struct {
	store  Store
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

var _ Store = (*CachedStore)(nil)

func NewCachedStore(store Store, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedStore {
	if store == nil || client == nil {
		panic("inventory: cached store needs a store and a redis client")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedStore{store: store, redis: client, ttl: ttl, logger: logger}
}

func (s *CachedStore) List(ctx context.Context) ([]Car, error) {
	data, err := s.redis.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var cars []Car
		if err := json.Unmarshal(data, &cars); err == nil {
			return cars, nil
		}
		s.logger.Warn("inventory: discarding corrupt cache entry")
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("inventory: cache read failed", "error", err)
	}

	cars, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(cars); err == nil {
		if err := s.redis.Set(ctx, cacheKey, data, s.ttl).Err(); err != nil {
			s.logger.Warn("inventory: cache write failed", "error", err)
		}
	}
	return cars, nil
}

func (s *CachedStore) Upsert(ctx context.Context, cars []Car) ([]Car, error) {
	out, err := s.store.Upsert(ctx, cars)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return out, nil
}

func (s *CachedStore) MarkSold(ctx context.Context, id string) error {
	if err := s.store.MarkSold(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context) {
	if err := s.redis.Del(ctx, cacheKey).Err(); err != nil {
		s.logger.Warn("inventory: cache invalidation failed", "error", fmt.Errorf("del %s: %w", cacheKey, err))
	}
}

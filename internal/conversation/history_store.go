package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// ErrHistoryNotFound is returned when a lead has no stored conversation.
var ErrHistoryNotFound = errors.New("conversation: history not found")

const conversationTTL = 30 * 24 * time.Hour

// HistoryStore persists transcripts keyed by lead id.
type HistoryStore interface {
	Load(ctx context.Context, leadID string) (Transcript, error)
	Save(ctx context.Context, t Transcript) error
}

// MemoryHistoryStore keeps transcripts in process.
type MemoryHistoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{items: make(map[string][]byte)}
}

func (s *MemoryHistoryStore) Load(ctx context.Context, leadID string) (Transcript, error) {
	s.mu.RLock()
	data, ok := s.items[leadID]
	s.mu.RUnlock()
	if !ok {
		return Transcript{}, ErrHistoryNotFound
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return Transcript{}, err
	}
	return t, nil
}

func (s *MemoryHistoryStore) Save(ctx context.Context, t Transcript) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal history: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[t.LeadID] = data
	return nil
}

// RedisHistoryStore keeps the hot copy of each transcript in Redis.
type RedisHistoryStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

func NewRedisHistoryStore(client *redis.Client, tracer trace.Tracer) *RedisHistoryStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("dealership.internal.conversation.history")
	}
	return &RedisHistoryStore{redis: client, tracer: tracer, ttl: conversationTTL}
}

func (s *RedisHistoryStore) Save(ctx context.Context, t Transcript) error {
	ctx, span := s.tracer.Start(ctx, "conversation.save_history")
	defer span.End()

	data, err := json.Marshal(t)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to marshal history: %w", err)
	}
	if err := s.redis.Set(ctx, conversationKey(t.LeadID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist history: %w", err)
	}
	return nil
}

func (s *RedisHistoryStore) Load(ctx context.Context, leadID string) (Transcript, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.load_history")
	defer span.End()

	data, err := s.redis.Get(ctx, conversationKey(leadID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Transcript{}, ErrHistoryNotFound
		}
		span.RecordError(err)
		return Transcript{}, fmt.Errorf("conversation: failed to load history: %w", err)
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		span.RecordError(err)
		return Transcript{}, fmt.Errorf("conversation: failed to decode history: %w", err)
	}
	return t, nil
}

func conversationKey(leadID string) string {
	return fmt.Sprintf("conversation:%s", leadID)
}

// TieredHistoryStore reads from a hot store first and writes through to a
// durable one. A hot-store failure is logged and never fails the call.
type TieredHistoryStore struct {
	hot     HistoryStore
	durable HistoryStore
	logger  *logging.Logger
}

func NewTieredHistoryStore(hot, durable HistoryStore, logger *logging.Logger) *TieredHistoryStore {
	if hot == nil || durable == nil {
		panic("conversation: tiered history needs both stores")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TieredHistoryStore{hot: hot, durable: durable, logger: logger}
}

func (s *TieredHistoryStore) Load(ctx context.Context, leadID string) (Transcript, error) {
	t, err := s.hot.Load(ctx, leadID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrHistoryNotFound) {
		s.logger.Warn("conversation: hot history unavailable", "lead_id", leadID, "error", err)
	}
	t, err = s.durable.Load(ctx, leadID)
	if err != nil {
		return Transcript{}, err
	}
	if err := s.hot.Save(ctx, t); err != nil {
		s.logger.Warn("conversation: failed to warm hot history", "lead_id", leadID, "error", err)
	}
	return t, nil
}

func (s *TieredHistoryStore) Save(ctx context.Context, t Transcript) error {
	if err := s.hot.Save(ctx, t); err != nil {
		s.logger.Warn("conversation: failed to save hot history", "lead_id", t.LeadID, "error", err)
	}
	return s.durable.Save(ctx, t)
}

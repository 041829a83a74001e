package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

// DefaultProcessedRetention outlives every provider's webhook retry window.
const DefaultProcessedRetention = 7 * 24 * time.Hour

var errMissingEventID = errors.New("events: provider and event id are required")

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ProcessedStore remembers inbound webhook message ids so retried
// deliveries are answered once. Ids older than the retention are pruned.
type ProcessedStore struct {
	db        execer
	retention time.Duration
	now       func() time.Time
	logger    *logging.Logger
}

func NewProcessedStore(pool *pgxpool.Pool, logger *logging.Logger) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return newProcessedStore(pool, logger)
}

func newProcessedStore(db execer, logger *logging.Logger) *ProcessedStore {
	if db == nil {
		panic("events: exec required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ProcessedStore{
		db:        db,
		retention: DefaultProcessedRetention,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// WithRetention sets how long claimed ids are kept.
func (s *ProcessedStore) WithRetention(d time.Duration) *ProcessedStore {
	if d > 0 {
		s.retention = d
	}
	return s
}

// MarkProcessed claims a provider message id. It returns false when another
// delivery already claimed it.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	if strings.TrimSpace(provider) == "" || strings.TrimSpace(eventID) == "" {
		return false, errMissingEventID
	}
	query := `
		INSERT INTO processed_events (provider, event_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query, provider, eventID, s.now())
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Prune deletes ids claimed before the retention window and returns how many
// rows went.
func (s *ProcessedStore) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	ct, err := s.db.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("events: prune processed: %w", err)
	}
	return ct.RowsAffected(), nil
}

// Run prunes every interval until ctx is done.
func (s *ProcessedStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Prune(ctx)
			switch {
			case err != nil:
				s.logger.Error("processed events prune failed", "error", err)
			case n > 0:
				s.logger.Debug("processed events pruned", "rows", n)
			}
		}
	}
}

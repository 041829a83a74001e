package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
)

// EventTransitioned is the outbox event type written with every transition.
const EventTransitioned = "lead.transitioned"

// Execer runs a statement inside the caller's transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// OutboxWriter enqueues an event in the same transaction as the transition.
type OutboxWriter interface {
	InsertTx(ctx context.Context, db Execer, aggregateID, eventType string, payload any) error
}

type pgxDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore writes the lead update and the transition row in a single
// transaction.
type PostgresStore struct {
	db     pgxDB
	outbox OutboxWriter
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool, outbox OutboxWriter) *PostgresStore {
	if pool == nil {
		panic("lifecycle: pgx pool required")
	}
	return &PostgresStore{db: pool, outbox: outbox}
}

func newPostgresStoreWithDB(db pgxDB, outbox OutboxWriter) *PostgresStore {
	return &PostgresStore{db: db, outbox: outbox}
}

func (s *PostgresStore) Commit(ctx context.Context, rec Record, outcome leads.Outcome) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = leads.ApplyOutcomeTx(ctx, tx, rec.LeadID, rec.FromStatus, outcome); err != nil {
		return err
	}

	query := `
		INSERT INTO lead_transitions (id, lead_id, from_status, to_status, score, processed_by, narrative, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err = tx.Exec(ctx, query, rec.ID, rec.LeadID, string(rec.FromStatus), string(rec.ToStatus),
		rec.Score, rec.ProcessedBy, rec.Narrative, rec.Timestamp); err != nil {
		return fmt.Errorf("lifecycle: insert transition: %w", err)
	}

	if s.outbox != nil {
		if err = s.outbox.InsertTx(ctx, tx, rec.LeadID, EventTransitioned, rec); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("lifecycle: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, leadID string) ([]Record, error) {
	query := `
		SELECT id, lead_id, from_status, to_status, score, processed_by, narrative, created_at
		FROM lead_transitions
		WHERE lead_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: history: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			rec      Record
			from, to string
		)
		if err := rows.Scan(&rec.ID, &rec.LeadID, &from, &to, &rec.Score, &rec.ProcessedBy, &rec.Narrative, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("lifecycle: scan transition: %w", err)
		}
		rec.FromStatus = leads.Status(from)
		rec.ToStatus = leads.Status(to)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LastTimestamp(ctx context.Context, leadID string) (time.Time, error) {
	var last time.Time
	query := `SELECT created_at FROM lead_transitions WHERE lead_id = $1 ORDER BY created_at DESC LIMIT 1`
	if err := s.db.QueryRow(ctx, query, leadID).Scan(&last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("lifecycle: last timestamp: %w", err)
	}
	return last, nil
}

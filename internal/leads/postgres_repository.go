package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	db pgxDB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithDB(db pgxDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const leadColumns = `id, source, type, status, name, email, phone, message,
	monthly_income, credit_score_band, employer, job_title, time_at_job, vehicle_of_interest,
	ai_score, ai_summary, assigned_agent, loss_reason, sale_id, amount, created_at, updated_at`

const insertLead = `
	INSERT INTO leads (id, source, type, status, name, email, phone, message,
		monthly_income, credit_score_band, employer, job_title, time_at_job, vehicle_of_interest)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Create inserts a new row. A phone already held by another lead fails with
// ErrDuplicatePhone.
func (r *PostgresRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	lead, err := newLeadRow(req)
	if err != nil {
		return nil, err
	}
	query := insertLead + ` RETURNING created_at, updated_at`
	if err := r.db.QueryRow(ctx, query, lead.insertArgs()...).Scan(&lead.CreatedAt, &lead.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicatePhone
		}
		return nil, fmt.Errorf("leads: insert failed: %w", err)
	}
	return lead, nil
}

// CreateOrGetByPhone inserts with ON CONFLICT DO NOTHING against the unique
// phone index and reads back the winner when the insert lost.
func (r *PostgresRepository) CreateOrGetByPhone(ctx context.Context, req *CreateLeadRequest) (*Lead, bool, error) {
	lead, err := newLeadRow(req)
	if err != nil {
		return nil, false, err
	}
	if lead.Phone == "" {
		created, err := r.Create(ctx, req)
		return created, err == nil, err
	}
	query := insertLead + `
		ON CONFLICT (phone) WHERE phone <> '' DO NOTHING
		RETURNING created_at, updated_at`
	err = r.db.QueryRow(ctx, query, lead.insertArgs()...).Scan(&lead.CreatedAt, &lead.UpdatedAt)
	switch {
	case err == nil:
		return lead, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		existing, err := r.GetByPhone(ctx, lead.Phone)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	default:
		return nil, false, fmt.Errorf("leads: insert failed: %w", err)
	}
}

func newLeadRow(req *CreateLeadRequest) (*Lead, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	lead := &Lead{
		ID:      uuid.New().String(),
		Source:  req.Source,
		Type:    req.Type,
		Status:  StatusNew,
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Message: req.Message,
	}
	lead.Merge(req.ScoringAttributes)
	return lead, nil
}

func (l *Lead) insertArgs() []any {
	return []any{
		l.ID,
		string(l.Source),
		string(l.Type),
		string(l.Status),
		l.Name,
		l.Email,
		l.Phone,
		l.Message,
		l.MonthlyIncome,
		l.CreditScoreBand,
		l.Employer,
		l.JobTitle,
		l.TimeAtJob,
		l.VehicleOfInterest,
	}
}

// GetByID fetches a lead by primary key.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByPhone fetches the oldest lead registered with the phone number.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE phone = $1 ORDER BY created_at ASC LIMIT 1`
	return r.getOne(ctx, query, NormalizePhone(phone))
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*Lead, error) {
	lead, err := scanLead(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return lead, nil
}

// List returns leads newest first.
func (r *PostgresRepository) List(ctx context.Context, filter ListLeadsFilter) ([]*Lead, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("leads: list failed: %w", err)
	}
	defer rows.Close()

	out := []*Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("leads: scan failed: %w", err)
		}
		out = append(out, lead)
	}
	return out, rows.Err()
}

// UpdateScoring merges attrs into the stored row and records the score.
func (r *PostgresRepository) UpdateScoring(ctx context.Context, id string, attrs ScoringAttributes, score int, summary string) (*Lead, error) {
	query := `
		UPDATE leads SET
			monthly_income = COALESCE(NULLIF($2, ''), monthly_income),
			credit_score_band = COALESCE(NULLIF($3, ''), credit_score_band),
			employer = COALESCE(NULLIF($4, ''), employer),
			job_title = COALESCE(NULLIF($5, ''), job_title),
			time_at_job = COALESCE(NULLIF($6, ''), time_at_job),
			vehicle_of_interest = COALESCE(NULLIF($7, ''), vehicle_of_interest),
			ai_score = $8,
			ai_summary = $9,
			updated_at = now()
		WHERE id = $1
		RETURNING ` + leadColumns
	lead, err := scanLead(r.db.QueryRow(ctx, query, id,
		attrs.MonthlyIncome,
		attrs.CreditScoreBand,
		attrs.Employer,
		attrs.JobTitle,
		attrs.TimeAtJob,
		attrs.VehicleOfInterest,
		score,
		summary,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: update scoring failed: %w", err)
	}
	return lead, nil
}

// ApplyOutcome updates status and outcome fields guarded by the expected status.
func (r *PostgresRepository) ApplyOutcome(ctx context.Context, id string, expected Status, outcome Outcome) error {
	return ApplyOutcomeTx(ctx, r.db, id, expected, outcome)
}

// ApplyOutcomeTx runs the guarded outcome update on any pgx executor, so the
// lifecycle store can run it inside its own transaction.
func ApplyOutcomeTx(ctx context.Context, db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}, id string, expected Status, outcome Outcome) error {
	query := `
		UPDATE leads SET
			status = $3,
			ai_score = CASE WHEN $4 > 0 THEN $4 ELSE ai_score END,
			assigned_agent = COALESCE(NULLIF($5, ''), assigned_agent),
			loss_reason = COALESCE(NULLIF($6, ''), loss_reason),
			sale_id = COALESCE(NULLIF($7, ''), sale_id),
			amount = CASE WHEN $8 > 0 THEN $8 ELSE amount END,
			updated_at = now()
		WHERE id = $1 AND status = $2
	`
	tag, err := db.Exec(ctx, query, id, string(expected), string(outcome.Status),
		outcome.AIScore, outcome.AssignedAgent, outcome.LossReason, outcome.SaleID, outcome.Amount)
	if err != nil {
		return fmt.Errorf("leads: apply outcome failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func scanLead(row pgx.Row) (*Lead, error) {
	var (
		lead                   Lead
		source, typ, status    string
		createdAt, updatedAtTS time.Time
	)
	if err := row.Scan(
		&lead.ID,
		&source,
		&typ,
		&status,
		&lead.Name,
		&lead.Email,
		&lead.Phone,
		&lead.Message,
		&lead.MonthlyIncome,
		&lead.CreditScoreBand,
		&lead.Employer,
		&lead.JobTitle,
		&lead.TimeAtJob,
		&lead.VehicleOfInterest,
		&lead.AIScore,
		&lead.AISummary,
		&lead.AssignedAgent,
		&lead.LossReason,
		&lead.SaleID,
		&lead.Amount,
		&createdAt,
		&updatedAtTS,
	); err != nil {
		return nil, err
	}
	lead.Source = Source(source)
	lead.Type = Type(typ)
	lead.Status = Status(status)
	lead.CreatedAt = createdAt
	lead.UpdatedAt = updatedAtTS
	return &lead, nil
}

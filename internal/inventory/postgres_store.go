package inventory

import (
	"context"
	"fmt"

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

// PostgresStore keeps the inventory in the cars table.
type PostgresStore struct {
	db pgxDB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("inventory: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithDB(db pgxDB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) List(ctx context.Context) ([]Car, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, make, model, year, trim, price, mileage, available, updated_at
		FROM cars
		ORDER BY make, model, year DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("inventory: list cars: %w", err)
	}
	defer rows.Close()

	var cars []Car
	for rows.Next() {
		var c Car
		if err := rows.Scan(&c.ID, &c.Make, &c.Model, &c.Year, &c.Trim, &c.Price, &c.Mileage, &c.Available, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("inventory: scan car: %w", err)
		}
		cars = append(cars, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inventory: list cars: %w", err)
	}
	return cars, nil
}

// Upsert inserts cars, replacing a listing with the same make, model, trim
// and year.
func (s *PostgresStore) Upsert(ctx context.Context, cars []Car) ([]Car, error) {
	out := make([]Car, 0, len(cars))
	for _, c := range cars {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		err := s.db.QueryRow(ctx, `
			INSERT INTO cars (id, make, model, year, trim, price, mileage, available)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (lower(make), lower(model), trim, year) DO UPDATE
			SET price = EXCLUDED.price, mileage = EXCLUDED.mileage, available = EXCLUDED.available, updated_at = now()
			RETURNING id, updated_at
		`, c.ID, c.Make, c.Model, c.Year, c.Trim, c.Price, c.Mileage, c.Available).Scan(&c.ID, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("inventory: upsert %s: %w", c.Name(), err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresStore) MarkSold(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE cars SET available = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("inventory: mark sold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCarNotFound
	}
	return nil
}

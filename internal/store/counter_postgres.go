package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCounter keeps counters in the usage_counters table. Increments
// are a single upsert, so concurrent writers never lose updates.
type PostgresCounter struct {
	pool *pgxpool.Pool
}

func NewPostgresCounter(pool *pgxpool.Pool) *PostgresCounter {
	return &PostgresCounter{pool: pool}
}

func (c *PostgresCounter) IncrementBy(ctx context.Context, key string, amount int64) (int64, error) {
	var value int64
	err := c.pool.QueryRow(ctx, `
		INSERT INTO usage_counters (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE
		SET value = usage_counters.value + EXCLUDED.value, updated_at = now()
		RETURNING value`, key, amount).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	return value, nil
}

func (c *PostgresCounter) Get(ctx context.Context, key string) (int64, error) {
	var value int64
	err := c.pool.QueryRow(ctx, `SELECT value FROM usage_counters WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

var _ Counter = (*PostgresCounter)(nil)

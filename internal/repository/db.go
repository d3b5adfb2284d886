package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations creates the billing schema if it does not exist.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS entitlements (
			user_id                  TEXT PRIMARY KEY,
			plan                     TEXT NOT NULL DEFAULT 'free',
			subscription_status      TEXT,
			external_customer_id     TEXT UNIQUE,
			external_subscription_id TEXT,
			current_period_end       TIMESTAMPTZ,
			grace_period_end         TIMESTAMPTZ,
			last_reminder_sent       TIMESTAMPTZ,
			created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_entitlements_status ON entitlements(subscription_status);

		CREATE TABLE IF NOT EXISTS usage_counters (
			user_id           TEXT NOT NULL,
			usage_date        TEXT NOT NULL,
			generations_count INTEGER NOT NULL DEFAULT 0 CHECK (generations_count >= 0),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, usage_date)
		);
		CREATE INDEX IF NOT EXISTS idx_usage_counters_date ON usage_counters(usage_date);
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository stores daily generation counters in PostgreSQL.
type UsageRepository struct {
	db *pgxpool.Pool
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

// CountForDay returns the credits userID consumed on day (0 when no row exists).
func (r *UsageRepository) CountForDay(ctx context.Context, userID, day string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT generations_count FROM usage_counters WHERE user_id = $1 AND usage_date = $2`,
		userID, day).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read usage counter: %w", err)
	}
	return n, nil
}

// IncrementIfBelow consumes one credit when the day's count is below limit.
// The check and the increment are a single statement; when the row is at the
// limit the conflict update is skipped and nothing is returned.
func (r *UsageRepository) IncrementIfBelow(ctx context.Context, userID, day string, limit int) (int, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}
	query := `
		INSERT INTO usage_counters (user_id, usage_date, generations_count, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (user_id, usage_date) DO UPDATE
		SET generations_count = usage_counters.generations_count + 1, updated_at = NOW()
		WHERE usage_counters.generations_count < $3
		RETURNING generations_count
	`
	var n int
	err := r.db.QueryRow(ctx, query, userID, day, limit).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to increment usage counter: %w", err)
	}
	return n, true, nil
}

// PurgeBefore deletes counters for days strictly before day.
func (r *UsageRepository) PurgeBefore(ctx context.Context, day string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM usage_counters WHERE usage_date < $1`, day)
	if err != nil {
		return 0, fmt.Errorf("failed to purge usage counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

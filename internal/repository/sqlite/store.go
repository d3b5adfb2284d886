// Package sqlite implements the entitlement and usage stores on an embedded
// SQLite database. All access goes through a single connection, so a
// transaction holds an exclusive lock for its whole read-modify-write.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pitchforge/backend/internal/domain"
	_ "modernc.org/sqlite"
)

// Store is the SQLite backend.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// PathFromURL extracts the file path from a sqlite:// database URL.
func PathFromURL(databaseURL string) (string, bool) {
	if !strings.HasPrefix(databaseURL, "sqlite://") {
		return "", false
	}
	return strings.TrimPrefix(databaseURL, "sqlite://"), true
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entitlements (
		user_id                  TEXT PRIMARY KEY,
		plan                     TEXT NOT NULL DEFAULT 'free',
		subscription_status      TEXT,
		external_customer_id     TEXT UNIQUE,
		external_subscription_id TEXT,
		current_period_end       INTEGER,
		grace_period_end         INTEGER,
		last_reminder_sent       INTEGER,
		created_at               INTEGER NOT NULL,
		updated_at               INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entitlements_status ON entitlements(subscription_status);

	CREATE TABLE IF NOT EXISTS usage_counters (
		user_id           TEXT NOT NULL,
		usage_date        TEXT NOT NULL,
		generations_count INTEGER NOT NULL DEFAULT 0 CHECK (generations_count >= 0),
		updated_at        INTEGER NOT NULL,
		PRIMARY KEY (user_id, usage_date)
	);
	CREATE INDEX IF NOT EXISTS idx_usage_counters_date ON usage_counters(usage_date);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const entitlementColumns = `user_id, plan, subscription_status, external_customer_id, external_subscription_id,
	current_period_end, grace_period_end, last_reminder_sent, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns the record of userID, or nil when there is none.
func (s *Store) Get(ctx context.Context, userID string) (*domain.Entitlement, error) {
	e, err := getBy(ctx, s.db, "user_id", userID)
	if err != nil {
		return nil, fmt.Errorf("get entitlement: %w", err)
	}
	return e, nil
}

// GetByCustomerID returns the record linked to a provider customer, or nil.
func (s *Store) GetByCustomerID(ctx context.Context, customerID string) (*domain.Entitlement, error) {
	e, err := getBy(ctx, s.db, "external_customer_id", customerID)
	if err != nil {
		return nil, fmt.Errorf("get entitlement by customer: %w", err)
	}
	return e, nil
}

// ListBillable returns every active, trialing or past_due record.
func (s *Store) ListBillable(ctx context.Context) ([]domain.Entitlement, error) {
	args := make([]any, 0, len(domain.BillableStatuses))
	marks := make([]string, 0, len(domain.BillableStatuses))
	for _, st := range domain.BillableStatuses {
		args = append(args, string(st))
		marks = append(marks, "?")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE subscription_status IN (`+strings.Join(marks, ",")+`) ORDER BY user_id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list billable entitlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entitlements: %w", err)
	}
	return out, nil
}

// UpdateByUser locks the record of userID and hands it to fn, persisting it
// when fn reports a change. With create set a missing record starts as free
// and is only stored if fn changes it.
func (s *Store) UpdateByUser(ctx context.Context, userID string, create bool, fn func(*domain.Entitlement) bool) (*domain.Entitlement, error) {
	return s.update(ctx, "user_id", userID, create, fn)
}

// UpdateByCustomer is UpdateByUser keyed by provider customer id. It never
// creates records.
func (s *Store) UpdateByCustomer(ctx context.Context, customerID string, fn func(*domain.Entitlement) bool) (*domain.Entitlement, error) {
	return s.update(ctx, "external_customer_id", customerID, false, fn)
}

func (s *Store) update(ctx context.Context, column, key string, create bool, fn func(*domain.Entitlement) bool) (*domain.Entitlement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := getBy(ctx, tx, column, key)
	if err != nil {
		return nil, fmt.Errorf("lock entitlement: %w", err)
	}
	exists := e != nil
	if !exists {
		if !create {
			return nil, nil
		}
		now := time.Now().UTC()
		e = &domain.Entitlement{UserID: key, Plan: domain.PlanFree, CreatedAt: now, UpdatedAt: now}
	}

	if !fn(e) {
		if !exists {
			return nil, nil
		}
		return e, nil
	}

	e.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entitlements (`+entitlementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			plan = excluded.plan,
			subscription_status = excluded.subscription_status,
			external_customer_id = excluded.external_customer_id,
			external_subscription_id = excluded.external_subscription_id,
			current_period_end = excluded.current_period_end,
			grace_period_end = excluded.grace_period_end,
			last_reminder_sent = excluded.last_reminder_sent,
			updated_at = excluded.updated_at`,
		e.UserID, string(e.Plan), nullString(string(e.Status)),
		nullString(e.ExternalCustomerID), nullString(e.ExternalSubscriptionID),
		nullableTime(e.CurrentPeriodEnd), nullableTime(e.GracePeriodEnd), nullableTime(e.LastReminderSent),
		e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("write entitlement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit entitlement: %w", err)
	}
	return e, nil
}

func getBy(ctx context.Context, q queryer, column, key string) (*domain.Entitlement, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE `+column+` = ?`, key)
	return scanEntitlement(row)
}

func scanEntitlement(s scanner) (*domain.Entitlement, error) {
	var (
		e                       domain.Entitlement
		plan                    string
		status, customer, subID sql.NullString
		periodEnd, graceEnd     sql.NullInt64
		reminder                sql.NullInt64
		createdAt, updatedAt    int64
	)
	err := s.Scan(&e.UserID, &plan, &status, &customer, &subID,
		&periodEnd, &graceEnd, &reminder, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.Plan = domain.Plan(plan)
	e.Status = domain.SubscriptionStatus(status.String)
	e.ExternalCustomerID = customer.String
	e.ExternalSubscriptionID = subID.String
	e.CurrentPeriodEnd = timePtr(periodEnd)
	e.GracePeriodEnd = timePtr(graceEnd)
	e.LastReminderSent = timePtr(reminder)
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	e.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &e, nil
}

// CountForDay returns the credits userID consumed on day.
func (s *Store) CountForDay(ctx context.Context, userID, day string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT generations_count FROM usage_counters WHERE user_id = ? AND usage_date = ?`,
		userID, day).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read usage counter: %w", err)
	}
	return n, nil
}

// IncrementIfBelow consumes one credit when the day's count is below limit,
// as one conditional upsert.
func (s *Store) IncrementIfBelow(ctx context.Context, userID, day string, limit int) (int, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}
	now := time.Now().UTC().UnixNano()
	var n int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_counters (user_id, usage_date, generations_count, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (user_id, usage_date) DO UPDATE
		SET generations_count = usage_counters.generations_count + 1, updated_at = excluded.updated_at
		WHERE usage_counters.generations_count < ?
		RETURNING generations_count`,
		userID, day, now, limit).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("increment usage counter: %w", err)
	}
	return n, true, nil
}

// PurgeBefore deletes counters for days strictly before day.
func (s *Store) PurgeBefore(ctx context.Context, day string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_counters WHERE usage_date < ?`, day)
	if err != nil {
		return 0, fmt.Errorf("purge usage counters: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

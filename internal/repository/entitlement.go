package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pitchforge/backend/internal/domain"
)

const entitlementColumns = `user_id, plan, subscription_status, external_customer_id, external_subscription_id,
	current_period_end, grace_period_end, last_reminder_sent, created_at, updated_at`

// EntitlementRepository stores entitlement records in PostgreSQL.
type EntitlementRepository struct {
	db *pgxpool.Pool
}

func NewEntitlementRepository(db *pgxpool.Pool) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

// Get returns the record of userID, or nil when there is none.
func (r *EntitlementRepository) Get(ctx context.Context, userID string) (*domain.Entitlement, error) {
	row := r.db.QueryRow(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE user_id = $1`, userID)
	e, err := scanEntitlement(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}
	return e, nil
}

// GetByCustomerID returns the record linked to a provider customer, or nil.
func (r *EntitlementRepository) GetByCustomerID(ctx context.Context, customerID string) (*domain.Entitlement, error) {
	row := r.db.QueryRow(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE external_customer_id = $1`, customerID)
	e, err := scanEntitlement(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get entitlement by customer: %w", err)
	}
	return e, nil
}

// ListBillable returns every record whose status the sweep must look at.
func (r *EntitlementRepository) ListBillable(ctx context.Context) ([]domain.Entitlement, error) {
	statuses := make([]string, 0, len(domain.BillableStatuses))
	for _, s := range domain.BillableStatuses {
		statuses = append(statuses, string(s))
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE subscription_status = ANY($1) ORDER BY user_id`, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list billable entitlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entitlements: %w", err)
	}
	return out, nil
}

// UpdateByUser locks the record of userID and hands it to fn. When fn reports
// a change the record is written back in the same transaction. With create
// set, a missing record is materialized as free before fn runs and is only
// kept if fn changes it. Returns the resulting record, or nil if none exists.
func (r *EntitlementRepository) UpdateByUser(ctx context.Context, userID string, create bool, fn func(*domain.Entitlement) bool) (*domain.Entitlement, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	created := false
	if create {
		tag, err := tx.Exec(ctx,
			`INSERT INTO entitlements (user_id, plan) VALUES ($1, 'free') ON CONFLICT (user_id) DO NOTHING`, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to create entitlement: %w", err)
		}
		created = tag.RowsAffected() == 1
	}

	row := tx.QueryRow(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE user_id = $1 FOR UPDATE`, userID)
	return r.apply(ctx, tx, row, created, fn)
}

// UpdateByCustomer is UpdateByUser keyed by provider customer id. It never
// creates records.
func (r *EntitlementRepository) UpdateByCustomer(ctx context.Context, customerID string, fn func(*domain.Entitlement) bool) (*domain.Entitlement, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE external_customer_id = $1 FOR UPDATE`, customerID)
	return r.apply(ctx, tx, row, false, fn)
}

func (r *EntitlementRepository) apply(ctx context.Context, tx pgx.Tx, row pgx.Row, created bool, fn func(*domain.Entitlement) bool) (*domain.Entitlement, error) {
	e, err := scanEntitlement(row)
	if err != nil {
		return nil, fmt.Errorf("failed to lock entitlement: %w", err)
	}
	if e == nil {
		return nil, nil
	}

	if !fn(e) {
		if created {
			return nil, nil // rolled back
		}
		return e, nil
	}

	e.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE entitlements SET
			plan = $2,
			subscription_status = $3,
			external_customer_id = $4,
			external_subscription_id = $5,
			current_period_end = $6,
			grace_period_end = $7,
			last_reminder_sent = $8,
			updated_at = $9
		WHERE user_id = $1`,
		e.UserID, string(e.Plan), nullString(string(e.Status)),
		nullString(e.ExternalCustomerID), nullString(e.ExternalSubscriptionID),
		e.CurrentPeriodEnd, e.GracePeriodEnd, e.LastReminderSent, e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update entitlement: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit entitlement: %w", err)
	}
	return e, nil
}

func scanEntitlement(row pgx.Row) (*domain.Entitlement, error) {
	var (
		e                       domain.Entitlement
		plan                    string
		status, customer, subID *string
	)
	err := row.Scan(
		&e.UserID, &plan, &status, &customer, &subID,
		&e.CurrentPeriodEnd, &e.GracePeriodEnd, &e.LastReminderSent,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.Plan = domain.Plan(plan)
	e.Status = domain.SubscriptionStatus(deref(status))
	e.ExternalCustomerID = deref(customer)
	e.ExternalSubscriptionID = deref(subID)
	return &e, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package service

import (
	"context"

	"github.com/pitchforge/backend/internal/domain"
)

// EntitlementStore persists entitlement records. Update methods lock the row,
// hand it to fn and persist it only when fn reports a change. A missing
// record is returned as nil with a nil error.
type EntitlementStore interface {
	Get(ctx context.Context, userID string) (*domain.Entitlement, error)
	GetByCustomerID(ctx context.Context, customerID string) (*domain.Entitlement, error)
	UpdateByUser(ctx context.Context, userID string, create bool, fn func(*domain.Entitlement) bool) (*domain.Entitlement, error)
	UpdateByCustomer(ctx context.Context, customerID string, fn func(*domain.Entitlement) bool) (*domain.Entitlement, error)
	ListBillable(ctx context.Context) ([]domain.Entitlement, error)
}

// UsageStore persists per-day generation counters.
type UsageStore interface {
	CountForDay(ctx context.Context, userID, day string) (int, error)
	// IncrementIfBelow atomically adds one credit if the count is below limit
	// and returns the new count.
	IncrementIfBelow(ctx context.Context, userID, day string, limit int) (int, bool, error)
	PurgeBefore(ctx context.Context, day string) (int64, error)
}

// Notifier delivers user-facing billing notices.
type Notifier interface {
	RenewalReminder(ctx context.Context, e domain.Entitlement, daysLeft int) error
	Downgraded(ctx context.Context, e domain.Entitlement) error
}

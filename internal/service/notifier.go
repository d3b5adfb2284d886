package service

import (
	"context"

	"github.com/pitchforge/backend/internal/domain"
	"github.com/rs/zerolog/log"
)

// LogNotifier records billing notices in the log. It is the default when no
// mail transport is configured.
type LogNotifier struct{}

func (LogNotifier) RenewalReminder(ctx context.Context, e domain.Entitlement, daysLeft int) error {
	ev := log.Info().
		Str("user_id", e.UserID).
		Str("customer_id", e.ExternalCustomerID).
		Int("days_left", daysLeft)
	if e.CurrentPeriodEnd != nil {
		ev = ev.Time("current_period_end", *e.CurrentPeriodEnd)
	}
	ev.Msg("Renewal reminder")
	return nil
}

func (LogNotifier) Downgraded(ctx context.Context, e domain.Entitlement) error {
	log.Info().
		Str("user_id", e.UserID).
		Str("customer_id", e.ExternalCustomerID).
		Msg("Grace period expired, account moved to free plan")
	return nil
}

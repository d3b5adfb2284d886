package service

import (
	"context"
	"time"

	"github.com/pitchforge/backend/internal/domain"
	"github.com/rs/zerolog/log"
)

// EntitlementService applies billing transitions to the entitlement store.
// Every write is a single-row locked read-modify-write, and every transition
// is idempotent, so the webhook ingestor, the sweep and the status read path
// may run concurrently in any order.
type EntitlementService struct {
	store     EntitlementStore
	graceDays int
	now       func() time.Time
}

func NewEntitlementService(store EntitlementStore, graceDays int) *EntitlementService {
	return &EntitlementService{
		store:     store,
		graceDays: graceDays,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetEntitlement returns the record of userID, or nil if the user never
// checked out.
func (s *EntitlementService) GetEntitlement(ctx context.Context, userID string) (*domain.Entitlement, error) {
	e, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, domain.ErrUnavailable("entitlement store unavailable", err)
	}
	return e, nil
}

// EffectivePlan resolves the plan of userID from local state only.
func (s *EntitlementService) EffectivePlan(ctx context.Context, userID string) (domain.Plan, error) {
	e, err := s.GetEntitlement(ctx, userID)
	if err != nil {
		return "", err
	}
	return e.EffectivePlan(s.now()), nil
}

// GetByCustomer returns the record linked to a provider customer, or nil.
func (s *EntitlementService) GetByCustomer(ctx context.Context, customerID string) (*domain.Entitlement, error) {
	e, err := s.store.GetByCustomerID(ctx, customerID)
	if err != nil {
		log.Error().Err(err).Str("operation", "get_by_customer").Str("customer_id", customerID).Msg("Entitlement lookup failed")
		return nil, domain.ErrUnavailable("entitlement store unavailable", err)
	}
	return e, nil
}

// UpsertFromCheckout links a completed checkout to userID using the
// provider's view of the purchased subscription.
func (s *EntitlementService) UpsertFromCheckout(ctx context.Context, userID, customerID string, upd domain.SubscriptionUpdate) (*domain.Entitlement, error) {
	now := s.now()
	return s.updateUser(ctx, "upsert_from_checkout", userID, true, func(e *domain.Entitlement) bool {
		return e.ApplyCheckout(customerID, upd, s.graceDays, now)
	})
}

// ApplySubscriptionUpdate mirrors a provider subscription onto the record of
// customerID. Returns nil when no local user owns the customer.
func (s *EntitlementService) ApplySubscriptionUpdate(ctx context.Context, customerID string, upd domain.SubscriptionUpdate) (*domain.Entitlement, error) {
	now := s.now()
	return s.updateCustomer(ctx, "apply_subscription_update", customerID, func(e *domain.Entitlement) bool {
		if e.IsStale(upd.SubscriptionID) {
			logStale(e, customerID, upd.SubscriptionID)
			return false
		}
		return e.ApplySubscriptionUpdate(upd, s.graceDays, now)
	})
}

// RefreshFromProvider is ApplySubscriptionUpdate keyed by user id, used by the
// status read path. upd is state read from the provider API.
func (s *EntitlementService) RefreshFromProvider(ctx context.Context, userID string, upd domain.SubscriptionUpdate) (*domain.Entitlement, error) {
	upd.Confirmed = true
	now := s.now()
	return s.updateUser(ctx, "refresh_from_provider", userID, false, func(e *domain.Entitlement) bool {
		return e.ApplySubscriptionUpdate(upd, s.graceDays, now)
	})
}

// DowngradeToFree settles userID on the free plan. Safe on free accounts.
func (s *EntitlementService) DowngradeToFree(ctx context.Context, userID string) (*domain.Entitlement, error) {
	now := s.now()
	return s.updateUser(ctx, "downgrade_to_free", userID, false, func(e *domain.Entitlement) bool {
		return e.DowngradeToFree(now)
	})
}

// DowngradeCustomer handles a deleted subscription of customerID.
func (s *EntitlementService) DowngradeCustomer(ctx context.Context, customerID, subscriptionID string) (*domain.Entitlement, error) {
	now := s.now()
	return s.updateCustomer(ctx, "downgrade_to_free", customerID, func(e *domain.Entitlement) bool {
		if e.IsStale(subscriptionID) {
			logStale(e, customerID, subscriptionID)
			return false
		}
		return e.DowngradeToFree(now)
	})
}

// SetGracePeriod marks userID past_due with a grace window of days. An open
// window is never extended.
func (s *EntitlementService) SetGracePeriod(ctx context.Context, userID string, days int) (*domain.Entitlement, error) {
	now := s.now()
	return s.updateUser(ctx, "set_grace_period", userID, false, func(e *domain.Entitlement) bool {
		return e.SetGracePeriod(days, now)
	})
}

// PaymentFailed opens the configured grace window for customerID.
func (s *EntitlementService) PaymentFailed(ctx context.Context, customerID, subscriptionID string) (*domain.Entitlement, error) {
	now := s.now()
	return s.updateCustomer(ctx, "set_grace_period", customerID, func(e *domain.Entitlement) bool {
		if e.IsStale(subscriptionID) {
			logStale(e, customerID, subscriptionID)
			return false
		}
		return e.SetGracePeriod(s.graceDays, now)
	})
}

// ClearGracePeriodAndReactivate records a recovered payment for userID.
func (s *EntitlementService) ClearGracePeriodAndReactivate(ctx context.Context, userID string) (*domain.Entitlement, error) {
	now := s.now()
	return s.updateUser(ctx, "clear_grace_period", userID, false, func(e *domain.Entitlement) bool {
		return e.ClearGracePeriodAndReactivate(now)
	})
}

// PaymentSucceeded records a recovered payment for customerID.
func (s *EntitlementService) PaymentSucceeded(ctx context.Context, customerID, subscriptionID string) (*domain.Entitlement, error) {
	now := s.now()
	return s.updateCustomer(ctx, "clear_grace_period", customerID, func(e *domain.Entitlement) bool {
		if e.IsStale(subscriptionID) {
			logStale(e, customerID, subscriptionID)
			return false
		}
		return e.ClearGracePeriodAndReactivate(now)
	})
}

func (s *EntitlementService) updateUser(ctx context.Context, op, userID string, create bool, fn func(*domain.Entitlement) bool) (*domain.Entitlement, error) {
	e, err := s.store.UpdateByUser(ctx, userID, create, fn)
	if err != nil {
		log.Error().Err(err).Str("operation", op).Str("user_id", userID).Msg("Entitlement update failed")
		return nil, domain.ErrUnavailable("entitlement store unavailable", err)
	}
	return e, nil
}

func (s *EntitlementService) updateCustomer(ctx context.Context, op, customerID string, fn func(*domain.Entitlement) bool) (*domain.Entitlement, error) {
	e, err := s.store.UpdateByCustomer(ctx, customerID, fn)
	if err != nil {
		log.Error().Err(err).Str("operation", op).Str("customer_id", customerID).Msg("Entitlement update failed")
		return nil, domain.ErrUnavailable("entitlement store unavailable", err)
	}
	return e, nil
}

func logStale(e *domain.Entitlement, customerID, subscriptionID string) {
	log.Info().
		Str("user_id", e.UserID).
		Str("customer_id", customerID).
		Str("subscription_id", subscriptionID).
		Str("linked_subscription_id", e.ExternalSubscriptionID).
		Msg("Ignoring event for a replaced subscription")
}

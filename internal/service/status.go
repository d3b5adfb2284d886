package service

import (
	"context"
	"errors"
	"time"

	"github.com/pitchforge/backend/internal/domain"
	"github.com/pitchforge/backend/internal/metrics"
	"github.com/pitchforge/backend/pkg/payment"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// StatusService answers entitlement queries after syncing the latest
// subscription state from the payment provider. Provider failures fall back
// to the last known local state.
type StatusService struct {
	entitlements *EntitlementService
	gateway      payment.Gateway
	timeout      time.Duration
	group        singleflight.Group
	now          func() time.Time
}

func NewStatusService(entitlements *EntitlementService, gateway payment.Gateway, timeout time.Duration) *StatusService {
	return &StatusService{
		entitlements: entitlements,
		gateway:      gateway,
		timeout:      timeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Status returns the entitlement view of userID.
func (s *StatusService) Status(ctx context.Context, userID string) (*domain.StatusView, error) {
	e, err := s.refresh(ctx, userID)
	if err != nil {
		return nil, err
	}
	return domain.NewStatusView(e, s.now()), nil
}

func (s *StatusService) refresh(ctx context.Context, userID string) (*domain.Entitlement, error) {
	local, err := s.entitlements.GetEntitlement(ctx, userID)
	if err != nil {
		return nil, err
	}
	if local == nil || local.ExternalSubscriptionID == "" {
		return local, nil
	}

	v, _, _ := s.group.Do(userID, func() (any, error) {
		return s.sync(ctx, local), nil
	})
	return v.(*domain.Entitlement), nil
}

// sync pulls the subscription from the provider and applies it. It never
// fails: any error leaves the local record as the answer.
func (s *StatusService) sync(ctx context.Context, local *domain.Entitlement) *domain.Entitlement {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	logger := log.With().
		Str("user_id", local.UserID).
		Str("subscription_id", local.ExternalSubscriptionID).
		Logger()

	sub, err := s.gateway.GetSubscription(ctx, local.ExternalSubscriptionID)
	if err != nil {
		outcome := "provider_error"
		if errors.Is(err, payment.ErrNotFound) {
			outcome = "not_found"
		}
		metrics.EntitlementRefreshTotal.WithLabelValues(outcome).Inc()
		logger.Warn().Err(err).Msg("Subscription refresh failed, using local entitlement")
		return local
	}

	updated, err := s.entitlements.RefreshFromProvider(ctx, local.UserID, domain.SubscriptionUpdate{
		SubscriptionID:   sub.ID,
		Status:           domain.ParseSubscriptionStatus(sub.Status),
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	})
	if err != nil || updated == nil {
		metrics.EntitlementRefreshTotal.WithLabelValues("store_error").Inc()
		logger.Warn().Err(err).Msg("Applying refreshed subscription failed, using local entitlement")
		return local
	}
	metrics.EntitlementRefreshTotal.WithLabelValues("ok").Inc()
	return updated
}

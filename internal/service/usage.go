package service

import (
	"context"
	"errors"
	"time"

	"github.com/pitchforge/backend/internal/domain"
	"github.com/pitchforge/backend/internal/metrics"
	"github.com/rs/zerolog/log"
)

// PlanResolver answers which plan a user holds right now. Usage checks run on
// every generation, so implementations read local state without calling the
// payment provider.
type PlanResolver interface {
	EffectivePlan(ctx context.Context, userID string) (domain.Plan, error)
}

// UsageService enforces the daily generation quota.
type UsageService struct {
	plans  PlanResolver
	usage  UsageStore
	limits domain.DailyLimits
	now    func() time.Time
}

func NewUsageService(plans PlanResolver, usage UsageStore, limits domain.DailyLimits) *UsageService {
	return &UsageService{
		plans:  plans,
		usage:  usage,
		limits: limits,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetUsage returns today's quota snapshot for userID.
func (s *UsageService) GetUsage(ctx context.Context, userID string) (*domain.UsageSnapshot, error) {
	plan, err := s.plans.EffectivePlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	used, err := s.usage.CountForDay(ctx, userID, domain.UsageDay(s.now()))
	if err != nil {
		return nil, domain.ErrUnavailable("usage store unavailable", err)
	}
	return domain.NewUsageSnapshot(plan, s.limits.For(plan), used), nil
}

// IncrementIfAvailable consumes one credit if any is left today.
func (s *UsageService) IncrementIfAvailable(ctx context.Context, userID string) (bool, error) {
	_, err := s.Consume(ctx, userID)
	if err == nil {
		return true, nil
	}
	var quota *domain.QuotaExceededError
	if errors.As(err, &quota) {
		return false, nil
	}
	return false, err
}

// Consume takes one credit and returns the updated snapshot. When the quota is
// exhausted it returns a *domain.QuotaExceededError carrying the snapshot.
func (s *UsageService) Consume(ctx context.Context, userID string) (*domain.UsageSnapshot, error) {
	plan, err := s.plans.EffectivePlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	limit := s.limits.For(plan)
	day := domain.UsageDay(s.now())

	used, ok, err := s.usage.IncrementIfBelow(ctx, userID, day, limit)
	if err != nil {
		metrics.UsageConsumeTotal.WithLabelValues(string(plan), "error").Inc()
		log.Error().Err(err).Str("user_id", userID).Str("operation", "consume_usage").Msg("Usage increment failed")
		return nil, domain.ErrUnavailable("usage store unavailable", err)
	}
	if ok {
		metrics.UsageConsumeTotal.WithLabelValues(string(plan), "consumed").Inc()
		return domain.NewUsageSnapshot(plan, limit, used), nil
	}

	metrics.UsageConsumeTotal.WithLabelValues(string(plan), "limit_reached").Inc()
	used, err = s.usage.CountForDay(ctx, userID, day)
	if err != nil {
		return nil, domain.ErrUnavailable("usage store unavailable", err)
	}
	return nil, &domain.QuotaExceededError{Usage: domain.NewUsageSnapshot(plan, limit, used)}
}

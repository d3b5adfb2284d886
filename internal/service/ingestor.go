package service

import (
	"context"
	"errors"

	"github.com/pitchforge/backend/internal/domain"
	"github.com/pitchforge/backend/pkg/payment"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Outcome describes what the ingestor did with a verified event.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeUnknownCustomer Outcome = "unknown_customer"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeUnhandled       Outcome = "unhandled"
)

type transitionFunc func(ctx context.Context, ev *payment.Event, logger zerolog.Logger) (Outcome, error)

// EventIngestor turns verified payment events into entitlement transitions.
// The event type selects the transition. Payloads that would relink a
// settled record are first confirmed against the provider.
type EventIngestor struct {
	entitlements *EntitlementService
	gateway      payment.Gateway
	transitions  map[payment.EventType]transitionFunc
}

// NewEventIngestor creates an ingestor. gateway is used to read back
// subscriptions whose webhook payload alone cannot be trusted.
func NewEventIngestor(entitlements *EntitlementService, gateway payment.Gateway) *EventIngestor {
	in := &EventIngestor{entitlements: entitlements, gateway: gateway}
	in.transitions = map[payment.EventType]transitionFunc{
		payment.EventCheckoutCompleted:       in.checkoutCompleted,
		payment.EventSubscriptionUpdated:     in.subscriptionUpdated,
		payment.EventSubscriptionDeleted:     in.subscriptionDeleted,
		payment.EventInvoicePaymentFailed:    in.invoicePaymentFailed,
		payment.EventInvoicePaymentSucceeded: in.invoicePaymentSucceeded,
	}
	return in
}

// Handles reports whether t has a transition.
func (in *EventIngestor) Handles(t payment.EventType) bool {
	_, ok := in.transitions[t]
	return ok
}

// Handle applies ev. A returned error is retryable unless it is a 4xx AppError.
func (in *EventIngestor) Handle(ctx context.Context, ev *payment.Event) (Outcome, error) {
	logger := log.With().Str("event_id", ev.ID).Str("event_type", string(ev.Type)).Logger()

	fn, ok := in.transitions[ev.Type]
	if !ok {
		logger.Debug().Msg("Payment webhook ignored (unhandled type)")
		return OutcomeUnhandled, nil
	}
	return fn(ctx, ev, logger)
}

func (in *EventIngestor) checkoutCompleted(ctx context.Context, ev *payment.Event, logger zerolog.Logger) (Outcome, error) {
	cs, err := ev.Checkout()
	if err != nil {
		logger.Warn().Err(err).Msg("Malformed checkout session")
		return OutcomeIgnored, domain.ErrBadRequest("malformed event payload")
	}
	if cs.UserID == "" || cs.SubscriptionID == "" || cs.CustomerID == "" {
		logger.Warn().
			Str("session_id", cs.SessionID).
			Str("user_id", cs.UserID).
			Str("subscription_id", cs.SubscriptionID).
			Msg("Checkout without user, customer or subscription id ignored")
		return OutcomeIgnored, nil
	}

	// A redelivered checkout may describe a subscription that has since
	// ended, so the status always comes from the provider.
	upd, err := in.confirm(ctx, cs.CustomerID, cs.SubscriptionID, logger)
	if err != nil {
		return "", err
	}
	if upd == nil {
		return OutcomeIgnored, nil
	}

	e, err := in.entitlements.UpsertFromCheckout(ctx, cs.UserID, cs.CustomerID, *upd)
	if err != nil {
		return "", err
	}
	logger.Info().Str("user_id", cs.UserID).Str("customer_id", cs.CustomerID).
		Str("status", string(upd.Status)).
		Str("plan", string(planOf(e))).Msg("Checkout completed")
	return OutcomeApplied, nil
}

func (in *EventIngestor) subscriptionUpdated(ctx context.Context, ev *payment.Event, logger zerolog.Logger) (Outcome, error) {
	sub, err := ev.Subscription()
	if err != nil {
		logger.Warn().Err(err).Msg("Malformed subscription")
		return OutcomeIgnored, domain.ErrBadRequest("malformed event payload")
	}
	if sub.CustomerID == "" {
		return OutcomeIgnored, nil
	}

	upd := domain.SubscriptionUpdate{
		SubscriptionID:   sub.ID,
		Status:           domain.ParseSubscriptionStatus(sub.Status),
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	}
	local, err := in.entitlements.GetByCustomer(ctx, sub.CustomerID)
	if err != nil {
		return "", err
	}
	if local == nil {
		return in.result(nil, nil, sub.CustomerID, logger)
	}
	if local.NeedsConfirmation(upd) {
		confirmed, err := in.confirm(ctx, sub.CustomerID, sub.ID, logger)
		if err != nil {
			return "", err
		}
		if confirmed == nil {
			return OutcomeIgnored, nil
		}
		upd = *confirmed
	}

	e, err := in.entitlements.ApplySubscriptionUpdate(ctx, sub.CustomerID, upd)
	return in.result(e, err, sub.CustomerID, logger)
}

func (in *EventIngestor) subscriptionDeleted(ctx context.Context, ev *payment.Event, logger zerolog.Logger) (Outcome, error) {
	sub, err := ev.Subscription()
	if err != nil {
		logger.Warn().Err(err).Msg("Malformed subscription")
		return OutcomeIgnored, domain.ErrBadRequest("malformed event payload")
	}
	if sub.CustomerID == "" {
		return OutcomeIgnored, nil
	}

	e, err := in.entitlements.DowngradeCustomer(ctx, sub.CustomerID, sub.ID)
	return in.result(e, err, sub.CustomerID, logger)
}

func (in *EventIngestor) invoicePaymentFailed(ctx context.Context, ev *payment.Event, logger zerolog.Logger) (Outcome, error) {
	inv, err := ev.Invoice()
	if err != nil {
		logger.Warn().Err(err).Msg("Malformed invoice")
		return OutcomeIgnored, domain.ErrBadRequest("malformed event payload")
	}
	if inv.CustomerID == "" {
		return OutcomeIgnored, nil
	}

	e, err := in.entitlements.PaymentFailed(ctx, inv.CustomerID, inv.SubscriptionID)
	return in.result(e, err, inv.CustomerID, logger)
}

func (in *EventIngestor) invoicePaymentSucceeded(ctx context.Context, ev *payment.Event, logger zerolog.Logger) (Outcome, error) {
	inv, err := ev.Invoice()
	if err != nil {
		logger.Warn().Err(err).Msg("Malformed invoice")
		return OutcomeIgnored, domain.ErrBadRequest("malformed event payload")
	}
	if inv.CustomerID == "" {
		return OutcomeIgnored, nil
	}

	e, err := in.entitlements.PaymentSucceeded(ctx, inv.CustomerID, inv.SubscriptionID)
	return in.result(e, err, inv.CustomerID, logger)
}

// confirm reads subscriptionID back from the provider. It returns nil when the
// provider does not know the subscription or it belongs to another customer.
func (in *EventIngestor) confirm(ctx context.Context, customerID, subscriptionID string, logger zerolog.Logger) (*domain.SubscriptionUpdate, error) {
	sub, err := in.gateway.GetSubscription(ctx, subscriptionID)
	if errors.Is(err, payment.ErrNotFound) {
		logger.Warn().Str("subscription_id", subscriptionID).Msg("Subscription unknown to provider, event ignored")
		return nil, nil
	}
	if err != nil {
		logger.Error().Err(err).Str("subscription_id", subscriptionID).Msg("Subscription lookup failed")
		return nil, domain.ErrUnavailable("payment provider unavailable", err)
	}
	if sub.CustomerID != "" && sub.CustomerID != customerID {
		logger.Warn().
			Str("subscription_id", subscriptionID).
			Str("customer_id", customerID).
			Str("provider_customer_id", sub.CustomerID).
			Msg("Subscription belongs to another customer, event ignored")
		return nil, nil
	}
	return &domain.SubscriptionUpdate{
		SubscriptionID:   sub.ID,
		Status:           domain.ParseSubscriptionStatus(sub.Status),
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		Confirmed:        true,
	}, nil
}

func (in *EventIngestor) result(e *domain.Entitlement, err error, customerID string, logger zerolog.Logger) (Outcome, error) {
	if err != nil {
		return "", err
	}
	if e == nil {
		logger.Info().Str("customer_id", customerID).Msg("Payment event for unknown customer ignored")
		return OutcomeUnknownCustomer, nil
	}
	logger.Info().
		Str("user_id", e.UserID).
		Str("customer_id", customerID).
		Str("status", string(e.Status)).
		Str("plan", string(planOf(e))).
		Msg("Payment event applied")
	return OutcomeApplied, nil
}

func planOf(e *domain.Entitlement) domain.Plan {
	if e == nil {
		return domain.PlanFree
	}
	return e.Plan
}

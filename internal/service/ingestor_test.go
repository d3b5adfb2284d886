package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/pitchforge/backend/internal/domain"
	"github.com/pitchforge/backend/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutCompletedGrantsPremium(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, OutcomeApplied, env.checkout(t, "u1", "cus_1", "sub_1"))

	e := env.mustGet(t, "u1")
	assert.Equal(t, domain.PlanPremium, e.Plan)
	assert.Equal(t, domain.StatusActive, e.Status)
	assert.Equal(t, "cus_1", e.ExternalCustomerID)
	assert.Equal(t, "sub_1", e.ExternalSubscriptionID)
	assert.Nil(t, e.GracePeriodEnd)
}

func TestCheckoutFallsBackToClientReference(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.SetSubscription(payment.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: "active"})
	ev := &payment.Event{
		ID:   "evt_1",
		Type: payment.EventCheckoutCompleted,
		Object: rawObject(t, map[string]any{
			"id":                  "cs_1",
			"customer":            map[string]string{"id": "cus_1"},
			"subscription":        "sub_1",
			"client_reference_id": "u9",
		}),
	}

	assert.Equal(t, OutcomeApplied, env.handle(t, ev))
	assert.Equal(t, domain.PlanPremium, env.mustGet(t, "u9").Plan)
}

func TestCheckoutWithoutUserIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	ev := checkoutEvent(t, "", "cus_1", "sub_1")

	assert.Equal(t, OutcomeIgnored, env.handle(t, ev))
	e, err := env.store.GetByCustomerID(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestSubscriptionUpdatedTransitions(t *testing.T) {
	periodEnd := t0.Add(30 * 24 * time.Hour)
	tests := []struct {
		status    string
		wantPlan  domain.Plan
		wantGrace bool
		wantSub   string
	}{
		{"active", domain.PlanPremium, false, "sub_1"},
		{"trialing", domain.PlanPremium, false, "sub_1"},
		{"past_due", domain.PlanPremium, true, "sub_1"},
		{"unpaid", domain.PlanFree, false, "sub_1"},
		{"incomplete", domain.PlanFree, false, "sub_1"},
		{"incomplete_expired", domain.PlanFree, false, ""},
		{"canceled", domain.PlanFree, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			env := newTestEnv(t)
			env.checkout(t, "u1", "cus_1", "sub_1")

			out := env.handle(t, subscriptionEvent(t, payment.EventSubscriptionUpdated, "cus_1", "sub_1", tt.status, periodEnd))
			assert.Equal(t, OutcomeApplied, out)

			e := env.mustGet(t, "u1")
			assert.Equal(t, tt.wantPlan, e.Plan)
			assert.Equal(t, tt.wantGrace, e.GracePeriodEnd != nil)
			assert.Equal(t, tt.wantSub, e.ExternalSubscriptionID)
			require.NotNil(t, e.CurrentPeriodEnd)
			assert.True(t, periodEnd.Equal(*e.CurrentPeriodEnd))
		})
	}
}

func TestSubscriptionDeletedDowngrades(t *testing.T) {
	env := newTestEnv(t)
	env.checkout(t, "u1", "cus_1", "sub_1")

	env.handle(t, subscriptionEvent(t, payment.EventSubscriptionDeleted, "cus_1", "sub_1", "canceled", t0))

	e := env.mustGet(t, "u1")
	assert.Equal(t, domain.PlanFree, e.Plan)
	assert.Equal(t, domain.StatusCanceled, e.Status)
	assert.Empty(t, e.ExternalSubscriptionID)

	// replay is a no-op
	env.handle(t, subscriptionEvent(t, payment.EventSubscriptionDeleted, "cus_1", "sub_1", "canceled", t0))
	again := env.mustGet(t, "u1")
	assert.Equal(t, e.UpdatedAt, again.UpdatedAt)
}

func TestStaleSubscriptionEventsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.checkout(t, "u1", "cus_1", "sub_2")

	env.handle(t, subscriptionEvent(t, payment.EventSubscriptionDeleted, "cus_1", "sub_1", "canceled", t0))
	env.handle(t, invoiceEvent(t, payment.EventInvoicePaymentFailed, "cus_1", "sub_1"))

	e := env.mustGet(t, "u1")
	assert.Equal(t, domain.PlanPremium, e.Plan)
	assert.Equal(t, domain.StatusActive, e.Status)
	assert.Equal(t, "sub_2", e.ExternalSubscriptionID)
}

func TestInvoicePaymentFailedOpensGraceOnce(t *testing.T) {
	env := newTestEnv(t)
	env.checkout(t, "u1", "cus_1", "sub_1")

	env.handle(t, invoiceEvent(t, payment.EventInvoicePaymentFailed, "cus_1", "sub_1"))
	e := env.mustGet(t, "u1")
	require.NotNil(t, e.GracePeriodEnd)
	assert.Equal(t, domain.StatusPastDue, e.Status)
	assert.True(t, t0.Add(72*time.Hour).Equal(*e.GracePeriodEnd))

	// a redelivery a day later must not extend the window
	env.clock.Advance(24 * time.Hour)
	env.handle(t, invoiceEvent(t, payment.EventInvoicePaymentFailed, "cus_1", "sub_1"))
	env.handle(t, subscriptionEvent(t, payment.EventSubscriptionUpdated, "cus_1", "sub_1", "past_due", t0))
	e = env.mustGet(t, "u1")
	assert.True(t, t0.Add(72*time.Hour).Equal(*e.GracePeriodEnd))
}

func TestInvoicePaymentSucceededReactivates(t *testing.T) {
	env := newTestEnv(t)
	env.checkout(t, "u1", "cus_1", "sub_1")
	env.handle(t, invoiceEvent(t, payment.EventInvoicePaymentFailed, "cus_1", "sub_1"))

	env.handle(t, invoiceEvent(t, payment.EventInvoicePaymentSucceeded, "cus_1", "sub_1"))

	e := env.mustGet(t, "u1")
	assert.Equal(t, domain.StatusActive, e.Status)
	assert.Equal(t, domain.PlanPremium, e.Plan)
	assert.Nil(t, e.GracePeriodEnd)
}

func TestInvoiceSucceededDoesNotReviveDowngradedAccount(t *testing.T) {
	env := newTestEnv(t)
	env.checkout(t, "u1", "cus_1", "sub_1")
	env.handle(t, subscriptionEvent(t, payment.EventSubscriptionDeleted, "cus_1", "sub_1", "canceled", t0))

	env.handle(t, invoiceEvent(t, payment.EventInvoicePaymentSucceeded, "cus_1", "sub_1"))
	env.handle(t, subscriptionEvent(t, payment.EventSubscriptionUpdated, "cus_1", "sub_1", "past_due", t0))

	e := env.mustGet(t, "u1")
	assert.Equal(t, domain.PlanFree, e.Plan)
	assert.Equal(t, domain.StatusCanceled, e.Status)
}

func TestUnknownCustomerIgnored(t *testing.T) {
	env := newTestEnv(t)

	for _, ev := range []*payment.Event{
		subscriptionEvent(t, payment.EventSubscriptionUpdated, "cus_ghost", "sub_x", "active", t0),
		subscriptionEvent(t, payment.EventSubscriptionDeleted, "cus_ghost", "sub_x", "canceled", t0),
		invoiceEvent(t, payment.EventInvoicePaymentFailed, "cus_ghost", "sub_x"),
		invoiceEvent(t, payment.EventInvoicePaymentSucceeded, "cus_ghost", "sub_x"),
	} {
		assert.Equal(t, OutcomeUnknownCustomer, env.handle(t, ev), ev.Type)
	}

	e, err := env.store.GetByCustomerID(context.Background(), "cus_ghost")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestUnhandledAndMalformedEvents(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, OutcomeUnhandled, env.handle(t, &payment.Event{ID: "evt_1", Type: "customer.created"}))
	assert.False(t, env.ingestor.Handles("customer.created"))
	assert.True(t, env.ingestor.Handles(payment.EventInvoicePaymentFailed))

	_, err := env.ingestor.Handle(context.Background(), &payment.Event{
		ID:     "evt_2",
		Type:   payment.EventSubscriptionUpdated,
		Object: []byte(`{"id": 42}`),
	})
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
}

// Any order and duplication of lifecycle events must leave a record that
// satisfies the plan invariant and never carries a grace window outside
// past_due.
func TestEventOrderAndDuplicationKeepInvariant(t *testing.T) {
	periodEnd := t0.Add(30 * 24 * time.Hour)
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 30; round++ {
		env := newTestEnv(t)
		// the deletion is part of every sequence, so it is the provider's truth
		env.gateway.SetSubscription(payment.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: "canceled", CurrentPeriodEnd: &periodEnd})
		events := []*payment.Event{
			checkoutEvent(t, "u1", "cus_1", "sub_1"),
			subscriptionEvent(t, payment.EventSubscriptionUpdated, "cus_1", "sub_1", "active", periodEnd),
			subscriptionEvent(t, payment.EventSubscriptionUpdated, "cus_1", "sub_1", "past_due", periodEnd),
			invoiceEvent(t, payment.EventInvoicePaymentFailed, "cus_1", "sub_1"),
			invoiceEvent(t, payment.EventInvoicePaymentSucceeded, "cus_1", "sub_1"),
			subscriptionEvent(t, payment.EventSubscriptionDeleted, "cus_1", "sub_1", "canceled", periodEnd),
		}
		var seq []*payment.Event
		for _, i := range rng.Perm(len(events)) {
			for n := rng.Intn(3) + 1; n > 0; n-- {
				seq = append(seq, events[i])
			}
		}

		for _, ev := range seq {
			env.handle(t, ev)
			env.clock.Advance(time.Duration(rng.Intn(36)) * time.Hour)

			e, err := env.store.Get(context.Background(), "u1")
			require.NoError(t, err)
			if e == nil {
				continue
			}
			now := env.clock.Now()
			if e.GracePeriodEnd != nil {
				assert.Equal(t, domain.StatusPastDue, e.Status)
			}
			if e.Status == domain.StatusCanceled {
				assert.Empty(t, e.ExternalSubscriptionID)
				assert.Equal(t, domain.PlanFree, e.Plan)
			}
			switch e.Status {
			case domain.StatusActive, domain.StatusTrialing:
				assert.Equal(t, domain.PlanPremium, e.Plan)
			case domain.StatusPastDue:
				assert.Equal(t, e.InGracePeriod(now), e.EffectivePlan(now) == domain.PlanPremium)
			default:
				assert.Equal(t, domain.PlanFree, e.Plan)
			}

			// applying the same event again changes nothing
			before := *e
			env.handle(t, ev)
			after := env.mustGet(t, "u1")
			assert.Equal(t, before.Status, after.Status)
			assert.Equal(t, before.EffectivePlan(now), after.EffectivePlan(now))
			assert.Equal(t, before.ExternalSubscriptionID, after.ExternalSubscriptionID)
			assert.Equal(t, before.GracePeriodEnd == nil, after.GracePeriodEnd == nil)
		}

		final := env.mustGet(t, "u1")
		assert.Equal(t, domain.PlanFree, final.Plan, "round %d", round)
		assert.Equal(t, domain.StatusCanceled, final.Status, "round %d", round)
		assert.Empty(t, final.ExternalSubscriptionID, "round %d", round)
	}
}

func TestReplayAfterDeletionStaysCanceled(t *testing.T) {
	env := newTestEnv(t)
	periodEnd := t0.Add(7 * 24 * time.Hour)
	active := subscriptionEvent(t, payment.EventSubscriptionUpdated, "cus_1", "sub_1", "active", periodEnd)

	env.checkout(t, "u1", "cus_1", "sub_1")
	env.handle(t, active)
	env.gateway.SetSubscription(payment.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: "canceled", CurrentPeriodEnd: &periodEnd})
	env.handle(t, subscriptionEvent(t, payment.EventSubscriptionDeleted, "cus_1", "sub_1", "canceled", periodEnd))

	// late redeliveries of the events that created the subscription
	env.handle(t, checkoutEvent(t, "u1", "cus_1", "sub_1"))
	env.handle(t, active)

	e := env.mustGet(t, "u1")
	assert.Equal(t, domain.PlanFree, e.Plan)
	assert.Equal(t, domain.StatusCanceled, e.Status)
	assert.Empty(t, e.ExternalSubscriptionID)

	res, err := env.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Downgrades)
	assert.Zero(t, res.Reminders)
	assert.Empty(t, env.notifier.reminders)
}

func TestCheckoutUsesProviderStatus(t *testing.T) {
	env := newTestEnv(t)
	trialEnd := t0.Add(14 * 24 * time.Hour)
	env.gateway.SetSubscription(payment.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: "trialing", CurrentPeriodEnd: &trialEnd})

	assert.Equal(t, OutcomeApplied, env.handle(t, checkoutEvent(t, "u1", "cus_1", "sub_1")))

	e := env.mustGet(t, "u1")
	assert.Equal(t, domain.StatusTrialing, e.Status)
	assert.Equal(t, domain.PlanPremium, e.Plan)
	require.NotNil(t, e.CurrentPeriodEnd)
	assert.True(t, trialEnd.Equal(*e.CurrentPeriodEnd))
}

func TestCheckoutNeedsProviderSubscription(t *testing.T) {
	t.Run("unknown subscription", func(t *testing.T) {
		env := newTestEnv(t)
		assert.Equal(t, OutcomeIgnored, env.handle(t, checkoutEvent(t, "u1", "cus_1", "sub_1")))
		e, err := env.store.Get(context.Background(), "u1")
		require.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("subscription of another customer", func(t *testing.T) {
		env := newTestEnv(t)
		env.gateway.SetSubscription(payment.Subscription{ID: "sub_1", CustomerID: "cus_other", Status: "active"})
		assert.Equal(t, OutcomeIgnored, env.handle(t, checkoutEvent(t, "u1", "cus_1", "sub_1")))
	})

	t.Run("provider down", func(t *testing.T) {
		env := newTestEnv(t)
		env.gateway.FailWith(errors.New("provider timeout"))
		_, err := env.ingestor.Handle(context.Background(), checkoutEvent(t, "u1", "cus_1", "sub_1"))
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err))
	})
}

func TestCanceledRecordRelinksConfirmedSubscription(t *testing.T) {
	env := newTestEnv(t)
	periodEnd := t0.Add(30 * 24 * time.Hour)
	env.checkout(t, "u1", "cus_1", "sub_1")
	env.handle(t, subscriptionEvent(t, payment.EventSubscriptionDeleted, "cus_1", "sub_1", "canceled", t0))

	// the user subscribed again and only the update arrived
	env.gateway.SetSubscription(payment.Subscription{ID: "sub_2", CustomerID: "cus_1", Status: "active", CurrentPeriodEnd: &periodEnd})
	assert.Equal(t, OutcomeApplied, env.handle(t, subscriptionEvent(t, payment.EventSubscriptionUpdated, "cus_1", "sub_2", "active", periodEnd)))

	e := env.mustGet(t, "u1")
	assert.Equal(t, domain.PlanPremium, e.Plan)
	assert.Equal(t, "sub_2", e.ExternalSubscriptionID)
}

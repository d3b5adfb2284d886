package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pitchforge/backend/internal/domain"
	"github.com/pitchforge/backend/internal/repository/sqlite"
	"github.com/pitchforge/backend/pkg/payment"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu         sync.Mutex
	reminders  []int
	downgrades []string
}

func (n *recordingNotifier) RenewalReminder(ctx context.Context, e domain.Entitlement, daysLeft int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, daysLeft)
	return nil
}

func (n *recordingNotifier) Downgraded(ctx context.Context, e domain.Entitlement) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.downgrades = append(n.downgrades, e.UserID)
	return nil
}

type testEnv struct {
	store    *sqlite.Store
	clock    *testClock
	ent      *EntitlementService
	ingestor *EventIngestor
	sweeper  *Sweeper
	notifier *recordingNotifier
	gateway  *payment.MockGateway
	status   *StatusService
	usage    *UsageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "billing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := newClock(t0)
	env := &testEnv{
		store:    store,
		clock:    clock,
		notifier: &recordingNotifier{},
		gateway:  payment.NewMockGateway("whsec_test"),
	}

	env.ent = NewEntitlementService(store, 3)
	env.ent.now = clock.Now
	env.ingestor = NewEventIngestor(env.ent, env.gateway)
	env.sweeper = NewSweeper(store, store, env.notifier, 90)
	env.sweeper.now = clock.Now
	env.status = NewStatusService(env.ent, env.gateway, time.Second)
	env.status.now = clock.Now
	env.usage = NewUsageService(env.ent, store, domain.DefaultDailyLimits)
	env.usage.now = clock.Now
	return env
}

func (env *testEnv) mustGet(t *testing.T, userID string) *domain.Entitlement {
	t.Helper()
	e, err := env.store.Get(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, e, "entitlement of %s", userID)
	return e
}

func (env *testEnv) handle(t *testing.T, ev *payment.Event) Outcome {
	t.Helper()
	out, err := env.ingestor.Handle(context.Background(), ev)
	require.NoError(t, err)
	return out
}

// checkout registers subID as active at the provider and delivers the
// completed checkout for it.
func (env *testEnv) checkout(t *testing.T, userID, customerID, subID string) Outcome {
	t.Helper()
	env.gateway.SetSubscription(payment.Subscription{ID: subID, CustomerID: customerID, Status: "active"})
	return env.handle(t, checkoutEvent(t, userID, customerID, subID))
}

func rawObject(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func checkoutEvent(t *testing.T, userID, customerID, subID string) *payment.Event {
	return &payment.Event{
		ID:   "evt_checkout_" + userID,
		Type: payment.EventCheckoutCompleted,
		Object: rawObject(t, map[string]any{
			"id":           "cs_" + userID,
			"customer":     customerID,
			"subscription": subID,
			"metadata":     map[string]string{"user_id": userID},
		}),
	}
}

func subscriptionEvent(t *testing.T, typ payment.EventType, customerID, subID, status string, periodEnd time.Time) *payment.Event {
	return &payment.Event{
		ID:   fmt.Sprintf("evt_%s_%s", subID, status),
		Type: typ,
		Object: rawObject(t, map[string]any{
			"id":       subID,
			"customer": customerID,
			"status":   status,
			"items": map[string]any{
				"data": []map[string]any{{"current_period_end": periodEnd.Unix()}},
			},
		}),
	}
}

func invoiceEvent(t *testing.T, typ payment.EventType, customerID, subID string) *payment.Event {
	return &payment.Event{
		ID:   "evt_" + string(typ) + "_" + subID,
		Type: typ,
		Object: rawObject(t, map[string]any{
			"id":       "in_" + subID,
			"customer": customerID,
			"parent": map[string]any{
				"subscription_details": map[string]any{"subscription": subID},
			},
		}),
	}
}

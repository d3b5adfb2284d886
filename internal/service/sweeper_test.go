package service

import (
	"context"
	"testing"
	"time"

	"github.com/pitchforge/backend/internal/domain"
	"github.com/pitchforge/backend/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepDowngradesExpiredGrace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.checkout(t, "u1", "cus_1", "sub_1")
	env.handle(t, invoiceEvent(t, payment.EventInvoicePaymentFailed, "cus_1", "sub_1"))

	// inside the grace window nothing happens
	env.clock.Advance(48 * time.Hour)
	res, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Zero(t, res.Downgrades)
	assert.Equal(t, domain.PlanPremium, env.mustGet(t, "u1").Plan)

	env.clock.Advance(25 * time.Hour)
	res, err = env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downgrades)

	e := env.mustGet(t, "u1")
	assert.Equal(t, domain.PlanFree, e.Plan)
	assert.Equal(t, domain.StatusCanceled, e.Status)
	assert.Empty(t, e.ExternalSubscriptionID)
	assert.Nil(t, e.GracePeriodEnd)
	assert.Equal(t, []string{"u1"}, env.notifier.downgrades)

	res, err = env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
	assert.Zero(t, res.Downgrades)
	assert.Len(t, env.notifier.downgrades, 1)
}

func TestSweepRenewalReminders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	periodEnd := t0.Add(7 * 24 * time.Hour)
	env.checkout(t, "u1", "cus_1", "sub_1")
	env.handle(t, subscriptionEvent(t, payment.EventSubscriptionUpdated, "cus_1", "sub_1", "active", periodEnd))

	res, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reminders)

	// immediate rerun is inside the cooldown
	res, err = env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Reminders)

	// 6 days left: not a reminder day
	env.clock.Advance(25 * time.Hour)
	res, err = env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Reminders)

	// 3 days left
	env.clock.Advance(3 * 24 * time.Hour)
	res, err = env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reminders)

	// 1 day left
	env.clock.Advance(2 * 24 * time.Hour)
	res, err = env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reminders)

	assert.Equal(t, []int{7, 3, 1}, env.notifier.reminders)
	require.NotNil(t, env.mustGet(t, "u1").LastReminderSent)
}

func TestSweepSkipsCanceledAndFree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	periodEnd := t0.Add(3 * 24 * time.Hour)
	env.checkout(t, "u1", "cus_1", "sub_1")
	env.handle(t, subscriptionEvent(t, payment.EventSubscriptionUpdated, "cus_1", "sub_1", "canceled", periodEnd))

	res, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
	assert.Zero(t, res.Reminders)
	assert.Empty(t, env.notifier.reminders)
}

func TestConcurrentSweepsSendOneReminder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.checkout(t, "u1", "cus_1", "sub_1")
	env.handle(t, subscriptionEvent(t, payment.EventSubscriptionUpdated, "cus_1", "sub_1", "active", t0.Add(24*time.Hour)))

	done := make(chan int, 4)
	for i := 0; i < 4; i++ {
		go func() {
			res, err := env.sweeper.RunOnce(ctx)
			if err != nil {
				done <- -1
				return
			}
			done <- res.Reminders
		}()
	}
	total := 0
	for i := 0; i < 4; i++ {
		n := <-done
		require.GreaterOrEqual(t, n, 0)
		total += n
	}
	assert.Equal(t, 1, total)
	assert.Equal(t, []int{1}, env.notifier.reminders)
}

func TestSweepPurgesOldUsage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old := domain.UsageDay(t0.AddDate(0, 0, -91))
	recent := domain.UsageDay(t0.AddDate(0, 0, -89))
	for _, day := range []string{old, recent} {
		_, _, err := env.store.IncrementIfBelow(ctx, "u1", day, 5)
		require.NoError(t, err)
	}

	res, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.PurgedUsageRows)

	n, err := env.store.CountForDay(ctx, "u1", recent)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweepReportsStoreFailure(t *testing.T) {
	sw := NewSweeper(failingStore{}, nil, nil, 0)
	_, err := sw.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- env.sweeper.Run(ctx, time.Hour) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

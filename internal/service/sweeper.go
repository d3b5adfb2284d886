package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitchforge/backend/internal/domain"
	"github.com/pitchforge/backend/internal/metrics"
	"github.com/rs/zerolog/log"
)

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	Scanned         int   `json:"scanned"`
	Downgrades      int   `json:"downgrades"`
	Reminders       int   `json:"reminders"`
	PurgedUsageRows int64 `json:"purgedUsageRows"`
}

// Sweeper is the periodic backstop for missed payment events: it expires
// grace periods, sends renewal reminders and prunes old usage counters.
type Sweeper struct {
	store         EntitlementStore
	usage         UsageStore
	notifier      Notifier
	retentionDays int
	now           func() time.Time
}

// NewSweeper creates a new Sweeper. retentionDays <= 0 keeps usage rows forever.
func NewSweeper(store EntitlementStore, usage UsageStore, notifier Notifier, retentionDays int) *Sweeper {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Sweeper{
		store:         store,
		usage:         usage,
		notifier:      notifier,
		retentionDays: retentionDays,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	s.runLogged(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Sweeper) runLogged(ctx context.Context) {
	res, err := s.RunOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Reconciliation sweep finished with errors")
		return
	}
	log.Info().
		Int("scanned", res.Scanned).
		Int("downgrades", res.Downgrades).
		Int("reminders", res.Reminders).
		Int64("purged_usage_rows", res.PurgedUsageRows).
		Msg("Reconciliation sweep finished")
}

// RunOnce performs one pass. Per-record failures do not stop the pass; they
// are joined into the returned error alongside the partial result.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	res := &SweepResult{}

	list, err := s.store.ListBillable(ctx)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("list billable entitlements: %w", err)
	}
	res.Scanned = len(list)

	var errs []error
	for i := range list {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.reconcile(ctx, &list[i], now, res); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", list[i].UserID, err))
		}
	}

	if s.retentionDays > 0 && s.usage != nil {
		cutoff := domain.UsageDay(now.AddDate(0, 0, -s.retentionDays))
		n, err := s.usage.PurgeBefore(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("purge usage: %w", err))
		}
		res.PurgedUsageRows = n
	}

	metrics.SweepActionsTotal.WithLabelValues("downgrade").Add(float64(res.Downgrades))
	metrics.SweepActionsTotal.WithLabelValues("reminder").Add(float64(res.Reminders))
	metrics.SweepActionsTotal.WithLabelValues("purge").Add(float64(res.PurgedUsageRows))

	if err := errors.Join(errs...); err != nil {
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return res, err
	}
	metrics.SweepRunsTotal.WithLabelValues("ok").Inc()
	return res, nil
}

// reconcile re-checks every condition under the row lock, so a concurrent
// sweep or webhook cannot cause a duplicate downgrade or reminder.
func (s *Sweeper) reconcile(ctx context.Context, snapshot *domain.Entitlement, now time.Time, res *SweepResult) error {
	if snapshot.GraceExpired(now) {
		downgraded := false
		e, err := s.store.UpdateByUser(ctx, snapshot.UserID, false, func(e *domain.Entitlement) bool {
			if !e.GraceExpired(now) {
				return false
			}
			downgraded = e.DowngradeToFree(now)
			return downgraded
		})
		if err != nil {
			return err
		}
		if downgraded && e != nil {
			res.Downgrades++
			if err := s.notifier.Downgraded(ctx, *e); err != nil {
				log.Warn().Err(err).Str("user_id", e.UserID).Msg("Downgrade notice failed")
			}
			return nil
		}
	}

	if _, due := snapshot.ReminderDue(now); !due {
		return nil
	}
	days := 0
	marked := false
	e, err := s.store.UpdateByUser(ctx, snapshot.UserID, false, func(e *domain.Entitlement) bool {
		if !isBillable(e.Status) {
			return false
		}
		days, _ = e.DaysUntilRenewal(now)
		marked = e.MarkReminderSent(now)
		return marked
	})
	if err != nil {
		return err
	}
	if marked && e != nil {
		res.Reminders++
		// At most once: the mark is committed before delivery.
		if err := s.notifier.RenewalReminder(ctx, *e, days); err != nil {
			log.Warn().Err(err).Str("user_id", e.UserID).Msg("Renewal reminder delivery failed")
		}
	}
	return nil
}

func isBillable(status domain.SubscriptionStatus) bool {
	for _, st := range domain.BillableStatuses {
		if st == status {
			return true
		}
	}
	return false
}

package domain

import "time"

// The functions below are the entitlement state machine. Each one mutates the
// record in place, recomputes the stored plan, and reports whether anything
// changed. Applying the same transition twice is a no-op the second time.

// SubscriptionUpdate is the provider's view of a subscription at some instant.
// Confirmed marks state read back from the provider API rather than carried
// by a webhook payload, which may be a late or replayed delivery.
type SubscriptionUpdate struct {
	SubscriptionID   string
	Status           SubscriptionStatus
	CurrentPeriodEnd *time.Time
	Confirmed        bool
}

// Terminal reports whether the subscription can never grant access again.
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusCanceled || s == StatusIncompleteExpired
}

// GrantsAccess reports whether the status grants premium on its own.
func (s SubscriptionStatus) GrantsAccess() bool {
	return s == StatusActive || s == StatusTrialing
}

// ApplyCheckout links a completed checkout to the record. The subscription
// status comes from the provider; a subscription that already ended only
// records the customer and leaves the account on free.
func (e *Entitlement) ApplyCheckout(customerID string, upd SubscriptionUpdate, graceDays int, now time.Time) bool {
	before := *e
	e.ExternalCustomerID = customerID
	if upd.Status.Terminal() {
		e.setPeriodEnd(upd.CurrentPeriodEnd)
		e.DowngradeToFree(now)
		return e.differs(before)
	}
	status := upd.Status
	if status == StatusNone {
		status = StatusActive
	}
	if e.ExternalSubscriptionID != upd.SubscriptionID {
		e.ExternalSubscriptionID = upd.SubscriptionID
		e.GracePeriodEnd = nil
	}
	e.setPeriodEnd(upd.CurrentPeriodEnd)
	e.applyStatus(status, graceDays, now)
	return e.differs(before)
}

// IsStale reports whether subscriptionID names a different subscription than
// the one linked to this record. Events for replaced subscriptions are stale.
func (e *Entitlement) IsStale(subscriptionID string) bool {
	return subscriptionID != "" && e.ExternalSubscriptionID != "" && subscriptionID != e.ExternalSubscriptionID
}

// NeedsConfirmation reports whether upd would link a subscription to a record
// that has none, which is only allowed for provider-confirmed state.
func (e *Entitlement) NeedsConfirmation(upd SubscriptionUpdate) bool {
	return e.ExternalSubscriptionID == "" && upd.SubscriptionID != "" && upd.Status.GrantsAccess() && !upd.Confirmed
}

// ApplySubscriptionUpdate mirrors the provider status onto the record.
// A terminal status downgrades; entering past_due opens a grace window of graceDays
// unless one is already open; active or trialing closes any grace window.
func (e *Entitlement) ApplySubscriptionUpdate(upd SubscriptionUpdate, graceDays int, now time.Time) bool {
	if upd.Status == StatusNone || e.IsStale(upd.SubscriptionID) {
		return false
	}
	if upd.Status.Terminal() {
		changed := e.setPeriodEnd(upd.CurrentPeriodEnd)
		return e.DowngradeToFree(now) || changed
	}
	if e.ExternalSubscriptionID == "" {
		// A settled record is only relinked by confirmed state that grants
		// access; a replayed payload for the old subscription must not.
		if upd.SubscriptionID == "" || !upd.Status.GrantsAccess() || !upd.Confirmed {
			return false
		}
	}

	before := *e
	e.setPeriodEnd(upd.CurrentPeriodEnd)
	if upd.SubscriptionID != "" {
		e.ExternalSubscriptionID = upd.SubscriptionID
	}
	e.applyStatus(upd.Status, graceDays, now)
	return e.differs(before)
}

func (e *Entitlement) applyStatus(status SubscriptionStatus, graceDays int, now time.Time) {
	switch status {
	case StatusPastDue:
		e.Status = StatusPastDue
		if e.GracePeriodEnd == nil {
			end := now.Add(time.Duration(graceDays) * 24 * time.Hour)
			e.GracePeriodEnd = &end
		}
	default:
		e.Status = status
		e.GracePeriodEnd = nil
	}
	e.Plan = DerivePlan(e.Status, e.GracePeriodEnd, now)
}

// DowngradeToFree settles the record on the free plan.
func (e *Entitlement) DowngradeToFree(now time.Time) bool {
	before := *e
	e.Plan = PlanFree
	e.Status = StatusCanceled
	e.ExternalSubscriptionID = ""
	e.GracePeriodEnd = nil
	return e.differs(before)
}

// SetGracePeriod marks the record past_due and opens a grace window of days,
// leaving an already open window untouched. Records without a linked
// subscription have nothing to be late on and are left alone.
func (e *Entitlement) SetGracePeriod(days int, now time.Time) bool {
	if e.ExternalSubscriptionID == "" {
		return false
	}
	before := *e
	e.Status = StatusPastDue
	if e.GracePeriodEnd == nil {
		end := now.Add(time.Duration(days) * 24 * time.Hour)
		e.GracePeriodEnd = &end
	}
	e.Plan = DerivePlan(e.Status, e.GracePeriodEnd, now)
	return e.differs(before)
}

// ClearGracePeriodAndReactivate records a recovered payment.
func (e *Entitlement) ClearGracePeriodAndReactivate(now time.Time) bool {
	if e.ExternalSubscriptionID == "" {
		return false
	}
	before := *e
	e.Status = StatusActive
	e.GracePeriodEnd = nil
	e.Plan = DerivePlan(e.Status, e.GracePeriodEnd, now)
	return e.differs(before)
}

// ReminderDays are the distances (in UTC calendar days) to the renewal date at
// which a reminder goes out.
var ReminderDays = []int{7, 3, 1}

// ReminderCooldown is the minimum spacing between two reminders.
const ReminderCooldown = 24 * time.Hour

// DaysUntilRenewal counts UTC calendar days from now to the period end.
func (e *Entitlement) DaysUntilRenewal(now time.Time) (int, bool) {
	if e == nil || e.CurrentPeriodEnd == nil {
		return 0, false
	}
	end := truncateDay(*e.CurrentPeriodEnd)
	start := truncateDay(now)
	return int(end.Sub(start).Hours() / 24), true
}

// ReminderDue reports whether a renewal reminder should go out now.
func (e *Entitlement) ReminderDue(now time.Time) (int, bool) {
	days, ok := e.DaysUntilRenewal(now)
	if !ok {
		return 0, false
	}
	hit := false
	for _, d := range ReminderDays {
		if d == days {
			hit = true
			break
		}
	}
	if !hit {
		return days, false
	}
	if e.LastReminderSent != nil && now.Sub(*e.LastReminderSent) <= ReminderCooldown {
		return days, false
	}
	return days, true
}

// MarkReminderSent stamps the reminder bookkeeping.
func (e *Entitlement) MarkReminderSent(now time.Time) bool {
	if _, due := e.ReminderDue(now); !due {
		return false
	}
	t := now
	e.LastReminderSent = &t
	return true
}

func (e *Entitlement) differs(before Entitlement) bool {
	return e.Plan != before.Plan ||
		e.Status != before.Status ||
		e.ExternalCustomerID != before.ExternalCustomerID ||
		e.ExternalSubscriptionID != before.ExternalSubscriptionID ||
		!timeEqual(e.CurrentPeriodEnd, before.CurrentPeriodEnd) ||
		!timeEqual(e.GracePeriodEnd, before.GracePeriodEnd) ||
		!timeEqual(e.LastReminderSent, before.LastReminderSent)
}

func (e *Entitlement) setPeriodEnd(t *time.Time) bool {
	if t == nil || timeEqual(e.CurrentPeriodEnd, t) {
		return false
	}
	e.CurrentPeriodEnd = t
	return true
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

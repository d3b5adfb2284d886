package domain

import (
	"fmt"
	"time"
)

// UsageDateLayout is the day key of a usage counter. Days are UTC.
const UsageDateLayout = "2006-01-02"

// UsageDay returns the UTC day key for t.
func UsageDay(t time.Time) string {
	return t.UTC().Format(UsageDateLayout)
}

// UsageSnapshot is a user's generation quota for today.
type UsageSnapshot struct {
	Plan       Plan `json:"plan"`
	DailyLimit int  `json:"dailyLimit"`
	UsedToday  int  `json:"usedToday"`
	Remaining  int  `json:"remaining"`
}

// NewUsageSnapshot computes remaining credits, never below zero.
func NewUsageSnapshot(plan Plan, limit, used int) *UsageSnapshot {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &UsageSnapshot{Plan: plan, DailyLimit: limit, UsedToday: used, Remaining: remaining}
}

// QuotaExceededError is returned when a user has no credits left today. It is
// an expected outcome, not a failure, and carries the current snapshot.
type QuotaExceededError struct {
	Usage *UsageSnapshot
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily generation limit reached (%d/%d)", e.Usage.UsedToday, e.Usage.DailyLimit)
}

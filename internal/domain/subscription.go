package domain

import (
	"strings"
	"time"
)

// Plan is the access level a user holds.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// SubscriptionStatus mirrors the payment provider's subscription status vocabulary.
// The zero value means the user never had an external subscription.
type SubscriptionStatus string

const (
	StatusNone              SubscriptionStatus = ""
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusUnpaid            SubscriptionStatus = "unpaid"
)

// ParseSubscriptionStatus normalizes a provider status string. Unknown values,
// such as paused, map to unpaid: no access, but the subscription stays linked.
func ParseSubscriptionStatus(s string) SubscriptionStatus {
	switch st := SubscriptionStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled,
		StatusIncomplete, StatusIncompleteExpired, StatusUnpaid:
		return st
	case StatusNone:
		return StatusNone
	default:
		return StatusUnpaid
	}
}

// BillableStatuses are the statuses the reconciliation sweep scans.
var BillableStatuses = []SubscriptionStatus{StatusActive, StatusTrialing, StatusPastDue}

// Entitlement is the per-user billing record.
type Entitlement struct {
	UserID                 string             `json:"userId"`
	Plan                   Plan               `json:"plan"`
	Status                 SubscriptionStatus `json:"subscriptionStatus,omitempty"`
	ExternalCustomerID     string             `json:"externalCustomerId,omitempty"`
	ExternalSubscriptionID string             `json:"externalSubscriptionId,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"currentPeriodEnd,omitempty"`
	GracePeriodEnd         *time.Time         `json:"gracePeriodEnd,omitempty"`
	LastReminderSent       *time.Time         `json:"lastReminderSent,omitempty"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// DerivePlan applies the plan invariant: premium while active or trialing, or
// while past_due inside an unexpired grace window. Everything else is free.
func DerivePlan(status SubscriptionStatus, graceEnd *time.Time, now time.Time) Plan {
	switch status {
	case StatusActive, StatusTrialing:
		return PlanPremium
	case StatusPastDue:
		if graceEnd != nil && now.Before(*graceEnd) {
			return PlanPremium
		}
	}
	return PlanFree
}

// EffectivePlan evaluates the plan invariant against now rather than trusting
// the stored column, so an expired grace period stops granting access before
// the sweep persists the downgrade.
func (e *Entitlement) EffectivePlan(now time.Time) Plan {
	if e == nil {
		return PlanFree
	}
	return DerivePlan(e.Status, e.GracePeriodEnd, now)
}

// InGracePeriod reports whether the record is past_due with an open grace window.
func (e *Entitlement) InGracePeriod(now time.Time) bool {
	return e != nil && e.Status == StatusPastDue && e.GracePeriodEnd != nil && now.Before(*e.GracePeriodEnd)
}

// GraceExpired reports whether a past_due record's grace window has closed.
func (e *Entitlement) GraceExpired(now time.Time) bool {
	if e == nil || e.Status != StatusPastDue {
		return false
	}
	return e.GracePeriodEnd == nil || !now.Before(*e.GracePeriodEnd)
}

// StatusView is the answer to "what is this user entitled to right now".
type StatusView struct {
	Status           SubscriptionStatus `json:"status"`
	Plan             Plan               `json:"plan"`
	IsActive         bool               `json:"isActive"`
	IsPastDue        bool               `json:"isPastDue"`
	InGracePeriod    bool               `json:"inGracePeriod"`
	GracePeriodEnd   *time.Time         `json:"gracePeriodEnd"`
	CurrentPeriodEnd *time.Time         `json:"currentPeriodEnd"`
}

// NewStatusView builds the status answer for e (nil means a user with no record).
func NewStatusView(e *Entitlement, now time.Time) *StatusView {
	if e == nil {
		return &StatusView{Plan: PlanFree}
	}
	plan := e.EffectivePlan(now)
	return &StatusView{
		Status:           e.Status,
		Plan:             plan,
		IsActive:         plan == PlanPremium,
		IsPastDue:        e.Status == StatusPastDue,
		InGracePeriod:    e.InGracePeriod(now),
		GracePeriodEnd:   e.GracePeriodEnd,
		CurrentPeriodEnd: e.CurrentPeriodEnd,
	}
}

// CheckoutRequest is the validated input for starting a checkout.
type CheckoutRequest struct {
	Plan string `json:"plan" validate:"required,oneof=premium"`
}

// RedirectResponse carries a hosted provider page the client should open.
type RedirectResponse struct {
	URL string `json:"url"`
}

// Invoice is a provider invoice summary shown on the billing page.
type Invoice struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	AmountDue int64     `json:"amountDue"`
	Currency  string    `json:"currency"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

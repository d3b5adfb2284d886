package payment

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")
	// ErrNotFound is returned when the provider has no such object.
	ErrNotFound = errors.New("payment: object not found")
)

// Gateway defines the capabilities the billing core needs from a payment provider.
type Gateway interface {
	// CreateCheckoutSession creates a hosted checkout page and returns its URL.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)
	// CreatePortalSession creates a hosted billing-portal page and returns its URL.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// GetSubscription retrieves the provider's current view of a subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	// ListInvoices returns up to limit invoices of a customer, newest first.
	ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error)
	// ConstructEvent verifies signature over the raw payload and only then decodes it.
	ConstructEvent(payload []byte, signature string) (*Event, error)
	// SignatureHeader names the HTTP header carrying the webhook signature.
	SignatureHeader() string
}

// CheckoutParams describes a subscription checkout for one user.
type CheckoutParams struct {
	UserID     string
	CustomerID string // empty lets the provider create a customer
	Email      string
	SuccessURL string
	CancelURL  string
}

// Subscription is the provider-neutral view of a subscription.
type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	CurrentPeriodEnd *time.Time
}

// Invoice is the provider-neutral view of an invoice.
type Invoice struct {
	ID        string
	Status    string
	AmountDue int64
	Currency  string
	URL       string
	CreatedAt time.Time
}

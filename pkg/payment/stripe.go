package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

const stripeSignatureHeader = "Stripe-Signature"

// StripeGateway implements Gateway on top of the Stripe API.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	priceID       string
}

// NewStripeGateway creates a Stripe-backed gateway. secretKey may be empty
// when only webhook verification is needed.
func NewStripeGateway(secretKey, webhookSecret, priceID string) *StripeGateway {
	return newStripeGateway(secretKey, webhookSecret, priceID, nil)
}

// NewStripeGatewayAt is NewStripeGateway against a Stripe-compatible API at
// apiURL, such as stripe-mock. Network retries are disabled.
func NewStripeGatewayAt(apiURL, secretKey, webhookSecret, priceID string) *StripeGateway {
	backend := stripelib.GetBackendWithConfig(stripelib.APIBackend, &stripelib.BackendConfig{
		URL:               stripelib.String(apiURL),
		MaxNetworkRetries: stripelib.Int64(0),
	})
	return newStripeGateway(secretKey, webhookSecret, priceID, &stripelib.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
}

func newStripeGateway(secretKey, webhookSecret, priceID string, backends *stripelib.Backends) *StripeGateway {
	return &StripeGateway{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
		priceID:       priceID,
	}
}

// CreateCheckoutSession starts a subscription checkout for the configured price.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	if g.priceID == "" {
		return "", fmt.Errorf("stripe price id not configured")
	}
	params := &stripelib.CheckoutSessionParams{
		Mode: stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(g.priceID),
				Quantity: stripelib.Int64(1),
			},
		},
		SuccessURL:        stripelib.String(p.SuccessURL),
		CancelURL:         stripelib.String(p.CancelURL),
		ClientReferenceID: stripelib.String(p.UserID),
		SubscriptionData:  &stripelib.CheckoutSessionSubscriptionDataParams{},
	}
	params.AddMetadata("user_id", p.UserID)
	params.SubscriptionData.AddMetadata("user_id", p.UserID)
	if p.CustomerID != "" {
		params.Customer = stripelib.String(p.CustomerID)
	} else if p.Email != "" {
		params.CustomerEmail = stripelib.String(p.Email)
	}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreatePortalSession opens the Stripe customer portal for customerID.
func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(customerID),
		ReturnURL: stripelib.String(returnURL),
	}
	params.Context = ctx

	sess, err := g.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

// GetSubscription retrieves a subscription by id.
func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("retrieve subscription %s: %w", subscriptionID, err)
	}

	out := &Subscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	var end int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.CurrentPeriodEnd > end {
				end = item.CurrentPeriodEnd
			}
		}
	}
	out.CurrentPeriodEnd = unixTime(end)
	return out, nil
}

// ListInvoices lists the most recent invoices of a customer.
func (g *StripeGateway) ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error) {
	params := &stripelib.InvoiceListParams{
		Customer: stripelib.String(customerID),
	}
	params.Limit = stripelib.Int64(int64(limit))
	params.Context = ctx

	invoices := []Invoice{}
	it := g.api.Invoices.List(params)
	for it.Next() {
		inv := it.Invoice()
		invoices = append(invoices, Invoice{
			ID:        inv.ID,
			Status:    string(inv.Status),
			AmountDue: inv.AmountDue,
			Currency:  strings.ToUpper(string(inv.Currency)),
			URL:       inv.HostedInvoiceURL,
			CreatedAt: time.Unix(inv.Created, 0).UTC(),
		})
		if len(invoices) >= limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list invoices for %s: %w", customerID, err)
	}
	return invoices, nil
}

// ConstructEvent verifies the Stripe-Signature header against the raw payload.
func (g *StripeGateway) ConstructEvent(payload []byte, signature string) (*Event, error) {
	if strings.TrimSpace(signature) == "" || g.webhookSecret == "" {
		return nil, ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := &Event{ID: event.ID, Type: EventType(event.Type)}
	if event.Data != nil {
		out.Object = event.Data.Raw
	}
	return out, nil
}

// SignatureHeader returns the header Stripe signs webhooks with.
func (g *StripeGateway) SignatureHeader() string {
	return stripeSignatureHeader
}

func isStripeNotFound(err error) bool {
	var stripeErr *stripelib.Error
	return errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound
}

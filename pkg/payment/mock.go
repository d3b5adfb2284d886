package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const mockSignatureHeader = "X-Signature-256"

// MockGateway is an in-memory provider for local development and tests.
// Webhooks are signed with HMAC-SHA256 as "sha256=<hex>".
type MockGateway struct {
	secret string

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	invoices      map[string][]Invoice
	err           error

	subscriptionCalls atomic.Int64
}

// NewMockGateway creates a MockGateway that verifies webhooks with secret.
func NewMockGateway(secret string) *MockGateway {
	return &MockGateway{
		secret:        secret,
		subscriptions: make(map[string]*Subscription),
		invoices:      make(map[string][]Invoice),
	}
}

// SetSubscription stores the provider-side state of a subscription.
func (g *MockGateway) SetSubscription(sub Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscriptions[sub.ID] = &sub
}

// AddInvoice records an invoice for a customer.
func (g *MockGateway) AddInvoice(customerID string, inv Invoice) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invoices[customerID] = append([]Invoice{inv}, g.invoices[customerID]...)
}

// FailWith makes every API call return err until called with nil.
func (g *MockGateway) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *MockGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.err != nil {
		return "", g.err
	}
	q := url.Values{}
	q.Set("session_id", "cs_mock_"+uuid.New().String())
	q.Set("user_id", p.UserID)
	return "https://example.com/pay?" + q.Encode(), nil
}

func (g *MockGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.err != nil {
		return "", g.err
	}
	return "https://example.com/portal?customer=" + url.QueryEscape(customerID), nil
}

// SubscriptionCalls reports how many times GetSubscription was called.
func (g *MockGateway) SubscriptionCalls() int64 {
	return g.subscriptionCalls.Load()
}

func (g *MockGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	g.subscriptionCalls.Add(1)
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.err != nil {
		return nil, g.err
	}
	sub, ok := g.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (g *MockGateway) ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.err != nil {
		return nil, g.err
	}
	all := g.invoices[customerID]
	if len(all) > limit {
		all = all[:limit]
	}
	return append([]Invoice{}, all...), nil
}

// Sign returns the signature header value for payload.
func (g *MockGateway) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (g *MockGateway) ConstructEvent(payload []byte, signature string) (*Event, error) {
	if g.secret == "" || !g.verifySignature(signature, payload) {
		return nil, ErrInvalidSignature
	}
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	return &Event{ID: envelope.ID, Type: EventType(envelope.Type), Object: envelope.Data.Object}, nil
}

func (g *MockGateway) SignatureHeader() string {
	return mockSignatureHeader
}

func (g *MockGateway) verifySignature(signature string, payload []byte) bool {
	parts := strings.SplitN(signature, "=", 2)
	if len(parts) != 2 || parts[0] != "sha256" {
		return false
	}
	expected := g.Sign(payload)
	return hmac.Equal([]byte(signature), []byte(expected))
}

package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test_123"

func signStripe(t *testing.T, secret string, payload []byte) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}

func TestStripeConstructEvent(t *testing.T) {
	g := NewStripeGateway("", testWebhookSecret, "")
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_1","customer":"cus_1","subscription":"sub_1"}}}`)

	ev, err := g.ConstructEvent(payload, signStripe(t, testWebhookSecret, payload))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventInvoicePaymentFailed, ev.Type)

	inv, err := ev.Invoice()
	require.NoError(t, err)
	assert.Equal(t, "cus_1", inv.CustomerID)
	assert.Equal(t, "sub_1", inv.SubscriptionID)
	assert.Equal(t, "Stripe-Signature", g.SignatureHeader())
}

func TestStripeConstructEventRejects(t *testing.T) {
	g := NewStripeGateway("", testWebhookSecret, "")
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"metadata":{"user_id":"u1"}}}}`)
	tampered := []byte(strings.Replace(string(payload), "u1", "u2", 1))

	cases := map[string]struct {
		body []byte
		sig  string
	}{
		"missing signature": {payload, ""},
		"wrong secret":      {payload, signStripe(t, "whsec_other", payload)},
		"tampered body":     {tampered, signStripe(t, testWebhookSecret, payload)},
		"garbage header":    {payload, "t=1,v1=deadbeef"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := g.ConstructEvent(tc.body, tc.sig)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}

	_, err := NewStripeGateway("", "", "").ConstructEvent(payload, signStripe(t, "", payload))
	assert.ErrorIs(t, err, ErrInvalidSignature, "unconfigured secret never verifies")
}

func newTestStripe(t *testing.T, h http.HandlerFunc) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewStripeGatewayAt(srv.URL, "sk_test_123", testWebhookSecret, "price_123")
}

func TestStripeGetSubscription(t *testing.T) {
	g := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/subscriptions/sub_1":
			fmt.Fprint(w, `{"id":"sub_1","object":"subscription","customer":"cus_1","status":"past_due",
				"items":{"object":"list","data":[{"id":"si_1","object":"subscription_item","current_period_end":1773500000}]}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such subscription"}}`)
		}
	})

	sub, err := g.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, "past_due", sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, int64(1773500000), sub.CurrentPeriodEnd.Unix())

	_, err = g.GetSubscription(context.Background(), "sub_gone")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStripeCheckoutNeedsPrice(t *testing.T) {
	g := NewStripeGateway("sk_test_123", testWebhookSecret, "")
	_, err := g.CreateCheckoutSession(context.Background(), CheckoutParams{UserID: "u1"})
	assert.Error(t, err)
}

func TestStripeCreateCheckoutSession(t *testing.T) {
	var form string
	g := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err == nil {
			form = r.PostForm.Encode()
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_1"}`)
	})

	url, err := g.CreateCheckoutSession(context.Background(), CheckoutParams{
		UserID:     "u1",
		Email:      "u1@example.com",
		SuccessURL: "https://app.example/ok",
		CancelURL:  "https://app.example/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", url)
	assert.Contains(t, form, "client_reference_id=u1")
	assert.Contains(t, form, "metadata%5Buser_id%5D=u1")
	assert.Contains(t, form, "mode=subscription")
}

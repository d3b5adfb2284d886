package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType discriminates webhook events.
type EventType string

const (
	EventCheckoutCompleted       EventType = "checkout.session.completed"
	EventSubscriptionUpdated     EventType = "customer.subscription.updated"
	EventSubscriptionDeleted     EventType = "customer.subscription.deleted"
	EventInvoicePaymentFailed    EventType = "invoice.payment_failed"
	EventInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
)

// Event is a verified webhook event. Object holds the raw data.object payload.
type Event struct {
	ID     string
	Type   EventType
	Object json.RawMessage
}

// CheckoutCompleted is the payload of a completed checkout.
type CheckoutCompleted struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	UserID         string
}

// InvoiceEvent is the payload of an invoice payment outcome.
type InvoiceEvent struct {
	ID             string
	CustomerID     string
	SubscriptionID string
}

// expandableID decodes a provider reference that is either an id string or an
// expanded object carrying an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(strings.TrimSpace(s))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(strings.TrimSpace(obj.ID))
	return nil
}

type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type subscriptionObject struct {
	ID               string       `json:"id"`
	Customer         expandableID `json:"customer"`
	Status           string       `json:"status"`
	CurrentPeriodEnd int64        `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type invoiceObject struct {
	ID           string       `json:"id"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// Checkout decodes a checkout.session.completed payload.
func (e *Event) Checkout() (*CheckoutCompleted, error) {
	var obj checkoutSessionObject
	if err := json.Unmarshal(e.Object, &obj); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	userID := strings.TrimSpace(obj.Metadata["user_id"])
	if userID == "" {
		userID = strings.TrimSpace(obj.ClientReferenceID)
	}
	return &CheckoutCompleted{
		SessionID:      obj.ID,
		CustomerID:     string(obj.Customer),
		SubscriptionID: string(obj.Subscription),
		UserID:         userID,
	}, nil
}

// Subscription decodes a customer.subscription.* payload.
func (e *Event) Subscription() (*Subscription, error) {
	var obj subscriptionObject
	if err := json.Unmarshal(e.Object, &obj); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	// Newer API versions carry the period on the items instead of the subscription.
	end := obj.CurrentPeriodEnd
	for _, item := range obj.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	return &Subscription{
		ID:               strings.TrimSpace(obj.ID),
		CustomerID:       string(obj.Customer),
		Status:           obj.Status,
		CurrentPeriodEnd: unixTime(end),
	}, nil
}

// Invoice decodes an invoice.payment_* payload.
func (e *Event) Invoice() (*InvoiceEvent, error) {
	var obj invoiceObject
	if err := json.Unmarshal(e.Object, &obj); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	subID := string(obj.Subscription)
	if subID == "" {
		subID = string(obj.Parent.SubscriptionDetails.Subscription)
	}
	return &InvoiceEvent{
		ID:             obj.ID,
		CustomerID:     string(obj.Customer),
		SubscriptionID: subID,
	}, nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

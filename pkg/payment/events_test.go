package payment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutDecoding(t *testing.T) {
	tests := []struct {
		name     string
		object   string
		wantUser string
		wantCus  string
		wantSub  string
	}{
		{
			name:     "metadata user id",
			object:   `{"id":"cs_1","customer":"cus_1","subscription":"sub_1","client_reference_id":"other","metadata":{"user_id":"u1"}}`,
			wantUser: "u1", wantCus: "cus_1", wantSub: "sub_1",
		},
		{
			name:     "client reference fallback",
			object:   `{"id":"cs_1","customer":"cus_1","subscription":"sub_1","client_reference_id":" u2 "}`,
			wantUser: "u2", wantCus: "cus_1", wantSub: "sub_1",
		},
		{
			name:     "expanded objects",
			object:   `{"id":"cs_1","customer":{"id":"cus_3"},"subscription":{"id":"sub_3","status":"active"},"metadata":{"user_id":"u3"}}`,
			wantUser: "u3", wantCus: "cus_3", wantSub: "sub_3",
		},
		{
			name:   "null references",
			object: `{"id":"cs_1","customer":null,"subscription":null}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &Event{Type: EventCheckoutCompleted, Object: json.RawMessage(tt.object)}
			cs, err := ev.Checkout()
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, cs.UserID)
			assert.Equal(t, tt.wantCus, cs.CustomerID)
			assert.Equal(t, tt.wantSub, cs.SubscriptionID)
		})
	}
}

func TestSubscriptionPeriodEnd(t *testing.T) {
	ev := &Event{Object: json.RawMessage(`{"id":"sub_1","customer":"cus_1","status":"active",
		"items":{"data":[{"current_period_end":1700000000},{"current_period_end":1700500000}]}}`)}
	sub, err := ev.Subscription()
	require.NoError(t, err)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, int64(1700500000), sub.CurrentPeriodEnd.Unix())

	legacy := &Event{Object: json.RawMessage(`{"id":"sub_1","customer":"cus_1","status":"active","current_period_end":1690000000}`)}
	sub, err = legacy.Subscription()
	require.NoError(t, err)
	assert.Equal(t, int64(1690000000), sub.CurrentPeriodEnd.Unix())

	none := &Event{Object: json.RawMessage(`{"id":"sub_1","status":"incomplete"}`)}
	sub, err = none.Subscription()
	require.NoError(t, err)
	assert.Nil(t, sub.CurrentPeriodEnd)
}

func TestInvoiceSubscriptionLocation(t *testing.T) {
	legacy := &Event{Object: json.RawMessage(`{"id":"in_1","customer":"cus_1","subscription":"sub_1"}`)}
	inv, err := legacy.Invoice()
	require.NoError(t, err)
	assert.Equal(t, "sub_1", inv.SubscriptionID)

	parent := &Event{Object: json.RawMessage(`{"id":"in_2","customer":"cus_1","parent":{"subscription_details":{"subscription":"sub_2"}}}`)}
	inv, err = parent.Invoice()
	require.NoError(t, err)
	assert.Equal(t, "sub_2", inv.SubscriptionID)
	assert.Equal(t, "cus_1", inv.CustomerID)
}

func TestMalformedObject(t *testing.T) {
	ev := &Event{Object: json.RawMessage(`{"customer":123}`)}
	_, err := ev.Subscription()
	assert.Error(t, err)
}

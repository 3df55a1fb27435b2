package stripegw

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/purchase"
)

const (
	webhookSecret = "whsec_test"
	itemsMeta     = `[{"id":"F1","kind":"formation"},{"id":"c1","kind":"course"}]`
)

func newConf() *core.Config {
	return &core.Config{Stripe: core.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: webhookSecret,
		Currency:      "usd",
		SuccessURL:    "http://circus.test/ok?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     "http://circus.test/cancel",
	}}
}

// newTestGateway points the Stripe client at handler.
func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewGateway(newConf(), &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
}

func sign(t *testing.T, payload string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  webhookSecret,
	})
	return signed.Header
}

func eventPayload(t *testing.T, typ string, obj map[string]interface{}) string {
	data, err := json.Marshal(map[string]interface{}{
		"id":          "evt_1",
		"object":      "event",
		"type":        typ,
		"api_version": "2020-08-27",
		"data":        map[string]interface{}{"object": obj},
	})
	require.NoError(t, err)
	return string(data)
}

func wantItems() []entitlement.RawItem {
	return []entitlement.RawItem{{ID: "F1", Kind: "formation"}, {ID: "c1", Kind: "course"}}
}

func TestGateway_ParseEvent(t *testing.T) {
	gw := NewGateway(newConf(), nil)
	meta := map[string]interface{}{"userId": "u1", "items": itemsMeta}

	tests := []struct {
		name        string
		payload     string
		signature   string
		wantErr     error
		wantType    string
		wantPayment *purchase.Payment
	}{
		{
			name: "payment intent succeeded",
			payload: eventPayload(t, purchase.EventPaymentSucceeded, map[string]interface{}{
				"id": "pi_1", "object": "payment_intent", "status": "succeeded", "metadata": meta,
			}),
			wantType:    purchase.EventPaymentSucceeded,
			wantPayment: &purchase.Payment{Ref: "pi_1", Succeeded: true, UserID: "u1", Items: wantItems()},
		},
		{
			name: "checkout session paid",
			payload: eventPayload(t, purchase.EventCheckoutCompleted, map[string]interface{}{
				"id": "cs_1", "object": "checkout.session", "payment_status": "paid", "payment_intent": "pi_1", "metadata": meta,
			}),
			wantType:    purchase.EventCheckoutCompleted,
			wantPayment: &purchase.Payment{Ref: "pi_1", Succeeded: true, UserID: "u1", Items: wantItems()},
		},
		{
			name: "checkout session unpaid",
			payload: eventPayload(t, purchase.EventCheckoutCompleted, map[string]interface{}{
				"id": "cs_2", "object": "checkout.session", "payment_status": "unpaid",
			}),
			wantType:    purchase.EventCheckoutCompleted,
			wantPayment: &purchase.Payment{Ref: "cs_2"},
		},
		{
			name:     "unhandled type",
			payload:  eventPayload(t, "customer.created", map[string]interface{}{"id": "cus_1", "object": "customer"}),
			wantType: "customer.created",
		},
		{
			name:      "forged signature",
			payload:   eventPayload(t, purchase.EventPaymentSucceeded, map[string]interface{}{"id": "pi_1"}),
			signature: "t=1,v1=deadbeef",
			wantErr:   purchase.ErrInvalidSignature,
		},
		{
			name:      "malformed signature header",
			payload:   eventPayload(t, purchase.EventPaymentSucceeded, map[string]interface{}{"id": "pi_1"}),
			signature: "garbage",
			wantErr:   purchase.ErrInvalidSignature,
		},
		{
			name: "signed but undecodable payment intent",
			payload: eventPayload(t, purchase.EventPaymentSucceeded, map[string]interface{}{
				"id": "pi_1", "object": "payment_intent", "amount": "lots",
			}),
			wantErr: purchase.ErrInvalidEvent,
		},
		{
			name: "signed but undecodable checkout session",
			payload: eventPayload(t, purchase.EventCheckoutCompleted, map[string]interface{}{
				"id": "cs_1", "object": "checkout.session", "payment_status": []string{"paid"},
			}),
			wantErr: purchase.ErrInvalidEvent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := tt.signature
			if sig == "" {
				sig = sign(t, tt.payload)
			}
			evt, err := gw.ParseEvent([]byte(tt.payload), sig)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "evt_1", evt.ID)
			assert.Equal(t, tt.wantType, evt.Type)
			assert.Equal(t, tt.wantPayment, evt.Payment)
		})
	}
}

func TestGateway_GetPayment(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/payment_intents/pi_1":
			_, _ = fmt.Fprintf(w, `{"id":"pi_1","object":"payment_intent","status":"succeeded","metadata":{"userId":"u1","items":%q}}`, itemsMeta)
		case "/v1/payment_intents/pi_2":
			_, _ = fmt.Fprint(w, `{"id":"pi_2","object":"payment_intent","status":"requires_payment_method","metadata":{}}`)
		case "/v1/checkout/sessions/cs_1":
			_, _ = fmt.Fprintf(w, `{"id":"cs_1","object":"checkout.session","payment_status":"paid","payment_intent":"pi_1","metadata":{"userId":"u1","items":%q}}`, itemsMeta)
		case "/v1/payment_intents/pi_500":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprint(w, `{"error":{"type":"api_error","message":"boom"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such object"}}`)
		}
	})

	tests := []struct {
		name    string
		ref     string
		want    purchase.Payment
		wantErr error
	}{
		{name: "payment intent", ref: "pi_1", want: purchase.Payment{Ref: "pi_1", Succeeded: true, UserID: "u1", Items: wantItems()}},
		{name: "pending payment intent", ref: "pi_2", want: purchase.Payment{Ref: "pi_2"}},
		{name: "checkout session", ref: "cs_1", want: purchase.Payment{Ref: "pi_1", Succeeded: true, UserID: "u1", Items: wantItems()}},
		{name: "unknown", ref: "pi_nope", wantErr: purchase.ErrPaymentNotFound},
		{name: "unknown session", ref: "cs_nope", wantErr: purchase.ErrPaymentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gw.GetPayment(context.Background(), tt.ref)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("server error", func(t *testing.T) {
		_, err := gw.GetPayment(context.Background(), "pi_500")
		require.Error(t, err)
		assert.NotEqual(t, purchase.ErrPaymentNotFound, err)
	})
}

func TestGateway_CreateCheckout(t *testing.T) {
	var form map[string][]string
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"cs_new","object":"checkout.session","url":"https://checkout.stripe.test/cs_new"}`)
	})

	co, err := gw.CreateCheckout(context.Background(), purchase.CheckoutRequest{
		UserID: "u1",
		Email:  "ana@circus.test",
		Items: []purchase.CartItem{
			{ID: "F1", Kind: "formation", Title: "Aerial hoop", Price: 49.99},
			{ID: "c1", Kind: "course", Title: "Juggling", Price: 10},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, purchase.Checkout{ID: "cs_new", URL: "https://checkout.stripe.test/cs_new"}, co)

	get := func(key string) string {
		if v := form[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	assert.Equal(t, "payment", get("mode"))
	assert.Equal(t, "ana@circus.test", get("customer_email"))
	assert.Equal(t, "4999", get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "Aerial hoop", get("line_items[0][price_data][product_data][name]"))
	assert.Equal(t, "1000", get("line_items[1][price_data][unit_amount]"))
	assert.Equal(t, "usd", get("line_items[1][price_data][currency]"))
	assert.Equal(t, "u1", get("metadata[userId]"))
	assert.Equal(t, itemsMeta, get("metadata[items]"))
	assert.Equal(t, itemsMeta, get("payment_intent_data[metadata][items]"))
}

func TestGateway_CreateCheckout_tooLarge(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	})

	cart := make([]purchase.CartItem, 0, 20)
	for i := 0; i < 20; i++ {
		cart = append(cart, purchase.CartItem{ID: fmt.Sprintf("formation-%s", strings.Repeat("x", 10)), Kind: "formation", Price: 1})
	}
	_, err := gw.CreateCheckout(context.Background(), purchase.CheckoutRequest{UserID: "u1", Items: cart})
	assert.Equal(t, purchase.ErrCartTooLarge, err)
}

package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/purchase"
)

// ValidSignature is the only signature the fake Gateway accepts.
const ValidSignature = "t=1,v1=valid"

// Gateway is an in-memory purchase.Gateway.
// Webhook payloads are the JSON form of WebhookEvent.
type Gateway struct {
	mu        sync.Mutex
	Payments  map[string]purchase.Payment
	Checkouts []purchase.CheckoutRequest
	Err       error
}

var _ purchase.Gateway = (*Gateway)(nil)

type WebhookEvent struct {
	ID     string             `json:"id"`
	Type   string             `json:"type"`
	Ref    string             `json:"ref,omitempty"`
	Paid   bool               `json:"paid,omitempty"`
	UserID string             `json:"user_id,omitempty"`
	Items  []entitlement.Item `json:"items,omitempty"`
}

func NewGateway() *Gateway {
	return &Gateway{Payments: make(map[string]purchase.Payment)}
}

// AddPayment registers a payment under its Ref and any extra alias refs.
func (g *Gateway) AddPayment(p purchase.Payment, aliases ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Payments[p.Ref] = p
	for _, a := range aliases {
		g.Payments[a] = p
	}
}

func (g *Gateway) ParseEvent(payload []byte, signature string) (purchase.Event, error) {
	if signature != ValidSignature {
		return purchase.Event{}, errors.WithMessage(purchase.ErrInvalidSignature, "no signatures found matching the expected signature for payload")
	}
	var we WebhookEvent
	if err := json.Unmarshal(payload, &we); err != nil {
		return purchase.Event{}, errors.WithMessage(purchase.ErrInvalidEvent, err.Error())
	}
	event := purchase.Event{ID: we.ID, Type: we.Type}
	if we.Type == purchase.EventPaymentSucceeded || we.Type == purchase.EventCheckoutCompleted {
		event.Payment = &purchase.Payment{
			Ref:       we.Ref,
			Succeeded: we.Paid,
			UserID:    we.UserID,
			Items:     rawItems(we.Items),
		}
	}
	return event, nil
}

func (g *Gateway) GetPayment(_ context.Context, ref string) (purchase.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return purchase.Payment{}, g.Err
	}
	p, ok := g.Payments[ref]
	if !ok {
		return purchase.Payment{}, purchase.ErrPaymentNotFound
	}
	return p, nil
}

func (g *Gateway) CreateCheckout(_ context.Context, req purchase.CheckoutRequest) (purchase.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return purchase.Checkout{}, g.Err
	}
	g.Checkouts = append(g.Checkouts, req)
	id := "cs_test_" + req.UserID
	return purchase.Checkout{ID: id, URL: "https://checkout.test/" + id}, nil
}

// WebhookPayload encodes a WebhookEvent.
func WebhookPayload(we WebhookEvent) []byte {
	data, _ := json.Marshal(we)
	return data
}

func rawItems(items []entitlement.Item) []entitlement.RawItem {
	raws := make([]entitlement.RawItem, 0, len(items))
	for _, it := range items {
		raws = append(raws, entitlement.RawItem{ID: it.ID, Kind: string(it.Kind)})
	}
	return raws
}

// RawItems converts items to their raw form.
func RawItems(items ...entitlement.Item) []entitlement.RawItem {
	return rawItems(items)
}

package purchase

import (
	"context"

	"github.com/circuscoach/backend/core/entitlement"
)

// Event types that carry a completed payment.
const (
	EventPaymentSucceeded  = "payment_intent.succeeded"
	EventCheckoutCompleted = "checkout.session.completed"
)

type (
	// Payment is the gateway's own record of a payment.
	Payment struct {
		// Ref identifies the payment across the webhook and confirmation paths.
		Ref       string
		Succeeded bool
		UserID    string
		Items     []entitlement.RawItem
	}

	// Event is a verified gateway notification. Payment is nil for events that do not carry one.
	Event struct {
		ID      string
		Type    string
		Payment *Payment
	}

	CartItem struct {
		ID    string  `json:"id" validate:"required,itemid"`
		Kind  string  `json:"kind" validate:"required,oneof=course formation"`
		Title string  `json:"title" validate:"required,max=250"`
		// Price comes from the client and is charged as sent; there is no catalog to check it against.
		Price float64 `json:"price" validate:"gt=0"`
	}

	CheckoutRequest struct {
		UserID string
		Email  string
		Items  []CartItem
	}

	Checkout struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}

	// Gateway is a payment provider.
	Gateway interface {
		// ParseEvent verifies the signature of a webhook payload and decodes it.
		// Errors wrap ErrInvalidSignature when the payload is not the gateway's, ErrInvalidEvent when it cannot be decoded.
		ParseEvent(payload []byte, signature string) (Event, error)
		// GetPayment looks a payment up by payment or checkout reference.
		GetPayment(ctx context.Context, ref string) (Payment, error)
		CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	}
)

// Item converts the CartItem to the item it grants.
func (ci CartItem) Item() entitlement.Item {
	return entitlement.RawItem{ID: ci.ID, Kind: ci.Kind}.Item()
}

// PriceCents is the price in the currency's smallest unit.
func (ci CartItem) PriceCents() int64 {
	return int64(ci.Price*100 + 0.5)
}

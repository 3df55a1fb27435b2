// Package stripegw implements purchase.Gateway on Stripe Checkout and PaymentIntents.
package stripegw

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/purchase"
)

const (
	metaUserID = "userId"
	metaItems  = "items"

	// Stripe rejects metadata values longer than this.
	maxMetadataValueLen = 500

	checkoutSessionPrefix = "cs_"
)

type Gateway struct {
	api           *client.API
	webhookSecret string
	currency      string
	successURL    string
	cancelURL     string
}

var _ purchase.Gateway = (*Gateway)(nil)

// NewGateway returns a Gateway for conf.Stripe. A nil backends uses Stripe's defaults.
func NewGateway(conf *core.Config, backends *stripe.Backends) *Gateway {
	return &Gateway{
		api:           client.New(conf.Stripe.SecretKey, backends),
		webhookSecret: conf.Stripe.WebhookSecret,
		currency:      conf.Stripe.Currency,
		successURL:    conf.Stripe.SuccessURL,
		cancelURL:     conf.Stripe.CancelURL,
	}
}

func (gw *Gateway) ParseEvent(payload []byte, signature string) (purchase.Event, error) {
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signature,
		gw.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return purchase.Event{}, mapWebhookError(err)
	}

	evt := purchase.Event{ID: event.ID, Type: string(event.Type)}
	switch evt.Type {
	case purchase.EventPaymentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return purchase.Event{}, errors.WithMessage(purchase.ErrInvalidEvent, "decoding payment intent: "+err.Error())
		}
		p := paymentFromIntent(&pi)
		evt.Payment = &p
	case purchase.EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return purchase.Event{}, errors.WithMessage(purchase.ErrInvalidEvent, "decoding checkout session: "+err.Error())
		}
		p := paymentFromSession(&sess)
		evt.Payment = &p
	}
	return evt, nil
}

// mapWebhookError tells signature failures from bodies that verified but are not an event.
func mapWebhookError(err error) error {
	switch err {
	case webhook.ErrNotSigned, webhook.ErrInvalidHeader, webhook.ErrNoValidSignature, webhook.ErrTooOld:
		return errors.WithMessage(purchase.ErrInvalidSignature, err.Error())
	}
	return errors.WithMessage(purchase.ErrInvalidEvent, err.Error())
}

// GetPayment accepts a payment intent id or a checkout session id.
func (gw *Gateway) GetPayment(ctx context.Context, ref string) (purchase.Payment, error) {
	if strings.HasPrefix(ref, checkoutSessionPrefix) {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		sess, err := gw.api.CheckoutSessions.Get(ref, params)
		if err != nil {
			return purchase.Payment{}, mapError(err)
		}
		return paymentFromSession(sess), nil
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := gw.api.PaymentIntents.Get(ref, params)
	if err != nil {
		return purchase.Payment{}, mapError(err)
	}
	return paymentFromIntent(pi), nil
}

func (gw *Gateway) CreateCheckout(ctx context.Context, req purchase.CheckoutRequest) (purchase.Checkout, error) {
	items := make([]entitlement.Item, 0, len(req.Items))
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, ci := range req.Items {
		items = append(items, ci.Item())
		name := ci.Title
		if name == "" {
			name = ci.Item().String()
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(gw.currency),
				UnitAmount:  stripe.Int64(ci.PriceCents()),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(name)},
			},
			Quantity: stripe.Int64(1),
		})
	}

	encoded, err := entitlement.EncodeItems(items)
	if err != nil {
		return purchase.Checkout{}, err
	}
	if len(encoded) > maxMetadataValueLen {
		return purchase.Checkout{}, purchase.ErrCartTooLarge
	}
	metadata := map[string]string{metaUserID: req.UserID, metaItems: encoded}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(gw.successURL),
		CancelURL:         stripe.String(gw.cancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		LineItems:         lineItems,
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: metadata},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx

	sess, err := gw.api.CheckoutSessions.New(params)
	if err != nil {
		return purchase.Checkout{}, err
	}
	return purchase.Checkout{ID: sess.ID, URL: sess.URL}, nil
}

func paymentFromIntent(pi *stripe.PaymentIntent) purchase.Payment {
	return purchase.Payment{
		Ref:       pi.ID,
		Succeeded: pi.Status == stripe.PaymentIntentStatusSucceeded,
		UserID:    pi.Metadata[metaUserID],
		Items:     decodeItems(pi.Metadata[metaItems]),
	}
}

// paymentFromSession keys the payment by its payment intent so it converges with payment_intent.succeeded.
func paymentFromSession(sess *stripe.CheckoutSession) purchase.Payment {
	ref := sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		ref = sess.PaymentIntent.ID
	}
	return purchase.Payment{
		Ref:       ref,
		Succeeded: sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		UserID:    sess.Metadata[metaUserID],
		Items:     decodeItems(sess.Metadata[metaItems]),
	}
}

func decodeItems(data string) []entitlement.RawItem {
	if data == "" {
		return nil
	}
	raws, err := entitlement.DecodeItems(data)
	if err != nil {
		return nil
	}
	return raws
}

func mapError(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
		return purchase.ErrPaymentNotFound
	}
	return err
}

package purchase

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"

	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/user"
)

const simulatedRefPrefix = "sim_"

var (
	// errors
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrInvalidEvent        = errors.New("undecodable webhook event")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPaymentNotSucceeded = errors.New("payment has not succeeded")
	ErrPaymentNotOwned     = errors.New("payment belongs to another user")
	ErrNoItems             = errors.New("no items to confirm")
	ErrCartTooLarge        = errors.New("too many items in a single checkout")
	ErrSimulationDisabled  = errors.New("simulated purchases are disabled")
)

type Service struct {
	gateway  Gateway
	entSvc   *entitlement.Service
	usrSvc   *user.Service
	mailSvc  core.EmailService
	logger   core.Logger
	simulate bool
}

func NewService(
	conf *core.Config,
	gateway Gateway,
	entSvc *entitlement.Service,
	usrSvc *user.Service,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		gateway:  gateway,
		entSvc:   entSvc,
		usrSvc:   usrSvc,
		mailSvc:  mailSvc,
		logger:   logger,
		simulate: conf.Entitlement.SimulatedPurchases,
	}
}

// HandleWebhook processes a gateway notification. Deliveries are at-least-once.
// Only ErrInvalidSignature and failures a redelivery could fix are returned; anything else is logged and acknowledged.
func (svc *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := svc.gateway.ParseEvent(payload, signature)
	switch cause := errors.Cause(err); {
	case err == nil:
	case cause == ErrInvalidSignature:
		webhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		return err
	case cause == ErrInvalidEvent:
		// signed by the gateway, so a redelivery would carry the same body
		webhookEventsTotal.WithLabelValues("unknown", "undecodable").Inc()
		svc.logger.Error(fmt.Sprintf("webhook: %v", err), err)
		return nil
	default:
		webhookEventsTotal.WithLabelValues("unknown", "failed").Inc()
		return errors.Wrap(err, "parsing webhook event")
	}

	p := event.Payment
	if p == nil {
		webhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		svc.logger.Debug(fmt.Sprintf("ignoring webhook event %s (%s)", event.ID, event.Type))
		return nil
	}
	if !p.Succeeded {
		webhookEventsTotal.WithLabelValues(event.Type, "unpaid").Inc()
		svc.logger.Info(fmt.Sprintf("webhook event %s: payment %s not completed yet", event.ID, p.Ref))
		return nil
	}

	items := entitlement.ToItems(p.Items)
	if p.UserID == "" || len(items) == 0 {
		webhookEventsTotal.WithLabelValues(event.Type, "incomplete").Inc()
		svc.logger.Warn(
			fmt.Sprintf("webhook event %s: payment %s has no user or items in its metadata", event.ID, p.Ref),
			map[string]interface{}{"event_id": event.ID, "payment_ref": p.Ref, "user_id": p.UserID},
		)
		return nil
	}

	res, err := svc.reconcile(ctx, p.UserID, items, p.Ref)
	switch {
	case err == nil:
	case errors.Cause(err) == entitlement.ErrNotFound:
		webhookEventsTotal.WithLabelValues(event.Type, "user_not_found").Inc()
		svc.logger.Warn(
			fmt.Sprintf("webhook event %s: user %s not found", event.ID, p.UserID),
			map[string]interface{}{"event_id": event.ID, "payment_ref": p.Ref},
		)
		return nil
	default:
		webhookEventsTotal.WithLabelValues(event.Type, "failed").Inc()
		return errors.Wrapf(err, "reconciling payment %s", p.Ref)
	}

	if res.AlreadyProcessed {
		webhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
	} else {
		webhookEventsTotal.WithLabelValues(event.Type, "processed").Inc()
	}
	return nil
}

// Confirm reconciles a payment the client reports as completed.
// User and items come from the gateway, never from the client.
func (svc *Service) Confirm(ctx context.Context, userID, paymentRef string) (entitlement.Result, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return entitlement.Result{}, core.NewFieldError("payment_ref", entitlement.ErrMissingPaymentRef)
	}

	p, err := svc.gateway.GetPayment(ctx, paymentRef)
	if err != nil {
		if errors.Cause(err) == ErrPaymentNotFound {
			return entitlement.Result{}, ErrPaymentNotFound
		}
		return entitlement.Result{}, errors.Wrap(err, "retrieving payment")
	}
	if !p.Succeeded {
		return entitlement.Result{}, ErrPaymentNotSucceeded
	}
	if p.UserID != userID {
		return entitlement.Result{}, ErrPaymentNotOwned
	}
	items := entitlement.ToItems(p.Items)
	if len(items) == 0 {
		return entitlement.Result{}, ErrNoItems
	}

	return svc.reconcile(ctx, userID, items, p.Ref)
}

// Simulate grants user-submitted items without a gateway payment.
// A reference is generated when paymentRef is empty, so each such call is a distinct purchase.
func (svc *Service) Simulate(ctx context.Context, userID string, raws []entitlement.RawItem, paymentRef string) (entitlement.Result, error) {
	if !svc.simulate {
		return entitlement.Result{}, ErrSimulationDisabled
	}
	if len(raws) == 0 {
		return entitlement.Result{}, ErrNoItems
	}

	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		paymentRef = simulatedRefPrefix + ksuid.New().String()
	}
	return svc.reconcile(ctx, userID, entitlement.ToItems(raws), paymentRef)
}

// Checkout opens a gateway checkout for the cart. The items travel in the payment metadata.
func (svc *Service) Checkout(ctx context.Context, usr user.User, cart []CartItem) (Checkout, error) {
	if len(cart) == 0 {
		return Checkout{}, ErrNoItems
	}
	co, err := svc.gateway.CreateCheckout(ctx, CheckoutRequest{
		UserID: usr.ID,
		Email:  usr.Email,
		Items:  cart,
	})
	if err != nil {
		if errors.Cause(err) == ErrCartTooLarge {
			return Checkout{}, core.NewFieldError("items", ErrCartTooLarge)
		}
		return Checkout{}, errors.Wrap(err, "creating checkout")
	}
	return co, nil
}

// Purchases lists the user's grants.
func (svc *Service) Purchases(ctx context.Context, userID string) ([]entitlement.GrantView, error) {
	return svc.entSvc.Grants(ctx, userID)
}

// Access reports whether the user holds an active grant for the item.
// Malformed items never grant access.
func (svc *Service) Access(ctx context.Context, userID string, item entitlement.Item) (bool, error) {
	if !item.Valid() {
		return false, core.NewFieldError("item", entitlement.ErrInvalidItem)
	}
	return svc.entSvc.HasAccess(ctx, userID, item)
}

func (svc *Service) reconcile(ctx context.Context, userID string, items []entitlement.Item, paymentRef string) (entitlement.Result, error) {
	res, err := svc.entSvc.Reconcile(ctx, userID, items, paymentRef)
	if err != nil {
		return res, err
	}
	if len(res.Granted) > 0 {
		svc.notify(ctx, userID, paymentRef, res.Granted)
	}
	return res, nil
}

type (
	grantedItem struct {
		ID        string
		Kind      entitlement.ItemKind
		ExpiresAt time.Time
	}

	confirmationData struct {
		Name       string
		PaymentRef string
		Items      []grantedItem
	}
)

// notify emails the purchase confirmation. Failures are logged: the grants are already saved.
func (svc *Service) notify(ctx context.Context, userID, paymentRef string, granted []entitlement.Item) {
	usr, err := svc.usrSvc.GetByID(ctx, userID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("purchase confirmation: finding user %s: %v", userID, err), err)
		return
	}
	views, err := svc.entSvc.Grants(ctx, userID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("purchase confirmation: listing grants: %v", err), err, usr)
		return
	}
	expiries := make(map[entitlement.Item]time.Time, len(views))
	for _, v := range views {
		expiries[entitlement.Item{ID: v.ItemID, Kind: v.Kind}] = v.ExpiresAt
	}

	data := confirmationData{Name: usr.Name, PaymentRef: paymentRef}
	for _, item := range granted {
		data.Items = append(data.Items, grantedItem{ID: item.ID, Kind: item.Kind, ExpiresAt: expiries[item]})
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Your purchase is confirmed",
		TemplateName: "purchase_confirmation",
		TemplateData: data,
	})
}

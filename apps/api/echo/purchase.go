package echoapi

import (
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/purchase"
	"github.com/circuscoach/backend/core/user"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBodyBytes   = 64 << 10

	bucketWebhook  = "webhook"
	bucketPurchase = "purchase"
)

type (
	purchaseApi struct {
		svc      *purchase.Service
		usrSvc   *user.Service
		validate *validator.Validate
	}

	checkoutRequest struct {
		Items []purchase.CartItem `json:"items" validate:"required,min=1,dive"`
	}

	confirmRequest struct {
		PaymentRef string `json:"payment_ref" validate:"required,paymentref"`
	}

	simulatedRequest struct {
		Items      []entitlement.RawItem `json:"items" validate:"required,min=1"`
		PaymentRef string                `json:"payment_ref" validate:"omitempty,paymentref"`
	}
)

func registerPurchaseAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	limiter core.RateLimiter,
	logger core.Logger,
	svc *purchase.Service,
	usrSvc *user.Service,
	validate *validator.Validate,
) {
	api := purchaseApi{
		svc:      svc,
		usrSvc:   usrSvc,
		validate: validate,
	}

	// un-authed: the gateway signs its calls
	g.POST("/stripe/webhook", api.webhook, rateLimitMiddleware(limiter, bucketWebhook, logger))

	pg := g.Group("/purchases", jwt)
	pg.GET("", api.list)
	pg.GET("/access/:kind/:id", api.access)
	pg.POST("/checkout", api.checkout, rateLimitMiddleware(limiter, bucketPurchase, logger))
	pg.POST("/confirm", api.confirm, rateLimitMiddleware(limiter, bucketPurchase, logger))
	pg.POST("/simulated", api.simulate, rateLimitMiddleware(limiter, bucketPurchase, logger))
}

// Handlers

func (api *purchaseApi) webhook(ctx echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxWebhookBodyBytes))
	if err != nil {
		return errors.Wrap(err, "reading webhook body")
	}
	sig := ctx.Request().Header.Get(stripeSignatureHeader)
	if err = api.svc.HandleWebhook(ctx.Request().Context(), payload, sig); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"received": true})
}

func (api *purchaseApi) checkout(ctx echo.Context) error {
	var data checkoutRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to checkoutRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	co, err := api.svc.Checkout(ctx.Request().Context(), usr, data.Items)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, co)
}

func (api *purchaseApi) confirm(ctx echo.Context) error {
	var data confirmRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to confirmRequest")
	}
	data.PaymentRef = core.CleanString(data.PaymentRef)
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.Confirm(ctx.Request().Context(), claims.Subject, data.PaymentRef)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *purchaseApi) simulate(ctx echo.Context) error {
	var data simulatedRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to simulatedRequest")
	}
	data.PaymentRef = core.CleanString(data.PaymentRef)
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.Simulate(ctx.Request().Context(), claims.Subject, data.Items, data.PaymentRef)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *purchaseApi) list(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	views, err := api.svc.Purchases(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, views)
}

func (api *purchaseApi) access(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	item := entitlement.RawItem{Kind: ctx.Param("kind"), ID: ctx.Param("id")}.Item()
	ok, err := api.svc.Access(ctx.Request().Context(), claims.Subject, item)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"kind": item.Kind, "id": item.ID, "access": ok})
}

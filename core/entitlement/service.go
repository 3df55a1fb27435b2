package entitlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/circuscoach/backend/core"
)

const maxSaveAttempts = 3

var (
	// errors
	ErrNotFound          = errors.New("user not found")
	ErrConflict          = errors.New("entitlement record was modified concurrently")
	ErrInvalidItem       = errors.New("invalid item")
	ErrMissingPaymentRef = errors.New("payment reference is required")
)

type (
	// Repository loads and saves whole Records.
	Repository interface {
		// GetRecord returns ErrNotFound when the user does not exist.
		GetRecord(ctx context.Context, userID string) (Record, error)
		// SaveRecord persists rec only if the stored version still equals rec.Version,
		// and returns the saved Record with its new Version. Otherwise it returns ErrConflict.
		SaveRecord(ctx context.Context, rec Record) (Record, error)
	}

	Service struct {
		repo   Repository
		logger core.Logger
		months int
		now    func() time.Time
	}
)

func NewService(conf *core.Config, repo Repository, logger core.Logger) *Service {
	months := conf.Entitlement.GrantMonths
	if months <= 0 {
		months = DefaultGrantMonths
	}
	return &Service{
		repo:   repo,
		logger: logger,
		months: months,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (svc *Service) SetClock(now func() time.Time) {
	svc.now = now
}

// Reconcile grants items to the user exactly once per paymentRef.
// Malformed items are skipped. When paymentRef was already processed, Result.AlreadyProcessed is set and nothing changes.
// The claim and the grants are saved together; a concurrent save makes it start over from a fresh Record.
func (svc *Service) Reconcile(ctx context.Context, userID string, items []Item, paymentRef string) (Result, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return Result{}, core.NewFieldError("payment_ref", ErrMissingPaymentRef)
	}

	for attempt := 1; ; attempt++ {
		rec, err := svc.repo.GetRecord(ctx, userID)
		if err != nil {
			if errors.Cause(err) == ErrNotFound {
				reconciliationsTotal.WithLabelValues("user_not_found").Inc()
				return Result{}, ErrNotFound
			}
			reconciliationsTotal.WithLabelValues("failed").Inc()
			return Result{}, errors.Wrap(err, "loading entitlement record")
		}

		res, claimed := Apply(&rec, items, paymentRef, svc.now(), svc.months)
		if !claimed {
			reconciliationsTotal.WithLabelValues("already_processed").Inc()
			return res, nil
		}

		if _, err = svc.repo.SaveRecord(ctx, rec); err != nil {
			if errors.Cause(err) == ErrConflict {
				saveConflictsTotal.Inc()
				if attempt < maxSaveAttempts {
					continue
				}
				reconciliationsTotal.WithLabelValues("failed").Inc()
				return Result{}, ErrConflict
			}
			reconciliationsTotal.WithLabelValues("failed").Inc()
			return Result{}, errors.Wrap(err, "saving entitlement record")
		}

		svc.report(userID, paymentRef, res)
		return res, nil
	}
}

func (svc *Service) report(userID, paymentRef string, res Result) {
	for _, item := range res.Skipped {
		svc.logger.Warn(
			fmt.Sprintf("skipped malformed item %q in payment %s", item.String(), paymentRef),
			map[string]interface{}{"user_id": userID, "payment_ref": paymentRef},
		)
	}
	itemsTotal.WithLabelValues("granted").Add(float64(len(res.Granted)))
	itemsTotal.WithLabelValues("already_active").Add(float64(len(res.AlreadyActive)))
	itemsTotal.WithLabelValues("skipped").Add(float64(len(res.Skipped)))
	reconciliationsTotal.WithLabelValues("processed").Inc()

	svc.logger.Info(
		fmt.Sprintf("payment %s reconciled: %d granted, %d already active", paymentRef, len(res.Granted), len(res.AlreadyActive)),
		map[string]interface{}{"user_id": userID, "payment_ref": paymentRef},
	)
}

// Grants returns the user's grants with their current status.
func (svc *Service) Grants(ctx context.Context, userID string) ([]GrantView, error) {
	rec, err := svc.repo.GetRecord(ctx, userID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "loading entitlement record")
	}
	return rec.Grants(svc.now()), nil
}

// HasAccess reports whether the user holds an active grant for the item.
func (svc *Service) HasAccess(ctx context.Context, userID string, item Item) (bool, error) {
	rec, err := svc.repo.GetRecord(ctx, userID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return false, ErrNotFound
		}
		return false, errors.Wrap(err, "loading entitlement record")
	}
	g, ok := rec.FindGrant(item.Kind, item.ID)
	return ok && !g.ExpiresAt.Before(svc.now()), nil
}


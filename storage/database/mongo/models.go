package mongorepo

import (
	"time"

	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/user"
)

type userModel struct {
	ID                string            `bson:"_id"`
	Name              string            `bson:"name"`
	Email             string            `bson:"email"`
	Role              string            `bson:"role"`
	CourseGrants      []grantModel      `bson:"course_grants"`
	FormationGrants   []grantModel      `bson:"formation_grants"`
	TermsAcceptances  []acceptanceModel `bson:"terms_acceptances"`
	ProcessedPayments []string          `bson:"processed_payments"`
	Version           int64             `bson:"version"`
	CreatedAt         time.Time         `bson:"created_at"`
	UpdatedAt         time.Time         `bson:"updated_at"`
}

type grantModel struct {
	ItemID    string    `bson:"item_id"`
	ExpiresAt time.Time `bson:"expires_at"`
}

type acceptanceModel struct {
	Kind       string    `bson:"kind"`
	ItemID     string    `bson:"item_id"`
	AcceptedAt time.Time `bson:"accepted_at"`
}

func (m userModel) toUser() user.User {
	return user.User{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Role:      m.Role,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func (m userModel) toRecord() entitlement.Record {
	rec := entitlement.Record{
		UserID:            m.ID,
		Name:              m.Name,
		Email:             m.Email,
		CourseGrants:      fromGrantModels(m.CourseGrants),
		FormationGrants:   fromGrantModels(m.FormationGrants),
		ProcessedPayments: m.ProcessedPayments,
		Version:           m.Version,
	}
	for _, a := range m.TermsAcceptances {
		rec.TermsAcceptances = append(rec.TermsAcceptances, entitlement.TermsAcceptance{
			Kind:       entitlement.ItemKind(a.Kind),
			ItemID:     a.ItemID,
			AcceptedAt: a.AcceptedAt.UTC(),
		})
	}
	return rec
}

func toGrantModels(grants []entitlement.Grant) []grantModel {
	ms := make([]grantModel, 0, len(grants))
	for _, g := range grants {
		ms = append(ms, grantModel{ItemID: g.ItemID, ExpiresAt: g.ExpiresAt.UTC()})
	}
	return ms
}

func fromGrantModels(ms []grantModel) []entitlement.Grant {
	if len(ms) == 0 {
		return nil
	}
	grants := make([]entitlement.Grant, 0, len(ms))
	for _, m := range ms {
		grants = append(grants, entitlement.Grant{ItemID: m.ItemID, ExpiresAt: m.ExpiresAt.UTC()})
	}
	return grants
}

func toAcceptanceModels(accepted []entitlement.TermsAcceptance) []acceptanceModel {
	ms := make([]acceptanceModel, 0, len(accepted))
	for _, a := range accepted {
		ms = append(ms, acceptanceModel{Kind: string(a.Kind), ItemID: a.ItemID, AcceptedAt: a.AcceptedAt.UTC()})
	}
	return ms
}

package entitlement

import (
	"sort"
	"time"
)

func (r *Record) grantsOf(kind ItemKind) *[]Grant {
	switch kind {
	case KindCourse:
		return &r.CourseGrants
	case KindFormation:
		return &r.FormationGrants
	default:
		return nil
	}
}

// FindGrant returns the grant held for the item, if any.
func (r *Record) FindGrant(kind ItemKind, itemID string) (Grant, bool) {
	grants := r.grantsOf(kind)
	if grants == nil {
		return Grant{}, false
	}
	for _, g := range *grants {
		if g.ItemID == itemID {
			return g, true
		}
	}
	return Grant{}, false
}

// UpsertGrant is the only way grants change.
// A missing grant is added, an expired one is renewed in place; both expire `months` from now.
// An active grant is left untouched.
func (r *Record) UpsertGrant(kind ItemKind, itemID string, now time.Time, months int) (GrantOutcome, error) {
	item := Item{ID: itemID, Kind: kind}
	grants := r.grantsOf(kind)
	if grants == nil || !item.Valid() {
		return 0, ErrInvalidItem
	}

	for i := range *grants {
		g := &(*grants)[i]
		if g.ItemID != itemID {
			continue
		}
		if g.ExpiresAt.Before(now) {
			g.ExpiresAt = ComputeExpiry(now, months)
			return Renewed, nil
		}
		return StillActive, nil
	}

	*grants = append(*grants, Grant{ItemID: itemID, ExpiresAt: ComputeExpiry(now, months)})
	return Added, nil
}

func (r *Record) HasConsent(kind ItemKind, itemID string) bool {
	for _, ta := range r.TermsAcceptances {
		if ta.Kind == kind && ta.ItemID == itemID {
			return true
		}
	}
	return false
}

// EnsureConsent records the terms acceptance for the item once. It reports whether an entry was appended.
func (r *Record) EnsureConsent(kind ItemKind, itemID string, now time.Time) bool {
	if r.HasConsent(kind, itemID) {
		return false
	}
	r.TermsAcceptances = append(r.TermsAcceptances, TermsAcceptance{
		Kind:       kind,
		ItemID:     itemID,
		AcceptedAt: now.UTC(),
	})
	return true
}

func (r *Record) HasProcessed(paymentRef string) bool {
	for _, ref := range r.ProcessedPayments {
		if ref == paymentRef {
			return true
		}
	}
	return false
}

// Claim marks paymentRef as processed. It returns false when it already was.
// The claim only becomes visible to others once the Record is saved.
func (r *Record) Claim(paymentRef string) bool {
	if r.HasProcessed(paymentRef) {
		return false
	}
	r.ProcessedPayments = append(r.ProcessedPayments, paymentRef)
	return true
}

// Grants lists every grant, courses first, each kind ordered by item ID.
func (r *Record) Grants(now time.Time) []GrantView {
	views := make([]GrantView, 0, len(r.CourseGrants)+len(r.FormationGrants))
	for _, kind := range Kinds {
		start := len(views)
		for _, g := range *r.grantsOf(kind) {
			views = append(views, GrantView{
				Kind:      kind,
				ItemID:    g.ItemID,
				ExpiresAt: g.ExpiresAt,
				Active:    !g.ExpiresAt.Before(now),
			})
		}
		part := views[start:]
		sort.Slice(part, func(i, j int) bool { return part[i].ItemID < part[j].ItemID })
	}
	return views
}

// Apply folds items into the Record under paymentRef: claim first, then per item grant + consent.
// It does not persist anything. claimed is false when paymentRef was already processed,
// in which case the Record is left untouched.
func Apply(r *Record, items []Item, paymentRef string, now time.Time, months int) (res Result, claimed bool) {
	res = newResult()
	if !r.Claim(paymentRef) {
		res.AlreadyProcessed = true
		return res, false
	}

	for _, item := range items {
		outcome, err := r.UpsertGrant(item.Kind, item.ID, now, months)
		if err != nil {
			res.Skipped = append(res.Skipped, item)
			continue
		}
		switch outcome {
		case Added, Renewed:
			res.Granted = append(res.Granted, item)
		case StillActive:
			res.AlreadyActive = append(res.AlreadyActive, item)
		}
		r.EnsureConsent(item.Kind, item.ID, now)
	}
	return res, true
}

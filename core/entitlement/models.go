package entitlement

import (
	"strings"
	"time"
)

type ItemKind string

const (
	KindCourse    ItemKind = "course"
	KindFormation ItemKind = "formation"
)

var Kinds = []ItemKind{KindCourse, KindFormation}

func (k ItemKind) Valid() bool {
	return k == KindCourse || k == KindFormation
}

// Item is a validated purchasable: a course or a formation.
type Item struct {
	ID   string   `json:"id"`
	Kind ItemKind `json:"kind"`

	raw string // the undecodable JSON element, if any
}

func (i Item) Valid() bool {
	return i.Kind.Valid() && strings.TrimSpace(i.ID) != ""
}

func (i Item) String() string {
	if i.raw != "" {
		return "undecodable " + i.raw
	}
	return string(i.Kind) + ":" + i.ID
}

type Grant struct {
	ItemID    string    `json:"item_id"`
	ExpiresAt time.Time `json:"expires_at"` // UTC
}

type TermsAcceptance struct {
	Kind       ItemKind  `json:"kind"`
	ItemID     string    `json:"item_id"`
	AcceptedAt time.Time `json:"accepted_at"` // UTC
}

// Record is the entitlement state of one user.
// It is loaded and saved as a whole; Version guards concurrent saves.
type Record struct {
	UserID            string            `json:"user_id"`
	Name              string            `json:"name"`
	Email             string            `json:"email"`
	CourseGrants      []Grant           `json:"course_grants"`
	FormationGrants   []Grant           `json:"formation_grants"`
	TermsAcceptances  []TermsAcceptance `json:"terms_acceptances"`
	ProcessedPayments []string          `json:"processed_payments"`
	Version           int64             `json:"-"`
}

// Clone returns a deep copy of the Record.
func (r Record) Clone() Record {
	c := r
	c.CourseGrants = append([]Grant(nil), r.CourseGrants...)
	c.FormationGrants = append([]Grant(nil), r.FormationGrants...)
	c.TermsAcceptances = append([]TermsAcceptance(nil), r.TermsAcceptances...)
	c.ProcessedPayments = append([]string(nil), r.ProcessedPayments...)
	return c
}

type GrantOutcome int

const (
	Added GrantOutcome = iota + 1
	Renewed
	StillActive
)

func (o GrantOutcome) String() string {
	switch o {
	case Added:
		return "added"
	case Renewed:
		return "renewed"
	case StillActive:
		return "still_active"
	default:
		return "unknown"
	}
}

// GrantView is the read model of a Grant.
type GrantView struct {
	Kind      ItemKind  `json:"kind"`
	ItemID    string    `json:"item_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
}

// Result reports what a reconciliation did.
type Result struct {
	Granted          []Item `json:"granted"`
	AlreadyActive    []Item `json:"already_active"`
	Skipped          []Item `json:"skipped"`
	AlreadyProcessed bool   `json:"already_processed"`
}

func newResult() Result {
	return Result{
		Granted:       []Item{},
		AlreadyActive: []Item{},
		Skipped:       []Item{},
	}
}

package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestRecord_UpsertGrant(t *testing.T) {
	tests := []struct {
		name        string
		grants      []Grant
		kind        ItemKind
		itemID      string
		wantOutcome GrantOutcome
		wantErr     error
		wantGrants  []Grant
	}{
		{
			name:        "absent",
			kind:        KindCourse,
			itemID:      "c1",
			wantOutcome: Added,
			wantGrants:  []Grant{{ItemID: "c1", ExpiresAt: endOfDay(2025, 9, 10)}},
		},
		{
			name:        "active",
			grants:      []Grant{{ItemID: "c1", ExpiresAt: endOfDay(2025, 4, 1)}},
			kind:        KindCourse,
			itemID:      "c1",
			wantOutcome: StillActive,
			wantGrants:  []Grant{{ItemID: "c1", ExpiresAt: endOfDay(2025, 4, 1)}},
		},
		{
			name:        "expires right now",
			grants:      []Grant{{ItemID: "c1", ExpiresAt: now}},
			kind:        KindCourse,
			itemID:      "c1",
			wantOutcome: StillActive,
			wantGrants:  []Grant{{ItemID: "c1", ExpiresAt: now}},
		},
		{
			name:        "expired",
			grants:      []Grant{{ItemID: "c0", ExpiresAt: endOfDay(2025, 1, 1)}, {ItemID: "c1", ExpiresAt: endOfDay(2025, 1, 1)}},
			kind:        KindCourse,
			itemID:      "c1",
			wantOutcome: Renewed,
			wantGrants:  []Grant{{ItemID: "c0", ExpiresAt: endOfDay(2025, 1, 1)}, {ItemID: "c1", ExpiresAt: endOfDay(2025, 9, 10)}},
		},
		{
			name:        "other item",
			grants:      []Grant{{ItemID: "c0", ExpiresAt: endOfDay(2025, 4, 1)}},
			kind:        KindCourse,
			itemID:      "c1",
			wantOutcome: Added,
			wantGrants:  []Grant{{ItemID: "c0", ExpiresAt: endOfDay(2025, 4, 1)}, {ItemID: "c1", ExpiresAt: endOfDay(2025, 9, 10)}},
		},
		{
			name:    "unknown kind",
			grants:  []Grant{},
			kind:    ItemKind("lesson"),
			itemID:  "c1",
			wantErr: ErrInvalidItem,
		},
		{
			name:    "blank id",
			kind:    KindCourse,
			itemID:  " ",
			wantErr: ErrInvalidItem,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Record{CourseGrants: tt.grants}
			outcome, err := rec.UpsertGrant(tt.kind, tt.itemID, now, DefaultGrantMonths)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				assert.Equal(t, tt.grants, rec.CourseGrants)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, outcome)
			assert.Equal(t, tt.wantGrants, rec.CourseGrants)
			assert.Empty(t, rec.FormationGrants)
		})
	}
}

func TestRecord_UpsertGrant_kindsAreSeparate(t *testing.T) {
	var rec Record

	outcome, err := rec.UpsertGrant(KindCourse, "x1", now, DefaultGrantMonths)
	require.NoError(t, err)
	assert.Equal(t, Added, outcome)

	outcome, err = rec.UpsertGrant(KindFormation, "x1", now, DefaultGrantMonths)
	require.NoError(t, err)
	assert.Equal(t, Added, outcome)

	assert.Len(t, rec.CourseGrants, 1)
	assert.Len(t, rec.FormationGrants, 1)
}

func TestRecord_UpsertGrant_neverShortensExpiry(t *testing.T) {
	var rec Record
	clock := now
	prev := time.Time{}
	for i := 0; i < 40; i++ {
		_, err := rec.UpsertGrant(KindCourse, "c1", clock, DefaultGrantMonths)
		require.NoError(t, err)
		require.Len(t, rec.CourseGrants, 1)

		exp := rec.CourseGrants[0].ExpiresAt
		assert.False(t, exp.Before(prev), "expiry went backwards: %v < %v", exp, prev)
		prev = exp
		clock = clock.AddDate(0, 0, 23)
	}
}

func TestRecord_EnsureConsent(t *testing.T) {
	var rec Record

	assert.True(t, rec.EnsureConsent(KindFormation, "f1", now))
	assert.False(t, rec.EnsureConsent(KindFormation, "f1", now.Add(time.Hour)))
	assert.True(t, rec.EnsureConsent(KindCourse, "f1", now))

	assert.Equal(t, []TermsAcceptance{
		{Kind: KindFormation, ItemID: "f1", AcceptedAt: now},
		{Kind: KindCourse, ItemID: "f1", AcceptedAt: now},
	}, rec.TermsAcceptances)
}

func TestRecord_Claim(t *testing.T) {
	rec := Record{ProcessedPayments: []string{"pay_000"}}

	assert.False(t, rec.Claim("pay_000"))
	assert.True(t, rec.Claim("pay_001"))
	assert.False(t, rec.Claim("pay_001"))
	assert.Equal(t, []string{"pay_000", "pay_001"}, rec.ProcessedPayments)
}

func TestRecord_Grants(t *testing.T) {
	rec := Record{
		CourseGrants: []Grant{
			{ItemID: "c2", ExpiresAt: endOfDay(2025, 1, 1)},
			{ItemID: "c1", ExpiresAt: endOfDay(2025, 6, 1)},
		},
		FormationGrants: []Grant{{ItemID: "f1", ExpiresAt: endOfDay(2025, 9, 1)}},
	}

	assert.Equal(t, []GrantView{
		{Kind: KindCourse, ItemID: "c1", ExpiresAt: endOfDay(2025, 6, 1), Active: true},
		{Kind: KindCourse, ItemID: "c2", ExpiresAt: endOfDay(2025, 1, 1), Active: false},
		{Kind: KindFormation, ItemID: "f1", ExpiresAt: endOfDay(2025, 9, 1), Active: true},
	}, rec.Grants(now))
}

func TestApply(t *testing.T) {
	t.Run("malformed items are skipped", func(t *testing.T) {
		var rec Record
		items := []Item{
			{ID: "c1", Kind: KindCourse},
			{Kind: KindCourse},
			{ID: "c2", Kind: KindFormation},
			{ID: "c3", Kind: ItemKind("bundle")},
		}

		res, claimed := Apply(&rec, items, "pay_mixed", now, DefaultGrantMonths)
		require.True(t, claimed)
		assert.Equal(t, []Item{{ID: "c1", Kind: KindCourse}, {ID: "c2", Kind: KindFormation}}, res.Granted)
		assert.Equal(t, []Item{{Kind: KindCourse}, {ID: "c3", Kind: ItemKind("bundle")}}, res.Skipped)
		assert.Empty(t, res.AlreadyActive)
		assert.Len(t, rec.CourseGrants, 1)
		assert.Len(t, rec.FormationGrants, 1)
		assert.Len(t, rec.TermsAcceptances, 2)
	})

	t.Run("consent backfilled for active grant", func(t *testing.T) {
		rec := Record{CourseGrants: []Grant{{ItemID: "c1", ExpiresAt: endOfDay(2025, 5, 1)}}}

		res, claimed := Apply(&rec, []Item{{ID: "c1", Kind: KindCourse}}, "pay_2", now, DefaultGrantMonths)
		require.True(t, claimed)
		assert.Empty(t, res.Granted)
		assert.Equal(t, []Item{{ID: "c1", Kind: KindCourse}}, res.AlreadyActive)
		assert.True(t, rec.HasConsent(KindCourse, "c1"))
	})

	t.Run("duplicate item in one batch", func(t *testing.T) {
		var rec Record
		item := Item{ID: "c1", Kind: KindCourse}

		res, _ := Apply(&rec, []Item{item, item}, "pay_dup", now, DefaultGrantMonths)
		assert.Equal(t, []Item{item}, res.Granted)
		assert.Equal(t, []Item{item}, res.AlreadyActive)
		assert.Len(t, rec.CourseGrants, 1)
		assert.Len(t, rec.TermsAcceptances, 1)
	})

	t.Run("processed reference leaves record untouched", func(t *testing.T) {
		rec := Record{ProcessedPayments: []string{"pay_1"}}

		res, claimed := Apply(&rec, []Item{{ID: "c1", Kind: KindCourse}}, "pay_1", now, DefaultGrantMonths)
		assert.False(t, claimed)
		assert.True(t, res.AlreadyProcessed)
		assert.Empty(t, res.Granted)
		assert.Empty(t, res.AlreadyActive)
		assert.Equal(t, Record{ProcessedPayments: []string{"pay_1"}}, rec)
	})
}

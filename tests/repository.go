package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/user"
)

// Store is a storage engine serving both users and entitlement records.
type Store interface {
	user.Repository
	entitlement.Repository
}

// TestStore runs the behaviour every storage engine must share against stores built by newStore.
func TestStore(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("users", func(t *testing.T) {
		repo := newStore(t)
		usr := CreateUser(t, repo, "Ana", "ana@circus.test", false, Date(2025, 1, 2, 3, 4))

		_, err := repo.CreateUser(ctx, user.User{ID: uuid.NewString(), Email: "ana@circus.test", Role: user.RoleUser})
		assert.Equal(t, user.ErrEmailExists, err)

		got, err := repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
		require.NoError(t, err)
		assert.Equal(t, usr, got)

		got, err = repo.GetUser(ctx, user.GetFilter{Email: "ana@circus.test"})
		require.NoError(t, err)
		assert.Equal(t, usr.ID, got.ID)

		for _, filter := range []user.GetFilter{{ID: "nope"}, {Email: "nope@circus.test"}, {}} {
			_, err = repo.GetUser(ctx, filter)
			assert.Equal(t, user.ErrNotFound, err, "filter %+v", filter)
		}
	})

	t.Run("records", func(t *testing.T) {
		repo := newStore(t)
		usr := CreateUser(t, repo, "Ana", "ana@circus.test", false)

		_, err := repo.GetRecord(ctx, "nope")
		assert.Equal(t, entitlement.ErrNotFound, err)
		_, err = repo.SaveRecord(ctx, entitlement.Record{UserID: "nope"})
		assert.Equal(t, entitlement.ErrNotFound, err)

		fresh, err := repo.GetRecord(ctx, usr.ID)
		require.NoError(t, err)
		assert.Equal(t, usr.ID, fresh.UserID)
		assert.Equal(t, "Ana", fresh.Name)
		assert.Equal(t, "ana@circus.test", fresh.Email)
		assert.Empty(t, fresh.CourseGrants)
		assert.Empty(t, fresh.FormationGrants)
		assert.Empty(t, fresh.ProcessedPayments)

		now := Date(2025, 3, 10, 12, 0)
		rec := fresh.Clone()
		entitlement.Apply(&rec, []entitlement.Item{
			{ID: "c1", Kind: entitlement.KindCourse},
			{ID: "F1", Kind: entitlement.KindFormation},
		}, "pi_1", now, 6)
		saved, err := repo.SaveRecord(ctx, rec)
		require.NoError(t, err)
		assert.NotEqual(t, fresh.Version, saved.Version)

		loaded, err := repo.GetRecord(ctx, usr.ID)
		require.NoError(t, err)
		assert.Equal(t, saved.Version, loaded.Version)
		assert.Equal(t, []string{"pi_1"}, loaded.ProcessedPayments)
		require.Len(t, loaded.CourseGrants, 1)
		require.Len(t, loaded.FormationGrants, 1)
		assert.Equal(t, "c1", loaded.CourseGrants[0].ItemID)
		assert.True(t, rec.CourseGrants[0].ExpiresAt.Equal(loaded.CourseGrants[0].ExpiresAt))
		assert.Equal(t, "F1", loaded.FormationGrants[0].ItemID)
		assert.Len(t, loaded.TermsAcceptances, 2)

		// a save based on the old version loses
		stale := fresh.Clone()
		stale.ProcessedPayments = append(stale.ProcessedPayments, "pi_2")
		_, err = repo.SaveRecord(ctx, stale)
		assert.Equal(t, entitlement.ErrConflict, err)

		// renewal overwrites the expiry
		renewed := loaded.Clone()
		entitlement.Apply(&renewed, []entitlement.Item{{ID: "F1", Kind: entitlement.KindFormation}}, "pi_3", now.AddDate(1, 0, 0), 6)
		_, err = repo.SaveRecord(ctx, renewed)
		require.NoError(t, err)
		loaded, err = repo.GetRecord(ctx, usr.ID)
		require.NoError(t, err)
		require.Len(t, loaded.FormationGrants, 1)
		assert.True(t, renewed.FormationGrants[0].ExpiresAt.Equal(loaded.FormationGrants[0].ExpiresAt))
		assert.Equal(t, []string{"pi_1", "pi_3"}, loaded.ProcessedPayments)
	})

	t.Run("concurrent reconciliations", func(t *testing.T) {
		repo := newStore(t)
		usr := CreateUser(t, repo, "Ana", "ana@circus.test", false)
		svc := entitlement.NewService(&core.Config{}, repo, NewLogger())
		items := []entitlement.Item{{ID: "F1", Kind: entitlement.KindFormation}}

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			processed int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := svc.Reconcile(ctx, usr.ID, items, "pi_race")
				if err != nil {
					// lost every retry; the winner still holds the claim
					assert.Equal(t, entitlement.ErrConflict, err)
					return
				}
				if !res.AlreadyProcessed {
					mu.Lock()
					processed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, processed)
		rec, err := repo.GetRecord(ctx, usr.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"pi_race"}, rec.ProcessedPayments)
		assert.Len(t, rec.FormationGrants, 1)
		assert.WithinDuration(t, time.Now().AddDate(0, 6, 0), rec.FormationGrants[0].ExpiresAt, 72*time.Hour)
	})
}

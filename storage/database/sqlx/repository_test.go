package sqlxrepos_test

import (
	"context"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/user"
	"github.com/circuscoach/backend/storage/database"
	"github.com/circuscoach/backend/storage/database/sqlx"
	"github.com/circuscoach/backend/tests"
)

// Set TEST_DATABASE_URL to a disposable PostgreSQL database to run these.
func TestRepository(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db.DB))

	testutil.TestStore(t, func(t *testing.T) testutil.Store {
		_, err := db.Exec("TRUNCATE users CASCADE")
		require.NoError(t, err)
		return sqlxrepos.NewRepository(db)
	})
}

func TestRepository_closedDB(t *testing.T) {
	db, err := sqlx.Open("postgres", "postgres://circuscoach@localhost:5432/circuscoach?sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, db.Close())
	repo := sqlxrepos.NewRepository(db)

	_, err = repo.GetUser(context.Background(), user.GetFilter{ID: "u1"})
	assert.True(t, core.IsShutdown(err), "got %v", err)

	_, err = repo.GetRecord(context.Background(), "u1")
	assert.True(t, core.IsShutdown(err), "got %v", err)
}

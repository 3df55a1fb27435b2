package mongorepo_test

import (
	"context"
	"os"
	"testing"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/storage/database/mongo"
	"github.com/circuscoach/backend/tests"
)

// Set TEST_MONGO_URI to a disposable MongoDB server to run these.
func TestRepository(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	ctx := context.Background()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	testutil.TestStore(t, func(t *testing.T) testutil.Store {
		dbName := "circuscoach_test_" + ksuid.New().String()
		t.Cleanup(func() { _ = client.Database(dbName).Drop(ctx) })

		repo := mongorepo.New(client, dbName)
		require.NoError(t, repo.Migrate(ctx))
		return repo
	})
}

func TestRepository_disconnected(t *testing.T) {
	ctx := context.Background()
	client, err := mongo.Connect(options.Client().ApplyURI("mongodb://127.0.0.1:1"))
	require.NoError(t, err)
	require.NoError(t, client.Disconnect(ctx))
	repo := mongorepo.New(client, "circuscoach_test")

	_, err = repo.GetRecord(ctx, "u1")
	assert.True(t, core.IsShutdown(err), "got %v", err)

	_, err = repo.SaveRecord(ctx, entitlement.Record{UserID: "u1"})
	assert.True(t, core.IsShutdown(err), "got %v", err)
}

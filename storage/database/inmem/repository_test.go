package inmemdb_test

import (
	"testing"

	"github.com/circuscoach/backend/storage/database/inmem"
	"github.com/circuscoach/backend/tests"
)

func TestRepository(t *testing.T) {
	testutil.TestStore(t, func(t *testing.T) testutil.Store {
		return inmemdb.NewRepository(inmemdb.Open())
	})
}

// Package inmemdb is an in-memory storage engine, used in tests and with `database.engine=memory`.
package inmemdb

import (
	"sync"

	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/user"
)

type row struct {
	usr user.User
	rec entitlement.Record
}

type DB struct {
	mutex sync.RWMutex
	users map[string]*row // {userID: row}
}

func Open() *DB {
	return &DB{users: make(map[string]*row)}
}

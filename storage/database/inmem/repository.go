package inmemdb

import (
	"context"

	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/user"
)

// Repository stores users along with their entitlement records.
type Repository struct {
	db *DB
}

var (
	_ user.Repository        = (*Repository)(nil)
	_ entitlement.Repository = (*Repository)(nil)
)

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func (repo *Repository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, r := range repo.db.users {
		if r.usr.Email == usr.Email {
			return user.User{}, user.ErrEmailExists
		}
	}
	repo.db.users[usr.ID] = &row{usr: usr}
	return usr, nil
}

func (repo *Repository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if filter.ID != "" {
		if r, ok := repo.db.users[filter.ID]; ok {
			return r.usr, nil
		}
		return user.User{}, user.ErrNotFound
	}
	if filter.Email != "" {
		for _, r := range repo.db.users {
			if r.usr.Email == filter.Email {
				return r.usr, nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *Repository) GetRecord(_ context.Context, userID string) (entitlement.Record, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	r, ok := repo.db.users[userID]
	if !ok {
		return entitlement.Record{}, entitlement.ErrNotFound
	}
	rec := r.rec.Clone()
	rec.UserID = r.usr.ID
	rec.Name = r.usr.Name
	rec.Email = r.usr.Email
	return rec, nil
}

func (repo *Repository) SaveRecord(_ context.Context, rec entitlement.Record) (entitlement.Record, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	r, ok := repo.db.users[rec.UserID]
	if !ok {
		return entitlement.Record{}, entitlement.ErrNotFound
	}
	if r.rec.Version != rec.Version {
		return entitlement.Record{}, entitlement.ErrConflict
	}
	rec.Version++
	r.rec = rec.Clone()
	return rec, nil
}

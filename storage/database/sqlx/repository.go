// Package sqlxrepos stores users and entitlement records in PostgreSQL.
package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/user"
)

const (
	uniqueViolation = "23505"
	// database/sql does not export the error returned by a closed *sql.DB
	errDBClosedMsg = "sql: database is closed"
)

type Repository struct {
	db *sqlx.DB
}

var (
	_ user.Repository        = (*Repository)(nil)
	_ entitlement.Repository = (*Repository)(nil)
)

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

type (
	userRow struct {
		ID                string         `db:"id"`
		Name              string         `db:"name"`
		Email             string         `db:"email"`
		Role              string         `db:"role"`
		ProcessedPayments pq.StringArray `db:"processed_payments"`
		Version           int64          `db:"version"`
		CreatedAt         time.Time      `db:"created_at"`
		UpdatedAt         time.Time      `db:"updated_at"`
	}

	grantRow struct {
		Kind      string    `db:"kind"`
		ItemID    string    `db:"item_id"`
		ExpiresAt time.Time `db:"expires_at"`
	}

	acceptanceRow struct {
		Kind       string    `db:"kind"`
		ItemID     string    `db:"item_id"`
		AcceptedAt time.Time `db:"accepted_at"`
	}
)

func (r userRow) toUser() user.User {
	return user.User{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		Role:      r.Role,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// wrap annotates err. A closed pool cannot recover, so it becomes a shutdown error.
func wrap(err error, msg string) error {
	if errors.Is(err, sql.ErrConnDone) || errors.Cause(err).Error() == errDBClosedMsg {
		return core.NewShutdownError(msg + ": " + err.Error())
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (repo *Repository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	const q = `
		INSERT INTO users (id, name, email, role, created_at, updated_at)
		VALUES (:id, :name, :email, :role, :created_at, :updated_at)`
	row := userRow{
		ID:        usr.ID,
		Name:      usr.Name,
		Email:     usr.Email,
		Role:      usr.Role,
		CreatedAt: usr.CreatedAt,
		UpdatedAt: usr.UpdatedAt,
	}
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *Repository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var (
		row userRow
		err error
	)
	switch {
	case filter.ID != "":
		err = repo.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = $1`, filter.ID)
	case filter.Email != "":
		err = repo.db.GetContext(ctx, &row, `SELECT * FROM users WHERE email = $1`, filter.Email)
	default:
		return user.User{}, user.ErrNotFound
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, wrap(err, "selecting user")
	}
	return row.toUser(), nil
}

func (repo *Repository) GetRecord(ctx context.Context, userID string) (entitlement.Record, error) {
	var row userRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = $1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entitlement.Record{}, entitlement.ErrNotFound
		}
		return entitlement.Record{}, wrap(err, "selecting user")
	}

	var grants []grantRow
	const gq = `SELECT kind, item_id, expires_at FROM grants WHERE user_id = $1 ORDER BY granted_at, item_id`
	if err := repo.db.SelectContext(ctx, &grants, gq, userID); err != nil {
		return entitlement.Record{}, wrap(err, "selecting grants")
	}
	var accepted []acceptanceRow
	const aq = `SELECT kind, item_id, accepted_at FROM terms_acceptances WHERE user_id = $1 ORDER BY accepted_at, item_id`
	if err := repo.db.SelectContext(ctx, &accepted, aq, userID); err != nil {
		return entitlement.Record{}, wrap(err, "selecting terms acceptances")
	}

	rec := entitlement.Record{
		UserID:            row.ID,
		Name:              row.Name,
		Email:             row.Email,
		ProcessedPayments: []string(row.ProcessedPayments),
		Version:           row.Version,
	}
	for _, g := range grants {
		grant := entitlement.Grant{ItemID: g.ItemID, ExpiresAt: g.ExpiresAt.UTC()}
		if entitlement.ItemKind(g.Kind) == entitlement.KindCourse {
			rec.CourseGrants = append(rec.CourseGrants, grant)
		} else {
			rec.FormationGrants = append(rec.FormationGrants, grant)
		}
	}
	for _, a := range accepted {
		rec.TermsAcceptances = append(rec.TermsAcceptances, entitlement.TermsAcceptance{
			Kind:       entitlement.ItemKind(a.Kind),
			ItemID:     a.ItemID,
			AcceptedAt: a.AcceptedAt.UTC(),
		})
	}
	return rec, nil
}

// SaveRecord bumps the user's version and writes grants and acceptances in one transaction.
// Grants are upserted; nothing is ever deleted.
func (repo *Repository) SaveRecord(ctx context.Context, rec entitlement.Record) (entitlement.Record, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return entitlement.Record{}, wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	payments := pq.StringArray(rec.ProcessedPayments)
	if payments == nil {
		payments = pq.StringArray{}
	}
	const uq = `
		UPDATE users SET processed_payments = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`
	res, err := tx.ExecContext(ctx, uq, payments, time.Now().UTC(), rec.UserID, rec.Version)
	if err != nil {
		return entitlement.Record{}, wrap(err, "updating user")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return entitlement.Record{}, wrap(err, "updating user")
	}
	if n == 0 {
		var found bool
		if err := tx.GetContext(ctx, &found, `SELECT true FROM users WHERE id = $1`, rec.UserID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return entitlement.Record{}, entitlement.ErrNotFound
			}
			return entitlement.Record{}, wrap(err, "checking user")
		}
		return entitlement.Record{}, entitlement.ErrConflict
	}

	const gq = `
		INSERT INTO grants (user_id, kind, item_id, expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, kind, item_id) DO UPDATE SET expires_at = EXCLUDED.expires_at`
	upsert := func(kind entitlement.ItemKind, grants []entitlement.Grant) error {
		for _, g := range grants {
			if _, err := tx.ExecContext(ctx, gq, rec.UserID, string(kind), g.ItemID, g.ExpiresAt.UTC()); err != nil {
				return wrap(err, "upserting grant "+string(kind)+":"+g.ItemID)
			}
		}
		return nil
	}
	if err = upsert(entitlement.KindCourse, rec.CourseGrants); err != nil {
		return entitlement.Record{}, err
	}
	if err = upsert(entitlement.KindFormation, rec.FormationGrants); err != nil {
		return entitlement.Record{}, err
	}

	const aq = `
		INSERT INTO terms_acceptances (user_id, kind, item_id, accepted_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, kind, item_id) DO NOTHING`
	for _, a := range rec.TermsAcceptances {
		if _, err = tx.ExecContext(ctx, aq, rec.UserID, string(a.Kind), a.ItemID, a.AcceptedAt.UTC()); err != nil {
			return entitlement.Record{}, wrap(err, "inserting terms acceptance")
		}
	}

	if err = tx.Commit(); err != nil {
		return entitlement.Record{}, wrap(err, "committing record")
	}
	rec.Version++
	return rec, nil
}

// Package mongorepo stores each user with its entitlement record as a single MongoDB document.
package mongorepo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/user"
)

const colUsers = "users"

type Repository struct {
	client *mongo.Client
	db     *mongo.Database
}

var (
	_ user.Repository        = (*Repository)(nil)
	_ entitlement.Repository = (*Repository)(nil)
)

// Open connects to conf.Database.MongoURI and uses the conf.Database.Name database.
func Open(ctx context.Context, conf *core.Config) (*Repository, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(conf.Database.MongoURI))
	if err != nil {
		return nil, wrap(err, "connect")
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, wrap(err, "ping")
	}
	return New(client, conf.Database.Name), nil
}

func New(client *mongo.Client, dbName string) *Repository {
	return &Repository{client: client, db: client.Database(dbName)}
}

// Migrate creates the indexes.
func (repo *Repository) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := repo.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return wrap(err, "migrate "+col+" indexes")
		}
	}
	return nil
}

func (repo *Repository) Close(ctx context.Context) error {
	return repo.client.Disconnect(ctx)
}

func (repo *Repository) users() *mongo.Collection {
	return repo.db.Collection(colUsers)
}

func (repo *Repository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	m := userModel{
		ID:        usr.ID,
		Name:      usr.Name,
		Email:     usr.Email,
		Role:      usr.Role,
		CreatedAt: usr.CreatedAt,
		UpdatedAt: usr.UpdatedAt,
	}
	if _, err := repo.users().InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, wrap(err, "create user")
	}
	return usr, nil
}

func (repo *Repository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var q bson.M
	switch {
	case filter.ID != "":
		q = bson.M{"_id": filter.ID}
	case filter.Email != "":
		q = bson.M{"email": filter.Email}
	default:
		return user.User{}, user.ErrNotFound
	}

	var m userModel
	if err := repo.users().FindOne(ctx, q).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, wrap(err, "get user")
	}
	return m.toUser(), nil
}

func (repo *Repository) GetRecord(ctx context.Context, userID string) (entitlement.Record, error) {
	var m userModel
	if err := repo.users().FindOne(ctx, bson.M{"_id": userID}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return entitlement.Record{}, entitlement.ErrNotFound
		}
		return entitlement.Record{}, wrap(err, "get record")
	}
	return m.toRecord(), nil
}

// SaveRecord replaces the entitlement fields only if the document still has rec.Version.
func (repo *Repository) SaveRecord(ctx context.Context, rec entitlement.Record) (entitlement.Record, error) {
	update := bson.M{
		"$set": bson.M{
			"course_grants":      toGrantModels(rec.CourseGrants),
			"formation_grants":   toGrantModels(rec.FormationGrants),
			"terms_acceptances":  toAcceptanceModels(rec.TermsAcceptances),
			"processed_payments": nonNil(rec.ProcessedPayments),
			"updated_at":         time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}
	res, err := repo.users().UpdateOne(ctx, bson.M{"_id": rec.UserID, "version": rec.Version}, update)
	if err != nil {
		return entitlement.Record{}, wrap(err, "save record")
	}
	if res.MatchedCount == 0 {
		n, err := repo.users().CountDocuments(ctx, bson.M{"_id": rec.UserID})
		if err != nil {
			return entitlement.Record{}, wrap(err, "save record")
		}
		if n == 0 {
			return entitlement.Record{}, entitlement.ErrNotFound
		}
		return entitlement.Record{}, entitlement.ErrConflict
	}
	rec.Version++
	return rec, nil
}

// wrap prefixes err for the logs. A disconnected client cannot recover, so it becomes a shutdown error.
func wrap(err error, msg string) error {
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return core.NewShutdownError("mongo: " + msg + ": " + err.Error())
	}
	return errors.Wrap(err, "mongo: "+msg)
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colUsers: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

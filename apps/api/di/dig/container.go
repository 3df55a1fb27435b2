package dig_container

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	echoapi "github.com/circuscoach/backend/apps/api/echo"
	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/purchase"
	"github.com/circuscoach/backend/core/user"
	emailsvc "github.com/circuscoach/backend/services/email"
	logsvc "github.com/circuscoach/backend/services/logger"
	stripegw "github.com/circuscoach/backend/services/payment/stripe"
	memorylimiter "github.com/circuscoach/backend/services/ratelimit/memory"
	redislimiter "github.com/circuscoach/backend/services/ratelimit/redis"
	"github.com/circuscoach/backend/storage/database"
	inmemdb "github.com/circuscoach/backend/storage/database/inmem"
	mongorepo "github.com/circuscoach/backend/storage/database/mongo"
	sqlxrepos "github.com/circuscoach/backend/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Store is the selected storage engine along with its cleanup.
type Store struct {
	Users   user.Repository
	Records entitlement.Repository
	SQL     *sql.DB // nil unless the engine is postgres
	Close   func() error
}

func newZapLogger(conf *core.Config, name string) core.Logger {
	zl, err := logsvc.NewZapLogger(conf)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	return logsvc.NewRollbarLogger(zl.Named(name), conf)
}

func newLogger(conf *core.Config) core.Logger {
	return newZapLogger(conf, "api")
}

func newDBLogger(conf *core.Config) core.Logger {
	return newZapLogger(conf, "db")
}

func newStore(conf *core.Config, loggerParam DBLoggerParam) Store {
	logger := loggerParam.Logger
	switch conf.Database.Engine {
	case "memory":
		repo := inmemdb.NewRepository(inmemdb.Open())
		return Store{Users: repo, Records: repo, Close: func() error { return nil }}

	case "mongo":
		ctx := context.Background()
		repo, err := mongorepo.Open(ctx, conf)
		if err == nil {
			err = repo.Migrate(ctx)
		}
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up mongo: %v", err), err)
		}
		return Store{Users: repo, Records: repo, Close: func() error { return repo.Close(context.Background()) }}

	default:
		if err := database.CreateIfNotExist(conf); err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		db, err := database.Open(conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
		}
		if err = database.Migrate(context.Background(), db.DB); err != nil {
			logger.Fatal(fmt.Sprintf("migrating database: %v", err), err)
		}
		repo := sqlxrepos.NewRepository(db)
		return Store{Users: repo, Records: repo, SQL: db.DB, Close: db.Close}
	}
}

func newUserRepository(s Store) user.Repository          { return s.Users }
func newRecordRepository(s Store) entitlement.Repository { return s.Records }

func newGateway(conf *core.Config) purchase.Gateway {
	return stripegw.NewGateway(conf, nil)
}

func newRateLimiter(conf *core.Config, logger core.Logger) core.RateLimiter {
	limits := core.RateLimits(conf)
	if conf.Redis.Address == "" {
		logger.Info("rate limiting in memory (no redis configured)")
		return memorylimiter.New(limits)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Address,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	return redislimiter.New(rdb, limits)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

type serverParams struct {
	dig.In
	Conf        *core.Config
	Logger      core.Logger
	Validate    *validator.Validate
	Translator  ut.Translator
	RateLimiter core.RateLimiter
	PurchaseSvc *purchase.Service
	EntSvc      *entitlement.Service
	UserSvc     *user.Service
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(p.Conf, echoapi.ServerDeps{
		Logger:      p.Logger,
		Validate:    p.Validate,
		Translator:  p.Translator,
		RateLimiter: p.RateLimiter,
		PurchaseSvc: p.PurchaseSvc,
		EntSvc:      p.EntSvc,
		UserSvc:     p.UserSvc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStore))
	must(c.Provide(newUserRepository))
	must(c.Provide(newRecordRepository))
	must(c.Provide(newGateway))
	must(c.Provide(newRateLimiter))
	must(c.Provide(newEmailService))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(user.NewService))
	must(c.Provide(entitlement.NewService))
	must(c.Provide(purchase.NewService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}

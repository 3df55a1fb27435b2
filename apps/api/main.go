package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	dig_container "github.com/circuscoach/backend/apps/api/di/dig"
	echoapi "github.com/circuscoach/backend/apps/api/echo"
	"github.com/circuscoach/backend/core"
)

type syncer interface {
	Sync() error
}

func main() {
	c := dig_container.New()

	var runErr error
	err := c.Invoke(func(
		conf *core.Config,
		apiLogger core.Logger,
		dbLoggerParam dig_container.DBLoggerParam,
		store dig_container.Store,
		validate *validator.Validate,
		translator ut.Translator,
		server *echoapi.Server,
	) {
		dbLogger := dbLoggerParam.Logger
		defer syncLoggers(apiLogger, dbLogger)

		runErr = run(conf, apiLogger, dbLogger, store, validate, translator, server)
		if runErr != nil {
			apiLogger.Error(fmt.Sprintf("Application stopped: %v", runErr), runErr)
		}
	})
	if err != nil {
		log.Fatal(err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func run(
	conf *core.Config,
	apiLogger, dbLogger core.Logger,
	store dig_container.Store,
	validate *validator.Validate,
	translator ut.Translator,
	server *echoapi.Server,
) error {
	// =========================================================================
	// Initialize App

	apiLogger.Info(fmt.Sprintf("Application initializing : version %q, env %s, database engine %s", conf.Build, conf.Env, conf.Database.Engine))

	core.InitValidators(validate, translator)
	core.ParseEmailTemplates(conf, apiLogger)

	defer func() {
		if err := store.Close(); err != nil {
			dbLogger.Error(fmt.Sprintf("closing store: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	var debugSrv *http.Server
	if conf.Server.DebugHost != "" {
		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)
		expvar.NewString("engine").Set(conf.Database.Engine)

		debugSrv = &http.Server{Addr: conf.Server.DebugHost, Handler: http.DefaultServeMux}
		go func() {
			if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()
	}

	// =========================================================================
	// Start API Service

	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		return errors.Wrap(err, "server error")

	case sig := <-server.ShutdownSignal():
		apiLogger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests and pending reconciliations a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		if debugSrv != nil {
			_ = debugSrv.Shutdown(ctx)
		}
		if err := server.Shutdown(ctx); err != nil {
			apiLogger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
			if err = server.Close(); err != nil {
				return errors.Wrap(err, "could not force stop server")
			}
		}
	}

	apiLogger.Info("Application stopped")
	return nil
}

// syncLoggers flushes buffered log entries and queued error reports.
func syncLoggers(loggers ...core.Logger) {
	for _, l := range loggers {
		if s, ok := l.(syncer); ok {
			// stdout may not support fsync
			_ = s.Sync()
		}
	}
}

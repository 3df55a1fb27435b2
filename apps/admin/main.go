package main

import (
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	dig_container "github.com/circuscoach/backend/apps/api/di/dig"
	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/user"
)

func main() {
	c := dig_container.New()

	var code int
	err := c.Invoke(func(
		logger core.Logger,
		store dig_container.Store,
		usrSvc *user.Service,
		entSvc *entitlement.Service,
		validate *validator.Validate,
		translator ut.Translator,
	) {
		defer func() { _ = store.Close() }()
		core.InitValidators(validate, translator)

		cli := commandLine{
			db:       store.SQL,
			usrSvc:   usrSvc,
			entSvc:   entSvc,
			validate: validate,
			out:      os.Stdout,
		}
		if err := cli.run(os.Args); err != nil {
			if err != errHelp {
				logger.Error(fmt.Sprintf("admin: %v", err), err)
			}
			code = 1
		}
	})
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(code)
}

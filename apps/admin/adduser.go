package main

import (
	"context"
	"fmt"

	"github.com/circuscoach/backend/core/user"
)

func (cli *commandLine) addUser(ctx context.Context, name, email string, isAdmin bool) error {
	nu := user.NewUser{Name: name, Email: email}
	if isAdmin {
		nu.Role = user.RoleAdmin
	}
	if err := nu.Validate(cli.validate); err != nil {
		return err
	}

	usr, err := cli.usrSvc.Create(ctx, nu)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "created %s user %s <%s>\n", usr.Role, usr.ID, usr.Email)
	return nil
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/user"
	"github.com/circuscoach/backend/storage/database"
)

var (
	gooseRunFunc = database.RunMigrations // mockable

	errHelp  = errors.New("help provided")
	errNoSQL = errors.New("migrations only apply to the postgres engine")
)

type commandLine struct {
	db       *sql.DB
	usrSvc   *user.Service
	entSvc   *entitlement.Service
	validate *validator.Validate
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage:")
	_, _ = fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                               - run a goose command (up, down, status, ...)")
	_, _ = fmt.Fprintln(cli.out, "  adduser -name NAME -email EMAIL [-admin]             - create a user")
	_, _ = fmt.Fprintln(cli.out, "  grants -user ID|EMAIL                                - list a user's grants")
	_, _ = fmt.Fprintln(cli.out, "  reconcile -user ID|EMAIL -ref REF -items KIND:ID,... - grant items for a payment")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])

	case "adduser":
		cmd := cli.newFlagSet("adduser")
		name := cmd.String("name", "", "The user's full name.")
		email := cmd.String("email", "", "The user's email.")
		isAdmin := cmd.Bool("admin", false, "Grant the admin role.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *email == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.addUser(ctx, *name, *email, *isAdmin)

	case "grants":
		cmd := cli.newFlagSet("grants")
		userRef := cmd.String("user", "", "The user's ID or email.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *userRef == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.grants(ctx, *userRef)

	case "reconcile":
		cmd := cli.newFlagSet("reconcile")
		userRef := cmd.String("user", "", "The user's ID or email.")
		ref := cmd.String("ref", "", "The payment reference.")
		items := cmd.String("items", "", "Comma-separated KIND:ID pairs, e.g. course:c1,formation:F1.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *userRef == "" || *ref == "" || *items == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.reconcile(ctx, *userRef, *ref, parseItems(*items))

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) migrate(ctx context.Context, args []string) error {
	if cli.db == nil {
		return errNoSQL
	}
	return gooseRunFunc(ctx, cli.db, args[0], args[1:]...)
}

func (cli *commandLine) findUser(ctx context.Context, ref string) (user.User, error) {
	if strings.Contains(ref, "@") {
		return cli.usrSvc.GetByEmail(ctx, ref)
	}
	return cli.usrSvc.GetByID(ctx, ref)
}

func (cli *commandLine) grants(ctx context.Context, userRef string) error {
	usr, err := cli.findUser(ctx, userRef)
	if err != nil {
		return err
	}
	views, err := cli.entSvc.Grants(ctx, usr.ID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tITEM\tEXPIRES\tACTIVE")
	for _, v := range views {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", v.Kind, v.ItemID, v.ExpiresAt.Format(time.RFC3339), v.Active)
	}
	return w.Flush()
}

func (cli *commandLine) reconcile(ctx context.Context, userRef, ref string, items []entitlement.Item) error {
	usr, err := cli.findUser(ctx, userRef)
	if err != nil {
		return err
	}
	res, err := cli.entSvc.Reconcile(ctx, usr.ID, items, ref)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// parseItems reads "kind:id" pairs. Malformed pairs become invalid items, which reconciliation skips.
func parseItems(s string) []entitlement.Item {
	var items []entitlement.Item
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		raw := entitlement.RawItem{}
		if parts := strings.SplitN(pair, ":", 2); len(parts) == 2 {
			raw.Kind, raw.ID = parts[0], parts[1]
		} else {
			raw.ID = pair
		}
		items = append(items, raw.Item())
	}
	return items
}

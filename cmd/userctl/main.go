// Package main is the account maintenance tool for the portal access gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/coopportal/accessgw/internal/userstore"
)

const usage = `Usage: userctl [-db <path>] <command> [flags]

Commands:
  add          -email <addr> -password <pw> [-name <name>] [-role <role>]
  activate     -id <id>
  deactivate   -id <id>
  require-2fa  -id <id> [-off]
  remove       -id <id>
`

func main() {
	dbPath := flag.String("db", getEnvOrDefault("ACCESSGW_USER_DB", "coop.db"),
		"Path to the user database")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	store, err := userstore.NewSQLiteStore(*dbPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open user database: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	if err := run(store, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// run dispatches one maintenance command against the store.
func run(store *userstore.SQLiteStore, command string, args []string) error {
	ctx := context.Background()

	switch command {
	case "add":
		fs := flag.NewFlagSet("add", flag.ExitOnError)
		email := fs.String("email", "", "Account email")
		name := fs.String("name", "", "Display name")
		role := fs.String("role", "member", "Role tag")
		password := fs.String("password", "", "Initial password")
		_ = fs.Parse(args)

		if *email == "" || *password == "" {
			return fmt.Errorf("add: -email and -password are required")
		}
		id, err := store.Create(ctx, *email, *name, *role, *password)
		if err != nil {
			return err
		}
		fmt.Printf("created user %d\n", id)
		return nil

	case "activate", "deactivate":
		id, err := parseID(command, args)
		if err != nil {
			return err
		}
		return store.SetActive(ctx, id, command == "activate")

	case "require-2fa":
		fs := flag.NewFlagSet("require-2fa", flag.ExitOnError)
		id := fs.Int64("id", 0, "User id")
		off := fs.Bool("off", false, "Drop the requirement instead of setting it")
		_ = fs.Parse(args)

		if *id == 0 {
			return fmt.Errorf("require-2fa: -id is required")
		}
		return store.SetSecondFactor(ctx, *id, !*off)

	case "remove":
		id, err := parseID(command, args)
		if err != nil {
			return err
		}
		return store.Delete(ctx, id)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// parseID parses the common -id flag for commands that only take one.
func parseID(command string, args []string) (int64, error) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	id := fs.Int64("id", 0, "User id")
	_ = fs.Parse(args)

	if *id == 0 {
		return 0, fmt.Errorf("%s: -id is required", command)
	}
	return *id, nil
}

// getEnvOrDefault returns the environment value or a fallback.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

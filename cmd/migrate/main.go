package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/vendormarket/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "MARKET_STORAGE__POSTGRES_DSN"
	usage          = "usage: migrate <up|down|status> [-steps N] [-dsn DSN]"
)

var errUsage = errors.New(usage)

type options struct {
	command string
	steps   int
	dsn     string
}

func parseArgs(args []string, lookupEnv func(string) string) (options, error) {
	if len(args) == 0 {
		return options{}, errUsage
	}

	opts := options{command: strings.ToLower(strings.TrimSpace(args[0]))}
	switch opts.command {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unsupported command %q: %w", args[0], errUsage)
	}

	fs := flag.NewFlagSet("migrate "+opts.command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := fs.Parse(args[1:]); err != nil {
		return options{}, fmt.Errorf("%v: %w", err, errUsage)
	}

	if opts.steps < 0 {
		return options{}, errors.New("-steps must be >= 0")
	}
	if opts.command == "down" && opts.steps == 0 {
		opts.steps = 1
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(lookupEnv(envPostgresDSN))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch opts.command {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "%s ok: version=%d applied=%d pending=%d\n", opts.command, state.Version, state.Applied, state.Pending)
	return nil
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Getenv)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		cancel()
		fail(err)
	}
}

func fail(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// Package main is the entrypoint for the cyfrying web service and its admin commands.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyfrying/foodtruck/internal/config"
	"github.com/cyfrying/foodtruck/internal/logging"
	"github.com/cyfrying/foodtruck/internal/server"
	"github.com/cyfrying/foodtruck/pkg/auth"
	"github.com/cyfrying/foodtruck/pkg/commsutil"
	"github.com/cyfrying/foodtruck/pkg/db"
	"github.com/cyfrying/foodtruck/pkg/events"
	"github.com/cyfrying/foodtruck/pkg/killswitch"
	"github.com/cyfrying/foodtruck/pkg/seed"
)

const usage = `Usage: cyfrying [command]

Commands:
  serve                 (default) Start the web server.
  migrate up            Apply database migrations and create the admin account if missing.
  migrate status        Show whether the schema is present.
  migrate down          Not supported; migrations are forward-only.
  ensure-db [name]      Create a database (default: cyfrying_test) on the DATABASE_URL host.
  clear                 Truncate orders and menu items and reset settings. Users are kept.
  seed [file]           Upsert the menu from a JSON or YAML seed file (built-in menu when none is found).
  kill engage [reason]  Put the site into maintenance mode.
  kill release          Leave maintenance mode.
  kill status           Print the maintenance state.
  hash-password <pw>    Print a bcrypt hash for a users.password_hash column.
  help                  Show this text.

Environment: DATABASE_URL, MIGRATION_PATH, MENU_SEED_FILE, STORAGE_PATH, NATS_URL, HTTP_ADDR. A .env file is read when present.
`

// cliActor is recorded as the actor of kill switch changes made from the CLI.
const cliActor = "cli"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("cyfrying: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}
	arg := func(i int) string {
		if len(args) > i {
			return args[i]
		}
		return ""
	}

	switch cmd {
	case "serve", "":
		return server.Run()
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	case "migrate":
		switch arg(1) {
		case "up":
			return withDB(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, repo *db.Repository) error {
				return migrateUp(ctx, cfg, pool, repo)
			})
		case "status":
			return withDB(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, _ *db.Repository) error {
				return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
			})
		case "down":
			return withDB(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, _ *db.Repository) error {
				return db.MigrationDown(ctx, pool, cfg.MigrationPath)
			})
		case "":
			return fmt.Errorf("migrate: require subcommand (up, status, down)")
		default:
			return fmt.Errorf("migrate: unknown subcommand %q (use up, status, down)", arg(1))
		}
	case "ensure-db":
		name := arg(1)
		if name == "" {
			name = "cyfrying_test"
		}
		return runEnsureDB(stdout, name)
	case "clear":
		return withDB(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool, _ *db.Repository) error {
			return db.ClearData(ctx, pool)
		})
	case "seed":
		file := arg(1)
		return withDB(func(ctx context.Context, _ *config.Config, _ *pgxpool.Pool, repo *db.Repository) error {
			return runSeed(ctx, stdout, repo, file)
		})
	case "kill":
		sub := arg(1)
		switch sub {
		case "engage", "release", "status":
		case "":
			return fmt.Errorf("kill: require subcommand (engage, release, status)")
		default:
			return fmt.Errorf("kill: unknown subcommand %q (use engage, release, status)", sub)
		}
		reason := strings.TrimSpace(strings.Join(args[min(2, len(args)):], " "))
		return withDB(func(ctx context.Context, cfg *config.Config, _ *pgxpool.Pool, repo *db.Repository) error {
			return runKill(ctx, stdout, cfg, repo, sub, reason)
		})
	case "hash-password":
		if arg(1) == "" {
			return fmt.Errorf("hash-password: require a password argument")
		}
		hash, err := auth.HashPassword(arg(1))
		if err != nil {
			return fmt.Errorf("hash-password: %w", err)
		}
		fmt.Fprintln(stdout, hash)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

// withDB loads config, sets up logging and opens a pool for the duration of fn.
func withDB(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, repo *db.Repository) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	closer, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, pool, db.NewRepository(pool))
}

func setupLogging(cfg *config.Config) (io.Closer, error) {
	logger, closer, err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Stdout: os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return closer, nil
}

// migrateUp applies the schema and creates the admin account when missing.
func migrateUp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, repo *db.Repository) error {
	migrationSQL, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if _, err := auth.EnsureAdmin(ctx, repo, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	return nil
}

func runEnsureDB(stdout io.Writer, name string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + name
	if err := db.EnsureDatabase(context.Background(), u.String()); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Database %q is ready.\n", name)
	return nil
}

func runSeed(ctx context.Context, stdout io.Writer, repo *db.Repository, file string) error {
	mf, source, err := seed.LoadMenuFile(file)
	if err != nil {
		return fmt.Errorf("load menu seed: %w", err)
	}
	if source == "" {
		source = "built-in default menu"
	}
	n, err := seed.SeedMenu(ctx, repo, mf)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Seeded %d menu items from %s.\n", n, source)
	return nil
}

// runKill changes or prints the maintenance state. With NATS_URL set the
// change is announced so running instances drop their cached state.
func runKill(ctx context.Context, stdout io.Writer, cfg *config.Config, repo *db.Repository, sub, reason string) error {
	var pub events.EventPublisher = &events.NoOpPublisher{}
	if cfg.NATSURL != "" && sub != "status" {
		nc, err := commsutil.Dial(commsutil.Options{URL: cfg.NATSURL, Name: cfg.ServiceName + "-cli"})
		if err != nil {
			return fmt.Errorf("connect COMMS: %w", err)
		}
		defer commsutil.Drain(nc)
		pub = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{Namespace: cfg.ServiceName, Source: cliActor})
	}
	sw := killswitch.New(repo, killswitch.Options{
		StoragePath: cfg.StoragePath,
		CacheTTL:    cfg.KillSwitchCacheTTL,
		Publisher:   pub,
	})

	switch sub {
	case "engage":
		if err := sw.Engage(ctx, reason, cliActor); err != nil {
			return err
		}
	case "release":
		if err := sw.Release(ctx, cliActor); err != nil {
			return err
		}
	}
	st := sw.State(ctx)
	if st.On {
		fmt.Fprintf(stdout, "Kill switch: ENGAGED (%s)\n", st.Reason)
	} else {
		fmt.Fprintln(stdout, "Kill switch: off")
	}
	return nil
}

package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/liamcoop/ruleops/internal/logger"
	"github.com/liamcoop/ruleops/migrations"
)

const usage = "up, down, steps <n>, version, force <version>"

func main() {
	var databaseURL string
	var migrationsPath string
	var command string

	flag.StringVar(&databaseURL, "database", "", "Database URL (default: DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", "", "Migrations directory (default: migrations built into the binary)")
	flag.StringVar(&command, "command", "up", "Migration command: "+usage)
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		logger.Fatal("database URL is required, use -database or DATABASE_URL")
	}

	m, err := open(databaseURL, migrationsPath)
	if err != nil {
		logger.Fatal("failed to create migration instance", "error", err)
	}
	defer m.Close()

	if err := run(m, command, flag.Args()); err != nil {
		logger.Fatal("migration failed", "command", command, "error", err)
	}
}

// run executes one migration command. args holds the positional
// arguments of steps and force.
func run(m *migrate.Migrate, command string, args []string) error {
	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to run, database is up to date")
			return nil
		}
		if err != nil {
			return err
		}
		return logVersion(m, "migrations applied")

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		logger.Info("all migrations rolled back")
		return nil

	case "steps":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return logVersion(m, "migrated by steps", "steps", n)

	case "version":
		return logVersion(m, "current version")

	case "force":
		v, err := intArg(args)
		if err != nil {
			return err
		}
		if err := m.Force(v); err != nil {
			return err
		}
		logger.Info("forced version", "version", v)
		return nil

	default:
		return fmt.Errorf("unknown command %q (use: %s)", command, usage)
	}
}

func logVersion(m *migrate.Migrate, msg string, args ...any) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info(msg, append(args, "version", "none")...)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}
	logger.Info(msg, append(args, "version", version, "dirty", dirty)...)
	return nil
}

func intArg(args []string) (int, error) {
	if len(args) < 1 {
		return 0, errors.New("command requires a number argument")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", args[0], err)
	}
	return n, nil
}

// open uses the embedded migrations unless a directory is given.
func open(databaseURL, path string) (*migrate.Migrate, error) {
	if path != "" {
		logger.Info("using migrations directory", "path", path)
		return migrate.New("file://"+path, databaseURL)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return migrations.New(db)
}

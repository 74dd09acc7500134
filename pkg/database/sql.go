package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

// OpenSQL opens a history database. backend is postgres or sqlite.
func OpenSQL(backend string, dsn string) (*sql.DB, error) {
	var driverName string
	switch backend {
	case "postgres":
		driverName = "postgres"
	case "sqlite":
		driverName = "sqlite"
	default:
		return nil, fmt.Errorf("unknown sql backend %q", backend)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	if backend == "sqlite" {
		// Single writer, and CHECK constraints need no extra pragma
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	log.Info().Msgf(format, v...)
}

func (migrateLogger) Verbose() bool {
	return false
}

// Migrate applies every pending embedded migration for the backend.
func Migrate(db *sql.DB, backend string) error {
	var driver database.Driver
	var err error

	switch backend {
	case "postgres":
		driver, err = postgres.WithInstance(db, &postgres.Config{MigrationsTable: "vehiclefeed_migrations"})
	case "sqlite":
		driver, err = sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: "vehiclefeed_migrations"})
	default:
		return fmt.Errorf("unknown sql backend %q", backend)
	}
	if err != nil {
		return fmt.Errorf("create %s migration driver: %w", backend, err)
	}

	directory, err := fs.Sub(migrations, "migrations/"+backend)
	if err != nil {
		return err
	}

	source, err := iofs.New(directory, ".")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, backend, driver)
	if err != nil {
		return err
	}
	m.Log = migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	log.Info().Str("backend", backend).Uint("version", version).Bool("dirty", dirty).Msg("History schema migrated")

	return nil
}

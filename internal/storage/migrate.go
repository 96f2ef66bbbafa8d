package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending schema migrations. It uses its own connection
// so closing the migrator never affects the serving pool.
func Migrate(driver, dsn string) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("storage: migrate open: %w", err)
	}

	var dbDriver database.Driver
	switch driver {
	case DriverPostgres:
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
	case DriverSQLite:
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		db.Close()
		return fmt.Errorf("storage: migrate driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		dbDriver.Close()
		return fmt.Errorf("storage: migrate source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDriver)
	if err != nil {
		src.Close()
		dbDriver.Close()
		return fmt.Errorf("storage: migrate init: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			log.Printf("storage: migrate close: source=%v db=%v", srcErr, dbErr)
		}
		// The database drivers close the *sql.DB on Close in recent
		// releases but not all; closing twice is harmless.
		db.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: migrate up: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		log.Printf("storage: schema at version %d (dirty=%v)", version, dirty)
	}
	return nil
}

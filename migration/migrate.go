package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"geocab/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Attempts and Backoff control how long RunMigrations waits for the
// database to accept connections.
var (
	Attempts = 10
	Backoff  = 3 * time.Second
)

// WaitForDB pings dsn until it answers or the attempts run out.
func WaitForDB(dsn string) error {
	var err error
	for i := 0; i < Attempts; i++ {
		var db *sql.DB
		db, err = sql.Open("postgres", dsn)
		if err == nil {
			err = db.Ping()
			db.Close()
			if err == nil {
				logger.L().Info("database_ready", "attempt", i+1)
				return nil
			}
		}
		logger.L().Info("waiting_for_database", "attempt", i+1, "err", err)
		time.Sleep(Backoff)
	}
	return fmt.Errorf("could not connect to the database: %w", err)
}

func newMigrate(dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("could not open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("could not start migrations: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending up migration.
func RunMigrations(dsn string) error {
	if err := WaitForDB(dsn); err != nil {
		return err
	}
	m, err := newMigrate(dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.L().Info("migrations_applied", "version", version, "dirty", dirty)
	return nil
}

// Rollback reverts every applied migration.
func Rollback(dsn string) error {
	m, err := newMigrate(dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback failed: %w", err)
	}
	logger.L().Info("migrations_rolled_back")
	return nil
}

package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/cristianortiz/auctioncoord/internal/shared/logger"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

var log = logger.GetLogger() // Instancia logger para el pakg

//go:embed sql/postgres/*.sql
var postgresFS embed.FS

//go:embed sql/sqlite/*.sql
var sqliteFS embed.FS

// RunPostgres applies the embedded postgres migrations to the database at dsn.
func RunPostgres(dsn string) error {
	src, err := iofs.New(postgresFS, "sql/postgres")
	if err != nil {
		return fmt.Errorf("open postgres migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("init postgres migrations: %w", err)
	}
	defer m.Close()
	return up(m, "postgres")
}

// RunSQLite applies the embedded sqlite migrations on an open handle.
// The handle stays open: the driver is never closed here.
func RunSQLite(db *sql.DB) error {
	src, err := iofs.New(sqliteFS, "sql/sqlite")
	if err != nil {
		return fmt.Errorf("open sqlite migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("init sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init sqlite migrations: %w", err)
	}
	return up(m, "sqlite")
}

func up(m *migrate.Migrate, backend string) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply %s migrations: %w", backend, err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read %s migration version: %w", backend, err)
	}
	log.Info("Migrations applied",
		zap.String("backend", backend),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/inbox/internal/store/migrations"
)

// MigrateResult reports the schema version before and after a run.
// Version 0 means no migration is applied.
type MigrateResult struct {
	Previous uint
	Version  uint
	Dirty    bool
	Changed  bool
}

// Migrate applies every pending up migration.
func (db *DB) Migrate() (*MigrateResult, error) {
	return db.migrate(func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateTo moves the schema up or down to version. Version 0 runs every
// down migration and leaves an empty database.
func (db *DB) MigrateTo(version uint) (*MigrateResult, error) {
	if version == 0 {
		return db.migrate(func(m *migrate.Migrate) error { return m.Down() })
	}
	return db.migrate(func(m *migrate.Migrate) error { return m.Migrate(version) })
}

func (db *DB) migrate(step func(*migrate.Migrate) error) (*MigrateResult, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	res := &MigrateResult{}
	if res.Previous, _, err = schemaVersion(m); err != nil {
		return nil, err
	}
	switch err := step(m); {
	case errors.Is(err, migrate.ErrNoChange):
	case err != nil:
		return nil, fmt.Errorf("migrate from version %d: %w", res.Previous, err)
	default:
		res.Changed = true
	}
	if res.Version, res.Dirty, err = schemaVersion(m); err != nil {
		return nil, err
	}
	return res, nil
}

func schemaVersion(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("schema version: %w", err)
	}
	return v, dirty, nil
}

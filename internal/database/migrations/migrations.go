// Package migrations holds the catalog schema as embedded golang-migrate
// files.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

var (
	ErrNotMigrated = errors.New("catalog has no schema, run devcat migrate")
	ErrDirty       = errors.New("catalog schema is dirty, a previous migration failed")
	ErrBehind      = errors.New("catalog schema is behind this binary, run devcat migrate")
	ErrAhead       = errors.New("catalog schema is newer than this binary")
)

// Status places a catalog's schema relative to the embedded migrations.
type Status struct {
	Version uint // 0 for a catalog that was never migrated
	Latest  uint
	Dirty   bool
}

// Err returns nil when the catalog can be used as is, or one of the
// sentinel errors above wrapped with both versions.
func (s Status) Err() error {
	switch {
	case s.Version == 0 && !s.Dirty:
		return ErrNotMigrated
	case s.Dirty:
		return fmt.Errorf("%w (version %d)", ErrDirty, s.Version)
	case s.Version < s.Latest:
		return fmt.Errorf("%w (version %d, want %d)", ErrBehind, s.Version, s.Latest)
	case s.Version > s.Latest:
		return fmt.Errorf("%w (version %d, binary knows %d)", ErrAhead, s.Version, s.Latest)
	}
	return nil
}

// Inspect reads the schema version recorded in db.
func Inspect(db *sql.DB) (Status, error) {
	latest, err := Latest()
	if err != nil {
		return Status{}, err
	}

	m, err := newMigrate(db)
	if err != nil {
		return Status{}, err
	}
	// m is not closed: that would close db, which the caller owns.

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, fmt.Errorf("reading schema version: %w", err)
	}
	return Status{Version: version, Latest: latest, Dirty: dirty}, nil
}

// Check returns Inspect(db).Err().
func Check(db *sql.DB) error {
	st, err := Inspect(db)
	if err != nil {
		return err
	}
	return st.Err()
}

// Up applies pending migrations and reports the versions before and after.
// A catalog newer than the binary is refused rather than touched.
func Up(db *sql.DB) (from, to uint, err error) {
	st, err := Inspect(db)
	if err != nil {
		return 0, 0, err
	}
	if st.Version > st.Latest {
		return st.Version, st.Version, st.Err()
	}

	m, err := newMigrate(db)
	if err != nil {
		return 0, 0, err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return st.Version, st.Version, fmt.Errorf("migrating catalog from version %d: %w", st.Version, err)
	}
	return st.Version, st.Latest, nil
}

// Latest returns the version the embedded migrations bring a catalog to.
func Latest() (uint, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("reading migration files: %w", err)
	}
	defer src.Close()

	return lastVersion(src)
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading migration files: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("opening migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			// os.ErrNotExist past the last migration.
			return v, nil
		}
		v = next
	}
}

package database

import (
	"fmt"
	"path/filepath"

	"devcat/internal/config"
)

// NewDatabaseFromConfig opens the catalog database described by cfg. The
// sqlite file is named after the host so several hosts can share a data dir.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteDatabase(CatalogPath(cfg.DataDir, hostID))
	case "memory":
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			return nil, err
		}
		// Nothing persists, so there is nothing to check against.
		if _, _, err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// CatalogPath returns the sqlite file for hostID under dataDir.
func CatalogPath(dataDir, hostID string) string {
	return filepath.Join(dataDir, hostID+".db")
}

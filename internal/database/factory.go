package database

import (
	"fmt"
	"path/filepath"

	"fsledger/internal/config"
)

// NewStoreFromConfig creates a SQLiteStore based on the database config.
func NewStoreFromConfig(cfg config.DatabaseConfig, caseInsensitive bool) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, "ledger.db"), caseInsensitive)
	case "memory":
		return NewSQLiteStore(":memory:", caseInsensitive)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

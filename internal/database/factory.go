package database

import (
	"fmt"
	"os"
	"path/filepath"

	"imessage-undeleter/internal/config"
)

// NewStoreFromConfig opens the state store described by cfg.
// The schema is not touched; callers decide between Migrate and CheckMigrations.
func NewStoreFromConfig(cfg config.StateConfig) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite state store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, StateFileName))
	case "memory":
		return NewSQLiteStore(":memory:")
	default:
		return nil, fmt.Errorf("unknown state store type: %s", cfg.Type)
	}
}

// StateFileName is the database file created under the state data_dir.
const StateFileName = "state.db"

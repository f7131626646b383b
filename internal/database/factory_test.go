package database

import (
	"os"
	"path/filepath"
	"testing"

	"imessage-undeleter/internal/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	t.Run("memory store", func(t *testing.T) {
		s, err := NewStoreFromConfig(config.StateConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewStoreFromConfig() unexpected error: %v", err)
		}
		defer s.Close()

		if s.Path() != ":memory:" {
			t.Errorf("Path() = %q, want %q", s.Path(), ":memory:")
		}
		if err := s.Migrate(); err != nil {
			t.Errorf("Migrate() error = %v", err)
		}
		if err := s.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite store creates data dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "state")
		s, err := NewStoreFromConfig(config.StateConfig{Type: "sqlite", DataDir: dir})
		if err != nil {
			t.Fatalf("NewStoreFromConfig() unexpected error: %v", err)
		}
		defer s.Close()

		if err := s.Migrate(); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, StateFileName)); err != nil {
			t.Errorf("state file not created: %v", err)
		}
	})

	t.Run("unmigrated store fails the check", func(t *testing.T) {
		s, err := NewStoreFromConfig(config.StateConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewStoreFromConfig() unexpected error: %v", err)
		}
		defer s.Close()

		if err := s.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() expected error before migration")
		}
	})

	t.Run("sqlite store without data_dir", func(t *testing.T) {
		if _, err := NewStoreFromConfig(config.StateConfig{Type: "sqlite"}); err == nil {
			t.Error("NewStoreFromConfig() expected error for missing data_dir")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewStoreFromConfig(config.StateConfig{Type: "postgres"}); err == nil {
			t.Error("NewStoreFromConfig() expected error for unknown type")
		}
	})
}

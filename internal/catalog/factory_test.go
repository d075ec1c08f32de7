package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"bkp-go/internal/config"
)

func TestNewCatalogFromConfig(t *testing.T) {
	t.Run("sqlite creates a per-host database", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.CatalogConfig{Type: "sqlite", DataDir: filepath.Join(dir, "catalog")}

		c, err := NewCatalogFromConfig(cfg, "host-1")
		if err != nil {
			t.Fatalf("NewCatalogFromConfig() error = %v", err)
		}
		defer c.Close()

		if _, err := os.Stat(filepath.Join(dir, "catalog", "host-1.db")); err != nil {
			t.Errorf("catalog database not created: %v", err)
		}
	})

	t.Run("sqlite requires a data dir", func(t *testing.T) {
		if _, err := NewCatalogFromConfig(config.CatalogConfig{Type: "sqlite"}, "host-1"); err == nil {
			t.Fatal("expected error for missing data_dir")
		}
	})

	t.Run("memory", func(t *testing.T) {
		c, err := NewCatalogFromConfig(config.CatalogConfig{Type: "memory"}, "host-1")
		if err != nil {
			t.Fatalf("NewCatalogFromConfig() error = %v", err)
		}
		c.Close()
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewCatalogFromConfig(config.CatalogConfig{Type: "postgres"}, "host-1"); err == nil {
			t.Fatal("expected error for unknown catalog type")
		}
	})
}

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bkp-go/internal/model"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		HostID:  "test-host-abc",
		BaseDir: "/home/user/.local/share/bkp",
		LogDir:  "/home/user/.local/share/bkp/log",
		Ignore:  []string{"*.log", ".git"},
		Catalog: CatalogConfig{Type: "sqlite", DataDir: "/home/user/.local/share/bkp/catalog"},
		Devices: []DeviceConfig{
			{
				Name:           "usb-a",
				Type:           "localdir",
				Location:       "home",
				SecurityLevel:  model.Local,
				Path:           "/mnt/usb-a",
				LastConnection: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			},
			{
				Name:          "cloud",
				Type:          "s3",
				Location:      "aws",
				SecurityLevel: model.NetworkTrustedRestricted,
				S3Bucket:      "my-backups",
				S3Region:      "eu-west-1",
			},
		},
		Classes: []ClassConfig{
			{Name: "standard", Copies: 3, Locations: 2, MinSecurityLevel: model.NetworkUntrustedRestricted},
		},
		Projects: []ProjectConfig{
			{
				Name:   "docs",
				Root:   "/home/user/docs",
				Status: model.StatusTracked,
				Class:  "standard",
				Copies: []CopyConfig{
					{Device: "usb-a", LastBackup: time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)},
				},
			},
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.Catalog.Type != "sqlite" || got.Catalog.DataDir != original.Catalog.DataDir {
		t.Errorf("Catalog = %+v, want %+v", got.Catalog, original.Catalog)
	}
	if len(got.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(got.Devices))
	}
	if got.Devices[0].SecurityLevel != model.Local {
		t.Errorf("Devices[0].SecurityLevel = %v, want %v", got.Devices[0].SecurityLevel, model.Local)
	}
	if !got.Devices[0].LastConnection.Equal(original.Devices[0].LastConnection) {
		t.Errorf("Devices[0].LastConnection = %v, want %v",
			got.Devices[0].LastConnection, original.Devices[0].LastConnection)
	}
	if got.Devices[1].S3Bucket != "my-backups" {
		t.Errorf("Devices[1].S3Bucket = %q, want %q", got.Devices[1].S3Bucket, "my-backups")
	}
	if len(got.Classes) != 1 || got.Classes[0].MinSecurityLevel != model.NetworkUntrustedRestricted {
		t.Errorf("Classes = %+v, want one standard class", got.Classes)
	}
	if len(got.Projects) != 1 {
		t.Fatalf("len(Projects) = %d, want 1", len(got.Projects))
	}
	if got.Projects[0].Status != model.StatusTracked {
		t.Errorf("Projects[0].Status = %v, want %v", got.Projects[0].Status, model.StatusTracked)
	}
	if len(got.Projects[0].Copies) != 1 || got.Projects[0].Copies[0].Device != "usb-a" {
		t.Errorf("Projects[0].Copies = %+v, want one copy on usb-a", got.Projects[0].Copies)
	}
	if len(got.Ignore) != 2 {
		t.Errorf("len(Ignore) = %d, want 2", len(got.Ignore))
	}
}

func TestDeviceConfig_Info(t *testing.T) {
	entry := DeviceConfig{
		Name:          "usb-a",
		Type:          "localdir",
		Location:      "home",
		SecurityLevel: model.LocalMaxSecurity,
		Path:          "/mnt/usb-a",
	}

	info := entry.Info()
	if info.Name != "usb-a" || info.DeviceType != "localdir" {
		t.Errorf("Info() = %+v, want usb-a/localdir", info)
	}
	if info.Location != "home" || info.SecurityLevel != model.LocalMaxSecurity {
		t.Errorf("Info() = %+v, want home at local_max_security", info)
	}
}

func TestClassConfig_Class(t *testing.T) {
	t.Run("valid entry", func(t *testing.T) {
		c := ClassConfig{Name: "dual", Copies: 2, Locations: 2, MinSecurityLevel: model.Local}
		class, err := c.Class()
		if err != nil {
			t.Fatalf("Class() error = %v", err)
		}
		if class.TargetCopies != 2 || class.TargetLocations != 2 {
			t.Errorf("class = %+v, want 2 copies over 2 locations", class)
		}
	})

	t.Run("locations exceeding copies fail validation", func(t *testing.T) {
		c := ClassConfig{Name: "broken", Copies: 1, Locations: 2}
		if _, err := c.Class(); err == nil {
			t.Fatal("expected error for locations > copies")
		}
	})
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/bkp")

	if cfg.HostID != "host-1" {
		t.Errorf("HostID = %q, want %q", cfg.HostID, "host-1")
	}
	if cfg.BaseDir != "/data/bkp" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/bkp")
	}
	if cfg.LogDir != "/data/bkp/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/bkp/log")
	}
	if cfg.Catalog.Type != "sqlite" || cfg.Catalog.DataDir != "/data/bkp/catalog" {
		t.Errorf("Catalog = %+v, want sqlite under /data/bkp/catalog", cfg.Catalog)
	}
	if len(cfg.Classes) != 1 || cfg.Classes[0].Name != "standard" {
		t.Errorf("Classes = %+v, want the standard class", cfg.Classes)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bkp.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bkp.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bkp.toml")
		cfg := NewConfig("read-test", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "read-test" {
			t.Errorf("HostID = %q, want %q", got.HostID, "read-test")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/bkp.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}

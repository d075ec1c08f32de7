package device

import (
	"path/filepath"
	"testing"

	"bkp-go/internal/config"
	"bkp-go/internal/model"
)

func TestNewDeviceFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DeviceConfig
		wantErr bool
	}{
		{
			name: "localdir",
			cfg:  config.DeviceConfig{Name: "usb-a", Type: "localdir", Path: "/mnt/usb-a"},
		},
		{
			name:    "localdir without path",
			cfg:     config.DeviceConfig{Name: "usb-a", Type: "localdir"},
			wantErr: true,
		},
		{
			name: "s3",
			cfg: config.DeviceConfig{
				Name: "cloud", Type: "s3", S3Bucket: "my-backups", S3Region: "eu-west-1",
			},
		},
		{
			name:    "s3 without bucket",
			cfg:     config.DeviceConfig{Name: "cloud", Type: "s3", S3Region: "eu-west-1"},
			wantErr: true,
		},
		{
			name:    "s3 without region",
			cfg:     config.DeviceConfig{Name: "cloud", Type: "s3", S3Bucket: "my-backups"},
			wantErr: true,
		},
		{
			name: "memory",
			cfg:  config.DeviceConfig{Name: "mem-a", Type: "memory"},
		},
		{
			name:    "unknown type",
			cfg:     config.DeviceConfig{Name: "tape", Type: "tape"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDeviceFromConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewDeviceFromConfig() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDeviceFromConfig() error = %v", err)
			}
			if d == nil {
				t.Fatal("NewDeviceFromConfig() = nil device")
			}
		})
	}
}

func newFactoryRegistry(t *testing.T) *config.Registry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bkp.toml")
	if err := config.Init(path, config.NewConfig("host-1", dir)); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	reg, err := config.NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func TestFactory_Open(t *testing.T) {
	t.Run("unregistered device fails", func(t *testing.T) {
		f := NewFactory(newFactoryRegistry(t))
		if _, err := f.Open("ghost"); err == nil {
			t.Fatal("Open() expected error for unregistered device")
		}
	})

	t.Run("opens a registered device", func(t *testing.T) {
		reg := newFactoryRegistry(t)
		info := model.DeviceInfo{
			Name: "usb-a", Location: "home", SecurityLevel: model.Local, DeviceType: "localdir",
		}
		if err := reg.AddDevice(info, map[string]string{"path": t.TempDir()}); err != nil {
			t.Fatalf("AddDevice() error = %v", err)
		}

		f := NewFactory(reg)
		d, err := f.Open("usb-a")
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if _, ok := d.(*LocalDirDevice); !ok {
			t.Errorf("Open() = %T, want *LocalDirDevice", d)
		}
	})

	t.Run("memory devices are cached per name", func(t *testing.T) {
		reg := newFactoryRegistry(t)
		info := model.DeviceInfo{
			Name: "mem-a", Location: "home", SecurityLevel: model.Local, DeviceType: "memory",
		}
		if err := reg.AddDevice(info, nil); err != nil {
			t.Fatalf("AddDevice() error = %v", err)
		}

		f := NewFactory(reg)
		d1, err := f.Open("mem-a")
		if err != nil {
			t.Fatalf("first Open() error = %v", err)
		}
		d2, err := f.Open("mem-a")
		if err != nil {
			t.Fatalf("second Open() error = %v", err)
		}
		if d1 != d2 {
			t.Error("Open() returned distinct memory devices for the same name")
		}
	})
}

// Package device implements the secondary device port for the supported
// storage backends.
package device

import (
	"fmt"
	"sync"

	"bkp-go/internal/bkp"
	"bkp-go/internal/config"
)

// NewDeviceFromConfig creates a SecondaryDevice based on the device config
// type.
func NewDeviceFromConfig(cfg config.DeviceConfig) (bkp.SecondaryDevice, error) {
	switch cfg.Type {
	case "localdir":
		return NewLocalDirDevice(cfg.Name, cfg.Path)
	case "s3":
		return NewS3Device(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region,
			cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey)
	case "memory":
		return NewMemoryDevice(cfg.Name), nil
	default:
		return nil, fmt.Errorf("unknown device type: %s", cfg.Type)
	}
}

// Factory opens registered devices from their config entries. Memory
// devices are cached per name so their state survives across connections
// within one process.
type Factory struct {
	reg    *config.Registry
	mu     sync.Mutex
	memory map[string]*MemoryDevice
}

var _ bkp.DeviceOpener = (*Factory)(nil)

// NewFactory creates a device factory over the registry.
func NewFactory(reg *config.Registry) *Factory {
	return &Factory{reg: reg, memory: make(map[string]*MemoryDevice)}
}

// Open looks up the named device and constructs its adapter. The device
// itself is not touched; presence is checked on Connect.
func (f *Factory) Open(name string) (bkp.SecondaryDevice, error) {
	entry, err := f.reg.DeviceConfig(name)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("device is not registered: %s", name)
	}
	if entry.Type == "memory" {
		f.mu.Lock()
		defer f.mu.Unlock()
		if d, ok := f.memory[name]; ok {
			return d, nil
		}
		d := NewMemoryDevice(name)
		f.memory[name] = d
		return d, nil
	}
	return NewDeviceFromConfig(*entry)
}

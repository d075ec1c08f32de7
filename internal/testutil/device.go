package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"bkp-go/internal/bkp"
	"bkp-go/internal/device"
	"bkp-go/internal/index"
)

// NewTestDevice creates a new in-memory secondary device for testing.
func NewTestDevice(name string) *device.MemoryDevice {
	return device.NewMemoryDevice(name)
}

// MapOpener resolves device names from a fixed map.
type MapOpener struct {
	Devices map[string]bkp.SecondaryDevice
}

func (o *MapOpener) Open(name string) (bkp.SecondaryDevice, error) {
	d, ok := o.Devices[name]
	if !ok {
		return nil, fmt.Errorf("device is not registered: %s", name)
	}
	return d, nil
}

// FlakyDevice wraps a secondary device and fails the first Failures
// Connect calls before delegating to the wrapped device.
type FlakyDevice struct {
	Inner    bkp.SecondaryDevice
	Failures int

	mu       sync.Mutex
	attempts int
}

func (d *FlakyDevice) Connect(ctx context.Context) (bkp.Connection, error) {
	d.mu.Lock()
	d.attempts++
	n := d.attempts
	d.mu.Unlock()
	if n <= d.Failures {
		return nil, errors.New("injected connect failure")
	}
	return d.Inner.Connect(ctx)
}

// Attempts returns how many times Connect has been called.
func (d *FlakyDevice) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// FaultyDevice wraps a secondary device so connections fail scripted
// operations. Toggle the Fail fields between runs to simulate transfers
// dying halfway.
type FaultyDevice struct {
	Inner bkp.SecondaryDevice

	FailUploads       map[string]bool // paths whose upload fails
	FailWriteManifest bool
	FailWriteLog      bool
}

func (d *FaultyDevice) Connect(ctx context.Context) (bkp.Connection, error) {
	conn, err := d.Inner.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyConn{Connection: conn, dev: d}, nil
}

type faultyConn struct {
	bkp.Connection
	dev *FaultyDevice
}

func (c *faultyConn) Upload(ctx context.Context, project, path string, r io.Reader, size int64) error {
	if c.dev.FailUploads[path] {
		return errors.New("injected upload failure")
	}
	return c.Connection.Upload(ctx, project, path, r, size)
}

func (c *faultyConn) WriteManifest(ctx context.Context, project string, m *index.Manifest) error {
	if c.dev.FailWriteManifest {
		return errors.New("injected manifest write failure")
	}
	return c.Connection.WriteManifest(ctx, project, m)
}

func (c *faultyConn) WriteLog(ctx context.Context, entries []index.Entry) error {
	if c.dev.FailWriteLog {
		return errors.New("injected log write failure")
	}
	return c.Connection.WriteLog(ctx, entries)
}

// Compile-time checks
var (
	_ bkp.SecondaryDevice = (*FlakyDevice)(nil)
	_ bkp.SecondaryDevice = (*FaultyDevice)(nil)
	_ bkp.DeviceOpener    = (*MapOpener)(nil)
)

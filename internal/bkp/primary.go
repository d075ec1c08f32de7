package bkp

import (
	"context"
	"io"
	"time"

	"bkp-go/internal/model"
)

// TreeEntry describes one regular file found while walking a project tree on
// the primary device. Path is relative to the project root and always uses
// forward slashes.
type TreeEntry struct {
	Path    string
	Size    int64
	ModTime time.Time
	// ChangeTime is the inode change time where the platform exposes it,
	// otherwise it equals ModTime.
	ChangeTime time.Time
}

// WalkFunc is called once per file during a tree walk. Returning an error
// stops the walk and propagates the error.
type WalkFunc func(entry TreeEntry) error

// PrimaryDevice is the capability port for the machine the tool runs on. It
// is the only way the core touches project trees.
type PrimaryDevice interface {
	// WalkTree visits every regular file under root in lexical order.
	// Symlinks and special files are skipped.
	WalkTree(ctx context.Context, root string, fn WalkFunc) error

	// ReadDirectives loads the per-project tracking directives stored inside
	// the project tree. A missing directives file yields an empty slice and
	// no error.
	ReadDirectives(ctx context.Context, root string) ([]Directive, error)

	// Open opens a project file for reading. Path is relative to root.
	Open(ctx context.Context, root, path string) (io.ReadCloser, error)
}

// Registry is the durable store for the global configuration: the host
// identity plus registered devices, projects and requirement classes.
// Mutating calls persist before returning.
type Registry interface {
	// HostID returns the stable identifier of the primary device. It doubles
	// as the index origin for entries authored on this host.
	HostID() (string, error)

	Devices() ([]model.DeviceInfo, error)
	// Device returns nil without error when no device has that name.
	Device(name string) (*model.DeviceInfo, error)
	// AddDevice persists a device together with its adapter parameters.
	// Params are opaque to the core; the device factory interprets them.
	AddDevice(device model.DeviceInfo, params map[string]string) error
	UpdateDevice(device model.DeviceInfo) error
	RemoveDevice(name string) error

	Projects() ([]model.Project, error)
	// Project returns nil without error when no project has that name.
	Project(name string) (*model.Project, error)
	AddProject(project model.Project) error
	UpdateProject(project model.Project) error
	RemoveProject(name string) error

	Classes() ([]model.RequirementClass, error)
	// Class returns nil without error when no class has that name.
	Class(name string) (*model.RequirementClass, error)
	AddClass(class model.RequirementClass) error
}

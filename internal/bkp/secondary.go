package bkp

import (
	"context"
	"io"

	"bkp-go/internal/index"
)

// SecondaryDevice is the capability port for one registered backup target.
// Implementations are constructed from configuration by a DeviceOpener and
// hold whatever parameters (paths, buckets, credentials) the storage needs.
type SecondaryDevice interface {
	// Connect establishes a session with the device. Callers must Close the
	// returned connection. A device that is not present (unmounted disk,
	// unreachable endpoint) returns an error.
	Connect(ctx context.Context) (Connection, error)
}

// Connection is an established session with a secondary device. All paths are
// project-root relative with forward slashes. Implementations need not be
// safe for concurrent use; the orchestrators serialize access per device.
type Connection interface {
	// ListProjects returns the names of projects that have data on the
	// device.
	ListProjects(ctx context.Context) ([]string, error)

	// ListFiles returns the paths of every content file actually stored
	// for a project, whether or not the manifest still references them.
	ListFiles(ctx context.Context, project string) ([]string, error)

	// WalkManifest visits the device's current manifest for a project in
	// path order. A project with no backup yields no calls and no error.
	WalkManifest(ctx context.Context, project string, fn func(index.ManifestEntry) error) error

	// WriteManifest replaces the device's manifest for a project.
	WriteManifest(ctx context.Context, project string, m *index.Manifest) error

	// Upload stores one file's content under the project.
	Upload(ctx context.Context, project, path string, r io.Reader, size int64) error

	// Download streams one file's content from the project into w.
	Download(ctx context.Context, project, path string, w io.Writer) error

	// Delete removes one file's content from the project. Deleting a path
	// that is already absent is not an error.
	Delete(ctx context.Context, project, path string) error

	// ReadLog returns the device's index log fragment. A device with no log
	// yields an empty slice. A fragment that cannot be decoded returns
	// index.CorruptionError.
	ReadLog(ctx context.Context) ([]index.Entry, error)

	// WriteLog replaces the device's index log fragment.
	WriteLog(ctx context.Context, entries []index.Entry) error

	Close() error
}

// DeviceOpener turns a registered device name into a usable SecondaryDevice.
// Openers do not touch the device; presence is only checked on Connect.
type DeviceOpener interface {
	Open(name string) (SecondaryDevice, error)
}

// Catalog is the durable local cache of index knowledge: every entry this
// host has ever seen plus the manifests behind Uploaded entries, keyed by
// hash. Appends are idempotent per entry identity.
type Catalog interface {
	AppendEntries(ctx context.Context, entries []index.Entry) error
	LoadEntries(ctx context.Context) ([]index.Entry, error)

	PutManifest(ctx context.Context, hash string, m *index.Manifest) error
	// GetManifest returns nil without error when the hash is unknown.
	GetManifest(ctx context.Context, hash string) (*index.Manifest, error)

	Close() error
}

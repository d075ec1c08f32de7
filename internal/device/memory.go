package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"bkp-go/internal/bkp"
	"bkp-go/internal/index"
)

// MemoryDevice is an in-memory implementation of the secondary device port.
// It stores all content, manifests and the index log in memory, making it
// useful for testing and dry runs. Safe for concurrent use.
type MemoryDevice struct {
	name      string
	content   map[string][]byte // "project/path" -> content
	manifests map[string][]byte // project -> encoded manifest
	log       []byte            // encoded index log fragment
	mu        sync.RWMutex

	// Unavailable makes Connect fail, simulating an unplugged device.
	Unavailable bool
}

// NewMemoryDevice creates a new in-memory device with the given name.
func NewMemoryDevice(name string) *MemoryDevice {
	return &MemoryDevice{
		name:      name,
		content:   make(map[string][]byte),
		manifests: make(map[string][]byte),
	}
}

// Connect hands out a connection to the in-memory state.
func (d *MemoryDevice) Connect(ctx context.Context) (bkp.Connection, error) {
	if d.Unavailable {
		return nil, fmt.Errorf("device %q is unavailable", d.name)
	}
	return &memoryConn{dev: d}, nil
}

func contentKey(project, path string) string {
	return project + "/" + path
}

type memoryConn struct {
	dev *MemoryDevice
}

var _ bkp.Connection = (*memoryConn)(nil)

func (c *memoryConn) ListProjects(ctx context.Context) ([]string, error) {
	c.dev.mu.RLock()
	defer c.dev.mu.RUnlock()

	seen := make(map[string]bool)
	for p := range c.dev.manifests {
		seen[p] = true
	}
	for k := range c.dev.content {
		if i := strings.IndexByte(k, '/'); i > 0 {
			seen[k[:i]] = true
		}
	}
	projects := make([]string, 0, len(seen))
	for p := range seen {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	return projects, nil
}

func (c *memoryConn) WalkManifest(ctx context.Context, project string, fn func(index.ManifestEntry) error) error {
	c.dev.mu.RLock()
	data, ok := c.dev.manifests[project]
	c.dev.mu.RUnlock()
	if !ok {
		return nil
	}
	m, err := index.DecodeManifest(bytes.NewReader(data))
	if err != nil {
		return &index.CorruptionError{StorageID: c.dev.name, Err: err}
	}
	for _, p := range m.Paths() {
		e, _ := m.Entry(p)
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *memoryConn) WriteManifest(ctx context.Context, project string, m *index.Manifest) error {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.manifests[project] = buf.Bytes()
	return nil
}

func (c *memoryConn) Upload(ctx context.Context, project, path string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.content[contentKey(project, path)] = data
	return nil
}

func (c *memoryConn) Download(ctx context.Context, project, path string, w io.Writer) error {
	c.dev.mu.RLock()
	data, ok := c.dev.content[contentKey(project, path)]
	c.dev.mu.RUnlock()
	if !ok {
		return fmt.Errorf("content not found: %s/%s", project, path)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

func (c *memoryConn) Delete(ctx context.Context, project, path string) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	delete(c.dev.content, contentKey(project, path))
	return nil
}

func (c *memoryConn) ListFiles(ctx context.Context, project string) ([]string, error) {
	c.dev.mu.RLock()
	defer c.dev.mu.RUnlock()

	prefix := project + "/"
	var files []string
	for k := range c.dev.content {
		if strings.HasPrefix(k, prefix) {
			files = append(files, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (c *memoryConn) ReadLog(ctx context.Context) ([]index.Entry, error) {
	c.dev.mu.RLock()
	data := c.dev.log
	c.dev.mu.RUnlock()
	if len(data) == 0 {
		return nil, nil
	}
	entries, err := index.DecodeFragment(bytes.NewReader(data))
	if err != nil {
		return nil, &index.CorruptionError{StorageID: c.dev.name, Err: err}
	}
	return entries, nil
}

func (c *memoryConn) WriteLog(ctx context.Context, entries []index.Entry) error {
	var buf bytes.Buffer
	if err := index.EncodeFragment(&buf, entries); err != nil {
		return fmt.Errorf("encoding device log: %w", err)
	}
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.log = buf.Bytes()
	return nil
}

func (c *memoryConn) Close() error {
	return nil
}

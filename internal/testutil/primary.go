package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"bkp-go/internal/bkp"
)

// MockFile represents a file in a mock project tree.
type MockFile struct {
	Content []byte
	ModTime time.Time
	Ctime   time.Time
}

// MockPrimaryDevice is an in-memory primary device. Project trees are
// scripted per root with AddFile and SetDirectives.
type MockPrimaryDevice struct {
	mu         sync.Mutex
	trees      map[string]map[string]*MockFile
	directives map[string][]bkp.Directive
}

// NewMockPrimaryDevice creates an empty mock primary device.
func NewMockPrimaryDevice() *MockPrimaryDevice {
	return &MockPrimaryDevice{
		trees:      make(map[string]map[string]*MockFile),
		directives: make(map[string][]bkp.Directive),
	}
}

// AddFile puts a file into the tree rooted at root. path is relative with
// forward slashes. The change time is set equal to modTime.
func (m *MockPrimaryDevice) AddFile(root, path string, content []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, ok := m.trees[root]
	if !ok {
		tree = make(map[string]*MockFile)
		m.trees[root] = tree
	}
	tree[path] = &MockFile{Content: content, ModTime: modTime, Ctime: modTime}
}

// RemoveFile deletes a file from the tree rooted at root.
func (m *MockPrimaryDevice) RemoveFile(root, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trees[root], path)
}

// SetDirectives scripts the tracking directives returned for root.
func (m *MockPrimaryDevice) SetDirectives(root string, directives []bkp.Directive) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directives[root] = directives
}

func (m *MockPrimaryDevice) WalkTree(ctx context.Context, root string, fn bkp.WalkFunc) error {
	m.mu.Lock()
	tree, ok := m.trees[root]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	entries := make([]bkp.TreeEntry, 0, len(paths))
	for _, p := range paths {
		f := tree[p]
		entries = append(entries, bkp.TreeEntry{
			Path:       p,
			Size:       int64(len(f.Content)),
			ModTime:    f.ModTime,
			ChangeTime: f.Ctime,
		})
	}
	m.mu.Unlock()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockPrimaryDevice) ReadDirectives(ctx context.Context, root string) ([]bkp.Directive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.directives[root], nil
}

func (m *MockPrimaryDevice) Open(ctx context.Context, root, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.trees[root][path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	return io.NopCloser(bytes.NewReader(f.Content)), nil
}

// Compile-time check
var _ bkp.PrimaryDevice = (*MockPrimaryDevice)(nil)

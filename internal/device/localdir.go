package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"

	"bkp-go/internal/bkp"
	"bkp-go/internal/index"
)

// LocalDirDevice stores backups in a mounted directory, typically an
// external disk or a network mount:
//
//	<root>/
//	  content/
//	    <project>/<path...>   (file content, mirroring the project tree)
//	  manifests/
//	    <project>             (the project's current manifest)
//	  index.log               (the device's index log fragment)
type LocalDirDevice struct {
	name string
	root string
}

// NewLocalDirDevice creates a device rooted at the given path. The path is
// not touched until Connect.
func NewLocalDirDevice(name, root string) (*LocalDirDevice, error) {
	if root == "" {
		return nil, fmt.Errorf("path required for localdir device")
	}
	return &LocalDirDevice{name: name, root: root}, nil
}

// Connect verifies the directory is present and prepares the layout. A
// missing root means the disk is not mounted.
func (d *LocalDirDevice) Connect(ctx context.Context) (bkp.Connection, error) {
	info, err := os.Stat(d.root)
	if err != nil {
		return nil, fmt.Errorf("device root not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("device root is not a directory: %s", d.root)
	}
	c := &localDirConn{
		name:        d.name,
		root:        d.root,
		contentDir:  filepath.Join(d.root, "content"),
		manifestDir: filepath.Join(d.root, "manifests"),
		logPath:     filepath.Join(d.root, "index.log"),
	}
	for _, dir := range []string{c.contentDir, c.manifestDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create device directory: %w", err)
		}
	}
	return c, nil
}

type localDirConn struct {
	name        string
	root        string
	contentDir  string
	manifestDir string
	logPath     string
}

var _ bkp.Connection = (*localDirConn)(nil)

func (c *localDirConn) contentPath(project, path string) (string, error) {
	rel := filepath.FromSlash(path)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("path escapes the device root: %q", path)
	}
	return filepath.Join(c.contentDir, project, rel), nil
}

func (c *localDirConn) ListProjects(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, dir := range []string{c.manifestDir, c.contentDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("listing device projects: %w", err)
		}
		for _, e := range entries {
			seen[e.Name()] = true
		}
	}
	projects := make([]string, 0, len(seen))
	for p := range seen {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	return projects, nil
}

func (c *localDirConn) WalkManifest(ctx context.Context, project string, fn func(index.ManifestEntry) error) error {
	f, err := os.Open(filepath.Join(c.manifestDir, project))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening device manifest: %w", err)
	}
	defer f.Close()

	m, err := index.DecodeManifest(f)
	if err != nil {
		return &index.CorruptionError{StorageID: c.name, Err: err}
	}
	for _, p := range m.Paths() {
		e, _ := m.Entry(p)
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *localDirConn) WriteManifest(ctx context.Context, project string, m *index.Manifest) error {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(c.manifestDir, project), &buf, int64(buf.Len()))
}

func (c *localDirConn) Upload(ctx context.Context, project, path string, r io.Reader, size int64) error {
	dest, err := c.contentPath(project, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create content directory: %w", err)
	}
	return writeFileAtomic(dest, r, size)
}

func (c *localDirConn) Download(ctx context.Context, project, path string, w io.Writer) error {
	src, err := c.contentPath(project, path)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("content not found: %s/%s", project, path)
		}
		return fmt.Errorf("failed to open content: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	return nil
}

func (c *localDirConn) Delete(ctx context.Context, project, path string) error {
	dest, err := c.contentPath(project, path)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}

func (c *localDirConn) ListFiles(ctx context.Context, project string) ([]string, error) {
	root := filepath.Join(c.contentDir, project)
	var files []string
	err := filepath.WalkDir(root, func(p string, de iofs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return filepath.SkipAll
			}
			return err
		}
		if de.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing device files: %w", err)
	}
	return files, nil
}

func (c *localDirConn) ReadLog(ctx context.Context) ([]index.Entry, error) {
	f, err := os.Open(c.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening device log: %w", err)
	}
	defer f.Close()

	entries, err := index.DecodeFragment(f)
	if err != nil {
		return nil, &index.CorruptionError{StorageID: c.name, Err: err}
	}
	return entries, nil
}

func (c *localDirConn) WriteLog(ctx context.Context, entries []index.Entry) error {
	var buf bytes.Buffer
	if err := index.EncodeFragment(&buf, entries); err != nil {
		return fmt.Errorf("encoding device log: %w", err)
	}
	return writeFileAtomic(c.logPath, &buf, int64(buf.Len()))
}

func (c *localDirConn) Close() error {
	return nil
}

// writeFileAtomic writes data from r to destPath via a temp file and rename,
// verifying the byte count against expectedSize.
func writeFileAtomic(destPath string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

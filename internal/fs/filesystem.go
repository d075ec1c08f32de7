// Package fs adapts the local filesystem as the primary device: it walks
// project trees, reads per-project directives and opens files for upload.
package fs

import (
	"context"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"

	"bkp-go/internal/bkp"
	"bkp-go/internal/config"
)

// OSPrimaryDevice is the real filesystem implementation of the primary
// device port.
type OSPrimaryDevice struct {
	ignore *IgnoreMatcher
}

var _ bkp.PrimaryDevice = (*OSPrimaryDevice)(nil)

// NewOSPrimaryDevice creates a primary device that operates on the real
// filesystem. Files matching an ignore pattern never show up in walks.
func NewOSPrimaryDevice(ignorePatterns []string) *OSPrimaryDevice {
	return &OSPrimaryDevice{ignore: NewIgnoreMatcher(ignorePatterns)}
}

// WalkTree visits every regular file under root in lexical order. Symlinks,
// devices and other special files are skipped, as are ignored paths.
func (d *OSPrimaryDevice) WalkTree(ctx context.Context, root string, fn bkp.WalkFunc) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project root is not a directory: %s", root)
	}

	return filepath.WalkDir(root, func(p string, de iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if de.IsDir() || !de.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relativizing %s: %w", p, err)
		}
		rel = filepath.ToSlash(rel)
		if d.ignore.Match(rel) {
			return nil
		}
		fi, err := de.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		return fn(bkp.TreeEntry{
			Path:       rel,
			Size:       fi.Size(),
			ModTime:    fi.ModTime(),
			ChangeTime: changeTime(fi),
		})
	})
}

// ReadDirectives loads the project's directives file from the tree root. A
// missing file yields no directives.
func (d *OSPrimaryDevice) ReadDirectives(ctx context.Context, root string) ([]bkp.Directive, error) {
	return config.ReadRulesFile(filepath.Join(root, config.RulesFileName))
}

// Open opens a project file for reading. Path is relative to root with
// forward slashes.
func (d *OSPrimaryDevice) Open(ctx context.Context, root, path string) (io.ReadCloser, error) {
	rel := filepath.FromSlash(path)
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("path escapes the project root: %q", path)
	}
	f, err := os.Open(filepath.Join(root, rel))
	if err != nil {
		return nil, err
	}
	return f, nil
}

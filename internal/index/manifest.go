// Package index holds the backup index core: per-file manifests capturing
// what a secondary device stores for a project, and the append-only event
// log merged across storages into a converged view.
package index

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ManifestEntry is the fingerprint of one backed-up file: change time,
// modification time (both unix milliseconds) and size. Two entries with
// equal fields describe the same file state.
type ManifestEntry struct {
	Path  string
	CTime uint64
	MTime uint64
	Size  uint64
}

// encode writes the entry's wire form: three little-endian u64 values
// followed by the path bytes and a newline.
func (e ManifestEntry) encode(w io.Writer) error {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], e.CTime)
	binary.LittleEndian.PutUint64(buf[8:16], e.MTime)
	binary.LittleEndian.PutUint64(buf[16:24], e.Size)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.Path); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Fingerprint returns a stable hex digest identifying the entry's path and
// recorded state. Removal tombstones carry this digest.
func (e ManifestEntry) Fingerprint() string {
	h := sha256.New()
	e.encode(h) // hash.Hash never errors
	return hex.EncodeToString(h.Sum(nil))
}

// Manifest is the set of file fingerprints captured for one (project,
// device) pair at upload time. Its canonical encoding is sorted by path,
// so equal manifests always hash identically.
type Manifest struct {
	entries map[string]ManifestEntry
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{entries: make(map[string]ManifestEntry)}
}

// Insert records a file fingerprint, replacing any previous entry for the
// path. Paths containing a newline cannot be encoded and are rejected.
func (m *Manifest) Insert(path string, ctime, mtime, size uint64) error {
	if path == "" {
		return fmt.Errorf("manifest entry path must not be empty")
	}
	if strings.ContainsRune(path, '\n') {
		return fmt.Errorf("manifest entry path contains newline: %q", path)
	}
	m.entries[path] = ManifestEntry{Path: path, CTime: ctime, MTime: mtime, Size: size}
	return nil
}

// Entry returns the fingerprint recorded for path.
func (m *Manifest) Entry(path string) (ManifestEntry, bool) {
	e, ok := m.entries[path]
	return e, ok
}

// HasChanged reports whether the given file state differs from the
// recorded fingerprint. Unknown paths always count as changed.
func (m *Manifest) HasChanged(path string, ctime, mtime, size uint64) bool {
	e, ok := m.entries[path]
	if !ok {
		return true
	}
	return e.CTime != ctime || e.MTime != mtime || e.Size != size
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// TotalSize returns the sum of all entry sizes in bytes.
func (m *Manifest) TotalSize() uint64 {
	var total uint64
	for _, e := range m.entries {
		total += e.Size
	}
	return total
}

// Paths returns all entry paths in sorted order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Encode writes the canonical (path-sorted) wire form of the manifest.
func (m *Manifest) Encode(w io.Writer) error {
	for _, p := range m.Paths() {
		if err := m.entries[p].encode(w); err != nil {
			return fmt.Errorf("encoding manifest entry %s: %w", p, err)
		}
	}
	return nil
}

// Hash returns the hex SHA-256 of the canonical encoding. An Uploaded
// index entry carries this digest to name the manifest it summarizes.
func (m *Manifest) Hash() string {
	h := sha256.New()
	m.Encode(h) // writes to hash.Hash never error
	return hex.EncodeToString(h.Sum(nil))
}

// DecodeManifest reads a manifest from its wire form. A truncated or
// malformed stream yields an error; callers treat that as a corrupt
// fragment and fall back to an empty manifest where the contract allows.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	m := NewManifest()
	br := bufio.NewReader(r)
	for {
		var buf [24]byte
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			if err == io.EOF {
				return m, nil
			}
			return nil, fmt.Errorf("reading manifest entry header: %w", err)
		}
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("reading manifest entry path: %w", err)
		}
		path := strings.TrimSuffix(line, "\n")
		if path == "" {
			return nil, fmt.Errorf("manifest entry with empty path")
		}
		m.entries[path] = ManifestEntry{
			Path:  path,
			CTime: binary.LittleEndian.Uint64(buf[0:8]),
			MTime: binary.LittleEndian.Uint64(buf[8:16]),
			Size:  binary.LittleEndian.Uint64(buf[16:24]),
		}
	}
}

// Diff lists the paths that changed between two manifests, each slice in
// sorted order.
type Diff struct {
	Added   []string // in new only
	Changed []string // in both, fingerprint differs
	Removed []string // in old only
}

// Empty reports whether the diff carries no work.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// DiffManifests compares the previously captured manifest against the
// manifest of the current tree.
func DiffManifests(old, current *Manifest) Diff {
	var d Diff
	for _, p := range current.Paths() {
		e := current.entries[p]
		if _, ok := old.entries[p]; !ok {
			d.Added = append(d.Added, p)
		} else if old.HasChanged(p, e.CTime, e.MTime, e.Size) {
			d.Changed = append(d.Changed, p)
		}
	}
	for _, p := range old.Paths() {
		if _, ok := current.entries[p]; !ok {
			d.Removed = append(d.Removed, p)
		}
	}
	return d
}

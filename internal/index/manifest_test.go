package index_test

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"strings"
	"testing"

	"bkp-go/internal/index"
)

func TestManifest_Hash(t *testing.T) {
	t.Run("same entries hash identically regardless of insert order", func(t *testing.T) {
		a := index.NewManifest()
		a.Insert("src/main.go", 10, 20, 30)
		a.Insert("README.md", 1, 2, 3)

		b := index.NewManifest()
		b.Insert("README.md", 1, 2, 3)
		b.Insert("src/main.go", 10, 20, 30)

		if a.Hash() != b.Hash() {
			t.Errorf("Hash() differs: %s vs %s", a.Hash(), b.Hash())
		}
	})

	t.Run("any field change changes the hash", func(t *testing.T) {
		base := index.NewManifest()
		base.Insert("file.txt", 1, 2, 3)

		variants := []struct {
			name               string
			ctime, mtime, size uint64
		}{
			{"ctime", 9, 2, 3},
			{"mtime", 1, 9, 3},
			{"size", 1, 2, 9},
		}
		for _, v := range variants {
			m := index.NewManifest()
			m.Insert("file.txt", v.ctime, v.mtime, v.size)
			if m.Hash() == base.Hash() {
				t.Errorf("changing %s did not change the hash", v.name)
			}
		}
	})

	t.Run("empty manifests hash equal", func(t *testing.T) {
		if index.NewManifest().Hash() != index.NewManifest().Hash() {
			t.Error("empty manifests should hash identically")
		}
	})
}

func TestManifest_Insert(t *testing.T) {
	t.Run("replaces previous entry for the same path", func(t *testing.T) {
		m := index.NewManifest()
		m.Insert("file.txt", 1, 2, 3)
		m.Insert("file.txt", 4, 5, 6)

		if m.Len() != 1 {
			t.Fatalf("Len() = %d, want 1", m.Len())
		}
		e, ok := m.Entry("file.txt")
		if !ok {
			t.Fatal("Entry() not found after insert")
		}
		if e.CTime != 4 || e.MTime != 5 || e.Size != 6 {
			t.Errorf("Entry() = %+v, want ctime=4 mtime=5 size=6", e)
		}
	})

	t.Run("rejects empty and newline paths", func(t *testing.T) {
		m := index.NewManifest()
		if err := m.Insert("", 1, 2, 3); err == nil {
			t.Error("expected error for empty path")
		}
		if err := m.Insert("a\nb", 1, 2, 3); err == nil {
			t.Error("expected error for path with newline")
		}
	})
}

func TestManifest_HasChanged(t *testing.T) {
	m := index.NewManifest()
	m.Insert("file.txt", 1, 2, 3)

	if m.HasChanged("file.txt", 1, 2, 3) {
		t.Error("HasChanged() = true for identical state")
	}
	if !m.HasChanged("file.txt", 1, 2, 4) {
		t.Error("HasChanged() = false for different size")
	}
	if !m.HasChanged("other.txt", 1, 2, 3) {
		t.Error("HasChanged() = false for unknown path")
	}
}

func TestManifest_TotalSize(t *testing.T) {
	m := index.NewManifest()
	m.Insert("a", 1, 1, 100)
	m.Insert("b", 1, 1, 250)

	if got := m.TotalSize(); got != 350 {
		t.Errorf("TotalSize() = %d, want 350", got)
	}
}

func TestManifest_Encode(t *testing.T) {
	t.Run("wire form is three LE u64 fields, path, newline", func(t *testing.T) {
		m := index.NewManifest()
		m.Insert("a.txt", 1, 2, 3)

		var buf bytes.Buffer
		if err := m.Encode(&buf); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}

		want := make([]byte, 0, 24+6)
		for _, v := range []uint64{1, 2, 3} {
			want = binary.LittleEndian.AppendUint64(want, v)
		}
		want = append(want, []byte("a.txt\n")...)

		if !bytes.Equal(buf.Bytes(), want) {
			t.Errorf("Encode() = %x, want %x", buf.Bytes(), want)
		}
	})

	t.Run("roundtrips through decode", func(t *testing.T) {
		m := index.NewManifest()
		m.Insert("src/deep/file.go", 111, 222, 333)
		m.Insert("top.txt", 7, 8, 9)

		var buf bytes.Buffer
		if err := m.Encode(&buf); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}

		got, err := index.DecodeManifest(&buf)
		if err != nil {
			t.Fatalf("DecodeManifest() error = %v", err)
		}
		if got.Hash() != m.Hash() {
			t.Errorf("decoded hash = %s, want %s", got.Hash(), m.Hash())
		}
		if !reflect.DeepEqual(got.Paths(), m.Paths()) {
			t.Errorf("decoded paths = %v, want %v", got.Paths(), m.Paths())
		}
	})
}

func TestDecodeManifest(t *testing.T) {
	t.Run("empty stream yields empty manifest", func(t *testing.T) {
		m, err := index.DecodeManifest(strings.NewReader(""))
		if err != nil {
			t.Fatalf("DecodeManifest() error = %v", err)
		}
		if m.Len() != 0 {
			t.Errorf("Len() = %d, want 0", m.Len())
		}
	})

	t.Run("truncated header is an error", func(t *testing.T) {
		if _, err := index.DecodeManifest(strings.NewReader("short")); err == nil {
			t.Error("expected error for truncated stream")
		}
	})

	t.Run("missing newline after path is an error", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write(make([]byte, 24))
		buf.WriteString("path-without-newline")
		if _, err := index.DecodeManifest(&buf); err == nil {
			t.Error("expected error for missing newline")
		}
	})
}

func TestManifestEntry_Fingerprint(t *testing.T) {
	e := index.ManifestEntry{Path: "a.txt", CTime: 1, MTime: 2, Size: 3}

	if e.Fingerprint() != e.Fingerprint() {
		t.Error("Fingerprint() is not stable")
	}
	other := index.ManifestEntry{Path: "a.txt", CTime: 1, MTime: 2, Size: 4}
	if e.Fingerprint() == other.Fingerprint() {
		t.Error("different states should fingerprint differently")
	}
}

func TestDiffManifests(t *testing.T) {
	t.Run("classifies added, changed and removed", func(t *testing.T) {
		old := index.NewManifest()
		old.Insert("keep.txt", 1, 1, 1)
		old.Insert("changed.txt", 1, 1, 1)
		old.Insert("gone.txt", 1, 1, 1)

		current := index.NewManifest()
		current.Insert("keep.txt", 1, 1, 1)
		current.Insert("changed.txt", 1, 2, 1)
		current.Insert("new.txt", 1, 1, 1)

		d := index.DiffManifests(old, current)

		if !reflect.DeepEqual(d.Added, []string{"new.txt"}) {
			t.Errorf("Added = %v, want [new.txt]", d.Added)
		}
		if !reflect.DeepEqual(d.Changed, []string{"changed.txt"}) {
			t.Errorf("Changed = %v, want [changed.txt]", d.Changed)
		}
		if !reflect.DeepEqual(d.Removed, []string{"gone.txt"}) {
			t.Errorf("Removed = %v, want [gone.txt]", d.Removed)
		}
	})

	t.Run("identical manifests diff empty", func(t *testing.T) {
		a := index.NewManifest()
		a.Insert("x", 1, 2, 3)
		b := index.NewManifest()
		b.Insert("x", 1, 2, 3)

		if d := index.DiffManifests(a, b); !d.Empty() {
			t.Errorf("Diff = %+v, want empty", d)
		}
	})

	t.Run("empty old manifest marks everything added", func(t *testing.T) {
		current := index.NewManifest()
		current.Insert("a", 1, 1, 1)
		current.Insert("b", 1, 1, 1)

		d := index.DiffManifests(index.NewManifest(), current)
		if len(d.Added) != 2 || len(d.Changed) != 0 || len(d.Removed) != 0 {
			t.Errorf("Diff = %+v, want two additions", d)
		}
	})
}

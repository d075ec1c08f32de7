package index_test

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"bkp-go/internal/index"
)

func TestEncodeFragment(t *testing.T) {
	t.Run("roundtrips through decode", func(t *testing.T) {
		entries := []index.Entry{
			entry("disk-a", "proj", 1000, "host-1", index.EventUploaded, "hash1"),
			entry("disk-a", "proj", 2000, "host-1", index.EventRemoved, "fp1"),
			entry("disk-b", "other proj", 1500, "host-2", index.EventUploaded, "hash2"),
		}

		var buf bytes.Buffer
		if err := index.EncodeFragment(&buf, entries); err != nil {
			t.Fatalf("EncodeFragment() error = %v", err)
		}

		got, err := index.DecodeFragment(&buf)
		if err != nil {
			t.Fatalf("DecodeFragment() error = %v", err)
		}
		if !reflect.DeepEqual(got, entries) {
			t.Errorf("roundtrip = %v, want %v", got, entries)
		}
	})

	t.Run("refuses malformed entries", func(t *testing.T) {
		bad := []index.Entry{entry("disk-a", "", 1000, "host-1", index.EventUploaded, "h")}
		if err := index.EncodeFragment(&bytes.Buffer{}, bad); err == nil {
			t.Error("expected error encoding malformed entry")
		}
	})

	t.Run("line layout is tab separated", func(t *testing.T) {
		var buf bytes.Buffer
		index.EncodeFragment(&buf, []index.Entry{
			entry("disk-a", "proj", 1000, "host-1", index.EventUploaded, "hash1"),
		})

		want := "1000\tdisk-a\thost-1\tproj\tuploaded\thash1\n"
		if buf.String() != want {
			t.Errorf("EncodeFragment() = %q, want %q", buf.String(), want)
		}
	})
}

func TestDecodeFragment(t *testing.T) {
	t.Run("empty input yields no entries", func(t *testing.T) {
		got, err := index.DecodeFragment(strings.NewReader(""))
		if err != nil {
			t.Fatalf("DecodeFragment() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("DecodeFragment() = %v, want empty", got)
		}
	})

	t.Run("blank lines are skipped", func(t *testing.T) {
		in := "\n1000\tdisk-a\thost-1\tproj\tuploaded\thash1\n\n"
		got, err := index.DecodeFragment(strings.NewReader(in))
		if err != nil {
			t.Fatalf("DecodeFragment() error = %v", err)
		}
		if len(got) != 1 {
			t.Errorf("DecodeFragment() len = %d, want 1", len(got))
		}
	})

	t.Run("malformed lines fail the whole fragment", func(t *testing.T) {
		cases := []struct {
			name string
			in   string
		}{
			{"too few fields", "1000\tdisk-a\thost-1\tproj\tuploaded\n"},
			{"too many fields", "1000\tdisk-a\thost-1\tproj\tuploaded\thash\textra\n"},
			{"bad timestamp", "soon\tdisk-a\thost-1\tproj\tuploaded\thash\n"},
			{"unknown event", "1000\tdisk-a\thost-1\tproj\tshredded\thash\n"},
			{"empty fingerprint after valid line", "1000\tdisk-a\thost-1\tproj\tuploaded\thash\n2000\tdisk-a\thost-1\tproj\tuploaded\t\n"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				if _, err := index.DecodeFragment(strings.NewReader(tc.in)); err == nil {
					t.Errorf("expected error for %s", tc.name)
				}
			})
		}
	})

	t.Run("timestamps decode to UTC milliseconds", func(t *testing.T) {
		got, err := index.DecodeFragment(strings.NewReader("1741590000123\tdisk-a\thost-1\tproj\tuploaded\thash\n"))
		if err != nil {
			t.Fatalf("DecodeFragment() error = %v", err)
		}
		if got[0].Timestamp.UnixMilli() != 1741590000123 {
			t.Errorf("Timestamp = %d, want 1741590000123", got[0].Timestamp.UnixMilli())
		}
	})
}

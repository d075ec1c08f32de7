package index

import (
	"fmt"
	"strings"
	"time"
)

// Event is the kind of backup event an index entry records.
type Event string

const (
	// EventUploaded records a completed backup batch; the entry's
	// fingerprint is the hash of the manifest the batch produced.
	EventUploaded Event = "uploaded"

	// EventRemoved is a per-path tombstone: the path left the tracked
	// tree and its secondary copy is superseded. Physical deletion is a
	// separate, deferred decision.
	EventRemoved Event = "removed"
)

// Entry is one immutable record in a storage's append-only index log.
// StorageID names the storage the event happened on; Origin names the
// storage that wrote the record. Entries are never edited or deleted,
// only superseded by later entries for the same (storage, project) pair.
type Entry struct {
	StorageID   string
	Project     string
	Event       Event
	Fingerprint string // manifest hash (uploaded) or file fingerprint (removed)
	Timestamp   time.Time
	Origin      string
}

// Identity returns the tuple that uniquely identifies an entry. Two
// entries with equal identity are the same record; merges treat them as
// no-ops.
func (e Entry) Identity() Identity {
	return Identity{
		StorageID: e.StorageID,
		Project:   e.Project,
		Timestamp: e.Timestamp.UnixMilli(),
		Origin:    e.Origin,
	}
}

// Identity is the comparable unique key of an entry.
type Identity struct {
	StorageID string
	Project   string
	Timestamp int64 // unix milliseconds
	Origin    string
}

// Validate checks that an entry is well formed for the log and its wire
// format: no empty fields, no tabs or newlines in names, a known event.
func (e Entry) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"storage id", e.StorageID},
		{"project", e.Project},
		{"fingerprint", e.Fingerprint},
		{"origin", e.Origin},
	} {
		if f.value == "" {
			return fmt.Errorf("index entry %s must not be empty", f.name)
		}
		if strings.ContainsAny(f.value, "\t\n") {
			return fmt.Errorf("index entry %s contains control characters: %q", f.name, f.value)
		}
	}
	if e.Event != EventUploaded && e.Event != EventRemoved {
		return fmt.Errorf("unknown index event: %q", e.Event)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("index entry timestamp must be set")
	}
	return nil
}

// samePayload reports whether two entries with equal identity also agree
// on event and fingerprint. Timestamps are compared at millisecond
// precision; monotonic clock readings and locations are ignored.
func (e Entry) samePayload(other Entry) bool {
	return e.Identity() == other.Identity() &&
		e.Event == other.Event &&
		e.Fingerprint == other.Fingerprint
}

// supersedes reports whether e wins over other as the current projection
// for a (storage, project) pair. Timestamps decide; ties fall back to
// origin then event so the projection is deterministic regardless of
// merge order. Timestamps never imply causal order across origins.
func (e Entry) supersedes(other Entry) bool {
	et, ot := e.Timestamp.UnixMilli(), other.Timestamp.UnixMilli()
	if et != ot {
		return et > ot
	}
	if e.Origin != other.Origin {
		return e.Origin > other.Origin
	}
	return e.Event > other.Event
}

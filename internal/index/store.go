package index

import (
	"fmt"
	"sort"
	"sync"
)

// CorruptionError reports a malformed log fragment. The fragment is
// rejected whole; merging other fragments proceeds.
type CorruptionError struct {
	StorageID string // storage the fragment came from, if known
	Err       error
}

func (e *CorruptionError) Error() string {
	if e.StorageID != "" {
		return fmt.Sprintf("corrupt index fragment from %s: %v", e.StorageID, e.Err)
	}
	return fmt.Sprintf("corrupt index fragment: %v", e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// MergeResult summarizes one fragment merge.
type MergeResult struct {
	Added      int // entries new to this store
	Duplicates int // entries already present by identity
}

// projectionKey addresses the current-state cache.
type projectionKey struct {
	StorageID string
	Project   string
}

// Store maintains per-storage append-only logs plus a derived projection
// of the current entry per (storage, project) pair. Appends and merges
// are guarded by a short-lived lock; the store is never locked across
// I/O. Reads return copies, so a snapshot is always a valid, possibly
// stale view.
//
// Merging is a set union keyed by entry identity: commutative,
// associative, and idempotent. History is retained in full for audit.
type Store struct {
	mu          sync.RWMutex
	logs        map[string][]Entry // storage id -> entries, sorted
	seen        map[Identity]Entry
	projections map[projectionKey]Entry
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		logs:        make(map[string][]Entry),
		seen:        make(map[Identity]Entry),
		projections: make(map[projectionKey]Entry),
	}
}

// Append adds a single entry to its storage's log. Returns false when the
// entry is an identity duplicate (a no-op). An identity collision with
// different content is corruption and is rejected.
func (s *Store) Append(e Entry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(e)
}

// AppendAll validates every entry first and then applies them all, so a
// malformed batch leaves the store untouched.
func (s *Store) AppendAll(entries []Entry) error {
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, err := s.appendLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendLocked(e Entry) (bool, error) {
	id := e.Identity()
	if existing, ok := s.seen[id]; ok {
		if !existing.samePayload(e) {
			return false, fmt.Errorf("index entry identity collision for %s/%s at %d from %s",
				e.StorageID, e.Project, id.Timestamp, e.Origin)
		}
		return false, nil
	}

	s.seen[id] = e
	log := append(s.logs[e.StorageID], e)
	// Keep per-storage logs timestamp-ordered; foreign entries may land
	// out of order relative to local appends.
	sort.SliceStable(log, func(i, j int) bool {
		return log[j].supersedes(log[i])
	})
	s.logs[e.StorageID] = log

	pk := projectionKey{StorageID: e.StorageID, Project: e.Project}
	if cur, ok := s.projections[pk]; !ok || e.supersedes(cur) {
		s.projections[pk] = e
	}
	return true, nil
}

// Merge applies a foreign fragment. The whole fragment is validated
// before anything is applied: a malformed entry or an identity collision
// rejects the fragment with a CorruptionError and leaves the store
// exactly as it was. Merging the same fragment twice is a no-op.
func (s *Store) Merge(storageID string, entries []Entry) (MergeResult, error) {
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return MergeResult{}, &CorruptionError{StorageID: storageID, Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Pre-check identity collisions against existing and in-fragment
	// entries so the apply phase below cannot fail halfway.
	inFragment := make(map[Identity]Entry, len(entries))
	for _, e := range entries {
		id := e.Identity()
		if existing, ok := s.seen[id]; ok && !existing.samePayload(e) {
			return MergeResult{}, &CorruptionError{
				StorageID: storageID,
				Err: fmt.Errorf("entry identity collision for %s/%s at %d from %s",
					e.StorageID, e.Project, id.Timestamp, e.Origin),
			}
		}
		if prev, ok := inFragment[id]; ok && !prev.samePayload(e) {
			return MergeResult{}, &CorruptionError{
				StorageID: storageID,
				Err:       fmt.Errorf("fragment contains conflicting entries for %s/%s", e.StorageID, e.Project),
			}
		}
		inFragment[id] = e
	}

	var res MergeResult
	for _, e := range entries {
		added, err := s.appendLocked(e)
		if err != nil {
			return res, &CorruptionError{StorageID: storageID, Err: err}
		}
		if added {
			res.Added++
		} else {
			res.Duplicates++
		}
	}
	return res, nil
}

// Query returns the latest known entry per storage for a project. The
// answer reflects only what this store has merged so far: authoritative
// for the local storage, advisory for everything else.
func (s *Store) Query(project string) map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Entry)
	for pk, e := range s.projections {
		if pk.Project == project {
			out[pk.StorageID] = e
		}
	}
	return out
}

// Latest returns the current projection for one (storage, project) pair.
func (s *Store) Latest(storageID, project string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.projections[projectionKey{StorageID: storageID, Project: project}]
	return e, ok
}

// LatestUploaded returns the most recent Uploaded entry for a (storage,
// project) pair, skipping newer tombstones. Restore anchors on this.
func (s *Store) LatestUploaded(storageID, project string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best Entry
	var found bool
	for _, e := range s.logs[storageID] {
		if e.Project == project && e.Event == EventUploaded {
			if !found || e.supersedes(best) {
				best, found = e, true
			}
		}
	}
	return best, found
}

// Entries returns a copy of one storage's log in timestamp order, ready
// to travel as a fragment.
func (s *Store) Entries(storageID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[storageID]
	out := make([]Entry, len(log))
	copy(out, log)
	return out
}

// All returns a copy of every entry the store holds, across storages,
// in a deterministic order. This is the fragment a storage hands to a
// peer: everything it knows, not only events about itself.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, id := range s.storageIDsLocked() {
		out = append(out, s.logs[id]...)
	}
	return out
}

// Storages lists the storage ids the store has entries for, sorted.
func (s *Store) Storages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storageIDsLocked()
}

func (s *Store) storageIDsLocked() []string {
	ids := make([]string, 0, len(s.logs))
	for id := range s.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// History returns every entry recorded for a project across storages,
// oldest first, for audit and debugging.
func (s *Store) History(project string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, log := range s.logs {
		for _, e := range log {
			if e.Project == project {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[j].supersedes(out[i])
	})
	return out
}

// Len returns the total number of entries across all logs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

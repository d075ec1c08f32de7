package index

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Fragment wire format: one entry per line, six tab-separated fields:
//
//	<unix ms>\t<storage>\t<origin>\t<project>\t<event>\t<fingerprint>
//
// Names never contain tabs or newlines (enforced on append), so the
// format needs no escaping. Fragments are opaque to adapters; only the
// core reads and writes them.

const fragmentFieldCount = 6

// EncodeFragment writes entries in the fragment wire format.
func EncodeFragment(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("refusing to encode malformed entry: %w", err)
		}
		fmt.Fprintf(bw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.UnixMilli(), e.StorageID, e.Origin, e.Project, e.Event, e.Fingerprint)
	}
	return bw.Flush()
}

// DecodeFragment reads a fragment, failing on the first malformed line.
// A decode failure means the whole fragment is rejected; the caller
// wraps the error in a CorruptionError with the source storage attached.
func DecodeFragment(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != fragmentFieldCount {
			return nil, fmt.Errorf("line %d: %d fields, want %d", lineNo, len(fields), fragmentFieldCount)
		}
		ms, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad timestamp %q", lineNo, fields[0])
		}
		e := Entry{
			Timestamp:   time.UnixMilli(ms).UTC(),
			StorageID:   fields[1],
			Origin:      fields[2],
			Project:     fields[3],
			Event:       Event(fields[4]),
			Fingerprint: fields[5],
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading fragment: %w", err)
	}
	return entries, nil
}

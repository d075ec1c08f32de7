// Package catalog persists this host's index knowledge: every entry ever
// merged plus the manifests behind Uploaded entries, in a local SQLite
// database.
package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bkp-go/internal/bkp"
	"bkp-go/internal/catalog/migrations"
	"bkp-go/internal/index"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements the catalog on a SQLite database.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

var _ bkp.Catalog = (*SQLiteCatalog)(nil)

// NewSQLiteCatalog opens (or creates) the catalog at path and migrates its
// schema. path can be a file path or ":memory:" for an in-memory catalog.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog: %w", err)
	}
	return &SQLiteCatalog{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a raw connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// SQLite gives every new connection its own ":memory:" database, and
	// concurrent writers on a file-backed catalog trip SQLITE_BUSY. One
	// connection serves both cases.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// AppendEntries stores index entries, ignoring ones the catalog already
// holds. The whole batch commits or none of it does.
func (c *SQLiteCatalog) AppendEntries(ctx context.Context, entries []index.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning catalog transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO index_entries
			(storage_id, project, ts_ms, origin, event, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing entry insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("refusing to persist invalid entry: %w", err)
		}
		_, err := stmt.ExecContext(ctx,
			e.StorageID, e.Project, e.Timestamp.UnixMilli(), e.Origin,
			string(e.Event), e.Fingerprint)
		if err != nil {
			return fmt.Errorf("inserting index entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index entries: %w", err)
	}
	return nil
}

// LoadEntries returns every entry the catalog holds, ordered by storage,
// timestamp and origin.
func (c *SQLiteCatalog) LoadEntries(ctx context.Context) ([]index.Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT storage_id, project, ts_ms, origin, event, fingerprint
		FROM index_entries
		ORDER BY storage_id, ts_ms, origin, event`)
	if err != nil {
		return nil, fmt.Errorf("querying index entries: %w", err)
	}
	defer rows.Close()

	var entries []index.Entry
	for rows.Next() {
		var (
			e     index.Entry
			tsMS  int64
			event string
		)
		if err := rows.Scan(&e.StorageID, &e.Project, &tsMS, &e.Origin, &event, &e.Fingerprint); err != nil {
			return nil, fmt.Errorf("scanning index entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(tsMS).UTC()
		e.Event = index.Event(event)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading index entries: %w", err)
	}
	return entries, nil
}

// PutManifest stores a manifest under its hash. Manifests are immutable per
// hash, so rewriting an existing one is a no-op.
func (c *SQLiteCatalog) PutManifest(ctx context.Context, hash string, m *index.Manifest) error {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO manifests (hash, content) VALUES (?, ?)`,
		hash, buf.Bytes())
	if err != nil {
		return fmt.Errorf("inserting manifest: %w", err)
	}
	return nil
}

// GetManifest returns the manifest stored under hash, or nil when the hash
// is unknown.
func (c *SQLiteCatalog) GetManifest(ctx context.Context, hash string) (*index.Manifest, error) {
	var content []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT content FROM manifests WHERE hash = ?`, hash).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying manifest: %w", err)
	}
	m, err := index.DecodeManifest(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("decoding stored manifest %s: %w", hash, err)
	}
	return m, nil
}

// Close closes the underlying database.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

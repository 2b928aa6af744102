package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the SQLite-backed Store.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dbPath with WAL mode enabled and
// runs the schema migration.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	// One writer at a time; readers go through WAL.
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Migrate creates all tables. Idempotent.
func (s *SQLite) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
  path            TEXT PRIMARY KEY,
  fingerprint     TEXT NOT NULL,
  source_kind     TEXT NOT NULL,
  parse_error     BOOLEAN DEFAULT FALSE,
  last_seen_at    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS fragments (
  path            TEXT PRIMARY KEY REFERENCES files(path) ON DELETE CASCADE,
  fingerprint     TEXT NOT NULL,
  blob            BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);
`

func (s *SQLite) Files(ctx context.Context) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, fingerprint, source_kind, parse_error, last_seen_at FROM files ORDER BY path",
	)
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	defer rows.Close()
	var files []FileRecord
	for rows.Next() {
		var f FileRecord
		var seen sql.NullTime
		if err := rows.Scan(&f.Path, &f.Fingerprint, &f.Kind, &f.ParseError, &seen); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.LastSeenAt = seen.Time
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLite) Fragment(ctx context.Context, path string) (*FragmentRecord, error) {
	r := &FragmentRecord{Path: path}
	err := s.db.QueryRowContext(ctx,
		"SELECT fingerprint, blob FROM fragments WHERE path = ?", path,
	).Scan(&r.Fingerprint, &r.Blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fragment by path: %w", err)
	}
	return r, nil
}

// Apply writes the batch in a single transaction.
func (s *SQLite) Apply(ctx context.Context, b *Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply: begin: %w", err)
	}
	defer tx.Rollback()

	for _, chunk := range chunks(b.Remove, maxArgs) {
		args := stringsToArgs(chunk)
		if _, err := tx.ExecContext(ctx, "DELETE FROM fragments WHERE path IN ("+placeholderList(len(chunk))+")", args...); err != nil {
			return fmt.Errorf("apply: remove fragments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE path IN ("+placeholderList(len(chunk))+")", args...); err != nil {
			return fmt.Errorf("apply: remove files: %w", err)
		}
	}

	for _, e := range b.Put {
		f := e.File
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO files (path, fingerprint, source_kind, parse_error, last_seen_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET fingerprint = excluded.fingerprint, source_kind = excluded.source_kind,
			   parse_error = excluded.parse_error, last_seen_at = excluded.last_seen_at`,
			f.Path, f.Fingerprint, f.Kind, f.ParseError, f.LastSeenAt.UTC(),
		); err != nil {
			return fmt.Errorf("apply: put file %s: %w", f.Path, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fragments (path, fingerprint, blob) VALUES (?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET fingerprint = excluded.fingerprint, blob = excluded.blob`,
			f.Path, f.Fingerprint, e.Blob,
		); err != nil {
			return fmt.Errorf("apply: put fragment %s: %w", f.Path, err)
		}
	}

	seen := b.SeenAt
	if seen.IsZero() {
		seen = time.Now()
	}
	for _, chunk := range chunks(b.Touch, maxArgs-1) {
		args := append([]any{seen.UTC()}, stringsToArgs(chunk)...)
		if _, err := tx.ExecContext(ctx, "UPDATE files SET last_seen_at = ? WHERE path IN ("+placeholderList(len(chunk))+")", args...); err != nil {
			return fmt.Errorf("apply: touch: %w", err)
		}
	}

	for _, k := range sortedKeys(b.Metadata) {
		if err := setMetadataTx(ctx, tx, k, b.Metadata[k]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply: commit: %w", err)
	}
	return nil
}

func (s *SQLite) Metadata(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("metadata %s: %w", key, err)
	}
	return v, nil
}

func (s *SQLite) SetMetadata(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set metadata: begin: %w", err)
	}
	defer tx.Rollback()
	if err := setMetadataTx(ctx, tx, key, value); err != nil {
		return err
	}
	return tx.Commit()
}

func setMetadataTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

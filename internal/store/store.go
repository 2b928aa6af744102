// Package store persists per-file graph fragments so that a restart only
// rebuilds files whose content changed. Two backends share one contract:
// SQLite (default) and Badger.
package store

import (
	"context"
	"fmt"
	"time"
)

// Metadata keys.
const (
	MetaBuilderVersion = "builder_version"
	MetaLastBuildAt    = "last_build_at"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// FileRecord is the persisted state of one File Unit.
type FileRecord struct {
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	Kind        string    `json:"kind"`
	ParseError  bool      `json:"parse_error"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// FragmentRecord is a stored fragment blob keyed by path and fingerprint.
type FragmentRecord struct {
	Path        string
	Fingerprint string
	Blob        []byte
}

// Entry pairs a file record with its encoded fragment.
type Entry struct {
	File FileRecord
	Blob []byte
}

// Batch is one atomic update of the store.
type Batch struct {
	Put    []Entry
	Remove []string
	// Touch refreshes last_seen_at for unchanged files.
	Touch    []string
	SeenAt   time.Time
	Metadata map[string]string
}

// Store is the persistent fragment cache. Implementations must apply a
// Batch atomically with respect to each file: a reader never sees a file
// record paired with another version's fragment.
type Store interface {
	// Files lists every stored file record.
	Files(ctx context.Context) ([]FileRecord, error)
	// Fragment returns the stored fragment for path, or nil if none.
	Fragment(ctx context.Context, path string) (*FragmentRecord, error)
	Apply(ctx context.Context, b *Batch) error
	// Metadata returns the value for key, or "" if unset.
	Metadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error
	Close() error
}

// Open opens the store at path using the named backend. An empty backend
// selects SQLite.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendSQLite:
		return NewSQLite(path)
	case BackendBadger:
		return NewBadger(path)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}

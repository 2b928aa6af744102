package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	file:{path} -> JSON(FileRecord)
//	frag:{path} -> {fingerprint}\x00{blob}
//	meta:{key}  -> value
const (
	filePrefix = "file:"
	fragPrefix = "frag:"
	metaPrefix = "meta:"
)

// Badger is the Badger-backed Store.
type Badger struct {
	db *badger.DB
}

// NewBadger opens (or creates) a Badger database in dir.
func NewBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

// Close closes the database.
func (s *Badger) Close() error {
	return s.db.Close()
}

func (s *Badger) Files(ctx context.Context) ([]FileRecord, error) {
	var files []FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(filePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var f FileRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			}); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			files = append(files, f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	return files, nil
}

func (s *Badger) Fragment(ctx context.Context, path string) (*FragmentRecord, error) {
	var rec *FragmentRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(fragPrefix + path))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		fp, blob, ok := bytes.Cut(val, []byte{0})
		if !ok {
			// Surfaces as a fingerprint mismatch, which the caller rebuilds.
			rec = &FragmentRecord{Path: path}
			return nil
		}
		rec = &FragmentRecord{Path: path, Fingerprint: string(fp), Blob: blob}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fragment by path: %w", err)
	}
	return rec, nil
}

// badgerOp is the unit that always lands in a single transaction.
type badgerOp struct {
	set  map[string][]byte
	dels []string
}

// Apply writes the batch in one transaction. A batch too large for a single
// Badger transaction is committed in pieces, and an op that overflows may
// land partly in one piece and whole in the next. Within an op fragments
// are written before file records, and fragments carry their fingerprint,
// so a torn batch leaves at most an orphan fragment and only ever reads
// back as a cache miss. Metadata is written last.
func (s *Badger) Apply(ctx context.Context, b *Batch) error {
	seen := b.SeenAt
	if seen.IsZero() {
		seen = time.Now()
	}

	var ops []badgerOp
	for _, p := range b.Remove {
		ops = append(ops, badgerOp{dels: []string{filePrefix + p, fragPrefix + p}})
	}
	for _, e := range b.Put {
		rec := e.File
		rec.LastSeenAt = rec.LastSeenAt.UTC()
		fileVal, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("apply: marshaling %s: %w", rec.Path, err)
		}
		fragVal := make([]byte, 0, len(rec.Fingerprint)+1+len(e.Blob))
		fragVal = append(fragVal, rec.Fingerprint...)
		fragVal = append(fragVal, 0)
		fragVal = append(fragVal, e.Blob...)
		ops = append(ops, badgerOp{set: map[string][]byte{
			filePrefix + rec.Path: fileVal,
			fragPrefix + rec.Path: fragVal,
		}})
	}
	touched, err := s.touched(b.Touch, seen)
	if err != nil {
		return fmt.Errorf("apply: touch: %w", err)
	}
	ops = append(ops, touched...)
	if len(b.Metadata) > 0 {
		meta := make(map[string][]byte, len(b.Metadata))
		for k, v := range b.Metadata {
			meta[metaPrefix+k] = []byte(v)
		}
		ops = append(ops, badgerOp{set: meta})
	}
	return s.write(ctx, ops)
}

func (s *Badger) touched(paths []string, seen time.Time) ([]badgerOp, error) {
	var ops []badgerOp
	err := s.db.View(func(txn *badger.Txn) error {
		for _, p := range paths {
			item, err := txn.Get([]byte(filePrefix + p))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var f FileRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &f) }); err != nil {
				return err
			}
			f.LastSeenAt = seen.UTC()
			val, err := json.Marshal(f)
			if err != nil {
				return err
			}
			ops = append(ops, badgerOp{set: map[string][]byte{filePrefix + p: val}})
		}
		return nil
	})
	return ops, err
}

func (s *Badger) write(ctx context.Context, ops []badgerOp) error {
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()
	for _, o := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := o.writeTo(txn)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return fmt.Errorf("apply: commit chunk: %w", err)
			}
			txn = s.db.NewTransaction(true)
			err = o.writeTo(txn)
		}
		if err != nil {
			return fmt.Errorf("apply: %w", err)
		}
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("apply: commit: %w", err)
	}
	return nil
}

func (o badgerOp) writeTo(t *badger.Txn) error {
	for _, k := range o.dels {
		if err := t.Delete([]byte(k)); err != nil {
			return err
		}
	}
	for _, k := range setOrder(o.set) {
		if err := t.Set([]byte(k), o.set[k]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Badger) Metadata(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("metadata %s: %w", key, err)
	}
	return v, nil
}

func (s *Badger) SetMetadata(ctx context.Context, key, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaPrefix+key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// setOrder lists the keys of set with fragments first, then the rest sorted.
func setOrder(set map[string][]byte) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		fi, fj := strings.HasPrefix(keys[i], fragPrefix), strings.HasPrefix(keys[j], fragPrefix)
		if fi != fj {
			return fi
		}
		return keys[i] < keys[j]
	})
	return keys
}

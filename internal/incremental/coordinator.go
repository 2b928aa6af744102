// Package incremental turns the current set of source files into a merged
// resolution graph, reusing stored fragments for files whose content has not
// changed and rebuilding the rest.
package incremental

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/graph"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/metrics"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/source"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/store"
)

var (
	// ErrBusy is returned when a run is already in progress.
	ErrBusy = errors.New("incremental: re-initialisation already in progress")
	// ErrBuildFailure marks a file excluded from the graph because it could
	// not be read or parsed at all.
	ErrBuildFailure = errors.New("incremental: build failure")
	// ErrNoSourceFiles is returned when not a single file could be processed.
	ErrNoSourceFiles = errors.New("incremental: no source files could be processed")
)

// DiagnosticKind classifies a per-file problem.
type DiagnosticKind string

const (
	DiagParseError      DiagnosticKind = "parse_error"
	DiagBuildFailure    DiagnosticKind = "build_failure"
	DiagStoreCorruption DiagnosticKind = "store_corruption"
)

// Diagnostic is a per-file problem that did not fail the run.
type Diagnostic struct {
	Path    string         `json:"path"`
	Kind    DiagnosticKind `json:"kind"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
}

// Stats counts what a run did with each file.
type Stats struct {
	Reused      int `json:"reused"`
	Rebuilt     int `json:"rebuilt"`
	Added       int `json:"added"`
	Removed     int `json:"removed"`
	Failed      int `json:"failed"`
	ParseErrors int `json:"parse_errors"`
	Corrupt     int `json:"corrupt"`
}

// Request is the input of one run: the loader's current view of the files.
type Request struct {
	Units []source.FileUnit
	// Unreadable files found by the loader. They are excluded and reported.
	Unreadable []source.Failure
}

// Result is the outcome of a successful run.
type Result struct {
	Graph       *graph.Graph
	Stats       Stats
	Diagnostics []Diagnostic
	Duration    time.Duration
}

// Options configures a Coordinator.
type Options struct {
	Workers int
	// CacheSize bounds the in-memory decoded fragment cache. Zero disables it.
	CacheSize int
	Logger    *slog.Logger
	Now       func() time.Time
}

// Coordinator owns the single writer of a Store.
type Coordinator struct {
	store   store.Store
	builder *graph.Builder
	cache   *lru.Cache[string, *graph.Fragment]
	workers int
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// New creates a Coordinator over s.
func New(s store.Store, b *graph.Builder, opts Options) (*Coordinator, error) {
	c := &Coordinator{
		store:   s,
		builder: b,
		workers: opts.Workers,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if c.workers <= 0 {
		c.workers = 1
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.now == nil {
		c.now = time.Now
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, *graph.Fragment](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("incremental: fragment cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

type action int

const (
	actReuse action = iota
	actChanged
	actAdded
)

// job is one file's slot in the run. Workers only write their own slot.
type job struct {
	unit   source.FileUnit
	action action

	frag    *graph.Fragment
	blob    []byte
	reused  bool
	corrupt error
	failure error
}

// Run performs one incremental pass:
//
//	Phase A (serial):   diff the units against the stored file records and classify.
//	Phase B (parallel): load reusable fragments, build changed and added ones.
//	Phase C (serial):   persist one batch, then merge in unit order.
//
// Cancellation is honoured until the end of Phase B. A run that fails
// leaves the store untouched.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Result, error) {
	if !c.mu.TryLock() {
		return nil, ErrBusy
	}
	defer c.mu.Unlock()
	start := c.now()

	// ---- Phase A: classify ----
	stored, err := c.store.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("incremental: reading stored files: %w", err)
	}
	version, err := c.store.Metadata(ctx, store.MetaBuilderVersion)
	if err != nil {
		return nil, fmt.Errorf("incremental: reading builder version: %w", err)
	}
	stale := len(stored) > 0 && version != graph.BuilderVersion
	if stale {
		c.logger.Info("builder version changed, rebuilding all fragments",
			slog.String("stored", version), slog.String("current", graph.BuilderVersion))
	}
	storedBy := make(map[string]store.FileRecord, len(stored))
	for _, rec := range stored {
		storedBy[rec.Path] = rec
	}

	jobs := make([]*job, len(req.Units))
	current := make(map[string]bool, len(req.Units))
	for i, u := range req.Units {
		current[u.Path] = true
		j := &job{unit: u, action: actAdded}
		if rec, ok := storedBy[u.Path]; ok {
			j.action = actChanged
			if !stale && rec.Fingerprint == u.Fingerprint {
				j.action = actReuse
			}
		}
		jobs[i] = j
	}

	// ---- Phase B: load or build ----
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if j.action == actReuse {
				frag, err := c.load(gctx, j.unit)
				if err == nil {
					j.frag, j.reused = frag, true
					return nil
				}
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if !errors.Is(err, graph.ErrCorrupt) {
					return fmt.Errorf("loading fragment %s: %w", j.unit.Path, err)
				}
				j.corrupt = err
			}
			return c.build(gctx, j)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("incremental: %w", err)
	}

	// ---- Phase C: persist and merge ----
	res := &Result{}
	for _, f := range req.Unreadable {
		res.Stats.Failed++
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Path:    f.Path,
			Kind:    DiagBuildFailure,
			Message: f.Err.Error(),
			Err:     fmt.Errorf("%w: %s: %w", ErrBuildFailure, f.Path, f.Err),
		})
	}

	seen := c.now()
	batch := &store.Batch{SeenAt: seen}
	frags := make([]*graph.Fragment, 0, len(jobs))
	for _, j := range jobs {
		if j.corrupt != nil {
			res.Stats.Corrupt++
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Path: j.unit.Path, Kind: DiagStoreCorruption, Message: j.corrupt.Error(), Err: j.corrupt,
			})
			c.logger.Warn("stored fragment unusable, rebuilt",
				slog.String("path", j.unit.Path), slog.Any("error", j.corrupt))
		}
		if j.failure != nil {
			res.Stats.Failed++
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Path: j.unit.Path, Kind: DiagBuildFailure, Message: j.failure.Error(), Err: j.failure,
			})
			c.logger.Warn("file omitted from graph",
				slog.String("path", j.unit.Path), slog.Any("error", j.failure))
			continue
		}
		frags = append(frags, j.frag)
		if j.frag.ParseError {
			res.Stats.ParseErrors++
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Path:    j.unit.Path,
				Kind:    DiagParseError,
				Message: "syntax errors, partial fragment kept",
				Err:     fmt.Errorf("%w: %s", graph.ErrParse, j.unit.Path),
			})
		}
		switch {
		case j.reused:
			res.Stats.Reused++
			batch.Touch = append(batch.Touch, j.unit.Path)
		case j.action == actAdded:
			res.Stats.Added++
		default:
			res.Stats.Rebuilt++
		}
		if j.blob != nil {
			batch.Put = append(batch.Put, store.Entry{
				File: store.FileRecord{
					Path:        j.frag.Path,
					Fingerprint: j.frag.Fingerprint,
					Kind:        string(j.frag.Kind),
					ParseError:  j.frag.ParseError,
					LastSeenAt:  seen,
				},
				Blob: j.blob,
			})
		}
	}
	unreadable := make(map[string]bool, len(req.Unreadable))
	for _, f := range req.Unreadable {
		unreadable[f.Path] = true
	}
	for _, rec := range stored {
		if current[rec.Path] {
			continue
		}
		batch.Remove = append(batch.Remove, rec.Path)
		// Unreadable files are dropped too but already counted as failed.
		if !unreadable[rec.Path] {
			res.Stats.Removed++
		}
	}

	if len(frags) == 0 {
		c.logger.Warn("no source files could be processed",
			slog.Int("units", len(req.Units)), slog.Int("failed", res.Stats.Failed))
		return nil, ErrNoSourceFiles
	}

	batch.Metadata = map[string]string{
		store.MetaBuilderVersion: graph.BuilderVersion,
		store.MetaLastBuildAt:    seen.UTC().Format(time.RFC3339Nano),
	}
	if err := c.store.Apply(context.WithoutCancel(ctx), batch); err != nil {
		return nil, fmt.Errorf("incremental: persisting batch: %w", err)
	}

	if c.cache != nil {
		for _, j := range jobs {
			if j.frag != nil {
				c.cache.Add(j.unit.Path, j.frag)
			}
		}
		for _, p := range batch.Remove {
			c.cache.Remove(p)
		}
	}

	res.Graph = graph.Merge(frags)
	res.Duration = c.now().Sub(start)

	metrics.AddFragments(metrics.OutcomeReused, res.Stats.Reused)
	metrics.AddFragments(metrics.OutcomeRebuilt, res.Stats.Rebuilt)
	metrics.AddFragments(metrics.OutcomeAdded, res.Stats.Added)
	metrics.AddFragments(metrics.OutcomeRemoved, res.Stats.Removed)
	metrics.AddFragments(metrics.OutcomeFailed, res.Stats.Failed)
	metrics.AddFragments(metrics.OutcomeCorrupt, res.Stats.Corrupt)

	c.logger.Info("graph merged",
		slog.Int("files", res.Graph.Len()),
		slog.Int("reused", res.Stats.Reused),
		slog.Int("rebuilt", res.Stats.Rebuilt),
		slog.Int("added", res.Stats.Added),
		slog.Int("removed", res.Stats.Removed),
		slog.Int("failed", res.Stats.Failed),
		slog.Int("parse_errors", res.Stats.ParseErrors),
		slog.Int("corrupt", res.Stats.Corrupt),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// load returns the stored fragment for u if it is still valid. Every
// mismatch is reported as graph.ErrCorrupt; store read failures are not.
func (c *Coordinator) load(ctx context.Context, u source.FileUnit) (*graph.Fragment, error) {
	if c.cache != nil {
		if f, ok := c.cache.Get(u.Path); ok && f.Fingerprint == u.Fingerprint {
			return f, nil
		}
	}
	rec, err := c.store.Fragment(ctx, u.Path)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: fragment missing for %s", graph.ErrCorrupt, u.Path)
	}
	if rec.Fingerprint != u.Fingerprint {
		return nil, fmt.Errorf("%w: stored fingerprint %q for %s, want %q", graph.ErrCorrupt, rec.Fingerprint, u.Path, u.Fingerprint)
	}
	f, err := graph.Decode(rec.Blob)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", u.Path, err)
	}
	if f.Path != u.Path || f.Fingerprint != u.Fingerprint {
		return nil, fmt.Errorf("%w: fragment for %s@%s stored under %s@%s",
			graph.ErrCorrupt, f.Path, f.Fingerprint, u.Path, u.Fingerprint)
	}
	return f, nil
}

// build reads, parses and encodes one file. Per-file problems land in
// j.failure; only cancellation is returned.
func (c *Coordinator) build(ctx context.Context, j *job) error {
	u := j.unit
	src, err := os.ReadFile(u.Path)
	if err != nil {
		j.failure = fmt.Errorf("%w: reading %s: %w", ErrBuildFailure, u.Path, err)
		return nil
	}
	meta := u.Meta()
	// The file may have changed since it was fingerprinted; the stored
	// fingerprint must describe the bytes actually built.
	meta.Fingerprint = source.Fingerprint(u.Origin, src)

	frag, err := c.builder.Build(ctx, meta, src)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		j.failure = fmt.Errorf("%w: %w", ErrBuildFailure, err)
		return nil
	}
	blob, err := graph.Encode(frag)
	if err != nil {
		j.failure = fmt.Errorf("%w: %w", ErrBuildFailure, err)
		return nil
	}
	j.frag, j.blob = frag, blob
	return nil
}

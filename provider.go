package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/config"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/graph"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/incremental"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/metrics"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/query"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/source"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/store"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/syntax"
)

var (
	// ErrNotInitialized is returned by queries issued before the first
	// successful Init.
	ErrNotInitialized = errors.New("provider: project may not be initialized")
	ErrInvalidQuery   = query.ErrInvalidQuery
	ErrBusy           = incremental.ErrBusy
	ErrNoSourceFiles  = incremental.ErrNoSourceFiles
	ErrBuildFailure   = incremental.ErrBuildFailure
)

// Provider owns one project's persistent cache and serves queries against
// the most recently merged graph.
type Provider struct {
	store   store.Store
	coord   *incremental.Coordinator
	logger  *slog.Logger
	cfg     config.Config
	backend string
	parser  syntax.Parser

	initMu   sync.Mutex
	snapshot atomic.Pointer[graph.Graph]
	lastReq  atomic.Pointer[InitRequest]
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the structured logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithWorkers bounds parallel fingerprinting and fragment builds.
func WithWorkers(n int) Option {
	return func(p *Provider) { p.cfg.Workers = n }
}

// WithStoreBackend selects store.BackendSQLite (default) or
// store.BackendBadger. For Badger, dbPath names a directory.
func WithStoreBackend(backend string) Option {
	return func(p *Provider) { p.backend = backend }
}

// WithCacheSize bounds the in-memory decoded fragment cache.
func WithCacheSize(n int) Option {
	return func(p *Provider) { p.cfg.CacheSize = n }
}

// WithParser replaces the tree-sitter parser.
func WithParser(ps syntax.Parser) Option {
	return func(p *Provider) { p.parser = ps }
}

// WithConfig sets the base configuration that each InitRequest's
// ProviderConfig is decoded onto.
func WithConfig(cfg config.Config) Option {
	return func(p *Provider) { p.cfg = cfg }
}

// New opens (or creates) the cache at dbPath.
func New(dbPath string, opts ...Option) (*Provider, error) {
	p := &Provider{cfg: config.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.parser == nil {
		p.parser = syntax.NewCSharp()
	}
	if p.backend == "" {
		p.backend = p.cfg.Store
	}
	if p.backend == "" {
		p.backend = store.BackendSQLite
	}
	if dir := filepath.Dir(dbPath); p.backend == store.BackendSQLite && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("provider: create cache directory: %w", err)
		}
	}

	s, err := store.Open(p.backend, dbPath)
	if err != nil {
		return nil, fmt.Errorf("provider: open store: %w", err)
	}
	coord, err := incremental.New(s, graph.NewBuilder(p.parser), incremental.Options{
		Workers:   p.cfg.Workers,
		CacheSize: p.cfg.CacheSize,
		Logger:    p.logger,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("provider: %w", err)
	}
	p.store = s
	p.coord = coord
	return p, nil
}

// Close releases the store. In-flight queries keep their snapshot.
func (p *Provider) Close() error {
	return p.store.Close()
}

// Capabilities lists the supported query capabilities.
func (p *Provider) Capabilities() []Capability {
	return SupportedCapabilities()
}

// SupportedCapabilities is Capabilities without an open provider.
func SupportedCapabilities() []Capability {
	return []Capability{{Name: CapabilityReferenced}}
}

// Init loads the project at req.Location, rebuilds what changed since the
// last run, and swaps in the new graph. On failure the previous graph keeps
// serving. A concurrent Init fails with ErrBusy.
func (p *Provider) Init(ctx context.Context, req InitRequest) (res *InitResult, err error) {
	if !p.initMu.TryLock() {
		return nil, ErrBusy
	}
	defer p.initMu.Unlock()
	start := time.Now()
	defer func() {
		metrics.ObserveInit(start, err)
		if err != nil {
			p.logger.Error("init failed", slog.String("location", req.Location), slog.Any("error", err))
		}
	}()

	cfg, err := config.FromMap(p.cfg, req.ProviderConfig)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	roots, err := rootsFor(req, cfg)
	if err != nil {
		return nil, err
	}

	loader := source.NewLoader(source.Options{
		Include: cfg.Include,
		Exclude: cfg.Exclude,
		Workers: cfg.Workers,
		Logger:  p.logger,
	})
	loaded, err := loader.Load(ctx, roots)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	run, err := p.coord.Run(ctx, incremental.Request{Units: loaded.Units, Unreadable: loaded.Failed})
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	p.snapshot.Store(run.Graph)
	p.lastReq.Store(&req)
	p.logger.Info("project initialised",
		slog.String("location", req.Location),
		slog.String("mode", modeOf(req)),
		slog.Int("files", run.Graph.Len()),
		slog.Duration("duration", time.Since(start)))
	return &InitResult{Files: run.Graph.Len(), Stats: run.Stats, Diagnostics: run.Diagnostics}, nil
}

// NotifyFileChanges re-runs Init with the last successful request.
func (p *Provider) NotifyFileChanges(ctx context.Context) (*InitResult, error) {
	req := p.lastReq.Load()
	if req == nil {
		return nil, ErrNotInitialized
	}
	return p.Init(ctx, *req)
}

// Location returns the project root of the last successful Init.
func (p *Provider) Location() string {
	if req := p.lastReq.Load(); req != nil {
		return req.Location
	}
	return ""
}

// GraphHash returns the digest of the served graph, or "" before Init.
func (p *Provider) GraphHash() string {
	g := p.snapshot.Load()
	if g == nil {
		return ""
	}
	return g.Hash()
}

// Evaluate compiles q and returns a lazy stream of matches over the current
// snapshot. Compilation errors and a missing snapshot are returned before
// the stream starts.
func (p *Provider) Evaluate(ctx context.Context, q Query) (iter.Seq2[MatchRecord, error], error) {
	g := p.snapshot.Load()
	if g == nil {
		return nil, ErrNotInitialized
	}
	c, err := query.Compile(q)
	if err != nil {
		return nil, err
	}
	return func(yield func(MatchRecord, error) bool) {
		metrics.ActiveQueries.Inc()
		defer metrics.ActiveQueries.Dec()
		start := time.Now()
		var (
			n      int
			runErr error
		)
		defer func() { metrics.ObserveQuery(start, n, runErr) }()
		for m, err := range c.Run(ctx, g) {
			if err != nil {
				runErr = err
				yield(MatchRecord{}, err)
				return
			}
			n++
			if !yield(m, nil) {
				return
			}
		}
	}, nil
}

func modeOf(req InitRequest) string {
	if req.AnalysisMode == "" {
		return ModeSourceOnly
	}
	return req.AnalysisMode
}

// rootsFor returns the project root followed, in full mode, by the
// configured dependency source directories. Relative dependency paths are
// taken relative to the project root.
func rootsFor(req InitRequest, cfg config.Config) ([]source.Root, error) {
	if req.Location == "" {
		return nil, fmt.Errorf("provider: init request has no location")
	}
	loc, err := filepath.Abs(req.Location)
	if err != nil {
		return nil, fmt.Errorf("provider: resolve location: %w", err)
	}
	roots := []source.Root{{Dir: loc, Kind: graph.SourceProject}}
	switch modeOf(req) {
	case ModeSourceOnly:
		return roots, nil
	case ModeFull:
	default:
		return nil, fmt.Errorf("provider: unknown analysis mode %q", req.AnalysisMode)
	}
	for _, d := range cfg.DependencySources {
		dir := d.Path
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(loc, dir)
		}
		roots = append(roots, source.Root{Dir: dir, Kind: graph.SourceDependency, Origin: d.Origin})
	}
	return roots, nil
}

// Package source enumerates the C# files that make up a project and, in
// full analysis mode, its decompiled dependency sources, and fingerprints
// their content.
package source

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/graph"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/syntax"
)

// FileUnit is one fingerprinted file. A content change produces a new
// FileUnit; values are never mutated.
type FileUnit struct {
	Path        string
	Fingerprint string
	Kind        graph.SourceKind
	Origin      string
	LastSeenAt  time.Time
}

// Meta returns the graph-side view of the unit.
func (u FileUnit) Meta() graph.FileMeta {
	return graph.FileMeta{Path: u.Path, Fingerprint: u.Fingerprint, Kind: u.Kind, Origin: u.Origin}
}

// Root is a directory to enumerate.
type Root struct {
	Dir    string
	Kind   graph.SourceKind
	Origin string
}

// Failure records a file that was discovered but could not be read.
type Failure struct {
	Path string
	Err  error
}

// Result is the outcome of Load. Units are in enumeration order: roots in
// the order given, paths sorted within each root.
type Result struct {
	Units  []FileUnit
	Failed []Failure
}

// Options configures a Loader.
type Options struct {
	// Include and Exclude are doublestar patterns matched against the path
	// relative to its root. An empty Include accepts every .cs file.
	Include []string
	Exclude []string
	Workers int
	Logger  *slog.Logger
	// Now is the clock used for LastSeenAt. Defaults to time.Now.
	Now func() time.Time
}

// Loader discovers and fingerprints source files.
type Loader struct {
	opts Options
}

// skipDirs are never descended into by the walk fallback.
var skipDirs = map[string]bool{
	"bin":          true,
	"obj":          true,
	"node_modules": true,
	"packages":     true,
}

// NewLoader returns a Loader with opts applied.
func NewLoader(opts Options) *Loader {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loader{opts: opts}
}

// Load enumerates every root and fingerprints the files found. A missing
// root is an error; an unreadable file is reported in Result.Failed. A path
// reachable from more than one root is kept once, under the first root.
func (l *Loader) Load(ctx context.Context, roots []Root) (*Result, error) {
	type pending struct {
		path string
		root Root
	}
	dirs := make([]string, len(roots))
	for i, r := range roots {
		dir, err := filepath.Abs(r.Dir)
		if err != nil {
			return nil, fmt.Errorf("source: resolve %s: %w", r.Dir, err)
		}
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("source: root %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("source: root %s is not a directory", dir)
		}
		dirs[i] = dir
	}

	var all []pending
	seen := make(map[string]bool)
	for i, r := range roots {
		paths, err := l.Discover(dirs[i], r.Kind == graph.SourceProject)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if seen[p] || nestedElsewhere(p, dirs[i], dirs) {
				continue
			}
			seen[p] = true
			all = append(all, pending{path: p, root: r})
		}
	}

	now := l.opts.Now()
	units := make([]FileUnit, len(all))
	errs := make([]error, len(all))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)
	for i, p := range all {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fp, err := FingerprintFile(p.path, p.root.Origin)
			if err != nil {
				errs[i] = err
				return nil
			}
			units[i] = FileUnit{
				Path:        p.path,
				Fingerprint: fp,
				Kind:        p.root.Kind,
				Origin:      p.root.Origin,
				LastSeenAt:  now,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("source: fingerprinting: %w", err)
	}

	res := &Result{Units: make([]FileUnit, 0, len(all))}
	for i, u := range units {
		if errs[i] != nil {
			l.opts.Logger.Warn("unreadable source file", slog.String("path", all[i].path), slog.Any("error", errs[i]))
			res.Failed = append(res.Failed, Failure{Path: all[i].path, Err: errs[i]})
			continue
		}
		res.Units = append(res.Units, u)
	}
	l.opts.Logger.Debug("source files loaded",
		slog.Int("roots", len(roots)),
		slog.Int("files", len(res.Units)),
		slog.Int("failed", len(res.Failed)))
	return res, nil
}

// nestedElsewhere reports whether p lies in another root nested inside
// own, e.g. dependency sources unpacked below the project directory.
func nestedElsewhere(p, own string, dirs []string) bool {
	for _, d := range dirs {
		if d == own || !strings.HasPrefix(d, own+string(filepath.Separator)) {
			continue
		}
		if strings.HasPrefix(p, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Discover returns the sorted absolute paths of the C# files under root that
// pass the include and exclude filters. For project roots inside a git
// work tree it asks git, which honours .gitignore; otherwise it walks the
// directory, honouring a .gitignore at the root if present.
func (l *Loader) Discover(root string, useGit bool) ([]string, error) {
	var (
		paths []string
		err   error
	)
	if useGit {
		paths, err = gitListFiles(root)
	}
	if !useGit || err != nil {
		paths, err = walkListFiles(root)
		if err != nil {
			return nil, err
		}
	}
	out := paths[:0]
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			continue
		}
		if l.accept(filepath.ToSlash(rel)) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (l *Loader) accept(rel string) bool {
	for _, pat := range l.opts.Exclude {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return false
		}
	}
	if len(l.opts.Include) == 0 {
		return true
	}
	for _, pat := range l.opts.Include {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

// gitListFiles lists tracked and untracked-but-not-ignored C# files.
func gitListFiles(root string) ([]string, error) {
	// -z disables path quoting, so non-ASCII names come back verbatim.
	cmd := exec.Command("git", "ls-files", "-z", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}
	var paths []string
	for _, line := range strings.Split(stdout.String(), "\x00") {
		if line == "" || !syntax.IsCSharp(line) {
			continue
		}
		abs := filepath.Join(root, line)
		// ls-files --cached still lists files deleted from the work tree.
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		paths = append(paths, abs)
	}
	return paths, nil
}

// walkListFiles walks root, skipping hidden and build output directories and
// anything matched by root/.gitignore.
func walkListFiles(root string) ([]string, error) {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		gi = nil
	}
	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		if d.IsDir() {
			if path == root {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return filepath.SkipDir
			}
			if gi != nil && gi.MatchesPath(filepath.ToSlash(rel)+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !syntax.IsCSharp(path) {
			return nil
		}
		if gi != nil && gi.MatchesPath(filepath.ToSlash(rel)) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: walk %s: %w", root, err)
	}
	return paths, nil
}

var hasherPool = sync.Pool{New: func() any { return xxh3.New() }}

// Fingerprint hashes content, prefixed by origin when non-empty, so the same
// decompiled bytes under a different package version fingerprint differently.
func Fingerprint(origin string, content []byte) string {
	h := hasherPool.Get().(*xxh3.Hasher)
	defer hasherPool.Put(h)
	h.Reset()
	if origin != "" {
		h.WriteString(origin)
		h.Write([]byte{0})
	}
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintFile is Fingerprint over the file at path, streamed.
func FingerprintFile(path, origin string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := hasherPool.Get().(*xxh3.Hasher)
	defer hasherPool.Put(h)
	h.Reset()
	if origin != "" {
		h.WriteString(origin)
		h.Write([]byte{0})
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

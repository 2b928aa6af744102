// Package query evaluates "referenced" queries against a resolution graph:
// every reference whose resolved target's fully-qualified name matches a
// regular expression, filtered by location kind and file path.
package query

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/graph"
)

// ErrInvalidQuery is returned by Compile before any traversal starts.
var ErrInvalidQuery = errors.New("invalid query")

// CapabilityReferenced is the only capability served.
const CapabilityReferenced = "referenced"

// Location restricts the syntactic context of a match.
type Location string

const (
	LocationAll    Location = "all"
	LocationMethod Location = "method"
	LocationField  Location = "field"
	LocationClass  Location = "class"
)

// ParseLocation accepts any casing; the empty string means all.
func ParseLocation(s string) (Location, error) {
	switch l := Location(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LocationAll, nil
	case LocationAll, LocationMethod, LocationField, LocationClass:
		return l, nil
	default:
		return "", fmt.Errorf("%w: unknown location %q", ErrInvalidQuery, s)
	}
}

// Query is an uncompiled request.
type Query struct {
	Capability string
	Pattern    string
	Location   Location
	// FilePaths limits the search to files equal to, under, or matching
	// (doublestar) one of the entries. Empty searches every file.
	FilePaths []string
	// IncludeDependencies also searches dependency sources. By default only
	// project files produce matches, though dependencies still resolve.
	IncludeDependencies bool
}

// Position is a 1-based line and 0-based column.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is a source range.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Match is one emitted record.
type Match struct {
	FileURI         string   `json:"file_uri"`
	Location        Range    `json:"location"`
	SourceType      string   `json:"source_type"`
	DeclarationKind string   `json:"declaration_kind,omitempty"`
	LocationKind    Location `json:"location_kind,omitempty"`
	FQN             string   `json:"fqn,omitempty"`
}

// Compiled is a validated query, safe for concurrent use.
type Compiled struct {
	re                  *regexp.Regexp
	location            Location
	filters             []string
	includeDependencies bool
}

// Compile validates q.
func Compile(q Query) (*Compiled, error) {
	if q.Capability != "" && q.Capability != CapabilityReferenced {
		return nil, fmt.Errorf("%w: unknown capability %q", ErrInvalidQuery, q.Capability)
	}
	if q.Pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidQuery)
	}
	re, err := regexp.Compile(q.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidQuery, q.Pattern, err)
	}
	loc, err := ParseLocation(string(q.Location))
	if err != nil {
		return nil, err
	}
	c := &Compiled{re: re, location: loc, includeDependencies: q.IncludeDependencies}
	for _, p := range q.FilePaths {
		p = strings.TrimPrefix(p, "file://")
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(filepath.ToSlash(p)) {
			return nil, fmt.Errorf("%w: file path pattern %q", ErrInvalidQuery, p)
		}
		c.filters = append(c.filters, filepath.ToSlash(p))
	}
	return c, nil
}

// Location reports the compiled location filter.
func (c *Compiled) Location() Location { return c.location }

// wantsFile reports whether path passes the file filters.
func (c *Compiled) wantsFile(path string) bool {
	if len(c.filters) == 0 {
		return true
	}
	path = filepath.ToSlash(path)
	rel := strings.TrimPrefix(path, "/")
	for _, f := range c.filters {
		if path == f || strings.HasPrefix(path, strings.TrimSuffix(f, "/")+"/") {
			return true
		}
		if strings.HasPrefix(f, "/") {
			if ok, _ := doublestar.Match(f, path); ok {
				return true
			}
			continue
		}
		// Relative entries match anywhere below the filesystem root.
		if ok, _ := doublestar.Match(f, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match("**/"+f, rel); ok {
			return true
		}
	}
	return false
}

// Run streams the matches in g: files in graph order, then by position
// within a file. The stream checks ctx between references and stops after
// yielding ctx.Err() once.
func (c *Compiled) Run(ctx context.Context, g *graph.Graph) iter.Seq2[Match, error] {
	return func(yield func(Match, error) bool) {
		r := graph.NewResolver(g)
		for i := range g.Len() {
			frag := g.Fragment(i)
			if frag.Kind == graph.SourceDependency && !c.includeDependencies {
				continue
			}
			if !c.wantsFile(frag.Path) {
				continue
			}
			var hits []Match
			for _, ref := range g.References(i) {
				if err := ctx.Err(); err != nil {
					yield(Match{}, err)
					return
				}
				if m, ok := c.match(r, g, graph.Handle{File: int32(i), Node: ref}); ok {
					hits = append(hits, m)
				}
			}
			for _, m := range Deduplicate(hits) {
				if err := ctx.Err(); err != nil {
					yield(Match{}, err)
					return
				}
				if !yield(m, nil) {
					return
				}
			}
		}
	}
}

// match resolves one reference and returns a record for the first target
// whose FQN matches and whose location kind passes the filter.
func (c *Compiled) match(r *graph.Resolver, g *graph.Graph, h graph.Handle) (Match, bool) {
	ref := g.Node(h)
	for _, target := range r.Resolve(h) {
		def := g.Node(target)
		if !c.re.MatchString(def.FQN) {
			continue
		}
		kind := locationKind(ref.Usage, def.Decl)
		if c.location != LocationAll && kind != c.location {
			continue
		}
		frag := g.Fragment(int(h.File))
		return Match{
			FileURI:         FileURI(frag.Path),
			Location:        toRange(ref.Span),
			SourceType:      string(frag.Kind),
			DeclarationKind: string(def.Decl),
			LocationKind:    kind,
			FQN:             def.FQN,
		}, true
	}
	return Match{}, false
}

// locationKind classifies a hit by how the reference is used and, for
// plain expressions, by what it binds to. Imports have no kind and only
// match LocationAll.
func locationKind(usage graph.Usage, decl graph.DeclKind) Location {
	switch usage {
	case graph.UsageInvocation:
		return LocationMethod
	case graph.UsageType:
		return LocationClass
	case graph.UsageExpression:
		switch {
		case decl.IsType():
			return LocationClass
		case decl == graph.DeclMethod:
			return LocationMethod
		case decl == graph.DeclField, decl == graph.DeclProperty, decl == graph.DeclEvent, decl == graph.DeclEnumMember:
			return LocationField
		}
	}
	return ""
}

// FileURI turns an absolute path into a file:// URI.
func FileURI(path string) string {
	if strings.HasPrefix(path, "file://") {
		return path
	}
	return "file://" + filepath.ToSlash(path)
}

func toRange(s graph.Span) Range {
	return Range{
		Start: Position{Line: s.StartLine + 1, Column: s.StartCol},
		End:   Position{Line: s.EndLine + 1, Column: s.EndCol},
	}
}

// Deduplicate keeps one match per (file, start line): the one spanning the
// fewest lines, then the earliest start column, then the earliest end
// column. The result is ordered by file in first-seen order, then line.
func Deduplicate(ms []Match) []Match {
	type key struct {
		file string
		line int
	}
	best := make(map[key]int, len(ms))
	var out []Match
	for _, m := range ms {
		k := key{m.FileURI, m.Location.Start.Line}
		i, ok := best[k]
		if !ok {
			best[k] = len(out)
			out = append(out, m)
			continue
		}
		if better(m, out[i]) {
			out[i] = m
		}
	}
	files := make(map[string]int)
	for _, m := range out {
		if _, ok := files[m.FileURI]; !ok {
			files[m.FileURI] = len(files)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		fa, fb := files[out[a].FileURI], files[out[b].FileURI]
		if fa != fb {
			return fa < fb
		}
		return out[a].Location.Start.Line < out[b].Location.Start.Line
	})
	return out
}

func better(a, b Match) bool {
	sa := a.Location.End.Line - a.Location.Start.Line
	sb := b.Location.End.Line - b.Location.Start.Line
	if sa != sb {
		return sa < sb
	}
	if a.Location.Start.Column != b.Location.Start.Column {
		return a.Location.Start.Column < b.Location.Start.Column
	}
	return a.Location.End.Column < b.Location.End.Column
}

package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/graph"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/syntax"
)

const (
	libSrc = `namespace App.Lib
{
    public class B
    {
        public int Count;
        public string Name { get; set; }
        public void Helper() {}
    }
}`
	useSrc = `using App.Lib;

namespace App
{
    public class A
    {
        private B field;

        public void Run()
        {
            var b = new B();
            b.Helper();
            var n = b.Count;
        }
    }
}`
)

type file struct {
	path string
	kind graph.SourceKind
	src  string
}

func buildGraph(t *testing.T, files ...file) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder(syntax.NewCSharp())
	var frags []*graph.Fragment
	for _, f := range files {
		frag, err := b.Build(context.Background(), graph.FileMeta{Path: f.path, Fingerprint: "fp", Kind: f.kind}, []byte(f.src))
		require.NoError(t, err)
		frags = append(frags, frag)
	}
	return graph.Merge(frags)
}

func projectGraph(t *testing.T) *graph.Graph {
	return buildGraph(t,
		file{"/p/Use.cs", graph.SourceProject, useSrc},
		file{"/p/Lib/B.cs", graph.SourceProject, libSrc},
	)
}

func collect(t *testing.T, q Query, g *graph.Graph) []Match {
	t.Helper()
	c, err := Compile(q)
	require.NoError(t, err)
	var out []Match
	for m, err := range c.Run(context.Background(), g) {
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func lines(ms []Match) []int {
	out := make([]int, len(ms))
	for i, m := range ms {
		out[i] = m.Location.Start.Line
	}
	return out
}

// =============================================================================
// Compile
// =============================================================================

func TestCompile_Invalid(t *testing.T) {
	t.Parallel()
	for name, q := range map[string]Query{
		"bad regex":          {Pattern: "App.(Lib"},
		"empty pattern":      {},
		"unknown location":   {Pattern: "App", Location: "constructor"},
		"unknown capability": {Capability: "dependency", Pattern: "App"},
		"bad file glob":      {Pattern: "App", FilePaths: []string{"src/[a"}},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Compile(q)
			require.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestParseLocation(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Location{
		"":       LocationAll,
		"ALL":    LocationAll,
		"Method": LocationMethod,
		"FIELD":  LocationField,
		"class":  LocationClass,
	} {
		got, err := ParseLocation(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

// =============================================================================
// Run
// =============================================================================

func TestRun_MethodInvocation(t *testing.T) {
	t.Parallel()
	got := collect(t, Query{Pattern: `^App\.Lib\.B\.Helper$`, Location: LocationMethod}, projectGraph(t))
	require.Len(t, got, 1)
	m := got[0]
	assert.Equal(t, "file:///p/Use.cs", m.FileURI)
	assert.Equal(t, 12, m.Location.Start.Line)
	assert.Equal(t, 14, m.Location.Start.Column)
	assert.Equal(t, "source", m.SourceType)
	assert.Equal(t, LocationMethod, m.LocationKind)
	assert.Equal(t, "method", m.DeclarationKind)
	assert.Equal(t, "App.Lib.B.Helper", m.FQN)
}

func TestRun_ClassReferences(t *testing.T) {
	t.Parallel()
	got := collect(t, Query{Pattern: `^App\.Lib\.B$`, Location: LocationClass}, projectGraph(t))
	// field type on line 7, object creation on line 11.
	assert.Equal(t, []int{7, 11}, lines(got))
	for _, m := range got {
		assert.Equal(t, LocationClass, m.LocationKind)
	}
}

func TestRun_FieldAccess(t *testing.T) {
	t.Parallel()
	got := collect(t, Query{Pattern: `App\.Lib\.B\.Count`, Location: LocationField}, projectGraph(t))
	assert.Equal(t, []int{13}, lines(got))
}

func TestRun_AllIncludesImports(t *testing.T) {
	t.Parallel()
	got := collect(t, Query{Pattern: `^App\.Lib$`}, projectGraph(t))
	require.NotEmpty(t, got)
	assert.Equal(t, 1, got[0].Location.Start.Line)
	assert.Empty(t, got[0].LocationKind)

	none := collect(t, Query{Pattern: `^App\.Lib$`, Location: LocationClass}, projectGraph(t))
	assert.Empty(t, none)
}

func TestRun_OrderedByFileThenLine(t *testing.T) {
	t.Parallel()
	g := buildGraph(t,
		file{"/p/Z.cs", graph.SourceProject, "namespace App { class Z { App.Lib.B b; void M() { b.Helper(); } } }"},
		file{"/p/Use.cs", graph.SourceProject, useSrc},
		file{"/p/Lib/B.cs", graph.SourceProject, libSrc},
	)
	got := collect(t, Query{Pattern: `App\.Lib\.B`}, g)
	require.NotEmpty(t, got)
	assert.Equal(t, "file:///p/Z.cs", got[0].FileURI)
	var sawUse bool
	for _, m := range got {
		if m.FileURI == "file:///p/Use.cs" {
			sawUse = true
			continue
		}
		assert.False(t, sawUse, "Z.cs matches after Use.cs matches")
	}
	for i := 1; i < len(got); i++ {
		if got[i].FileURI == got[i-1].FileURI {
			assert.Less(t, got[i-1].Location.Start.Line, got[i].Location.Start.Line)
		}
	}
}

func TestRun_FilePaths(t *testing.T) {
	t.Parallel()
	g := projectGraph(t)
	for name, paths := range map[string][]string{
		"exact":     {"/p/Use.cs"},
		"directory": {"/p"},
		"glob":      {"**/Use.cs"},
		"relative":  {"Use.cs"},
		"uri":       {"file:///p/Use.cs"},
	} {
		got := collect(t, Query{Pattern: `Helper`, FilePaths: paths}, g)
		assert.NotEmpty(t, got, name)
	}
	assert.Empty(t, collect(t, Query{Pattern: `Helper`, FilePaths: []string{"/p/Lib"}}, g))
}

func TestRun_DependenciesResolveButDoNotMatch(t *testing.T) {
	t.Parallel()
	g := buildGraph(t,
		file{"/p/Use.cs", graph.SourceProject, useSrc},
		file{"/deps/B.cs", graph.SourceDependency, libSrc + "\nnamespace App.Lib { class C { void M() { var x = new B(); x.Helper(); } } }"},
	)
	got := collect(t, Query{Pattern: `B\.Helper`}, g)
	for _, m := range got {
		assert.Equal(t, "file:///p/Use.cs", m.FileURI)
	}
	require.NotEmpty(t, got)

	all := collect(t, Query{Pattern: `B\.Helper`, IncludeDependencies: true}, g)
	assert.Greater(t, len(all), len(got))
}

func TestRun_UnresolvedNeverMatches(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, file{"/p/Use.cs", graph.SourceProject, useSrc})
	assert.Empty(t, collect(t, Query{Pattern: `App\.Lib\.B`}, g))
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()
	c, err := Compile(Query{Pattern: `Helper`})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var errs []error
	for _, err := range c.Run(ctx, projectGraph(t)) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

func TestRun_StopsWhenConsumerBreaks(t *testing.T) {
	t.Parallel()
	c, err := Compile(Query{Pattern: `App\.Lib\.B`})
	require.NoError(t, err)
	n := 0
	for range c.Run(context.Background(), projectGraph(t)) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestRun_Restartable(t *testing.T) {
	t.Parallel()
	g := projectGraph(t)
	q := Query{Pattern: `App\.Lib`}
	assert.Equal(t, collect(t, q, g), collect(t, q, g))
}

// =============================================================================
// Deduplicate
// =============================================================================

func rec(file string, startLine, startCol, endLine, endCol int) Match {
	return Match{
		FileURI:  file,
		Location: Range{Start: Position{startLine, startCol}, End: Position{endLine, endCol}},
	}
}

func TestDeduplicate_KeepsSmallestSpan(t *testing.T) {
	t.Parallel()
	got := Deduplicate([]Match{
		rec("file1.cs", 10, 0, 15, 0),
		rec("file1.cs", 10, 5, 10, 20),
		rec("file1.cs", 10, 0, 12, 0),
		rec("file2.cs", 20, 0, 21, 0),
	})
	require.Len(t, got, 2)
	assert.Equal(t, rec("file1.cs", 10, 5, 10, 20), got[0])
	assert.Equal(t, "file2.cs", got[1].FileURI)
}

func TestDeduplicate_PrefersEarlierColumnOnEqualSpan(t *testing.T) {
	t.Parallel()
	got := Deduplicate([]Match{
		rec("f.cs", 10, 15, 10, 30),
		rec("f.cs", 10, 5, 10, 30),
		rec("f.cs", 10, 5, 10, 25),
		rec("f.cs", 10, 10, 10, 20),
	})
	require.Len(t, got, 1)
	assert.Equal(t, rec("f.cs", 10, 5, 10, 25), got[0])
}

func TestDeduplicate_OrderIndependent(t *testing.T) {
	t.Parallel()
	a := rec("f.cs", 10, 0, 15, 0)
	b := rec("f.cs", 10, 5, 10, 20)
	c := rec("f.cs", 10, 0, 12, 0)
	want := []Match{b}
	for _, in := range [][]Match{{a, b, c}, {c, b, a}, {b, c, a}} {
		assert.Equal(t, want, Deduplicate(in))
	}
}

func TestDeduplicate_DifferentLinesKept(t *testing.T) {
	t.Parallel()
	got := Deduplicate([]Match{
		rec("AccountController.cs", 181, 16, 181, 30),
		rec("AccountController.cs", 179, 16, 179, 26),
		rec("AccountController.cs", 179, 12, 180, 5),
		rec("AccountController.cs", 180, 16, 180, 40),
	})
	assert.Equal(t, []int{179, 180, 181}, lines(got))
	assert.Equal(t, 16, got[0].Location.Start.Column)
}

package source

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/graph"
)

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func paths(units []FileUnit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Path
	}
	return out
}

// =============================================================================
// Fingerprint
// =============================================================================

func TestFingerprint_Deterministic(t *testing.T) {
	t.Parallel()
	a := Fingerprint("", []byte("class A {}"))
	assert.Len(t, a, 16)
	assert.Equal(t, a, Fingerprint("", []byte("class A {}")))
	assert.NotEqual(t, a, Fingerprint("", []byte("class B {}")))
}

func TestFingerprint_OriginChangesHash(t *testing.T) {
	t.Parallel()
	content := []byte("namespace Lib { class X {} }")
	assert.NotEqual(t, Fingerprint("Lib@1.0.0", content), Fingerprint("Lib@1.0.1", content))
	assert.NotEqual(t, Fingerprint("", content), Fingerprint("Lib@1.0.0", content))
}

func TestFingerprintFile_MatchesFingerprint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "A.cs", "class A {}")
	fp, err := FingerprintFile(p, "Lib@2")
	require.NoError(t, err)
	assert.Equal(t, Fingerprint("Lib@2", []byte("class A {}")), fp)

	_, err = FingerprintFile(filepath.Join(dir, "missing.cs"), "")
	require.Error(t, err)
}

// =============================================================================
// Discover
// =============================================================================

func TestDiscover_WalkFiltersAndSorts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "src/B.cs", "")
	writeFile(t, dir, "src/A.cs", "")
	writeFile(t, dir, "src/readme.md", "")
	writeFile(t, dir, "bin/Debug/Gen.cs", "")
	writeFile(t, dir, "obj/Gen.cs", "")
	writeFile(t, dir, ".hidden/H.cs", "")

	l := NewLoader(Options{})
	got, err := l.Discover(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "src/A.cs"),
		filepath.Join(dir, "src/B.cs"),
	}, got)
}

func TestDiscover_HonoursGitignoreWithoutGit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "Generated/\n*.Designer.cs\n")
	writeFile(t, dir, "A.cs", "")
	writeFile(t, dir, "Form.Designer.cs", "")
	writeFile(t, dir, "Generated/G.cs", "")

	got, err := NewLoader(Options{}).Discover(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "A.cs")}, got)
}

func TestDiscover_IncludeExclude(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "src/App/A.cs", "")
	writeFile(t, dir, "src/App/Tests/ATest.cs", "")
	writeFile(t, dir, "tools/T.cs", "")

	l := NewLoader(Options{Include: []string{"src/**"}, Exclude: []string{"**/Tests/**"}})
	got, err := l.Discover(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "src/App/A.cs")}, got)
}

func TestDiscover_GitKeepsNonASCIINames(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitInit := exec.Command("git", "init", "-q")
	gitInit.Dir = dir
	out, err := gitInit.CombinedOutput()
	require.NoError(t, err, string(out))
	writeFile(t, dir, "A.cs", "")
	writeFile(t, dir, "Café.cs", "")
	writeFile(t, dir, "Über/Straße.cs", "")

	got, err := NewLoader(Options{}).Discover(dir, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "A.cs"),
		filepath.Join(dir, "Café.cs"),
		filepath.Join(dir, "Über/Straße.cs"),
	}, got)
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_ProjectAndDependencies(t *testing.T) {
	t.Parallel()
	proj := t.TempDir()
	deps := t.TempDir()
	writeFile(t, proj, "B.cs", "class B {}")
	writeFile(t, proj, "A.cs", "class A {}")
	writeFile(t, deps, "Lib/X.cs", "namespace Lib { class X {} }")

	now := time.Unix(1700000000, 0)
	l := NewLoader(Options{Workers: 4, Now: func() time.Time { return now }})
	res, err := l.Load(context.Background(), []Root{
		{Dir: proj, Kind: graph.SourceProject},
		{Dir: deps, Kind: graph.SourceDependency, Origin: "Lib@1.0.0"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []string{
		filepath.Join(proj, "A.cs"),
		filepath.Join(proj, "B.cs"),
		filepath.Join(deps, "Lib/X.cs"),
	}, paths(res.Units))

	dep := res.Units[2]
	assert.Equal(t, graph.SourceDependency, dep.Kind)
	assert.Equal(t, "Lib@1.0.0", dep.Origin)
	assert.Equal(t, Fingerprint("Lib@1.0.0", []byte("namespace Lib { class X {} }")), dep.Fingerprint)
	assert.Equal(t, graph.SourceProject, res.Units[0].Kind)
	assert.True(t, res.Units[0].LastSeenAt.Equal(now))
}

func TestLoad_ContentChangeGivesNewFingerprint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "A.cs", "class A {}")
	l := NewLoader(Options{})
	ctx := context.Background()

	first, err := l.Load(ctx, []Root{{Dir: dir, Kind: graph.SourceProject}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte("class A { void M() {} }"), 0o644))
	second, err := l.Load(ctx, []Root{{Dir: dir, Kind: graph.SourceProject}})
	require.NoError(t, err)

	require.Len(t, first.Units, 1)
	require.Len(t, second.Units, 1)
	assert.NotEqual(t, first.Units[0].Fingerprint, second.Units[0].Fingerprint)
}

func TestLoad_MissingRoot(t *testing.T) {
	t.Parallel()
	_, err := NewLoader(Options{}).Load(context.Background(), []Root{{Dir: filepath.Join(t.TempDir(), "nope")}})
	require.Error(t, err)
}

func TestLoad_DuplicatePathKeptOnce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "A.cs", "class A {}")
	res, err := NewLoader(Options{}).Load(context.Background(), []Root{
		{Dir: dir, Kind: graph.SourceProject},
		{Dir: dir, Kind: graph.SourceDependency, Origin: "X@1"},
	})
	require.NoError(t, err)
	require.Len(t, res.Units, 1)
	assert.Equal(t, graph.SourceProject, res.Units[0].Kind)
}

func TestLoad_Cancelled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "A.cs", "class A {}")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader(Options{}).Load(ctx, []Root{{Dir: dir, Kind: graph.SourceProject}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoad_NestedDependencyRootKeepsItsKind(t *testing.T) {
	t.Parallel()
	proj := t.TempDir()
	writeFile(t, proj, "A.cs", "class A {}")
	writeFile(t, proj, "deps/Lib/X.cs", "class X {}")

	res, err := NewLoader(Options{}).Load(context.Background(), []Root{
		{Dir: proj, Kind: graph.SourceProject},
		{Dir: filepath.Join(proj, "deps"), Kind: graph.SourceDependency, Origin: "Lib@1"},
	})
	require.NoError(t, err)
	require.Len(t, res.Units, 2)
	assert.Equal(t, graph.SourceProject, res.Units[0].Kind)
	assert.Equal(t, graph.SourceDependency, res.Units[1].Kind)
	assert.Equal(t, filepath.Join(proj, "deps/Lib/X.cs"), res.Units[1].Path)
}

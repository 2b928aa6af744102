package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	provider "github.com/savitharaghunathan/c-sharp-analyzer-provider"
)

func TestFindRepoRoot_DirectGitDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	assert.Equal(t, root, findRepoRoot(root))
}

func TestFindRepoRoot_NestedSubdirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	deep := filepath.Join(root, "src", "Web")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	assert.Equal(t, root, findRepoRoot(deep))
}

func TestFindRepoRoot_NoGitAncestor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	assert.Equal(t, dir, findRepoRoot(dir))
}

func TestResolveTargetDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	got, err := resolveTargetDir([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	_, err = resolveTargetDir([]string{filepath.Join(dir, "missing")})
	require.Error(t, err)

	file := filepath.Join(dir, "A.cs")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = resolveTargetDir([]string{file})
	require.ErrorContains(t, err, "not a directory")
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	require.NoError(t, validateFormat("json"))
	require.NoError(t, validateFormat("text"))
	require.Error(t, validateFormat("xml"))
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()
	l, err := parseLogLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)
	l, err = parseLogLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)
	_, err = parseLogLevel("loud")
	require.Error(t, err)
}

// =============================================================================
// Text output
// =============================================================================

func TestOutputResultText_Matches(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	total := 1
	err := outputResultText(&buf, CLIResult{
		Command: "query",
		Results: []provider.MatchRecord{{
			FileURI:      "file:///src/B.cs",
			Location:     provider.Range{Start: provider.Position{Line: 8, Column: 13}},
			LocationKind: provider.LocationMethod,
			FQN:          "N.A.M",
		}},
		TotalCount: &total,
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "/src/B.cs:8:13")
	assert.Contains(t, buf.String(), "N.A.M")
	assert.Contains(t, buf.String(), "1 results")
}

func TestOutputResultText_Init(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	res := &provider.InitResult{
		Files: 3,
		Stats: provider.Stats{Reused: 2, Rebuilt: 1, ParseErrors: 1},
		Diagnostics: []provider.Diagnostic{
			{Path: "/src/Bad.cs", Kind: "parse_error", Message: "syntax errors"},
		},
	}
	require.NoError(t, outputResultText(&buf, CLIResult{Command: "init", Results: res}))
	out := buf.String()
	assert.Contains(t, out, "Files: 3")
	assert.Contains(t, out, "Reused: 2")
	assert.Contains(t, out, "Parse errors: 1")
	assert.Contains(t, out, "/src/Bad.cs")
}

func TestOutputResultText_Evaluate(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, outputResultText(&buf, CLIResult{Results: &provider.EvaluateResponse{Error: "unable to find referenced capability"}}))
	assert.Contains(t, buf.String(), "Unsuccessful")
}

func TestOutputResultText_Unsupported(t *testing.T) {
	t.Parallel()
	require.Error(t, outputResultText(&bytes.Buffer{}, CLIResult{Results: 42}))
}

// =============================================================================
// Watch refresh
// =============================================================================

func TestRefresher_UsesLastInit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.cs"), []byte("namespace N { class A {} }"), 0o644))
	p, err := provider.New(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer p.Close()

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	refresh := refresher(p, logger)
	require.ErrorIs(t, refresh(context.Background()), provider.ErrNotInitialized)

	_, err = p.Init(context.Background(), provider.InitRequest{Location: dir})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "B.cs"), []byte("namespace N { class B {} }"), 0o644))
	require.NoError(t, refresh(context.Background()))
	assert.Equal(t, dir, p.Location())
}

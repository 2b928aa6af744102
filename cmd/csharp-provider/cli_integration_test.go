package main_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBinary compiles the CLI into t.TempDir() and returns its path.
func buildBinary(t *testing.T) string {
	t.Helper()
	binName := "csharp-provider"
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}
	bin := filepath.Join(t.TempDir(), binName)
	cmd := exec.Command("go", "build", "-o", bin, ".")
	cmd.Dir = filepath.Join(projectRoot(t), "cmd", "csharp-provider")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "build failed: %s", string(out))
	return bin
}

// projectRoot walks up from this file to the directory holding go.mod.
func projectRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "runtime.Caller failed")
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, parent, dir, "could not find project root")
		dir = parent
	}
}

// createFixture writes a two-file C# project with a .git dir.
func createFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	files := map[string]string{
		"A.cs": "namespace N\n{\n    public class A\n    {\n        public void M() {}\n    }\n}\n",
		"B.cs": "namespace N\n{\n    class B\n    {\n        void Run()\n        {\n            var a = new A();\n            a.M();\n        }\n    }\n}\n",
	}
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	return dir
}

type cliResult struct {
	Command    string          `json:"command"`
	Results    json.RawMessage `json:"results"`
	TotalCount *int            `json:"total_count"`
	Error      string          `json:"error"`
}

func run(t *testing.T, bin, dir string, args ...string) (cliResult, error) {
	t.Helper()
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	var res cliResult
	require.NoError(t, json.Unmarshal(out, &res), "output: %s", string(out))
	return res, err
}

func TestCLI_InitThenQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	bin := buildBinary(t)
	dir := createFixture(t)

	res, err := run(t, bin, dir, "init")
	require.NoError(t, err)
	assert.Equal(t, "init", res.Command)
	var initRes struct {
		Files int `json:"files"`
		Added int `json:"added"`
	}
	require.NoError(t, json.Unmarshal(res.Results, &initRes))
	assert.Equal(t, 2, initRes.Files)
	assert.Equal(t, 2, initRes.Added)
	assert.FileExists(t, filepath.Join(dir, ".csharp-provider", "cache.db"))

	res, err = run(t, bin, dir, "query", `N\.A\.M`, "--location", "method")
	require.NoError(t, err)
	var matches []struct {
		FileURI  string `json:"file_uri"`
		Location struct {
			Start struct {
				Line int `json:"line"`
			} `json:"start"`
		} `json:"location"`
	}
	require.NoError(t, json.Unmarshal(res.Results, &matches))
	require.Len(t, matches, 1)
	assert.True(t, strings.HasSuffix(matches[0].FileURI, "/B.cs"))
	assert.Equal(t, 8, matches[0].Location.Start.Line)
}

func TestCLI_InvalidPatternReportsError(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	bin := buildBinary(t)
	dir := createFixture(t)

	res, err := run(t, bin, dir, "query", "N.(A")
	require.Error(t, err)
	assert.Equal(t, "query", res.Command)
	assert.Contains(t, res.Error, "invalid query")
}

func TestCLI_Evaluate(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	bin := buildBinary(t)
	dir := createFixture(t)
	cond := filepath.Join(t.TempDir(), "rule.yaml")
	require.NoError(t, os.WriteFile(cond, []byte("referenced:\n  pattern: N\\.A\n  location: CLASS\n"), 0o644))

	res, err := run(t, bin, dir, "evaluate", "--condition", cond)
	require.NoError(t, err)
	var resp struct {
		Successful bool              `json:"successful"`
		Matched    bool              `json:"matched"`
		Incidents  []json.RawMessage `json:"incidents"`
	}
	require.NoError(t, json.Unmarshal(res.Results, &resp))
	assert.True(t, resp.Successful)
	assert.True(t, resp.Matched)
	assert.Len(t, resp.Incidents, 1)
}

package provider

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden test format.
type goldenFile struct {
	Queries []goldenQuery `json:"queries"`
}

type goldenQuery struct {
	Pattern  string        `json:"pattern"`
	Location string        `json:"location"`
	Matches  []goldenMatch `json:"matches"`
}

type goldenMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	FQN  string `json:"fqn"`
}

// TestGolden walks testdata/{language}/ directories, initialises each
// level's src/ as a project and checks every query against golden.json.
func TestGolden(t *testing.T) {
	langDirs, err := os.ReadDir("testdata")
	if err != nil {
		t.Skip("no testdata directory found")
	}

	for _, langDir := range langDirs {
		if !langDir.IsDir() {
			continue
		}
		lang := langDir.Name()
		langRoot := filepath.Join("testdata", lang)
		levels, err := os.ReadDir(langRoot)
		if err != nil {
			continue
		}

		for _, level := range levels {
			if !level.IsDir() {
				continue
			}
			testDir := filepath.Join(langRoot, level.Name())
			goldenPath := filepath.Join(testDir, "golden.json")
			srcDir := filepath.Join(testDir, "src")

			if _, err := os.Stat(goldenPath); err != nil {
				continue
			}
			if _, err := os.Stat(srcDir); err != nil {
				continue
			}

			t.Run(lang+"/"+level.Name(), func(t *testing.T) {
				t.Parallel()
				runGoldenTest(t, srcDir, goldenPath)
			})
		}
	}
}

func runGoldenTest(t *testing.T, srcDir, goldenPath string) {
	t.Helper()

	goldenData, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	var golden goldenFile
	require.NoError(t, json.Unmarshal(goldenData, &golden))

	abs, err := filepath.Abs(srcDir)
	require.NoError(t, err)
	p := newTestProvider(t)
	_, err = p.Init(context.Background(), InitRequest{Location: abs})
	require.NoError(t, err)

	for _, q := range golden.Queries {
		t.Run(q.Location+" "+q.Pattern, func(t *testing.T) {
			got := drain(t, p, Query{Pattern: q.Pattern, Location: Location(q.Location)})
			actual := make([]goldenMatch, 0, len(got))
			for _, m := range got {
				actual = append(actual, goldenMatch{
					File: filepath.Base(m.FileURI),
					Line: m.Location.Start.Line,
					FQN:  m.FQN,
				})
			}
			assert.ElementsMatch(t, q.Matches, actual)
		})
	}
}

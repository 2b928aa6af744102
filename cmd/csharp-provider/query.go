package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	provider "github.com/savitharaghunathan/c-sharp-analyzer-provider"
)

var (
	flagLocation    string
	flagFilePaths   []string
	flagIncludeDeps bool
	flagCondition   string
)

var queryCmd = &cobra.Command{
	Use:   "query <pattern> [path]",
	Short: "Find references whose resolved target matches a regular expression",
	Long:  "Refreshes the cache for the project, then streams every reference whose fully qualified target matches <pattern>. Lines are 1-based.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&flagLocation, "location", "", "reference kind: METHOD|FIELD|CLASS (default: all)")
	queryCmd.Flags().StringSliceVar(&flagFilePaths, "file-path", nil, "restrict to files or globs (repeatable)")
	queryCmd.Flags().BoolVar(&flagIncludeDeps, "include-deps", false, "also report references inside dependency sources")

	evaluateCmd.Flags().StringVar(&flagCondition, "condition", "-", "YAML condition file, or - for stdin")
}

func runQuery(cmd *cobra.Command, args []string) error {
	proj, err := openProject(args[1:])
	if err != nil {
		return outputError("query", err)
	}
	defer proj.provider.Close()
	p := proj.provider

	ctx := cmd.Context()
	if _, err := p.Init(ctx, proj.req); err != nil {
		return outputError("query", err)
	}
	seq, err := p.Evaluate(ctx, provider.Query{
		Capability:          provider.CapabilityReferenced,
		Pattern:             args[0],
		Location:            provider.Location(strings.ToUpper(flagLocation)),
		FilePaths:           flagFilePaths,
		IncludeDependencies: flagIncludeDeps,
	})
	if err != nil {
		return outputError("query", err)
	}

	matches := []provider.MatchRecord{}
	for m, err := range seq {
		if err != nil {
			return outputError("query", err)
		}
		matches = append(matches, m)
	}
	total := len(matches)
	return outputResult(CLIResult{Command: "query", Results: matches, TotalCount: &total})
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [path]",
	Short: "Evaluate a referenced condition and report incidents",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	condition, err := readCondition(flagCondition)
	if err != nil {
		return outputError("evaluate", err)
	}
	proj, err := openProject(args)
	if err != nil {
		return outputError("evaluate", err)
	}
	defer proj.provider.Close()
	p := proj.provider

	ctx := cmd.Context()
	if _, err := p.Init(ctx, proj.req); err != nil {
		return outputError("evaluate", err)
	}
	resp, err := p.EvaluateCondition(ctx, provider.CapabilityReferenced, condition)
	if err != nil {
		return outputError("evaluate", err)
	}
	return outputResult(CLIResult{Command: "evaluate", Results: resp})
}

func readCondition(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading condition: %w", err)
	}
	return string(data), nil
}

// outputError writes err in the selected format and marks it handled.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(CLIResult{Command: command, Error: err.Error()}); encErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	return err
}

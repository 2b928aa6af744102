package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	provider "github.com/savitharaghunathan/c-sharp-analyzer-provider"
)

// CLIResult is the top-level JSON envelope for every command.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(os.Stdout, result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// formatMatchesText formats matches as "file:line:col  kind  fqn" lines.
func formatMatchesText(w io.Writer, matches []provider.MatchRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, m := range matches {
		kind := string(m.LocationKind)
		if kind == "" {
			kind = "-"
		}
		fmt.Fprintf(tw, "%s:%d:%d\t%s\t%s\n",
			strings.TrimPrefix(m.FileURI, "file://"), m.Location.Start.Line, m.Location.Start.Column, kind, m.FQN)
	}
	tw.Flush()
}

func formatInitText(w io.Writer, res *provider.InitResult) {
	fmt.Fprintf(w, "Files: %d\n", res.Files)
	fmt.Fprintf(w, "Reused: %d  Rebuilt: %d  Added: %d  Removed: %d\n",
		res.Reused, res.Rebuilt, res.Added, res.Removed)
	if res.Failed > 0 || res.ParseErrors > 0 || res.Corrupt > 0 {
		fmt.Fprintf(w, "Failed: %d  Parse errors: %d  Corrupt: %d\n",
			res.Failed, res.ParseErrors, res.Corrupt)
	}
	if len(res.Diagnostics) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tPATH\tMESSAGE")
		for _, d := range res.Diagnostics {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Kind, d.Path, d.Message)
		}
		tw.Flush()
	}
}

func formatEvaluateText(w io.Writer, resp *provider.EvaluateResponse) {
	if !resp.Successful {
		fmt.Fprintf(w, "Unsuccessful: %s\n", resp.Error)
		return
	}
	fmt.Fprintf(w, "Matched: %t (%d incidents)\n", resp.Matched, len(resp.Incidents))
	formatMatchesText(w, resp.Incidents)
}

// outputResultText dispatches to the text formatter for the result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []provider.MatchRecord:
		formatMatchesText(w, v)
	case *provider.InitResult:
		formatInitText(w, v)
	case *provider.EvaluateResponse:
		formatEvaluateText(w, v)
	case []provider.Capability:
		for _, c := range v {
			fmt.Fprintln(w, c.Name)
		}
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	if result.TotalCount != nil {
		fmt.Fprintf(w, "\n%d results\n", *result.TotalCount)
	}
	return nil
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}

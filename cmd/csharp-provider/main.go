package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	provider "github.com/savitharaghunathan/c-sharp-analyzer-provider"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/config"
)

var (
	flagDB       string
	flagFormat   string
	flagConfig   string
	flagLogLevel string
	flagStore    string
	flagMode     string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "csharp-provider",
	Short:         "Structural reference search for C# projects",
	Long:          "Builds a persistent, incrementally updated name-resolution graph of a C# project and answers \"referenced\" queries against it.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		_, err := parseLogLevel(flagLogLevel)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "cache path (default: .csharp-provider/cache.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML provider config (default: .csharp-provider/config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "cache backend: sqlite|badger")
	rootCmd.PersistentFlags().StringVar(&flagMode, "mode", provider.ModeSourceOnly, "analysis mode: source-only|full")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(capabilitiesCmd)
	rootCmd.AddCommand(watchCmd)
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Build or refresh the resolution graph cache",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	proj, err := openProject(args)
	if err != nil {
		return outputError("init", err)
	}
	defer proj.provider.Close()

	res, err := proj.provider.Init(cmd.Context(), proj.req)
	if err != nil {
		return outputError("init", err)
	}
	fmt.Fprintf(os.Stderr, "Initialised %s (%d files)\n", proj.req.Location, res.Files)
	return outputResult(CLIResult{Command: "init", Results: res})
}

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "List supported query capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return outputResult(CLIResult{Command: "capabilities", Results: provider.SupportedCapabilities()})
	},
}

// project bundles what every command resolves from flags.
type project struct {
	provider *provider.Provider
	req      provider.InitRequest
	cfg      config.Config
	logger   *slog.Logger
}

// openProject resolves the project, cache and config from flags and opens
// a provider for it.
func openProject(args []string) (*project, error) {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return nil, err
	}
	repoRoot := findRepoRoot(targetDir)

	cfgPath := resolveConfigPath(repoRoot)
	if flagConfig != "" {
		if _, err := os.Stat(cfgPath); err != nil {
			return nil, fmt.Errorf("config not found: %s", cfgPath)
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger()

	opts := []provider.Option{provider.WithConfig(cfg), provider.WithLogger(logger)}
	if flagStore != "" {
		opts = append(opts, provider.WithStoreBackend(flagStore))
	}
	p, err := provider.New(resolveDBPath(repoRoot), opts...)
	if err != nil {
		return nil, err
	}
	return &project{
		provider: p,
		req:      provider.InitRequest{Location: targetDir, AnalysisMode: flagMode},
		cfg:      cfg,
		logger:   logger,
	}, nil
}

func newLogger() *slog.Logger {
	level, _ := parseLogLevel(flagLogLevel)
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolveTargetDir returns the absolute path of the project directory.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the cache path from the --db flag or the default.
func resolveDBPath(repoRoot string) string {
	if flagDB != "" {
		if filepath.IsAbs(flagDB) {
			return flagDB
		}
		return filepath.Join(repoRoot, flagDB)
	}
	return filepath.Join(repoRoot, ".csharp-provider", "cache.db")
}

func resolveConfigPath(repoRoot string) string {
	if flagConfig != "" {
		if filepath.IsAbs(flagConfig) {
			return flagConfig
		}
		return filepath.Join(repoRoot, flagConfig)
	}
	return filepath.Join(repoRoot, ".csharp-provider", "config.yaml")
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: must be debug, info, warn or error", s)
	}
	return level, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	provider "github.com/savitharaghunathan/c-sharp-analyzer-provider"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/watch"
)

var (
	flagMetricsAddr string
	flagDebounce    time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Keep the cache current while sources change",
	Long:  "Initialises the project, then refreshes the cache after each burst of .cs changes. Optionally serves Prometheus metrics.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve /metrics on this address (e.g. :9090)")
	watchCmd.Flags().DurationVar(&flagDebounce, "debounce", 0, "quiet period before refreshing (default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	proj, err := openProject(args)
	if err != nil {
		return outputError("watch", err)
	}
	defer proj.provider.Close()
	p, req, logger := proj.provider, proj.req, proj.logger

	ctx := cmd.Context()
	res, err := p.Init(ctx, req)
	if err != nil {
		return outputError("watch", err)
	}
	fmt.Fprintf(os.Stderr, "Initialised %s (%d files), watching for changes\n", req.Location, res.Files)

	if flagMetricsAddr != "" {
		srv := &http.Server{Addr: flagMetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	debounce := flagDebounce
	if debounce <= 0 {
		debounce = proj.cfg.WatchDebounce
	}
	w, err := watch.New(req.Location, debounce, refresher(p, logger), logger)
	if err != nil {
		return outputError("watch", err)
	}
	return w.Run(ctx)
}

// refresher re-initialises p. An Init already in flight elsewhere defers
// the refresh instead of dropping it.
func refresher(p *provider.Provider, logger *slog.Logger) watch.RefreshFunc {
	return func(ctx context.Context) error {
		res, err := p.NotifyFileChanges(ctx)
		if errors.Is(err, provider.ErrBusy) {
			return fmt.Errorf("%w: %w", watch.ErrRetry, err)
		}
		if err != nil {
			return err
		}
		logger.Info("cache refreshed",
			slog.Int("files", res.Files),
			slog.Int("rebuilt", res.Rebuilt),
			slog.Int("added", res.Added),
			slog.Int("removed", res.Removed))
		return nil
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

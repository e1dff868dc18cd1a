//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kpreload/preloadd/internal/buildinfo"
	"github.com/kpreload/preloadd/pkg/blacklist"
	"github.com/kpreload/preloadd/pkg/config"
	"github.com/kpreload/preloadd/pkg/control"
	"github.com/kpreload/preloadd/pkg/logging"
	"github.com/kpreload/preloadd/pkg/metrics"
	"github.com/kpreload/preloadd/pkg/model"
	"github.com/kpreload/preloadd/pkg/osprobe/linux"
	"github.com/kpreload/preloadd/pkg/persist"
	"github.com/kpreload/preloadd/pkg/scheduler"
	"github.com/kpreload/preloadd/pkg/seeder"
)

type opts struct {
	configPath    string
	statePath     string
	pauseFilePath string
	blacklistPath string
	desktopDirs   []string
	metricsAddr   string
	logPath       string
	logLevel      string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:     "preloadd",
		Short:   "Adaptive application-preloading daemon",
		Version: buildinfo.String(),
		Long: `preloadd observes which executables run together on this machine,
learns their pairwise temporal correlation, and issues advisory
read-ahead hints so frequently co-run applications start faster.

Copyright (c) 2024 The preloadd authors.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}

	root.Flags().StringVar(&o.configPath, "config", "/etc/preload.conf", "path to the daemon config file")
	root.Flags().StringVar(&o.statePath, "state", "/var/lib/preload/preload.state", "path to the persisted model state file")
	root.Flags().StringVar(&o.pauseFilePath, "pause-file", "/var/run/preload.pause", "path to the pause-state file")
	root.Flags().StringVar(&o.blacklistPath, "blacklist", "/etc/preload.blacklist", "path to the exe basename blacklist")
	root.Flags().StringSliceVar(&o.desktopDirs, "desktop-dir", []string{"/usr/share/applications"}, "directories scanned for .desktop entries on first run")
	root.Flags().StringVar(&o.metricsAddr, "metrics-addr", ":9112", "address to serve Prometheus metrics on")
	root.Flags().StringVar(&o.logPath, "log-file", "", "log file path (empty = stdout)")
	root.Flags().StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts) error {
	level, err := parseLevel(o.logLevel)
	if err != nil {
		return err
	}
	log, err := logging.New(o.logPath, level)
	if err != nil {
		return fmt.Errorf("preloadd: %w", err)
	}
	defer log.Close()
	logger := log.Logger()

	cfg, err := config.Load(o.configPath)
	if err != nil {
		logger.Warn("using default config", "path", o.configPath, "err", err)
		cfg = config.Default()
	}

	bl, err := blacklist.Load(o.blacklistPath)
	if err != nil {
		logger.Warn("starting with an empty blacklist", "path", o.blacklistPath, "err", err)
		bl = blacklist.Empty()
	}

	probe := linux.New()

	s, err := persist.Load(o.statePath)
	if err != nil {
		logger.Warn("starting from a fresh model", "err", err)
		s = model.NewState()
		n := seeder.Seed(s, cfg, o.desktopDirs, s.Time)
		logger.Info("seeded initial model", "exes", n)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sc := scheduler.New(s, probe, cfg, bl, m, logger, log, o.statePath, o.pauseFilePath)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return sc.Run(gctx) })
	group.Go(func() error { return serveMetrics(gctx, o.metricsAddr, reg) })
	group.Go(func() error { return handleSignals(gctx, sc, o, logger) })

	if err := group.Wait(); err != nil && !errors.Is(err, errShutdownRequested) {
		return err
	}
	return nil
}

// errShutdownRequested is returned by handleSignals on a clean
// termination signal, purely so errgroup's shared context gets
// cancelled for the other two goroutines; it is not a real failure.
var errShutdownRequested = errors.New("preloadd: shutdown requested")

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// handleSignals maps the daemon's signal contract (§5) onto the
// control-surface verbs: SIGHUP reloads config/blacklist, SIGUSR1
// dumps model state to stdout, SIGUSR2 forces a save, and
// SIGTERM/SIGINT/SIGQUIT save and shut the daemon down. SIGPIPE is
// ignored so a dead metrics scraper never kills the daemon.
func handleSignals(ctx context.Context, sc *scheduler.Scheduler, o opts, logger *slog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2,
		syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGPIPE)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				if err := control.Reload(ctx, sc, o.configPath, o.blacklistPath); err != nil {
					logger.Error("reload failed", "err", err)
				}
			case syscall.SIGUSR1:
				if err := control.Dump(ctx, sc, os.Stdout); err != nil {
					logger.Error("dump failed", "err", err)
				}
			case syscall.SIGUSR2:
				if err := control.Save(ctx, sc); err != nil {
					logger.Error("save failed", "err", err)
				}
			case syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT:
				if err := control.Stop(ctx, sc); err != nil {
					logger.Error("shutdown save failed", "err", err)
				}
				return errShutdownRequested
			case syscall.SIGPIPE:
				// ignored
			}
		}
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("preloadd: unknown log level %q", s)
	}
}

// Command itrstation runs the ITR field station: the local service that
// keeps inspection and variation-order drafts safe on the device, watches
// connectivity and generates the PDF/PNG records.
//
// Usage:
//
//	itrstation -config station.yaml        # run with a config file
//	itrstation -listen :8480 -log-level debug
//	itrstation -discover                   # list stations on the LAN and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sunterra/fieldrecord/browser"
	"github.com/sunterra/fieldrecord/capture"
	"github.com/sunterra/fieldrecord/config"
	"github.com/sunterra/fieldrecord/connectivity"
	"github.com/sunterra/fieldrecord/dbopen"
	"github.com/sunterra/fieldrecord/discovery"
	"github.com/sunterra/fieldrecord/kvstore"
	"github.com/sunterra/fieldrecord/observability"
	"github.com/sunterra/fieldrecord/render"
	"github.com/sunterra/fieldrecord/snapshot"
	"github.com/sunterra/fieldrecord/station"

	_ "modernc.org/sqlite"
)

const version = "1.0.0"

// activityRetention bounds how long business events are kept on the device.
const activityRetention = 90 * 24 * time.Hour

func main() {
	configPath := flag.String("config", "", "path to station.yaml or station.toml")
	listen := flag.String("listen", "", "listen address (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	discover := flag.Bool("discover", false, "list stations advertised on the LAN and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *discover {
		err = runDiscover(ctx)
	} else {
		err = run(ctx, logger, cfg)
	}
	if err != nil {
		logger.Error("itrstation: fatal", "error", err)
		os.Exit(1)
	}
}

func runDiscover(ctx context.Context) error {
	peers, err := discovery.Browse(ctx, 5*time.Second)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(peers)
}

// openDrafts opens the configured draft backend. When it cannot be opened
// the station keeps drafts in memory for the life of the process.
func openDrafts(cfg *config.Config, logger *slog.Logger) kvstore.Backend {
	backend, err := kvstore.Open(cfg.Storage.Driver, cfg.Storage.Path, cfg.DataDir)
	if err != nil {
		logger.Warn("draft storage unavailable, keeping drafts in memory", "driver", cfg.Storage.Driver, "error", err)
		return kvstore.NewMemory()
	}
	return backend
}

// openActivity opens the activity log under dataDir. The log is nil when
// the database is unavailable; recording on a nil log is a no-op.
func openActivity(ctx context.Context, dataDir string, logger *slog.Logger) (*observability.ActivityLog, func()) {
	db, err := dbopen.OpenX(filepath.Join(dataDir, "activity.db"), dbopen.WithMkdirAll())
	if err != nil {
		logger.Warn("activity log unavailable", "error", err)
		return nil, func() {}
	}
	activity, err := observability.NewActivityLog(db, 256, observability.WithActivityLogger(logger))
	if err != nil {
		db.Close()
		logger.Warn("activity log unavailable", "error", err)
		return nil, func() {}
	}
	if n, err := activity.Cleanup(ctx, activityRetention); err != nil {
		logger.Warn("activity cleanup", "error", err)
	} else if n > 0 {
		logger.Info("activity cleanup", "deleted", n)
	}
	return activity, func() {
		activity.Close()
		db.Close()
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Warn("data dir unavailable", "path", cfg.DataDir, "error", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	backend := openDrafts(cfg, logger)
	defer backend.Close()

	activity, closeActivity := openActivity(ctx, cfg.DataDir, logger)
	defer closeActivity()

	platforms, err := capture.CompilePlatforms(cfg.PlatformRules())
	if err != nil {
		return err
	}
	renderer, err := render.New()
	if err != nil {
		return err
	}

	chrome := browser.NewManager(browser.Config{
		RemoteURL:     cfg.Browser.RemoteURL,
		Bin:           cfg.Browser.Bin,
		Headful:       cfg.Browser.Headful,
		LaunchRetries: cfg.Browser.LaunchRetries,
		Logger:        logger,
	})
	defer chrome.Close()

	pipeline := capture.New(capture.Config{
		PageWidth:   cfg.Capture.PageWidth,
		SettleDelay: cfg.Capture.SettleDelay.D(),
		Scale:       cfg.ScalePolicy(),
		Logger:      logger,
	})

	svc, err := station.New(ctx, station.Config{
		Backend:  backend,
		Exporter: station.NewBrowserExporter(renderer, chrome, pipeline, logger),
		Codec:    snapshot.Codec{Location: loc},
		Window:   cfg.Autosave.Window.D(),
		Prober:   connectivity.NewHTTPProber(cfg.Connectivity.ProbeURL),
		Connectivity: connectivity.Config{
			Interval:      cfg.Connectivity.Interval.D(),
			Timeout:       cfg.Connectivity.Timeout.D(),
			FailThreshold: cfg.Connectivity.FailThreshold,
			RestoredFor:   cfg.Connectivity.RestoredFor.D(),
		},
		Renderer:  renderer,
		Platforms: platforms,
		Activity:  activity,
		ExportDir: cfg.Capture.ExportDir,
		MCP:       cfg.MCP.HTTP,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	svc.Start(ctx)

	if cfg.Discovery.MDNS {
		port, err := discovery.PortOf(cfg.Listen)
		if err != nil {
			return err
		}
		adv, err := discovery.Advertise(discovery.Config{
			Instance: cfg.Discovery.Instance,
			Port:     port,
			Text:     discovery.TXT(version, cfg.MCP.HTTP),
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("mDNS advertisement unavailable", "error", err)
		} else {
			defer adv.Shutdown()
		}
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("station listening", "addr", cfg.Listen, "storage", cfg.Storage.Driver, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			svc.Close(context.Background())
			return fmt.Errorf("http: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Warn("final draft save", "error", err)
	}
	logger.Info("station stopped")
	return nil
}

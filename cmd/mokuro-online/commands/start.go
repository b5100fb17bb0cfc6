package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/marmos91/mokuro-online/internal/api"
	"github.com/marmos91/mokuro-online/internal/cache"
	"github.com/marmos91/mokuro-online/internal/cache/badgercache"
	"github.com/marmos91/mokuro-online/internal/cache/memcache"
	"github.com/marmos91/mokuro-online/internal/cache/postgrescache"
	"github.com/marmos91/mokuro-online/internal/cache/sqlitecache"
	"github.com/marmos91/mokuro-online/internal/coalescer"
	"github.com/marmos91/mokuro-online/internal/config"
	"github.com/marmos91/mokuro-online/internal/executor"
	"github.com/marmos91/mokuro-online/internal/logger"
	"github.com/marmos91/mokuro-online/internal/metrics"
	"github.com/marmos91/mokuro-online/internal/ocr/execmodel"
	"github.com/marmos91/mokuro-online/internal/render/basichtml"
	"github.com/marmos91/mokuro-online/internal/telemetry"
	"github.com/marmos91/mokuro-online/internal/upload"
)

// stagedFilePrefix mirrors internal/upload's own temp-file prefix; a
// second constant rather than an exported one because the sweep below
// is the only other package that ever needs to name it.
const stagedFilePrefix = "mokuro_page_"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mokuro-online HTTP server",
	Long: `Run the mokuro-online HTTP server in the foreground.

Configuration is read from MOKURO_ONLINE_* environment variables and,
optionally, a YAML file passed via --config.

Examples:
  # Run with environment variables only
  MOKURO_ONLINE_SECRET_KEY=... mokuro-online serve

  # Run with a config file
  mokuro-online serve --config /etc/mokuro-online/config.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config(cfg.Logging)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	sweepStaleStagedFiles(time.Now())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "mokuro-online",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	shutdownProfiling, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Profiling.Enabled,
		ServiceName:    "mokuro-online",
		ServiceVersion: Version,
		Endpoint:       cfg.Profiling.Endpoint,
		ProfileTypes:   cfg.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() { _ = shutdownProfiling() }()

	registry := prometheus.NewRegistry()
	var m *metrics.Metrics
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		m = metrics.New(registry)
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	backend, err := openCacheBackend(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to open OCR cache backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("failed to close cache backend", "error", err)
		}
	}()

	resultCache := cache.NewResultCache(backend, cache.Config{
		Threshold:    cfg.Cache.Threshold,
		MaxSize:      int64(cfg.Cache.MaxSize),
		DefaultTTL:   cfg.Cache.DefaultTimeout,
		IgnoreErrors: cfg.Cache.IgnoreErrors,
	})
	resultCache.SetMetrics(m)

	co := coalescer.New()
	co.SetMetrics(m)

	ex := executor.New(execmodel.Loader(cfg.OCRCommand, cfg.OCRCommandArgs...), executor.Config{
		Workers: cfg.ExecutorMaxWorkers,
	})
	ex.SetMetrics(m)
	ex.Start()
	defer ex.Stop(10 * time.Second)

	if cfg.Env == config.Production {
		if err := ex.Warmup(ctx); err != nil {
			logger.Warn("OCR model warm-up failed; OCR jobs will fail with the same load error", "error", err)
		}
	}

	pipeline := upload.New(resultCache, co, ex, upload.Config{
		MaxImageSize:    cfg.MaxImageSize,
		StrictNewImages: cfg.StrictNewImages,
		ResultTTL:       cfg.Cache.DefaultTimeout,
	})

	server := api.NewServer(resultCache, co, pipeline, basichtml.New(), cfg.Server.StaticDir, metricsHandler)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewRouter(server),
	}

	serverDone := make(chan error, 1)
	go func() {
		logger.Info("mokuro-online server listening", "addr", cfg.Server.Addr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serverDone <- err
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, draining connections")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		cancel()
		if err := <-serverDone; err != nil {
			return err
		}
		logger.Info("mokuro-online stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("HTTP server error", "error", err)
			return err
		}
		logger.Info("mokuro-online stopped")
	}

	return nil
}

// openCacheBackend selects and opens the cache.Backend named by
// cfg.Type, the config-driven fan-out OCR_CACHE_TYPE describes.
func openCacheBackend(cfg config.CacheConfig) (cache.Backend, error) {
	switch cfg.Type {
	case config.CacheSQLite:
		return sqlitecache.Open(sqlitecache.Config{Path: cfg.Path})
	case config.CacheBadger:
		return badgercache.Open(badgercache.Config{Dir: cfg.Dir})
	case config.CachePostgres:
		return postgrescache.Open(postgrescache.Config{
			Host:         cfg.Postgres.Host,
			Port:         cfg.Postgres.Port,
			Database:     cfg.Postgres.Database,
			User:         cfg.Postgres.User,
			Password:     cfg.Postgres.Password,
			SSLMode:      cfg.Postgres.SSLMode,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
		})
	case config.CacheMemory:
		return memcache.New(), nil
	default:
		return nil, fmt.Errorf("unknown OCR_CACHE_TYPE %q", cfg.Type)
	}
}

// sweepStaleStagedFiles removes leftover staged upload files from a
// prior process that crashed mid-job: internal/upload stages each part
// to os.TempDir() under the mokuro_page_* prefix and removes it itself
// on both the success and error paths, but a hard crash between staging
// and removal leaks the file. Anything older than startedAt predates
// this process and is safe to remove; anything newer belongs to a job
// this process just staged and must be left alone.
func sweepStaleStagedFiles(startedAt time.Time) {
	dir := os.TempDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("startup staged-file sweep: failed to list temp directory", "dir", dir, "error", err)
		return
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), stagedFilePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(startedAt) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("startup staged-file sweep: failed to remove stale file", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("startup staged-file sweep: removed stale files from a prior run", "count", removed)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mmcdole/marquee/internal/adapter"
	"github.com/mmcdole/marquee/internal/adapter/source/scenario"
	"github.com/mmcdole/marquee/internal/assetserver"
	"github.com/mmcdole/marquee/internal/cache"
	"github.com/mmcdole/marquee/internal/download"
	"github.com/mmcdole/marquee/internal/metrics"
	"github.com/mmcdole/marquee/internal/playlist"
	"github.com/mmcdole/marquee/internal/store"
)

// app holds the wired components shared by the commands
type app struct {
	cfg     *adapter.Config
	logger  *slog.Logger
	console *adapter.Console
	metrics *metrics.Metrics

	store    *cache.Store
	janitor  *cache.Janitor
	index    *store.CacheIndex
	assets   *assetserver.Server
	pool     *download.Pool
	playlist *playlist.Service
	queries  *playlist.Queries
	source   *scenario.Client

	closers []io.Closer
}

func loadConfig(flags *rootFlags) (*adapter.Config, error) {
	var (
		cfg *adapter.Config
		err error
	)
	if flags.configDir != "" {
		cfg, err = adapter.LoadConfigFrom(flags.configDir)
	} else {
		cfg, err = adapter.LoadConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFile != "" {
		cfg.Logging.File = flags.logFile
	}
	return cfg, nil
}

// newApp loads configuration and wires the cache pipeline. The asset server
// is created but not started.
func newApp(flags *rootFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, console: adapter.NewConsole(os.Stdout)}

	logger, closer, err := adapter.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger, closer = adapter.NullLogger(), io.NopCloser(nil)
	}
	a.logger = logger
	a.closers = append(a.closers, closer)
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.MustNewMetrics(registry)

	if a.store, err = cache.NewStore(cfg.Cache.Dir); err != nil {
		a.Close()
		return nil, err
	}
	if a.index, err = store.NewCacheIndex(cfg.Cache.DataDir); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open cache index: %w", err)
	}
	a.closers = append(a.closers, a.index)

	a.assets, err = assetserver.New(a.store.Root(), assetserver.Options{
		Addr:     cfg.Server.Addr,
		Gatherer: registry,
		Logger:   logger.With("component", "assetserver"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.source = scenario.NewClient(scenario.Config{
		ScenarioURL:     cfg.Scenario.APIURL,
		TemplateBaseURL: cfg.Scenario.TemplateBaseURL,
		ClinicAPIOrigin: cfg.Clinic.APIOrigin,
		DeviceSerial:    cfg.Device.Serial,
	}, logger.With("component", "source"))

	a.janitor = cache.NewJanitor(a.store, a.index, a.metrics, logger.With("component", "janitor"))
	a.pool = download.NewPool(cfg.Cache.Concurrency)
	a.playlist = playlist.NewService(playlist.Deps{
		Source:   a.source,
		Store:    a.store,
		Janitor:  a.janitor,
		Index:    a.index,
		Executor: download.NewExecutor(nil, a.metrics, logger.With("component", "download")),
		Pool:     a.pool,
		Assets:   a.assets,
		Metrics:  a.metrics,
		Logger:   logger.With("component", "playlist"),
	})
	a.queries = playlist.NewQueries(a.store, a.index)

	logger.Info("starting marquee", "version", Version, "cacheRoot", a.store.Root())
	return a, nil
}

// Close stops the asset server, cancels queued downloads and releases files
func (a *app) Close() {
	if a.playlist != nil {
		a.playlist.Close()
	}
	if a.assets != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.assets.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("asset server shutdown", "error", err)
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/img-proxy/internal/admin"
	"github.com/jonesrussell/img-proxy/internal/assets"
	"github.com/jonesrussell/img-proxy/internal/cache"
	"github.com/jonesrussell/img-proxy/internal/config"
	"github.com/jonesrussell/img-proxy/internal/dispatcher"
	"github.com/jonesrussell/img-proxy/internal/fetcher"
	"github.com/jonesrussell/img-proxy/internal/health"
	"github.com/jonesrussell/img-proxy/internal/logger"
	"github.com/jonesrussell/img-proxy/internal/metrics"
	"github.com/jonesrussell/img-proxy/internal/referer"
	"github.com/jonesrussell/img-proxy/internal/resilience"
	"github.com/jonesrussell/img-proxy/internal/resize"
	"github.com/jonesrussell/img-proxy/internal/singleflight"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("IMGPROXY_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.Must(logger.Config{Level: cfg.LogLevel})
	defer log.Sync()

	log.Info("img-proxy starting",
		logger.String("listen_addr", cfg.ListenAddr),
		logger.String("cache_dir", cfg.CacheDir),
	)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}

	store, err := cache.NewStore(cfg.CacheDir, cfg.CacheTTL, log.With(logger.String("component", "cache")))
	if err != nil {
		return fmt.Errorf("create cache store: %w", err)
	}

	pool := resize.New(resize.Config{
		Size:         cfg.ResizePoolSize,
		RecycleAfter: cfg.ResizeRecycleJobs,
	}, resize.StillFrameEngine{}, m, log.With(logger.String("component", "resize")))
	defer pool.Close()

	f := fetcher.New(fetcher.Config{
		TempDir:         cfg.TempDir,
		MaxSizeBytes:    cfg.MaxSizeBytes,
		UpstreamTimeout: cfg.UpstreamTimeout,
		OuterDeadline:   cfg.OuterDeadline,
		RetryConfig: resilience.RetryConfig{
			MaxAttempts:  cfg.UpstreamRetryAttempts,
			InitialDelay: cfg.UpstreamRetryDelay,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
		},
		BreakerConfig: resilience.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: 1,
			Cooldown:         cfg.BreakerCooldown,
		},
	}, store, pool, m, log.With(logger.String("component", "fetcher")))

	assetSet, err := assets.Load(cfg.AssetsDir)
	if err != nil {
		return fmt.Errorf("load static error assets: %w", err)
	}

	registry := singleflight.NewRegistry(m)
	gate := referer.New(cfg.RefererPatterns)

	disp := dispatcher.New(dispatcher.Config{BypassHosts: cfg.BypassHosts}, store, registry, f, gate, assetSet, m, log.With(logger.String("component", "dispatcher")))

	checker := health.NewChecker()
	checker.Register(health.CacheDirWritable(cfg.CacheDir))
	checker.Register(health.ResizePoolAccepting(pool, os.Getenv("IMGPROXY_HEALTH_PROBE_IMAGE")))

	adminHandler := admin.New(store, registry, checker, log.With(logger.String("component", "admin")))

	mux := http.NewServeMux()
	mux.Handle("/healthz", checker.HTTPHandler())
	mux.Handle("/admin/", adminHandler)
	mux.Handle("/", disp)

	metricsMux := mux
	if cfg.MetricsAddr != cfg.ListenAddr {
		metricsMux = http.NewServeMux()
	}
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("listening", logger.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("proxy server: %w", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != cfg.ListenAddr {
		metricsServer = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      metricsMux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		}
		go func() {
			log.Info("listening for metrics", logger.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-shutdownCh:
		log.Info("shutdown signal received", logger.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("proxy server shutdown error", logger.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error("metrics server shutdown error", logger.Error(err))
		}
	}

	log.Info("shutdown complete")
	return nil
}

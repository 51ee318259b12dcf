package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/confctrl/internal/config"
	"github.com/l0p7/confctrl/internal/logging"
	"github.com/l0p7/confctrl/internal/metrics"
	"github.com/l0p7/confctrl/internal/resolve"
	"github.com/l0p7/confctrl/internal/resolve/loadercache"
	"github.com/l0p7/confctrl/internal/server"
	"github.com/l0p7/confctrl/internal/service"
	"github.com/l0p7/confctrl/internal/store"
	"github.com/l0p7/confctrl/internal/templates"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "CONFCTRL", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgLoader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := cfgLoader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	renderer := templates.NewRenderer(
		cfg.Server.Templates.TemplatesAllowEnv,
		cfg.Server.Templates.TemplatesAllowedEnv,
	)

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	files, err := store.NewFileStore(cfg.Server.Specs.SpecsFolder, cfg.Server.Specs.SpecsFile, renderer, logger)
	if err != nil {
		logger.Error("specification source setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	specStore := store.New(logger, files, metricsRecorder)
	if err := specStore.Init(ctx); err != nil {
		logger.Error("specification load failed", slog.Any("error", err))
		os.Exit(1)
	}

	cacheLogger := logger.With(slog.String("agent", "cache_factory"))
	loaderCache := buildLoaderCache(cacheLogger, cfg.Server.Cache)
	cacheTTL := time.Duration(cfg.Server.Cache.TTLSeconds) * time.Second

	condLoader := resolve.NewLoader(logger, resolve.LoaderOptions{
		Cache:   loaderCache,
		TTL:     cacheTTL,
		Epoch:   cfg.Server.Cache.Epoch,
		Metrics: metricsRecorder,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := condLoader.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	resolver := resolve.NewResolver(specStore, condLoader, logger)

	svc, err := service.New(specStore, resolver, condLoader, logger, service.Options{
		Files:             files,
		Metrics:           metricsRecorder,
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
	})
	if err != nil {
		logger.Error("service setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Server.Specs.Watch {
		watcher, err := store.Watch(ctx, files, specStore, func(err error) {
			if err != nil {
				logger.Error("specification watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("specification watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsRecorder.Handler())
	mux.Handle("/", server.NewServiceHandler(svc))

	srv, err := server.New(cfg, logger, mux)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func buildLoaderCache(logger *slog.Logger, cfg config.LoaderCacheConfig) loadercache.Cache {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		if logger != nil {
			logger.Info("using memory loader cache", slog.Duration("ttl", ttl))
		}
		return loadercache.NewMemory(ttl)
	case "redis":
		redisCache, err := loadercache.NewRedis(loadercache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      ttl,
			TLS: loadercache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			if logger != nil {
				logger.Error("redis cache initialization failed", slog.Any("error", err))
				logger.Info("falling back to memory cache")
			}
			return loadercache.NewMemory(ttl)
		}
		if logger != nil {
			logger.Info("using redis loader cache", slog.String("address", cfg.Redis.Address))
		}
		return redisCache
	default:
		if logger != nil {
			logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		}
		return loadercache.NewMemory(ttl)
	}
}

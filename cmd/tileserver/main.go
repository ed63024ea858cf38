package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/mvt-compose/internal/cache"
	"github.com/mohammed-shakir/mvt-compose/internal/cache/redisstore"
	"github.com/mohammed-shakir/mvt-compose/internal/core/config"
	"github.com/mohammed-shakir/mvt-compose/internal/core/health"
	"github.com/mohammed-shakir/mvt-compose/internal/core/observability"
	"github.com/mohammed-shakir/mvt-compose/internal/core/server"
	"github.com/mohammed-shakir/mvt-compose/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/mvt-compose/internal/logger"
	"github.com/mohammed-shakir/mvt-compose/internal/metrics"
	"github.com/mohammed-shakir/mvt-compose/internal/plan"
	"github.com/mohammed-shakir/mvt-compose/internal/store/postgres"
	"github.com/mohammed-shakir/mvt-compose/internal/tiles"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	sourcesFlag := flag.String("sources", "", "comma separated tm2 source files (overrides TM2_SOURCES)")
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	flag.Parse()

	cfg := config.FromEnv()
	if s := strings.TrimSpace(*sourcesFlag); s != "" {
		cfg.Sources = strings.Split(s, ",")
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   !cfg.LogJSON,
		SampleN:   cfg.LogSample,
		Service:   "tileserver",
		Component: "tileserver",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer(), cfg.Metrics.Enabled)
	if cfg.Metrics.Enabled {
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	appLog.Info("starting tileserver",
		"addr", cfg.Addr,
		"version", Version,
		"sources", cfg.Sources,
		"strict", cfg.TemplateStrict,
		"cache", cfg.TileCacheEnabled)

	pool, err := postgres.New(ctx, cfg.DatabaseURL,
		postgres.WithMaxConns(int32(cfg.DBMaxConns)),
		postgres.WithMinConns(int32(cfg.DBMinConns)),
	)
	if err != nil {
		appLog.Error("connect postgis", "err", err)
		return 1
	}
	defer pool.Close()

	checks := map[string]health.Checker{"postgis": pool}

	opts := []tiles.Option{
		tiles.WithRenderTimeout(cfg.RenderTimeout),
		tiles.WithLogger(appLog),
	}
	if !cfg.TemplateStrict {
		opts = append(opts, tiles.WithPlanOptions(plan.Lenient()))
	}

	if cfg.TileCacheEnabled {
		var remote cache.Remote
		if cfg.RedisAddr != "" {
			rc, err := redisstore.New(ctx, cfg.RedisAddr)
			if err != nil {
				appLog.Error("connect redis", "addr", cfg.RedisAddr, "err", err)
				return 1
			}
			defer func() { _ = rc.Close() }()
			remote = rc
			checks["redis"] = health.CheckerFunc(func(ctx context.Context) bool {
				ctx, cancel := context.WithTimeout(ctx, time.Second)
				defer cancel()
				return rc.Ping(ctx) == nil
			})
		}
		c := cache.New(cache.Config{
			LocalSize: cfg.TileCacheLocalSize,
			TTL:       cfg.TileCacheTTL,
			OpTimeout: cfg.CacheOpTimeout,
		}, remote, appLog)
		opts = append(opts, tiles.WithCache(c, cfg.TTLFor))
	}

	svc := tiles.New(pool, opts...)
	if err := svc.LoadFiles(cfg.Sources...); err != nil {
		appLog.Error("load sources", "err", err)
		return 1
	}
	checks["sources"] = svc
	appLog.Info("sources compiled", "names", svc.Sources())

	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), appLog, svc)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	deps := server.Deps{
		Tiles:   svc,
		Checks:  checks,
		Metrics: p.Handler(),
	}
	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

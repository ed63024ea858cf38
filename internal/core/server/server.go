// Package server assembles the HTTP surface of the tile server.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/mvt-compose/internal/core/config"
	"github.com/mohammed-shakir/mvt-compose/internal/core/health"
	middleware "github.com/mohammed-shakir/mvt-compose/internal/core/middleware"
	"github.com/mohammed-shakir/mvt-compose/internal/core/router"
)

type Deps struct {
	Tiles   router.TileProvider
	Checks  map[string]health.Checker
	Metrics http.Handler // nil serves the default registry
}

// NewHandler builds the routed, compressed handler tree.
func NewHandler(cfg config.Config, logger *slog.Logger, d Deps) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	metrics := d.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Checks))
	r.Method(http.MethodGet, "/metrics", metrics)
	router.Mount(r, logger, cfg.PublicURL, d.Tiles)

	gz, err := gzhttp.NewWrapper(gzhttp.MinSize(512))
	if err != nil {
		return nil, err
	}
	return gz(r), nil
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	h, err := NewHandler(cfg, logger, d)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RenderTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

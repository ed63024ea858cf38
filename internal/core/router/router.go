// Package router holds the HTTP handlers for tiles and tile metadata.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/mvt-compose/internal/core/observability"
	"github.com/mohammed-shakir/mvt-compose/internal/logger"
	"github.com/mohammed-shakir/mvt-compose/internal/render"
	"github.com/mohammed-shakir/mvt-compose/internal/tiles"
)

const (
	ContentTypeMVT = "application/vnd.mapbox-vector-tile"

	routeTile     = "/{source}/{z}/{x}/{y}"
	routeTileJSON = "/{source}.json"
)

var errBadRequest = errors.New("bad tile request")

// TileProvider serves tiles and metadata; tiles.Service implements it.
type TileProvider interface {
	Tile(ctx context.Context, source string, t maptile.Tile) ([]byte, error)
	TileJSON(source, baseURL string) (*tiles.TileJSON, error)
}

// Mount registers the tile routes on r.
func Mount(r chi.Router, log *slog.Logger, publicURL string, p TileProvider) {
	r.Get("/{source}/{z}/{x}/{tile}", HandleTile(log, p))
	r.Get("/{tilejson}", HandleTileJSON(log, publicURL, p))
}

// HandleTile serves GET /{source}/{z}/{x}/{y}.pbf (or .mvt).
func HandleTile(log *slog.Logger, p TileProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, routeTile, sw.code, time.Since(start).Seconds())
		}()

		source, t, err := ParseTileRequest(
			chi.URLParam(r, "source"),
			chi.URLParam(r, "z"),
			chi.URLParam(r, "x"),
			chi.URLParam(r, "tile"),
		)
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := logger.WithSource(r.Context(), source)
		ctx = logger.WithTile(ctx, fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y))

		b, err := p.Tile(ctx, source, t)
		if err != nil {
			code := statusFor(err)
			if code >= http.StatusInternalServerError {
				log.ErrorContext(ctx, "tile request failed", "err", err)
			}
			http.Error(sw, http.StatusText(code), code)
			return
		}
		if len(b) == 0 {
			sw.WriteHeader(http.StatusNoContent)
			return
		}
		sw.Header().Set("Content-Type", ContentTypeMVT)
		sw.WriteHeader(http.StatusOK)
		_, _ = sw.Write(b)
	}
}

// HandleTileJSON serves GET /{source}.json.
func HandleTileJSON(log *slog.Logger, publicURL string, p TileProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, routeTileJSON, sw.code, time.Since(start).Seconds())
		}()

		name, ok := strings.CutSuffix(chi.URLParam(r, "tilejson"), ".json")
		if !ok || name == "" {
			http.NotFound(sw, r)
			return
		}
		base := publicURL
		if base == "" {
			base = requestBaseURL(r)
		}
		doc, err := p.TileJSON(name, base)
		if err != nil {
			code := statusFor(err)
			if code >= http.StatusInternalServerError {
				log.ErrorContext(r.Context(), "tilejson failed", "source", name, "err", err)
			}
			http.Error(sw, http.StatusText(code), code)
			return
		}
		sw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(sw).Encode(doc)
	}
}

// ParseTileRequest validates the path parameters of a tile request. The last
// segment carries the extension, which must be pbf or mvt.
func ParseTileRequest(source, zs, xs, last string) (string, maptile.Tile, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", maptile.Tile{}, fmt.Errorf("%w: missing source", errBadRequest)
	}
	ys, ext, ok := strings.Cut(last, ".")
	if !ok || (ext != "pbf" && ext != "mvt") {
		return "", maptile.Tile{}, fmt.Errorf("%w: tile must end in .pbf or .mvt", errBadRequest)
	}
	z, err := parseCoord("z", zs)
	if err != nil {
		return "", maptile.Tile{}, err
	}
	x, err := parseCoord("x", xs)
	if err != nil {
		return "", maptile.Tile{}, err
	}
	y, err := parseCoord("y", ys)
	if err != nil {
		return "", maptile.Tile{}, err
	}
	t := maptile.New(x, y, maptile.Zoom(z))
	if err := render.ValidateTile(t); err != nil {
		return "", maptile.Tile{}, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return source, t, nil
}

func parseCoord(name, v string) (uint32, error) {
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a tile coordinate", errBadRequest, name, v)
	}
	return uint32(n), nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tiles.ErrUnknownSource), errors.Is(err, tiles.ErrZoomRange):
		return http.StatusNotFound
	case errors.Is(err, render.ErrInvalidTile), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fp := r.Header.Get("X-Forwarded-Proto"); fp != "" {
		scheme = fp
	}
	return scheme + "://" + r.Host
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

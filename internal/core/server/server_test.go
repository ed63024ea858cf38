package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/mvt-compose/internal/core/config"
	"github.com/mohammed-shakir/mvt-compose/internal/core/health"
	"github.com/mohammed-shakir/mvt-compose/internal/tiles"
)

type stubTiles struct{ body []byte }

func (s stubTiles) Tile(context.Context, string, maptile.Tile) ([]byte, error) { return s.body, nil }
func (s stubTiles) TileJSON(name, base string) (*tiles.TileJSON, error) {
	return &tiles.TileJSON{Name: name}, nil
}

func newTestHandler(t *testing.T, body []byte, ready bool) http.Handler {
	t.Helper()
	h, err := NewHandler(config.Config{}, slog.Default(), Deps{
		Tiles: stubTiles{body: body},
		Checks: map[string]health.Checker{
			"postgis": health.CheckerFunc(func(context.Context) bool { return ready }),
		},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

func TestHandler_Routes(t *testing.T) {
	h := newTestHandler(t, []byte{0x1a, 0x00}, true)
	for path, want := range map[string]int{
		"/healthz":         http.StatusOK,
		"/readyz":          http.StatusOK,
		"/metrics":         http.StatusOK,
		"/osm/0/0/0.pbf":   http.StatusOK,
		"/osm.json":        http.StatusOK,
		"/osm/0/0/0.png":   http.StatusBadRequest,
		"/a/b/c/d/e/f.pbf": http.StatusNotFound,
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != want {
			t.Fatalf("%s status=%d want %d", path, rr.Code, want)
		}
	}
}

func TestHandler_NotReady(t *testing.T) {
	h := newTestHandler(t, nil, false)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", rr.Code)
	}
}

func TestHandler_GzipLargeTiles(t *testing.T) {
	body := bytes.Repeat([]byte{0x1a, 0x10, 'w', 'a', 't', 'e', 'r'}, 400)
	h := newTestHandler(t, body, true)

	req := httptest.NewRequest(http.MethodGet, "/osm/3/1/1.pbf", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding; headers=%v", rr.Header())
	}
	zr, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("decompressed tile differs (len %d want %d)", len(got), len(body))
	}
}

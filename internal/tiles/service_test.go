package tiles

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/mvt-compose/internal/cache"
	"github.com/mohammed-shakir/mvt-compose/internal/plan"
	"github.com/mohammed-shakir/mvt-compose/internal/render"
	"github.com/mohammed-shakir/mvt-compose/internal/tm2"
)

type blobRows struct {
	blobs [][]byte
	i     int
}

func (r *blobRows) Close()                                       {}
func (r *blobRows) Err() error                                   { return nil }
func (r *blobRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *blobRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *blobRows) Values() ([]any, error)                       { return nil, nil }
func (r *blobRows) RawValues() [][]byte                          { return nil }
func (r *blobRows) Conn() *pgx.Conn                              { return nil }
func (r *blobRows) Next() bool                                   { r.i++; return r.i <= len(r.blobs) }
func (r *blobRows) Scan(dest ...any) error {
	*(dest[0].(*[]byte)) = r.blobs[r.i-1]
	return nil
}

type countingDB struct {
	calls   atomic.Int32
	blobs   [][]byte
	err     error
	entered chan struct{}
	release chan struct{}
}

func (d *countingDB) Query(ctx context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if d.calls.Add(1) == 1 && d.entered != nil {
		close(d.entered)
	}
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return &blobRows{blobs: d.blobs}, nil
}

func testSource(name string) *tm2.Source {
	return &tm2.Source{
		Name:       name,
		PixelScale: 256,
		MinZoom:    2,
		MaxZoom:    14,
		Layers: []tm2.Layer{{
			ID:         "water",
			Fields:     map[string]string{"class": "ocean or lake"},
			Properties: tm2.Properties{BufferSize: 4},
			Datasource: tm2.Datasource{Table: "SELECT geometry FROM water WHERE geometry && !bbox!"},
		}},
	}
}

func newService(t *testing.T, db render.Querier, opts ...Option) *Service {
	t.Helper()
	s := New(db, opts...)
	if err := s.Register(testSource("osm")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return s
}

func TestTile_RendersAndCaches(t *testing.T) {
	db := &countingDB{blobs: [][]byte{{0x1a, 0x01}, {0x1a, 0x02}}}
	c := cache.New(cache.Config{}, nil, nil)
	s := newService(t, db, WithCache(c, func(string) time.Duration { return time.Minute }))

	for range 3 {
		b, err := s.Tile(context.Background(), "osm", maptile.New(1, 1, 2))
		if err != nil {
			t.Fatalf("Tile: %v", err)
		}
		if string(b) != string([]byte{0x1a, 0x01, 0x1a, 0x02}) {
			t.Fatalf("tile=%x", b)
		}
	}
	if n := db.calls.Load(); n != 1 {
		t.Fatalf("queries=%d want 1", n)
	}
}

func TestTile_EmptyTile(t *testing.T) {
	s := newService(t, &countingDB{})
	b, err := s.Tile(context.Background(), "osm", maptile.New(0, 0, 3))
	if err != nil || len(b) != 0 {
		t.Fatalf("empty tile b=%x err=%v", b, err)
	}
}

func TestTile_Errors(t *testing.T) {
	boom := errors.New("relation does not exist")
	s := newService(t, &countingDB{err: boom})
	ctx := context.Background()

	if _, err := s.Tile(ctx, "nope", maptile.New(0, 0, 3)); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("err=%v want ErrUnknownSource", err)
	}
	if _, err := s.Tile(ctx, "osm", maptile.New(0, 0, 1)); !errors.Is(err, ErrZoomRange) {
		t.Fatalf("err=%v want ErrZoomRange below minzoom", err)
	}
	if _, err := s.Tile(ctx, "osm", maptile.New(0, 0, 15)); !errors.Is(err, ErrZoomRange) {
		t.Fatalf("err=%v want ErrZoomRange above maxzoom", err)
	}
	if _, err := s.Tile(ctx, "osm", maptile.New(9, 0, 3)); !errors.Is(err, render.ErrInvalidTile) {
		t.Fatalf("err=%v want ErrInvalidTile", err)
	}
	if _, err := s.Tile(ctx, "osm", maptile.New(0, 0, 3)); !errors.Is(err, boom) {
		t.Fatalf("err=%v want driver error", err)
	}
}

func TestTile_ConcurrentRequestsShareOneRender(t *testing.T) {
	db := &countingDB{
		blobs:   [][]byte{{0x1a}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newService(t, db)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	call := func() {
		defer wg.Done()
		_, err := s.Tile(context.Background(), "osm", maptile.New(3, 3, 4))
		results <- err
	}
	wg.Add(1)
	go call()
	<-db.entered
	for range 7 {
		wg.Add(1)
		go call()
	}
	time.Sleep(50 * time.Millisecond)
	close(db.release)
	wg.Wait()
	close(results)

	for err := range results {
		if err != nil {
			t.Fatalf("Tile: %v", err)
		}
	}
	if n := db.calls.Load(); n != 1 {
		t.Fatalf("queries=%d want 1", n)
	}
}

func TestTile_CallerCancelDoesNotAbortRender(t *testing.T) {
	db := &countingDB{blobs: [][]byte{{0x1a}}, entered: make(chan struct{}), release: make(chan struct{})}
	c := cache.New(cache.Config{}, nil, nil)
	s := newService(t, db, WithCache(c, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Tile(ctx, "osm", maptile.New(0, 0, 2))
	}()
	<-db.entered
	cancel()
	close(db.release)
	<-done

	if c.Len() != 1 {
		t.Fatalf("render should complete and be cached; cache len=%d", c.Len())
	}
}

type recordingCache struct {
	mu      sync.Mutex
	sets    int
	ctxErrs []error
}

func (c *recordingCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (c *recordingCache) Del(_ context.Context, keys ...string) (int, error) {
	return len(keys), nil
}

func (c *recordingCache) Set(ctx context.Context, _ string, _ []byte, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.ctxErrs = append(c.ctxErrs, ctx.Err())
}

func TestTile_WriteBackOutlivesCaller(t *testing.T) {
	db := &countingDB{blobs: [][]byte{{0x1a}}, entered: make(chan struct{}), release: make(chan struct{})}
	c := &recordingCache{}
	s := newService(t, db, WithCache(c, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Tile(ctx, "osm", maptile.New(0, 0, 2))
	}()
	<-db.entered
	cancel()
	close(db.release)
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets != 1 {
		t.Fatalf("sets=%d want 1", c.sets)
	}
	if c.ctxErrs[0] != nil {
		t.Fatalf("cache write got a dead context: %v", c.ctxErrs[0])
	}
}

func TestTile_PurgeDuringRenderSkipsWriteBack(t *testing.T) {
	db := &countingDB{blobs: [][]byte{{0x1a}}, entered: make(chan struct{}), release: make(chan struct{})}
	c := cache.New(cache.Config{}, nil, nil)
	s := newService(t, db, WithCache(c, nil))
	ctx := context.Background()
	tl := maptile.New(3, 3, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		b, err := s.Tile(ctx, "osm", tl)
		if err != nil || len(b) == 0 {
			t.Errorf("Tile: b=%x err=%v", b, err)
		}
	}()
	<-db.entered
	if _, err := s.Purge(ctx, "osm", []maptile.Tile{tl}); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	close(db.release)
	<-done

	if c.Len() != 0 {
		t.Fatalf("render that raced a purge was cached; len=%d", c.Len())
	}
	if _, err := s.Tile(ctx, "osm", tl); err != nil {
		t.Fatalf("Tile: %v", err)
	}
	if c.Len() != 1 || db.calls.Load() != 2 {
		t.Fatalf("len=%d queries=%d want 1/2", c.Len(), db.calls.Load())
	}
}

func TestTile_RenderTimeout(t *testing.T) {
	db := &countingDB{release: make(chan struct{})}
	s := newService(t, db, WithRenderTimeout(20*time.Millisecond))
	defer close(db.release)

	_, err := s.Tile(context.Background(), "osm", maptile.New(0, 0, 2))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
}

func TestPurge(t *testing.T) {
	db := &countingDB{blobs: [][]byte{{0x1a}}}
	c := cache.New(cache.Config{}, nil, nil)
	s := newService(t, db, WithCache(c, nil))
	ctx := context.Background()

	tl := maptile.New(1, 2, 3)
	if _, err := s.Tile(ctx, "osm", tl); err != nil {
		t.Fatalf("Tile: %v", err)
	}
	n, err := s.Purge(ctx, "osm", []maptile.Tile{tl, maptile.New(0, 0, 3)})
	if err != nil || n != 1 {
		t.Fatalf("Purge n=%d err=%v want 1", n, err)
	}
	if _, err := s.Tile(ctx, "osm", tl); err != nil {
		t.Fatalf("Tile: %v", err)
	}
	if got := db.calls.Load(); got != 2 {
		t.Fatalf("queries=%d want 2 after purge", got)
	}
	if _, err := s.Purge(ctx, "nope", nil); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("err=%v want ErrUnknownSource", err)
	}
}

func TestRegister_TemplateErrorsAndLenient(t *testing.T) {
	bad := testSource("bad")
	bad.Layers[0].Datasource.Table = "SELECT geometry FROM water WHERE geometry && !bbox! AND !mystery!"

	s := New(&countingDB{})
	if err := s.Register(bad); err == nil {
		t.Fatalf("expected template error in strict mode")
	}
	if len(s.Sources()) != 0 {
		t.Fatalf("failed source must not be registered")
	}

	lenient := New(&countingDB{}, WithPlanOptions(plan.Lenient()))
	if err := lenient.Register(bad); err != nil {
		t.Fatalf("lenient Register: %v", err)
	}
	if _, ok := lenient.Plan("bad"); !ok {
		t.Fatalf("lenient plan missing")
	}
}

func TestLoadFiles(t *testing.T) {
	s := New(&countingDB{})
	if err := s.LoadFiles("../tm2/testdata/data.yml"); err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	if got := s.Sources(); len(got) != 1 || got[0] != "OpenMapTiles" {
		t.Fatalf("Sources=%v", got)
	}
	if !s.Ready(context.Background()) {
		t.Fatalf("service with sources should be ready")
	}
	if err := s.LoadFiles("does-not-exist.yml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

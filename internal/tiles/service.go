// Package tiles serves rendered tiles for a set of registered tm2 sources.
package tiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb/maptile"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/mvt-compose/internal/cache"
	"github.com/mohammed-shakir/mvt-compose/internal/cache/keys"
	"github.com/mohammed-shakir/mvt-compose/internal/core/observability"
	"github.com/mohammed-shakir/mvt-compose/internal/logger"
	"github.com/mohammed-shakir/mvt-compose/internal/plan"
	"github.com/mohammed-shakir/mvt-compose/internal/render"
	"github.com/mohammed-shakir/mvt-compose/internal/tm2"
)

var (
	ErrUnknownSource = errors.New("tiles: unknown source")
	ErrZoomRange     = errors.New("tiles: zoom outside source range")
)

type entry struct {
	src      *tm2.Source
	plan     *plan.Plan
	renderer render.TileSource

	// purges counts Purge calls; a render that sees it move does not write
	// back, since its rows may predate the invalidation.
	purges atomic.Uint64
}

type Option func(*Service)

// WithCache stores rendered tiles in c. ttl picks the lifetime per source;
// nil uses the cache default.
func WithCache(c cache.Interface, ttl func(source string) time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

func WithRenderTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithPlanOptions forwards compiler options such as plan.Lenient.
func WithPlanOptions(opts ...plan.Option) Option {
	return func(s *Service) { s.planOpts = append(s.planOpts, opts...) }
}

type Service struct {
	db       render.Querier
	plans    *plan.Cache
	planOpts []plan.Option
	cache    cache.Interface
	ttl      func(string) time.Duration
	timeout  time.Duration
	log      *slog.Logger
	group    singleflight.Group

	mu      sync.RWMutex
	sources map[string]*entry
}

func New(db render.Querier, opts ...Option) *Service {
	s := &Service{
		db:      db,
		timeout: 10 * time.Second,
		log:     slog.Default(),
		sources: map[string]*entry{},
	}
	for _, f := range opts {
		f(s)
	}
	s.plans = plan.NewCache(s.planOpts...)
	return s
}

// Register compiles src and makes it servable under its name, replacing any
// source previously registered with that name.
func (s *Service) Register(src *tm2.Source) error {
	p, err := s.plans.Get(src)
	if err != nil {
		return fmt.Errorf("compile source %q: %w", src.Name, err)
	}
	s.mu.Lock()
	s.sources[src.Name] = &entry{src: src, plan: p, renderer: render.NewAssembler(p, s.db)}
	s.mu.Unlock()
	s.log.Info("source registered",
		"source", src.Name,
		"layers", len(src.Layers),
		"buffer_slots", p.Slots.Len(),
		"params", len(p.Params),
		"fingerprint", fmt.Sprintf("%016x", p.Fingerprint))
	return nil
}

// LoadFiles parses and registers every tm2source file in paths.
func (s *Service) LoadFiles(paths ...string) error {
	for _, p := range paths {
		src, err := tm2.Load(p)
		if err != nil {
			return err
		}
		if err := s.Register(src); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func (s *Service) lookup(name string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sources[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return e, nil
}

// Sources lists registered source names in order.
func (s *Service) Sources() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.sources))
	for name := range s.sources {
		out = append(out, name)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (s *Service) Source(name string) (*tm2.Source, bool) {
	e, err := s.lookup(name)
	if err != nil {
		return nil, false
	}
	return e.src, true
}

// Plan returns the compiled plan serving name.
func (s *Service) Plan(name string) (*plan.Plan, bool) {
	e, err := s.lookup(name)
	if err != nil {
		return nil, false
	}
	return e.plan, true
}

// Tile returns the encoded tile t of source name. An empty, nil-error result
// means no layer had data for the tile.
func (s *Service) Tile(ctx context.Context, name string, t maptile.Tile) ([]byte, error) {
	e, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := render.ValidateTile(t); err != nil {
		return nil, err
	}
	if !e.src.HasZoom(int(t.Z)) {
		return nil, fmt.Errorf("%w: %d not in [%d,%d]", ErrZoomRange, t.Z, e.src.MinZoom, e.src.MaxZoom)
	}

	key := keys.TileKey(name, e.plan.Fingerprint, t)
	if s.cache != nil {
		if b, ok := s.cache.Get(ctx, key); ok {
			s.log.DebugContext(logger.WithCache(ctx, "hit"), "tile served from cache")
			return b, nil
		}
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.render(ctx, e, t, key)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.log.DebugContext(logger.WithCache(ctx, "shared"), "render shared")
	}
	return v.([]byte), nil
}

func (s *Service) render(ctx context.Context, e *entry, t maptile.Tile, key string) ([]byte, error) {
	// Waiters share this render, so one caller going away must not cancel it.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	gen := e.purges.Load()
	start := time.Now()
	b, err := e.renderer.Render(rctx, t)
	took := time.Since(start)

	switch {
	case err != nil:
		observability.ObserveTileRender(e.src.Name, "error", 0, took.Seconds())
		s.log.ErrorContext(ctx, "tile render failed",
			"source", e.src.Name, "tile", tileString(t), "took", took, "err", err)
		return nil, err
	case len(b) == 0:
		observability.ObserveTileRender(e.src.Name, "empty", 0, took.Seconds())
	default:
		observability.ObserveTileRender(e.src.Name, "ok", len(b), took.Seconds())
	}

	if s.cache == nil {
		return b, nil
	}
	if e.purges.Load() != gen {
		s.log.DebugContext(ctx, "purge during render, not caching",
			"source", e.src.Name, "tile", tileString(t))
		return b, nil
	}
	var ttl time.Duration
	if s.ttl != nil {
		ttl = s.ttl(e.src.Name)
	}
	s.cache.Set(rctx, key, b, ttl)
	return b, nil
}

// Purge drops cached copies of tiles of source name and reports how many
// entries were removed.
func (s *Service) Purge(ctx context.Context, name string, tiles []maptile.Tile) (int, error) {
	e, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	if s.cache == nil || len(tiles) == 0 {
		return 0, nil
	}
	e.purges.Add(1)
	ks := make([]string, len(tiles))
	for i, t := range tiles {
		ks[i] = keys.TileKey(name, e.plan.Fingerprint, t)
	}
	return s.cache.Del(ctx, ks...)
}

// Ready reports whether at least one source is registered; used by /readyz.
func (s *Service) Ready(context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sources) > 0
}

func tileString(t maptile.Tile) string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

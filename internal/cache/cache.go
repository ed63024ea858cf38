// Package cache stores rendered tiles in an in-process LRU in front of an
// optional shared Redis tier.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/mvt-compose/internal/core/observability"
)

// Remote is the shared tier; redisstore.Client satisfies it. GetTTL also
// reports the entry's remaining lifetime, zero when it has none.
type Remote interface {
	GetTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
}

type Interface interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	Del(ctx context.Context, keys ...string) (int, error)
}

type Config struct {
	LocalSize int
	TTL       time.Duration
	OpTimeout time.Duration
}

type localEntry struct {
	val     []byte
	expires time.Time // zero never expires
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Tiles is a two-tier tile cache. Remote failures are logged and behave as
// misses; the local tier is always consulted first. Each local entry keeps
// the lifetime it was stored with, bounded by the configured TTL.
type Tiles struct {
	local     *expirable.LRU[string, localEntry]
	remote    Remote
	ttl       time.Duration
	opTimeout time.Duration
	log       *slog.Logger
}

func New(cfg Config, remote Remote, log *slog.Logger) *Tiles {
	if cfg.LocalSize <= 0 {
		cfg.LocalSize = 4096
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 50 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Tiles{
		local:     expirable.NewLRU[string, localEntry](cfg.LocalSize, nil, cfg.TTL),
		remote:    remote,
		ttl:       cfg.TTL,
		opTimeout: cfg.OpTimeout,
		log:       log,
	}
}

func (c *Tiles) Get(ctx context.Context, key string) ([]byte, bool) {
	if e, ok := c.local.Get(key); ok {
		if !e.expired(time.Now()) {
			observability.IncCacheHit("local")
			return e.val, true
		}
		c.local.Remove(key)
	}
	observability.IncCacheMiss("local")
	if c.remote == nil {
		return nil, false
	}

	rctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	v, left, ok, err := c.remote.GetTTL(rctx, key)
	if err != nil {
		c.log.Warn("tile cache get failed", "key", key, "err", err)
		observability.IncCacheMiss("redis")
		return nil, false
	}
	if !ok {
		observability.IncCacheMiss("redis")
		return nil, false
	}
	observability.IncCacheHit("redis")
	c.addLocal(key, v, left)
	return v, true
}

// Set stores val in both tiers for ttl; zero means the configured default.
func (c *Tiles) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if val == nil {
		val = []byte{}
	}
	c.addLocal(key, val, ttl)
	if c.remote == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.remote.Set(rctx, key, val, ttl); err != nil {
		c.log.Warn("tile cache set failed", "key", key, "err", err)
	}
}

// Del drops keys from both tiers and reports how many entries were removed
// from the authoritative tier (Redis when configured, otherwise local).
func (c *Tiles) Del(ctx context.Context, keys ...string) (int, error) {
	localRemoved := 0
	for _, k := range keys {
		if c.local.Remove(k) {
			localRemoved++
		}
	}
	if c.remote == nil {
		return localRemoved, nil
	}
	n, err := c.remote.Del(ctx, keys...)
	if err != nil {
		return localRemoved, err
	}
	return int(n), nil
}

func (c *Tiles) addLocal(key string, val []byte, ttl time.Duration) {
	e := localEntry{val: val}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	c.local.Add(key, e)
}

func (c *Tiles) Len() int { return c.local.Len() }

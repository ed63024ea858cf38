package plan

import (
	"sync"
	"time"

	"github.com/mohammed-shakir/mvt-compose/internal/core/observability"
	"github.com/mohammed-shakir/mvt-compose/internal/tm2"
)

// Cache compiles each distinct source once and then serves the published
// plan to any number of concurrent readers.
type Cache struct {
	opts    []Option
	entries sync.Map // uint64 -> *cacheEntry
}

type cacheEntry struct {
	once sync.Once
	plan *Plan
	err  error
}

func NewCache(opts ...Option) *Cache {
	return &Cache{opts: opts}
}

// Get returns the plan for src, compiling it on first use. Sources are keyed
// by their fingerprint, so equal sources share one plan.
func (c *Cache) Get(src *tm2.Source) (*Plan, error) {
	key := src.Fingerprint()
	v, _ := c.entries.LoadOrStore(key, &cacheEntry{})
	e := v.(*cacheEntry)
	e.once.Do(func() {
		start := time.Now()
		e.plan, e.err = Compile(src, c.opts...)
		observability.ObservePlanCompile(src.Name, time.Since(start).Seconds(), e.err)
	})
	return e.plan, e.err
}

// Len reports how many distinct sources have been compiled.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

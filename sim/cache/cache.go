package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/openmobility/sumo-mcp/sim/engine"
)

// Source is the handle surface the cache needs: identity, clock, and the
// query it memoizes.
type Source interface {
	ID() string
	Time() float64
	Query(ctx context.Context, filter engine.Filter) (*engine.Snapshot, error)
}

// Cache is a per-generation snapshot cache. Safe for concurrent use.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*engine.Snapshot
	byHandle map[string][]string // handle ID -> entry keys for invalidation
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries:  make(map[string]*engine.Snapshot),
		byHandle: make(map[string][]string),
	}
}

// GetOrFetch returns the cached snapshot for (source identity, simulation
// time, filter), querying the source on a miss. The returned snapshot is
// shared and must be treated as immutable.
func (c *Cache) GetOrFetch(ctx context.Context, src Source, filter engine.Filter) (*engine.Snapshot, error) {
	key := entryKey(src.ID(), src.Time(), filter)

	c.mu.RLock()
	snap, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return snap, nil
	}

	snap, err := src.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// A concurrent fetch may have filled the entry; keep the first one so
	// callers within a generation observe a single snapshot.
	if existing, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.entries[key] = snap
	c.byHandle[src.ID()] = append(c.byHandle[src.ID()], key)
	c.mu.Unlock()

	return snap, nil
}

// Invalidate drops every entry for the given handle. Called after any step,
// and on handle close.
func (c *Cache) Invalidate(handleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.byHandle[handleID] {
		delete(c.entries, key)
	}
	delete(c.byHandle, handleID)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func entryKey(handleID string, simTime float64, filter engine.Filter) string {
	return fmt.Sprintf("%s@%.3f|%s", handleID, simTime, filter.Key())
}

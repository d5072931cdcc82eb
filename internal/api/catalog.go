package api

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Option lists shown on the form.
const (
	ListModels      = "models"
	ListCheckpoints = "checkpoints"
	ListVAEs        = "vaes"
	ListStyles      = "styles"
	ListSpeakers    = "speakers"
)

// Source fetches one option list from a backend.
type Source func(ctx context.Context) ([]string, error)

// failureTTL is how long a failed refresh is remembered before the backend
// is asked again.
const failureTTL = 15 * time.Second

type catalogEntry struct {
	items   []string
	err     error
	fetched time.Time
}

// Catalog caches backend option lists so the form does not hit every
// backend on each page load. A failed refresh keeps serving the stale list
// and is itself cached for a shorter time.
type Catalog struct {
	ttl     time.Duration
	retry   time.Duration
	timeout time.Duration

	mu      sync.RWMutex
	sources map[string]Source
	cache   map[string]catalogEntry
}

// NewCatalog creates a catalog whose lists expire after ttl.
func NewCatalog(ttl time.Duration) *Catalog {
	return &Catalog{
		ttl:     ttl,
		retry:   min(ttl, failureTTL),
		timeout: 5 * time.Second,
		sources: make(map[string]Source),
		cache:   make(map[string]catalogEntry),
	}
}

// Register adds a named source.
func (c *Catalog) Register(name string, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[name] = src
}

// Get returns the list for name, refreshing it when expired.
func (c *Catalog) Get(ctx context.Context, name string) ([]string, error) {
	c.mu.RLock()
	src, ok := c.sources[name]
	entry, cached := c.cache[name]
	c.mu.RUnlock()

	if !ok {
		return []string{}, nil
	}
	if cached {
		age := time.Since(entry.fetched)
		if entry.err == nil && age < c.ttl {
			return entry.items, nil
		}
		if entry.err != nil && age < c.retry {
			return entry.items, entry.err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	items, err := src(ctx)
	if err != nil {
		slog.Warn("Catalog: Refresh failed", "list", name, "error", err)
		stale := []string{}
		if cached {
			stale = entry.items
		}
		c.mu.Lock()
		c.cache[name] = catalogEntry{items: stale, err: err, fetched: time.Now()}
		c.mu.Unlock()
		return stale, err
	}
	if items == nil {
		items = []string{}
	}

	c.mu.Lock()
	c.cache[name] = catalogEntry{items: items, fetched: time.Now()}
	c.mu.Unlock()
	return items, nil
}

// Invalidate drops every cached list.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]catalogEntry)
}

package bigcontext

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// catalogTTL is how long a fetched model list is trusted before Catalog
// refreshes it from its CatalogSource again.
const catalogTTL = time.Hour

// Catalog is a mutex-guarded, lazily-refreshed cache over a CatalogSource.
// Chunk sizing and stitching both need per-model context/output limits on
// every job start, so a bare passthrough would mean one network round trip
// per job; Catalog amortizes that across an hour.
type Catalog struct {
	source CatalogSource

	mu        sync.Mutex
	models    map[string]ModelInfo
	fetchedAt time.Time
}

// NewCatalog builds a Catalog over source. The cache starts empty and is
// populated on first use.
func NewCatalog(source CatalogSource) *Catalog {
	return &Catalog{source: source}
}

// Resolve returns metadata for modelID, refreshing the cache first if it is
// empty or older than catalogTTL.
func (c *Catalog) Resolve(ctx context.Context, modelID string) (ModelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stale() {
		if err := c.refreshLocked(ctx); err != nil {
			if info, ok := c.models[modelID]; ok {
				// Serve the stale entry rather than fail a job start over a
				// transient catalog-source outage.
				return info, nil
			}
			return ModelInfo{}, fmt.Errorf("bigcontext: refresh model catalog: %w", err)
		}
	}

	info, ok := c.models[modelID]
	if !ok {
		return ModelInfo{}, &ErrNotFound{Kind: "model", ID: modelID}
	}
	return info, nil
}

// List returns every cached model, refreshing first if stale.
func (c *Catalog) List(ctx context.Context) ([]ModelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stale() {
		if err := c.refreshLocked(ctx); err != nil && len(c.models) == 0 {
			return nil, fmt.Errorf("bigcontext: refresh model catalog: %w", err)
		}
	}

	out := make([]ModelInfo, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	return out, nil
}

func (c *Catalog) stale() bool {
	return c.models == nil || time.Since(c.fetchedAt) > catalogTTL
}

func (c *Catalog) refreshLocked(ctx context.Context) error {
	models, err := c.source.ListModels(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]ModelInfo, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	c.models = byID
	c.fetchedAt = time.Now()
	return nil
}

var _ ModelResolver = (*Catalog)(nil)

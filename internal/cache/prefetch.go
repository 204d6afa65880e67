package cache

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Prefetch strategies.
const (
	StrategyMinimal      = "minimal"
	StrategyConservative = "conservative"
	StrategyAggressive   = "aggressive"
)

const (
	prefetchBatchSize  = 3
	prefetchBatchDelay = 100 * time.Millisecond
	conservativeMax    = 5
)

// PrefetchItem describes one value to warm into the cache.
type PrefetchItem struct {
	Key      string
	Params   any
	TTL      time.Duration
	Priority int
	Fetch    func(ctx context.Context) (any, error)
}

// Prefetch warms the cache with the given items, highest priority first.
// Under "minimal" nothing is fetched; "conservative" caps the batch at 5
// items; "aggressive" fetches everything. Fetches run in batches of 3 with
// a short pause between batches as soft backpressure on the network layer.
// Already-cached items are skipped and per-item failures are isolated.
func (m *Manager) Prefetch(ctx context.Context, tenantID, strategy string, items []PrefetchItem) {
	if strategy == StrategyMinimal || len(items) == 0 {
		return
	}

	sorted := make([]PrefetchItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	if strategy == StrategyConservative && len(sorted) > conservativeMax {
		sorted = sorted[:conservativeMax]
	}

	for start := 0; start < len(sorted); start += prefetchBatchSize {
		if ctx.Err() != nil {
			return
		}

		end := start + prefetchBatchSize
		if end > len(sorted) {
			end = len(sorted)
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(prefetchBatchSize)
		for _, item := range sorted[start:end] {
			item := item
			g.Go(func() error {
				m.prefetchOne(gCtx, tenantID, item)
				return nil // failures are isolated, never abort the batch
			})
		}
		g.Wait()

		if end < len(sorted) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(prefetchBatchDelay):
			}
		}
	}
}

func (m *Manager) prefetchOne(ctx context.Context, tenantID string, item PrefetchItem) {
	found, err := m.Get(item.Key, tenantID, item.Params, nil)
	if err != nil {
		m.logger.Warn("prefetch cache check failed", "key", item.Key, "error", err)
		return
	}
	if found {
		return
	}

	value, err := item.Fetch(ctx)
	if err != nil {
		m.logger.Warn("prefetch fetch failed", "key", item.Key, "error", err)
		return
	}

	if err := m.Set(item.Key, tenantID, item.Params, value, item.TTL, SetOptions{}); err != nil {
		m.logger.Warn("prefetch store failed", "key", item.Key, "error", err)
	}
}

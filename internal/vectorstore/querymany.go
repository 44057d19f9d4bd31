package vectorstore

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/recalld/internal/collection"
)

// queryManyConcurrency bounds the number of tenants queried at once.
const queryManyConcurrency = 4

// queryTenants runs query for every key and collects the results by
// collection id.
//
// A failing tenant is logged and maps to an empty list; the remaining
// tenants still run. Results scoring below threshold are dropped.
func queryTenants(
	ctx context.Context,
	logger *zap.Logger,
	backend Kind,
	keys []collection.TenantKey,
	threshold float64,
	query func(ctx context.Context, key collection.TenantKey) ([]RetrievalResult, error),
) map[string][]RetrievalResult {
	out := make(map[string][]RetrievalResult, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(queryManyConcurrency)

	for _, key := range keys {
		g.Go(func() error {
			id := collection.Encode(key)
			results, err := query(gctx, key)
			if err != nil {
				logger.Warn("tenant query failed",
					zap.String("backend", string(backend)),
					zap.String("collection.id", id),
					zap.String("operation", "queryMany"),
					zap.Error(err),
				)
				results = nil
			}

			kept := make([]RetrievalResult, 0, len(results))
			for _, r := range results {
				if r.Score >= threshold {
					kept = append(kept, r)
				}
			}

			mu.Lock()
			out[id] = kept
			mu.Unlock()

			// Per-tenant failures never cancel the group.
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// emptyResults maps every key to an empty result list.
func emptyResults(keys []collection.TenantKey) map[string][]RetrievalResult {
	out := make(map[string][]RetrievalResult, len(keys))
	for _, key := range keys {
		out[collection.Encode(key)] = []RetrievalResult{}
	}
	return out
}

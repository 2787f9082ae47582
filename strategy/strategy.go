// Package strategy implements the five pluggable provider-selection
// strategies described in spec.md §4.3. All of them implement the same
// Choose/Release contract so the endpoint dispatcher can swap strategies
// per model without caring which one is configured.
package strategy

import (
	"context"
	"time"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/routererr"
)

// Strategy selects a ProviderSpec for a model call from its candidate list,
// and releases whatever it acquired once the caller is done with it.
// Implementations must be safe for concurrent use by many request handlers.
type Strategy interface {
	// Choose picks one provider from candidates for modelName. Candidates
	// must be non-empty; an empty primary list is the caller's
	// responsibility to reject with NoProviderAvailable before calling in,
	// per spec.md §3's "model with zero primary providers" rule.
	Choose(ctx context.Context, modelName string, candidates []catalog.ProviderSpec) (catalog.ProviderSpec, error)

	// Release returns whatever Choose acquired for this (model, provider)
	// pair. In-memory strategies (balanced, weighted, dynamic_weighted)
	// have nothing to release and return nil.
	Release(ctx context.Context, modelName string, provider catalog.ProviderSpec) error

	// Name identifies the strategy for logging and metrics.
	Name() string
}

// LockRefresher is implemented by store-backed strategies whose locks can
// expire mid-request. Multi-shot mode (spec.md §4.5) calls RefreshLock
// before each sub-request when the remaining lock TTL might not survive
// the batch; strategies without a lock to refresh simply don't implement
// this interface.
type LockRefresher interface {
	RefreshLock(ctx context.Context, modelName string, provider catalog.ProviderSpec, ttl time.Duration) error
}

// OutcomeRecorder is implemented by strategies that adapt their future
// choices based on how past calls turned out. The endpoint dispatcher
// calls RecordOutcome once per completed upstream call when the active
// chooser implements this interface (spec.md §4.3.3's latency EMA and
// repeated-failure penalty for dynamic_weighted).
type OutcomeRecorder interface {
	RecordOutcome(modelName, providerID string, latency time.Duration, success bool)
}

// noProviders returns the standard NoProviderAvailable error for an empty
// candidate list (spec.md §3).
func noProviders(modelName string) error {
	return routererr.Newf(routererr.NoProviderAvailable, "no provider available for model %q", modelName)
}

package strategy

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/internal/metrics"
	"github.com/modelgateway/llmrouter/internal/store"
	"github.com/modelgateway/llmrouter/routererr"
)

// FirstAvailableOptim implements spec.md §4.3.5: a host-affinity-aware
// variant of first_available that prefers reusing the host the model was
// last served from, to keep a warm model resident on as few boxes as
// possible, before falling back to plain first_available.
type FirstAvailableOptim struct {
	fallback *FirstAvailable
	store    *store.Store
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewFirstAvailableOptim constructs a FirstAvailableOptim strategy, backed
// by a FirstAvailable instance for its fallback step.
func NewFirstAvailableOptim(fallback *FirstAvailable, st *store.Store, logger *zap.Logger) *FirstAvailableOptim {
	return &FirstAvailableOptim{
		fallback: fallback,
		store:    st,
		logger:   logger.With(zap.String("strategy", "first_available_optim")),
	}
}

// SetMetrics wires m as the destination for this strategy's selection and
// lock-TTL metrics. Do not also call SetMetrics on the FirstAvailable
// instance passed as fallback: step 4 below delegates to it, and a metrics
// call there would double-count that selection.
func (f *FirstAvailableOptim) SetMetrics(m *metrics.Collector) {
	f.metrics = m
}

func (f *FirstAvailableOptim) Name() string { return "first_available_optim" }

func (f *FirstAvailableOptim) Choose(ctx context.Context, modelName string, candidates []catalog.ProviderSpec) (catalog.ProviderSpec, error) {
	if len(candidates) == 0 {
		return catalog.ProviderSpec{}, noProviders(modelName)
	}

	start := time.Now()
	chosen, err := f.choose(ctx, modelName, candidates)
	if f.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			if re, ok := routererr.As(err); ok && re.Code == routererr.NoProviderAvailable {
				outcome = "no_provider"
			}
		}
		f.metrics.RecordSelection(f.Name(), modelName, outcome, time.Since(start))
	}
	return chosen, err
}

func (f *FirstAvailableOptim) choose(ctx context.Context, modelName string, candidates []catalog.ProviderSpec) (catalog.ProviderSpec, error) {
	ttl := f.fallback.lockTTL(ctx)

	// Step 1: reuse the last host this model ran on, if it isn't currently
	// occupied by some other model.
	lastHost, err := f.store.Get(ctx, store.LastHostKey(modelName))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return catalog.ProviderSpec{}, err
	}
	if lastHost != "" {
		if !hasHost(candidates, lastHost) {
			// last_host no longer appears in the catalog for this model:
			// treat as a cache miss and drop the stale key (spec.md §9).
			if err := f.store.Del(ctx, store.LastHostKey(modelName)); err != nil {
				return catalog.ProviderSpec{}, err
			}
		} else {
			occupancy, err := f.store.HGetAll(ctx, store.HostOccupancyKey(lastHost))
			if err != nil {
				return catalog.ProviderSpec{}, err
			}
			if !occupiedByOtherModel(occupancy, modelName) {
				for _, c := range candidates {
					if c.Host() != lastHost {
						continue
					}
					if chosen, ok, err := f.tryAcquire(ctx, modelName, c, ttl); err != nil {
						return catalog.ProviderSpec{}, err
					} else if ok {
						return chosen, nil
					}
				}
			}
		}
	}

	// Step 2: reuse any host already known to be serving this model.
	knownHosts, err := f.store.SMembers(ctx, store.HostsSetKey(modelName))
	if err != nil {
		return catalog.ProviderSpec{}, err
	}
	knownSet := toSet(knownHosts)
	for _, c := range candidates {
		if !knownSet[c.Host()] {
			continue
		}
		if chosen, ok, err := f.tryAcquire(ctx, modelName, c, ttl); err != nil {
			return catalog.ProviderSpec{}, err
		} else if ok {
			return chosen, nil
		}
	}

	// Step 3: spread to a host not yet associated with this model and with
	// no active occupancy from any model.
	for _, c := range candidates {
		if knownSet[c.Host()] {
			continue
		}
		occupancy, err := f.store.HGetAll(ctx, store.HostOccupancyKey(c.Host()))
		if err != nil {
			return catalog.ProviderSpec{}, err
		}
		if len(occupancy) > 0 {
			continue
		}
		if chosen, ok, err := f.tryAcquire(ctx, modelName, c, ttl); err != nil {
			return catalog.ProviderSpec{}, err
		} else if ok {
			return chosen, nil
		}
	}

	// Step 4: fall back to plain first_available semantics.
	return f.fallback.Choose(ctx, modelName, candidates)
}

// tryAcquire performs the atomic acquire-and-bookkeep update for candidate.
func (f *FirstAvailableOptim) tryAcquire(ctx context.Context, modelName string, candidate catalog.ProviderSpec, ttl time.Duration) (catalog.ProviderSpec, bool, error) {
	host := candidate.Host()
	acquired, err := f.store.AcquireOptimLock(
		ctx,
		store.LockKey(modelName, candidate.ID),
		candidate.ID,
		int64(ttl.Seconds()),
		store.LastHostKey(modelName),
		store.HostsSetKey(modelName),
		host,
		store.HostOccupancyKey(host),
		modelName,
	)
	if err != nil {
		return catalog.ProviderSpec{}, false, err
	}
	if acquired && f.metrics != nil {
		f.metrics.RecordLockTTL(f.Name(), ttl)
	}
	return candidate, acquired, nil
}

func (f *FirstAvailableOptim) Release(ctx context.Context, modelName string, provider catalog.ProviderSpec) error {
	return f.store.ReleaseOptimLock(ctx, store.LockKey(modelName, provider.ID), store.HostOccupancyKey(provider.Host()), modelName)
}

// RefreshLock extends the TTL on an already-held lock, used by multi-shot
// mode to survive a batch of sub-requests (spec.md §4.5).
func (f *FirstAvailableOptim) RefreshLock(ctx context.Context, modelName string, provider catalog.ProviderSpec, ttl time.Duration) error {
	return f.store.Expire(ctx, store.LockKey(modelName, provider.ID), ttl)
}

// occupiedByOtherModel reports whether any model other than modelName has
// a nonzero occupancy count in the host's occupancy hash.
func occupiedByOtherModel(occupancy map[string]string, modelName string) bool {
	for model, count := range occupancy {
		if model == modelName {
			continue
		}
		if count != "" && count != "0" {
			return true
		}
	}
	return false
}

func hasHost(candidates []catalog.ProviderSpec, host string) bool {
	for _, c := range candidates {
		if c.Host() == host {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

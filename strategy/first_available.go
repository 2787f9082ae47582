package strategy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/internal/metrics"
	"github.com/modelgateway/llmrouter/internal/store"
)

const firstAvailableLockGrace = 5 * time.Second

// FirstAvailable implements spec.md §4.3.4: pick the first candidate in
// list order whose (model, provider-id) lock can be atomically acquired in
// the shared store. If no lock succeeds after one full pass, the model has
// no available provider right now.
type FirstAvailable struct {
	store          *store.Store
	logger         *zap.Logger
	defaultTimeout time.Duration
	metrics        *metrics.Collector
}

// NewFirstAvailable constructs a FirstAvailable strategy. defaultTimeout is
// the request timeout assumed when the caller's context carries no
// deadline; the lock TTL is the context's remaining time when it has a
// deadline, defaultTimeout otherwise, plus a 5s grace period.
func NewFirstAvailable(st *store.Store, defaultTimeout time.Duration, logger *zap.Logger) *FirstAvailable {
	return &FirstAvailable{
		store:          st,
		logger:         logger.With(zap.String("strategy", "first_available")),
		defaultTimeout: defaultTimeout,
	}
}

// SetMetrics wires m as the destination for this strategy's selection and
// lock-TTL metrics.
func (f *FirstAvailable) SetMetrics(m *metrics.Collector) {
	f.metrics = m
}

func (f *FirstAvailable) Name() string { return "first_available" }

func (f *FirstAvailable) Choose(ctx context.Context, modelName string, candidates []catalog.ProviderSpec) (catalog.ProviderSpec, error) {
	if len(candidates) == 0 {
		return catalog.ProviderSpec{}, noProviders(modelName)
	}

	start := time.Now()
	ttl := f.lockTTL(ctx)
	lockValue := uuid.NewString()

	for _, candidate := range candidates {
		acquired, err := f.store.SetNX(ctx, store.LockKey(modelName, candidate.ID), lockValue, ttl)
		if err != nil {
			f.recordSelection(modelName, "error", start)
			return catalog.ProviderSpec{}, err
		}
		if acquired {
			if f.metrics != nil {
				f.metrics.RecordLockTTL(f.Name(), ttl)
			}
			f.recordSelection(modelName, "ok", start)
			return candidate, nil
		}
	}

	f.recordSelection(modelName, "no_provider", start)
	return catalog.ProviderSpec{}, noProviders(modelName)
}

func (f *FirstAvailable) recordSelection(modelName, outcome string, start time.Time) {
	if f.metrics == nil {
		return
	}
	f.metrics.RecordSelection(f.Name(), modelName, outcome, time.Since(start))
}

func (f *FirstAvailable) Release(ctx context.Context, modelName string, provider catalog.ProviderSpec) error {
	return f.store.Del(ctx, store.LockKey(modelName, provider.ID))
}

// RefreshLock extends the TTL on an already-held lock, used by multi-shot
// mode to survive a batch of sub-requests (spec.md §4.5).
func (f *FirstAvailable) RefreshLock(ctx context.Context, modelName string, provider catalog.ProviderSpec, ttl time.Duration) error {
	return f.store.Expire(ctx, store.LockKey(modelName, provider.ID), ttl)
}

// lockTTL resolves the request timeout + 5s grace TTL from spec.md §4.3.4,
// preferring the context's remaining deadline when one is set.
func (f *FirstAvailable) lockTTL(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			return remaining + firstAvailableLockGrace
		}
	}
	return f.defaultTimeout + firstAvailableLockGrace
}

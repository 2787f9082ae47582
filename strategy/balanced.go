package strategy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/internal/metrics"
)

// Balanced implements spec.md §4.3.1: round-robin by least usage. Per-model
// usage counters live in memory for the life of the process; ties are
// broken by the candidate's position in the list passed to Choose.
type Balanced struct {
	mu       sync.Mutex
	counters map[string]map[string]int64 // model -> provider id -> usage count
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewBalanced constructs a Balanced strategy.
func NewBalanced(logger *zap.Logger) *Balanced {
	return &Balanced{
		counters: make(map[string]map[string]int64),
		logger:   logger.With(zap.String("strategy", "balanced")),
	}
}

// SetMetrics wires m as the destination for this strategy's selection
// metrics.
func (b *Balanced) SetMetrics(m *metrics.Collector) {
	b.metrics = m
}

func (b *Balanced) Name() string { return "balanced" }

// Choose picks the candidate with the smallest usage counter, breaking ties
// by first-in-list order, and increments its counter.
func (b *Balanced) Choose(_ context.Context, modelName string, candidates []catalog.ProviderSpec) (catalog.ProviderSpec, error) {
	if len(candidates) == 0 {
		return catalog.ProviderSpec{}, noProviders(modelName)
	}

	start := time.Now()
	b.mu.Lock()

	perModel, ok := b.counters[modelName]
	if !ok {
		perModel = make(map[string]int64, len(candidates))
		b.counters[modelName] = perModel
	}

	bestIdx := 0
	bestCount := perModel[candidates[0].ID]
	for i := 1; i < len(candidates); i++ {
		count := perModel[candidates[i].ID]
		if count < bestCount {
			bestIdx = i
			bestCount = count
		}
	}

	chosen := candidates[bestIdx]
	perModel[chosen.ID]++
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordSelection(b.Name(), modelName, "ok", time.Since(start))
	}
	return chosen, nil
}

// Release is a no-op: balanced keeps no acquisition state to release.
func (b *Balanced) Release(_ context.Context, _ string, _ catalog.ProviderSpec) error {
	return nil
}

// Renormalize subtracts the minimum counter from every provider for a
// model, preventing unbounded growth in long-lived processes. Spec.md
// §4.3.1 permits this but does not require it; callers may invoke it
// periodically from a maintenance goroutine.
func (b *Balanced) Renormalize(modelName string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	perModel, ok := b.counters[modelName]
	if !ok || len(perModel) == 0 {
		return
	}

	var min int64 = -1
	for _, c := range perModel {
		if min == -1 || c < min {
			min = c
		}
	}
	if min <= 0 {
		return
	}
	for id, c := range perModel {
		perModel[id] = c - min
	}
}

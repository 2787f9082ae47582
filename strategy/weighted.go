package strategy

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/internal/metrics"
)

// Weighted implements spec.md §4.3.2: weighted round-robin using the
// classic GCD-stepped current-weight scheduler (the algorithm LVS's ipvs
// wrr and nginx's smooth-weighted-round-robin both derive from). For
// integer weights it reproduces an exact, deterministic pick order, not
// just the long-run weight ratio — e.g. weights 3:1 yields A,A,A,B
// repeating, not an arbitrary interleaving that merely averages to 3:1.
type Weighted struct {
	mu      sync.Mutex
	cursors map[string]*wrrCursor // model -> round-robin cursor
	logger  *zap.Logger
	metrics *metrics.Collector
}

// wrrCursor is the scheduler's persistent state for one model: the index
// last returned and the current-weight counter being stepped down by the
// candidate weights' GCD.
type wrrCursor struct {
	lastIndex     int
	currentWeight int
}

// NewWeighted constructs a Weighted strategy.
func NewWeighted(logger *zap.Logger) *Weighted {
	return &Weighted{
		cursors: make(map[string]*wrrCursor),
		logger:  logger.With(zap.String("strategy", "weighted")),
	}
}

// SetMetrics wires m as the destination for this strategy's selection
// metrics. Optional: a nil or never-called SetMetrics leaves Choose
// unobserved, per internal/metrics being disabled in some deployments.
func (w *Weighted) SetMetrics(m *metrics.Collector) {
	w.metrics = m
}

func (w *Weighted) Name() string { return "weighted" }

func (w *Weighted) Choose(_ context.Context, modelName string, candidates []catalog.ProviderSpec) (catalog.ProviderSpec, error) {
	if len(candidates) == 0 {
		return catalog.ProviderSpec{}, noProviders(modelName)
	}

	start := time.Now()
	w.mu.Lock()
	chosen, _ := w.choose(modelName, candidates, weightOf)
	w.mu.Unlock()
	w.recordSelection(modelName, time.Since(start))
	return chosen, nil
}

// choose runs the GCD-stepped current-weight algorithm using weightFn to
// resolve each candidate's weight, so dynamic_weighted can reuse it with a
// penalized weight function while staying under the same lock discipline.
// Must be called with w.mu held.
func (w *Weighted) choose(modelName string, candidates []catalog.ProviderSpec, weightFn func(catalog.ProviderSpec) float64) (catalog.ProviderSpec, int) {
	n := len(candidates)
	weights := make([]int, n)
	maxWeight := 0
	g := 0
	for i, c := range candidates {
		weights[i] = weightToInt(weightFn(c))
		if weights[i] > maxWeight {
			maxWeight = weights[i]
		}
		g = gcd(g, weights[i])
	}
	if g == 0 {
		g = 1
	}

	cursor, ok := w.cursors[modelName]
	if !ok || cursor.lastIndex >= n {
		cursor = &wrrCursor{lastIndex: -1, currentWeight: 0}
		w.cursors[modelName] = cursor
	}

	// The classic algorithm always finds a qualifying candidate within one
	// full weighted cycle; this bound only guards against drift if a
	// weight function misbehaves (e.g. returns a non-positive value that
	// weightToInt didn't floor to 1).
	for attempts := 0; attempts < n*maxWeight+n+1; attempts++ {
		cursor.lastIndex = (cursor.lastIndex + 1) % n
		if cursor.lastIndex == 0 {
			cursor.currentWeight -= g
			if cursor.currentWeight <= 0 {
				cursor.currentWeight = maxWeight
			}
		}
		if weights[cursor.lastIndex] >= cursor.currentWeight {
			return candidates[cursor.lastIndex], weights[cursor.lastIndex]
		}
	}

	return candidates[0], weights[0]
}

func (w *Weighted) Release(_ context.Context, _ string, _ catalog.ProviderSpec) error {
	return nil
}

// recordSelection reports one Choose invocation to the metrics collector,
// if one has been wired via SetMetrics.
func (w *Weighted) recordSelection(modelName string, duration time.Duration) {
	if w.metrics == nil {
		return
	}
	w.metrics.RecordSelection(w.Name(), modelName, "ok", duration)
}

func weightOf(p catalog.ProviderSpec) float64 {
	if p.Weight <= 0 {
		return 1.0
	}
	return p.Weight
}

// weightPrecisionScale converts a (possibly fractional, dynamically
// penalized) weight into the integer domain the GCD scheduler steps
// through. Scaling uniformly keeps the GCD-normalized ratio between two
// integer configured weights exact (e.g. 3 and 1 scale to 3000 and 1000,
// still reducing to 3:1), while still giving dynamic_weighted's continuous
// penalty factors three decimal digits of resolution instead of collapsing
// them all to the same rounded integer.
const weightPrecisionScale = 1000

func weightToInt(w float64) int {
	rounded := int(math.Round(w * weightPrecisionScale))
	if rounded < 1 {
		return 1
	}
	return rounded
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

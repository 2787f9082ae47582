package strategy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/catalog"
)

const (
	dynamicWeightedEMAAlpha      = 0.2
	dynamicWeightedPenaltyFloor  = 0.1
	dynamicWeightedPenaltyCeil   = 10.0
	dynamicWeightedFailThreshold = 3
	dynamicWeightedFailPenalty   = 0.1
	dynamicWeightedFailCooldown  = 60 * time.Second
)

// DynamicWeighted implements spec.md §4.3.3: the same GCD-stepped
// current-weight scheduler as Weighted, but each provider's weight is
// multiplied by a latency penalty derived from an exponential moving
// average of its recent response latency, and providers failing three
// times in a row are penalized further for a cooldown window.
type DynamicWeighted struct {
	*Weighted

	stateMu      sync.Mutex
	ema          map[string]map[string]float64   // model -> provider id -> ema latency (seconds)
	failStreak   map[string]map[string]int       // model -> provider id -> consecutive failures
	penaltyUntil map[string]map[string]time.Time // model -> provider id -> failure-penalty expiry
}

// NewDynamicWeighted constructs a DynamicWeighted strategy.
func NewDynamicWeighted(logger *zap.Logger) *DynamicWeighted {
	return &DynamicWeighted{
		Weighted:     NewWeighted(logger.With(zap.String("strategy", "dynamic_weighted"))),
		ema:          make(map[string]map[string]float64),
		failStreak:   make(map[string]map[string]int),
		penaltyUntil: make(map[string]map[string]time.Time),
	}
}

func (d *DynamicWeighted) Name() string { return "dynamic_weighted" }

func (d *DynamicWeighted) Choose(_ context.Context, modelName string, candidates []catalog.ProviderSpec) (catalog.ProviderSpec, error) {
	if len(candidates) == 0 {
		return catalog.ProviderSpec{}, noProviders(modelName)
	}

	start := time.Now()
	d.Weighted.mu.Lock()
	chosen, _ := d.Weighted.choose(modelName, candidates, d.weightFor(modelName))
	d.Weighted.mu.Unlock()
	d.Weighted.recordSelection(modelName, time.Since(start))
	return chosen, nil
}

// weightFor returns a weight function that applies the latency and
// consecutive-failure penalties for modelName on top of the provider's
// configured weight.
func (d *DynamicWeighted) weightFor(modelName string) func(catalog.ProviderSpec) float64 {
	return func(p catalog.ProviderSpec) float64 {
		base := weightOf(p)

		d.stateMu.Lock()
		defer d.stateMu.Unlock()

		latencyPenalty := 1.0
		if ema, ok := d.ema[modelName][p.ID]; ok && ema > 0 {
			latencyPenalty = clamp(1/ema, dynamicWeightedPenaltyFloor, dynamicWeightedPenaltyCeil)
		}

		weight := base * latencyPenalty
		if until, ok := d.penaltyUntil[modelName][p.ID]; ok && time.Now().Before(until) {
			weight *= dynamicWeightedFailPenalty
		}
		return weight
	}
}

// RecordOutcome updates the EMA latency and consecutive-failure state for
// (modelName, providerID) after an upstream call completes. The endpoint
// dispatch pipeline calls this once per upstream response.
func (d *DynamicWeighted) RecordOutcome(modelName, providerID string, latency time.Duration, success bool) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	emaByModel, ok := d.ema[modelName]
	if !ok {
		emaByModel = make(map[string]float64)
		d.ema[modelName] = emaByModel
	}
	seconds := latency.Seconds()
	if prev, ok := emaByModel[providerID]; ok {
		emaByModel[providerID] = dynamicWeightedEMAAlpha*seconds + (1-dynamicWeightedEMAAlpha)*prev
	} else {
		emaByModel[providerID] = seconds
	}

	streakByModel, ok := d.failStreak[modelName]
	if !ok {
		streakByModel = make(map[string]int)
		d.failStreak[modelName] = streakByModel
	}

	if success {
		streakByModel[providerID] = 0
		return
	}

	streakByModel[providerID]++
	if streakByModel[providerID] >= dynamicWeightedFailThreshold {
		untilByModel, ok := d.penaltyUntil[modelName]
		if !ok {
			untilByModel = make(map[string]time.Time)
			d.penaltyUntil[modelName] = untilByModel
		}
		untilByModel[providerID] = time.Now().Add(dynamicWeightedFailCooldown)
	}
}

func (d *DynamicWeighted) Release(_ context.Context, _ string, _ catalog.ProviderSpec) error {
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

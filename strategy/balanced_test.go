package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/routererr"
)

func TestBalanced_PicksLeastUsed(t *testing.T) {
	b := NewBalanced(zap.NewNop())
	candidates := []catalog.ProviderSpec{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	ctx := context.Background()

	var picks []string
	for i := 0; i < 6; i++ {
		p, err := b.Choose(ctx, "m", candidates)
		require.NoError(t, err)
		picks = append(picks, p.ID)
	}

	counts := map[string]int{}
	for _, id := range picks {
		counts[id]++
	}
	assert.Equal(t, 2, counts["a"])
	assert.Equal(t, 2, counts["b"])
	assert.Equal(t, 2, counts["c"])
}

func TestBalanced_TieBreaksByListOrder(t *testing.T) {
	b := NewBalanced(zap.NewNop())
	candidates := []catalog.ProviderSpec{{ID: "a"}, {ID: "b"}}

	p, err := b.Choose(context.Background(), "m", candidates)
	require.NoError(t, err)
	assert.Equal(t, "a", p.ID)
}

func TestBalanced_NoProviders(t *testing.T) {
	b := NewBalanced(zap.NewNop())
	_, err := b.Choose(context.Background(), "m", nil)
	require.Error(t, err)
	re, ok := routererr.As(err)
	require.True(t, ok)
	assert.Equal(t, routererr.NoProviderAvailable, re.Code)
}

func TestBalanced_Renormalize(t *testing.T) {
	b := NewBalanced(zap.NewNop())
	candidates := []catalog.ProviderSpec{{ID: "a"}, {ID: "b"}}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = b.Choose(ctx, "m", candidates)
	}

	b.Renormalize("m")
	assert.Equal(t, int64(0), minCounter(b, "m"))
}

func minCounter(b *Balanced, model string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var min int64 = -1
	for _, c := range b.counters[model] {
		if min == -1 || c < min {
			min = c
		}
	}
	return min
}

package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/internal/store"
)

func newTestFirstAvailableOptim(t *testing.T) *FirstAvailableOptim {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := store.NewWithClient(client, zap.NewNop())
	fallback := NewFirstAvailable(st, 30*time.Second, zap.NewNop())
	return NewFirstAvailableOptim(fallback, st, zap.NewNop())
}

func TestFirstAvailableOptim_FirstCallSpreadsToUnusedHost(t *testing.T) {
	f := newTestFirstAvailableOptim(t)
	candidates := []catalog.ProviderSpec{
		{ID: "a1", APIHost: "http://hostA:8000"},
		{ID: "b1", APIHost: "http://hostB:8000"},
	}

	p, err := f.Choose(context.Background(), "m", candidates)
	require.NoError(t, err)
	assert.Contains(t, []string{"a1", "b1"}, p.ID)
}

func TestFirstAvailableOptim_ReusesLastHostOnNextCall(t *testing.T) {
	f := newTestFirstAvailableOptim(t)
	candidates := []catalog.ProviderSpec{
		{ID: "a1", APIHost: "http://hostA:8000"},
		{ID: "a2", APIHost: "http://hostA:8000"},
		{ID: "b1", APIHost: "http://hostB:8000"},
	}
	ctx := context.Background()

	first, err := f.Choose(ctx, "m", candidates)
	require.NoError(t, err)
	require.NoError(t, f.Release(ctx, "m", first))

	second, err := f.Choose(ctx, "m", candidates)
	require.NoError(t, err)
	assert.Equal(t, first.Host(), second.Host())
}

func TestFirstAvailableOptim_ReleaseClearsOccupancy(t *testing.T) {
	f := newTestFirstAvailableOptim(t)
	candidates := []catalog.ProviderSpec{{ID: "a1", APIHost: "http://hostA:8000"}}
	ctx := context.Background()

	p, err := f.Choose(ctx, "m", candidates)
	require.NoError(t, err)

	require.NoError(t, f.Release(ctx, "m", p))

	occupancy, err := f.store.HGetAll(ctx, store.HostOccupancyKey("hostA:8000"))
	require.NoError(t, err)
	assert.Empty(t, occupancy)
}

func TestFirstAvailableOptim_FallsBackWhenHostsExhausted(t *testing.T) {
	f := newTestFirstAvailableOptim(t)
	candidates := []catalog.ProviderSpec{
		{ID: "a1", APIHost: "http://hostA:8000"},
		{ID: "a2", APIHost: "http://hostA:8000"},
	}
	ctx := context.Background()

	_, err := f.Choose(ctx, "m", candidates)
	require.NoError(t, err)

	p2, err := f.Choose(ctx, "m", candidates)
	require.NoError(t, err)
	assert.Equal(t, "a2", p2.ID)
}

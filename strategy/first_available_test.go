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
	"github.com/modelgateway/llmrouter/routererr"
)

func newTestFirstAvailable(t *testing.T) (*FirstAvailable, *store.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := store.NewWithClient(client, zap.NewNop())
	return NewFirstAvailable(st, 30*time.Second, zap.NewNop()), st
}

func TestFirstAvailable_PicksFirstUnlocked(t *testing.T) {
	f, _ := newTestFirstAvailable(t)
	candidates := []catalog.ProviderSpec{{ID: "a"}, {ID: "b"}}

	p, err := f.Choose(context.Background(), "m", candidates)
	require.NoError(t, err)
	assert.Equal(t, "a", p.ID)
}

func TestFirstAvailable_SkipsLockedCandidates(t *testing.T) {
	f, _ := newTestFirstAvailable(t)
	candidates := []catalog.ProviderSpec{{ID: "a"}, {ID: "b"}}
	ctx := context.Background()

	_, err := f.Choose(ctx, "m", candidates)
	require.NoError(t, err)

	p, err := f.Choose(ctx, "m", candidates)
	require.NoError(t, err)
	assert.Equal(t, "b", p.ID)
}

func TestFirstAvailable_NoneAvailable(t *testing.T) {
	f, _ := newTestFirstAvailable(t)
	candidates := []catalog.ProviderSpec{{ID: "a"}}
	ctx := context.Background()

	_, err := f.Choose(ctx, "m", candidates)
	require.NoError(t, err)

	_, err = f.Choose(ctx, "m", candidates)
	require.Error(t, err)
	re, ok := routererr.As(err)
	require.True(t, ok)
	assert.Equal(t, routererr.NoProviderAvailable, re.Code)
}

func TestFirstAvailable_ReleaseFreesLock(t *testing.T) {
	f, _ := newTestFirstAvailable(t)
	candidates := []catalog.ProviderSpec{{ID: "a"}}
	ctx := context.Background()

	p, err := f.Choose(ctx, "m", candidates)
	require.NoError(t, err)

	require.NoError(t, f.Release(ctx, "m", p))

	p2, err := f.Choose(ctx, "m", candidates)
	require.NoError(t, err)
	assert.Equal(t, "a", p2.ID)
}

package keepalive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/internal/store"
	"github.com/modelgateway/llmrouter/upstream"
)

func newTestLoop(t *testing.T, cat *catalog.ModelCatalog) (*Loop, *store.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := store.NewWithClient(client, zap.NewNop())
	upstreamClient := upstream.NewClient(5*time.Second, zap.NewNop())
	return NewLoop(st, cat, upstreamClient, zap.NewNop(), time.Second), st
}

func catalogWithProvider(t *testing.T, model, apiHost, keepAlive string) *catalog.ModelCatalog {
	t.Helper()
	raw := `{
		"active_models": {"chat": ["` + model + `"]},
		"chat": {
			"` + model + `": {"providers": [{"id": "p1", "api_host": "` + apiHost + `", "api_type": "ollama", "input_size": 4096, "keep_alive": "` + keepAlive + `"}]}
		}
	}`
	cat, err := catalog.LoadBytes([]byte(raw))
	require.NoError(t, err)
	return cat
}

func withFrozenClock(t *testing.T, unix int64) {
	t.Helper()
	orig := nowUnix
	nowUnix = func() int64 { return unix }
	t.Cleanup(func() { nowUnix = orig })
}

func TestLoop_RecordUsage_SchedulesWakeup(t *testing.T) {
	cat := catalogWithProvider(t, "llama3", "http://host-a:11434", "30s")
	loop, st := newTestLoop(t, cat)
	withFrozenClock(t, 1000)

	require.NoError(t, loop.RecordUsage(context.Background(), "llama3", "host-a:11434", "30s"))

	members, err := st.ZRangeByScore(context.Background(), store.KeepAliveWakeupKey(), "-inf", "+inf")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "llama3"+memberSep+"host-a:11434", members[0])
}

func TestLoop_RecordUsage_EmptyKeepAliveIsNoop(t *testing.T) {
	cat := catalogWithProvider(t, "llama3", "http://host-a:11434", "")
	loop, st := newTestLoop(t, cat)

	require.NoError(t, loop.RecordUsage(context.Background(), "llama3", "host-a:11434", ""))

	members, err := st.ZRangeByScore(context.Background(), store.KeepAliveWakeupKey(), "-inf", "+inf")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestLoop_ClearBuffers(t *testing.T) {
	cat := catalogWithProvider(t, "llama3", "http://host-a:11434", "30s")
	loop, st := newTestLoop(t, cat)
	withFrozenClock(t, 1000)

	require.NoError(t, loop.RecordUsage(context.Background(), "llama3", "host-a:11434", "30s"))
	require.NoError(t, loop.ClearBuffers(context.Background()))

	members, err := st.ZRangeByScore(context.Background(), store.KeepAliveWakeupKey(), "-inf", "+inf")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestLoop_Tick_PingsDueProvider(t *testing.T) {
	var pings int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pings, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": true}`))
	}))
	defer srv.Close()

	cat := catalogWithProvider(t, "llama3", srv.URL, "30s")
	loop, st := newTestLoop(t, cat)

	withFrozenClock(t, 1000)
	require.NoError(t, st.ZAdd(context.Background(), store.KeepAliveWakeupKey(), 999, "llama3"+memberSep+catalogHost(t, srv.URL)))

	loop.tick(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&pings))

	members, err := st.ZRangeByScore(context.Background(), store.KeepAliveWakeupKey(), "-inf", "+inf")
	require.NoError(t, err)
	require.Len(t, members, 1, "a ping must reschedule rather than drop the entry")
}

func TestLoop_Tick_SkipsNotYetDue(t *testing.T) {
	var pings int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pings, 1)
	}))
	defer srv.Close()

	cat := catalogWithProvider(t, "llama3", srv.URL, "30s")
	loop, st := newTestLoop(t, cat)

	withFrozenClock(t, 1000)
	require.NoError(t, st.ZAdd(context.Background(), store.KeepAliveWakeupKey(), 5000, "llama3"+memberSep+catalogHost(t, srv.URL)))

	loop.tick(context.Background())

	assert.Equal(t, int32(0), atomic.LoadInt32(&pings))
}

func TestLoop_Tick_SkipsOccupiedHost(t *testing.T) {
	var pings int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pings, 1)
	}))
	defer srv.Close()

	cat := catalogWithProvider(t, "llama3", srv.URL, "30s")
	loop, st := newTestLoop(t, cat)
	host := catalogHost(t, srv.URL)

	withFrozenClock(t, 1000)
	require.NoError(t, st.HSet(context.Background(), store.HostOccupancyKey(host), map[string]any{"llama3": 1}))
	require.NoError(t, st.ZAdd(context.Background(), store.KeepAliveWakeupKey(), 999, "llama3"+memberSep+host))

	loop.tick(context.Background())

	assert.Equal(t, int32(0), atomic.LoadInt32(&pings))
}

func TestLoop_Seed_SchedulesEveryKeepAliveProvider(t *testing.T) {
	cat := catalogWithProvider(t, "llama3", "http://host-a:11434", "30s")
	loop, st := newTestLoop(t, cat)
	withFrozenClock(t, 1000)

	loop.Seed(context.Background())

	members, err := st.ZRangeByScore(context.Background(), store.KeepAliveWakeupKey(), "-inf", "+inf")
	require.NoError(t, err)
	require.Len(t, members, 1)
}

func TestSplitMember(t *testing.T) {
	model, host, ok := splitMember("llama3" + memberSep + "host-a:11434")
	require.True(t, ok)
	assert.Equal(t, "llama3", model)
	assert.Equal(t, "host-a:11434", host)

	_, _, ok = splitMember("no-separator")
	assert.False(t, ok)
}

// catalogHost extracts the host:port a catalog entry would resolve to for
// an httptest server URL, matching catalog.ProviderSpec.Host()'s parsing.
func catalogHost(t *testing.T, rawURL string) string {
	t.Helper()
	p := catalog.ProviderSpec{APIHost: rawURL}
	return p.Host()
}

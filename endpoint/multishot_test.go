package endpoint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/hooks"
	"github.com/modelgateway/llmrouter/prompt"
	"github.com/modelgateway/llmrouter/routererr"
	"github.com/modelgateway/llmrouter/upstream"
)

func aggregateAsList(responses []hooks.Envelope, contents []string) (hooks.Envelope, error) {
	out := make([]any, len(contents))
	for i, c := range contents {
		out[i] = map[string]any{"input": c, "response": responses[i]}
	}
	return hooks.Envelope{"status": true, "results": out}, nil
}

func newMultiShotEngine(t *testing.T, upstreamURL string) *Engine {
	t.Helper()
	cat, err := catalog.LoadBytes([]byte(`{
		"active_models": {"chat": ["m1"]},
		"chat": {"m1": {"providers": [{"id": "p1", "api_host": "` + upstreamURL + `", "api_type": "openai", "weight": 1}]}}
	}`))
	require.NoError(t, err)

	return &Engine{
		Catalog:    cat,
		Chooser:    &fixedStrategy{provider: catalog.ProviderSpec{ID: "p1", APIHost: upstreamURL, APIType: catalog.ApiTypeOpenAI, Weight: 1}},
		Upstream:   upstream.NewClient(0, zap.NewNop()),
		PromptRepo: prompt.NewMemoryRepository(nil),
		Masker:     hooks.NewMaskPipeline(),
		Guardrail:  hooks.NewGuardrailPipeline(),
		Logger:     zap.NewNop(),
	}
}

func TestDispatchMultiShot_OneUpstreamCallPerUserMessage(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var echoedMessages [][]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		messages, _ := body["messages"].([]any)

		mu.Lock()
		echoedMessages = append(echoedMessages, messages)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"echo": messages})
	}))
	defer srv.Close()

	e := newMultiShotEngine(t, srv.URL)
	d := Descriptor{
		RequiredArgs:            []string{"model"},
		CallForEachUserMsg:      true,
		PrepareResponseFunction: aggregateAsList,
	}
	prepared := PreparedPayload{Envelope: hooks.Envelope{
		"model": "m1",
		"messages": []any{
			map[string]any{"role": "system", "content": "you summarize files"},
			map[string]any{"role": "user", "content": "file one"},
			map[string]any{"role": "user", "content": "file two"},
			map[string]any{"role": "user", "content": "file three"},
		},
	}}

	resp, err := e.dispatchMultiShot(context.Background(), d, prepared, Request{Envelope: prepared.Envelope})

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	results, _ := resp.Envelope["results"].([]any)
	assert.Len(t, results, 3)

	// Every per-file call must carry only the system message plus its own
	// single user message — never another file's content.
	require.Len(t, echoedMessages, 3)
	wantUserContents := map[string]bool{"file one": true, "file two": true, "file three": true}
	for _, msgs := range echoedMessages {
		require.Len(t, msgs, 2)
		sysMsg, _ := msgs[0].(map[string]any)
		assert.Equal(t, "system", sysMsg["role"])
		assert.Equal(t, "you summarize files", sysMsg["content"])

		userMsg, _ := msgs[1].(map[string]any)
		assert.Equal(t, "user", userMsg["role"])
		content, _ := userMsg["content"].(string)
		assert.True(t, wantUserContents[content], "unexpected user content leaked into call: %q", content)
		delete(wantUserContents, content)
	}
	assert.Empty(t, wantUserContents, "not every file was sent exactly once")
}

func TestDispatchMultiShot_NoUserMessagesRejected(t *testing.T) {
	e := newMultiShotEngine(t, "http://unused")
	d := Descriptor{
		RequiredArgs:            []string{"model"},
		CallForEachUserMsg:      true,
		PrepareResponseFunction: aggregateAsList,
	}
	prepared := PreparedPayload{Envelope: hooks.Envelope{"model": "m1", "messages": []any{map[string]any{"role": "system", "content": "no users here"}}}}

	_, err := e.dispatchMultiShot(context.Background(), d, prepared, Request{Envelope: prepared.Envelope})

	re, ok := routererr.As(err)
	require.True(t, ok)
	assert.Equal(t, routererr.ValidationError, re.Code)
}

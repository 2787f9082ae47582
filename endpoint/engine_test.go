package endpoint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/apitype"
	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/hooks"
	"github.com/modelgateway/llmrouter/prompt"
	"github.com/modelgateway/llmrouter/routererr"
	"github.com/modelgateway/llmrouter/upstream"
)

// fixedStrategy always returns the single provider it was built with, and
// records every Release call for assertions.
type fixedStrategy struct {
	provider  catalog.ProviderSpec
	released  []string
	chooseErr error
}

func (f *fixedStrategy) Choose(_ context.Context, modelName string, candidates []catalog.ProviderSpec) (catalog.ProviderSpec, error) {
	if f.chooseErr != nil {
		return catalog.ProviderSpec{}, f.chooseErr
	}
	return f.provider, nil
}

func (f *fixedStrategy) Release(_ context.Context, modelName string, provider catalog.ProviderSpec) error {
	f.released = append(f.released, modelName+"/"+provider.ID)
	return nil
}

func (f *fixedStrategy) Name() string { return "fixed" }

type echoHandler struct {
	NopResponseHook
}

func (echoHandler) PreparePayload(_ context.Context, env hooks.Envelope) (PreparedPayload, error) {
	return PreparedPayload{Envelope: env}, nil
}

func newTestEngine(t *testing.T, upstreamURL string, chooser *fixedStrategy) *Engine {
	t.Helper()
	cat, err := catalog.LoadBytes([]byte(`{
		"active_models": {"chat": ["m1"]},
		"chat": {"m1": {"providers": [{"id": "p1", "api_host": "` + upstreamURL + `", "api_type": "openai", "weight": 1}]}}
	}`))
	require.NoError(t, err)

	return &Engine{
		Catalog:     cat,
		Chooser:     chooser,
		Upstream:    upstream.NewClient(0, zap.NewNop()),
		PromptRepo:  prompt.NewMemoryRepository(nil),
		Masker:      hooks.NewMaskPipeline(),
		Guardrail:   hooks.NewGuardrailPipeline(),
		Logger:      zap.NewNop(),
		DefaultLang: "en",
	}
}

func TestDispatch_MissingRequiredArgReturnsError(t *testing.T) {
	e := newTestEngine(t, "http://unused", &fixedStrategy{})
	d := Descriptor{RequiredArgs: []string{"model"}}

	_, err := e.Dispatch(context.Background(), d, echoHandler{}, Request{Envelope: hooks.Envelope{}})

	re, ok := routererr.As(err)
	require.True(t, ok)
	assert.Equal(t, routererr.MissingParam, re.Code)
}

func TestDispatch_HappyPathReleasesProviderLock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		routes, err := apitype.Resolve(catalog.ApiTypeOpenAI)
		require.NoError(t, err)
		assert.Equal(t, routes.ChatPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": "hi"}}}})
	}))
	defer srv.Close()

	chooser := &fixedStrategy{provider: catalog.ProviderSpec{ID: "p1", APIHost: srv.URL, APIType: catalog.ApiTypeOpenAI, Weight: 1}}
	e := newTestEngine(t, srv.URL, chooser)
	d := Descriptor{RequiredArgs: []string{"model", "messages"}}

	resp, err := e.Dispatch(context.Background(), d, echoHandler{}, Request{
		Envelope: hooks.Envelope{"model": "m1", "messages": []any{map[string]any{"role": "user", "content": "hi"}}, "stream": false},
	})

	require.NoError(t, err)
	assert.False(t, resp.Streamed)
	assert.Equal(t, []string{"m1/p1"}, chooser.released)
}

func TestDispatch_NoProviderAvailableWhenModelUnknown(t *testing.T) {
	e := newTestEngine(t, "http://unused", &fixedStrategy{})
	d := Descriptor{RequiredArgs: []string{"model"}}

	_, err := e.Dispatch(context.Background(), d, echoHandler{}, Request{Envelope: hooks.Envelope{"model": "does-not-exist"}})

	re, ok := routererr.As(err)
	require.True(t, ok)
	assert.Equal(t, routererr.NoProviderAvailable, re.Code)
}

func TestDispatch_DirectReturnSkipsUpstreamCall(t *testing.T) {
	e := newTestEngine(t, "http://unused", &fixedStrategy{})
	d := Descriptor{RequiredArgs: []string{"model"}, DirectReturn: true}

	resp, err := e.Dispatch(context.Background(), d, echoHandler{}, Request{Envelope: hooks.Envelope{"model": "m1", "extra": "value"}})

	require.NoError(t, err)
	assert.Equal(t, "value", resp.Envelope.GetString("extra"))
}

func TestDispatch_ApiTypeMismatchRejected(t *testing.T) {
	chooser := &fixedStrategy{provider: catalog.ProviderSpec{ID: "p1", APIHost: "http://unused", APIType: catalog.ApiTypeOllama, Weight: 1}}
	e := newTestEngine(t, "http://unused", chooser)
	d := Descriptor{
		RequiredArgs: []string{"model"},
		ApiTypes:     map[catalog.ApiType]bool{catalog.ApiTypeOpenAI: true},
	}

	_, err := e.Dispatch(context.Background(), d, echoHandler{}, Request{Envelope: hooks.Envelope{"model": "m1"}})

	re, ok := routererr.As(err)
	require.True(t, ok)
	assert.Equal(t, routererr.ApiTypeMismatch, re.Code)
}

func TestDispatch_KeepAliveRecorderNotifiedOnChoose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	chooser := &fixedStrategy{provider: catalog.ProviderSpec{ID: "p1", APIHost: srv.URL, APIType: catalog.ApiTypeOpenAI, Weight: 1, KeepAlive: "5m"}}
	e := newTestEngine(t, srv.URL, chooser)
	recorder := &fakeKeepAliveRecorder{}
	e.KeepAliveRecorder = recorder

	d := Descriptor{RequiredArgs: []string{"model"}}
	_, err := e.Dispatch(context.Background(), d, echoHandler{}, Request{Envelope: hooks.Envelope{"model": "m1", "stream": false}})
	require.NoError(t, err)

	require.Len(t, recorder.calls, 1)
	assert.Equal(t, "m1", recorder.calls[0].model)
	assert.Equal(t, "5m", recorder.calls[0].keepAlive)
}

type keepAliveCall struct {
	model, host, keepAlive string
}

type fakeKeepAliveRecorder struct {
	calls []keepAliveCall
}

func (f *fakeKeepAliveRecorder) RecordUsage(_ context.Context, model, host, keepAlive string) error {
	f.calls = append(f.calls, keepAliveCall{model, host, keepAlive})
	return nil
}

package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/endpoint"
	"github.com/modelgateway/llmrouter/hooks"
	"github.com/modelgateway/llmrouter/prompt"
	"github.com/modelgateway/llmrouter/upstream"
)

func newTestGateway(t *testing.T, upstreamURL string) (*http.ServeMux, *catalog.ModelCatalog) {
	t.Helper()
	cat, err := catalog.LoadBytes([]byte(`{
		"active_models": {"chat": ["m1"]},
		"chat": {"m1": {"providers": [{"id": "p1", "api_host": "` + upstreamURL + `", "api_type": "openai", "weight": 1}]}}
	}`))
	require.NoError(t, err)

	e := &endpoint.Engine{
		Catalog:     cat,
		Chooser:     roundRobinStrategy{},
		Upstream:    upstream.NewClient(0, zap.NewNop()),
		PromptRepo:  prompt.NewMemoryRepository(Prompts()),
		Masker:      hooks.NewMaskPipeline(),
		Guardrail:   hooks.NewGuardrailPipeline(),
		Logger:      zap.NewNop(),
		DefaultLang: "en",
	}

	mux := http.NewServeMux()
	Register(mux, e, cat, "/api")
	return mux, cat
}

// roundRobinStrategy is a minimal real strategy.Strategy stand-in: the
// catalog built by newTestGateway always has exactly one provider, so
// "pick the first candidate" is enough to exercise the full HTTP surface.
type roundRobinStrategy struct{}

func (roundRobinStrategy) Choose(_ context.Context, _ string, candidates []catalog.ProviderSpec) (catalog.ProviderSpec, error) {
	return candidates[0], nil
}
func (roundRobinStrategy) Release(_ context.Context, _ string, _ catalog.ProviderSpec) error {
	return nil
}
func (roundRobinStrategy) Name() string { return "round_robin_test" }

func TestRegister_PingReturnsPong(t *testing.T) {
	mux, _ := newTestGateway(t, "http://unused")
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegister_TagsListsActiveModels(t *testing.T) {
	mux, _ := newTestGateway(t, "http://unused")
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tags")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	models, _ := body["models"].([]any)
	require.Len(t, models, 1)
}

func TestRegister_ConversationEndpointDispatchesUpstream(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "hello back"}}},
		})
	}))
	defer upstreamSrv.Close()

	mux, _ := newTestGateway(t, upstreamSrv.URL)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"model_name": "m1", "user_last_statement": "hi there"})
	resp, err := http.Post(srv.URL+"/api/conversation_with_model", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	choices, _ := out["choices"].([]any)
	require.Len(t, choices, 1)
}

func TestRegister_MissingRequiredFieldReturns400(t *testing.T) {
	mux, _ := newTestGateway(t, "http://unused")
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/conversation_with_model", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, false, out["status"])
}

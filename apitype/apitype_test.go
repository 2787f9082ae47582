package apitype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/routererr"
)

func TestResolve_KnownTags(t *testing.T) {
	tests := []struct {
		apiType    catalog.ApiType
		chatPath   string
		embedsPath string
	}{
		{catalog.ApiTypeOpenAI, "/v1/chat/completions", "/v1/embeddings"},
		{catalog.ApiTypeVLLM, "/v1/chat/completions", "/v1/embeddings"},
		{catalog.ApiTypeOllama, "/api/chat", "/api/embed"},
		{catalog.ApiTypeLMStudio, "/api/v0/chat/completions", "/api/v0/embeddings"},
	}

	for _, tt := range tests {
		t.Run(string(tt.apiType), func(t *testing.T) {
			routes, err := Resolve(tt.apiType)
			require.NoError(t, err)
			assert.Equal(t, tt.chatPath, routes.ChatPath)
			assert.Equal(t, "POST", routes.ChatMethod)
			assert.Equal(t, tt.embedsPath, routes.EmbeddingsPath)
		})
	}
}

func TestResolve_Builtin(t *testing.T) {
	routes, err := Resolve(catalog.ApiTypeBuiltin)
	require.NoError(t, err)
	assert.Empty(t, routes.ChatPath)
}

func TestResolve_UnknownTag(t *testing.T) {
	_, err := Resolve(catalog.ApiType("carrier-pigeon"))
	require.Error(t, err)
	re, ok := routererr.As(err)
	require.True(t, ok)
	assert.Equal(t, routererr.UnknownApiType, re.Code)
}

func TestIsKnown(t *testing.T) {
	assert.True(t, IsKnown(catalog.ApiTypeOpenAI))
	assert.False(t, IsKnown(catalog.ApiType("nope")))
}

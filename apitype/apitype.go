// Package apitype is the single place the gateway hardcodes upstream wire
// dialects (spec.md §4.2): given a provider's api_type tag, it resolves the
// URL path and HTTP method to use for chat, completions, and embeddings
// calls. No other package may hardcode an upstream path.
package apitype

import (
	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/routererr"
)

// Routes is the (chat_path, chat_method, completions_path, completions_method,
// embeddings_path) tuple spec.md §4.2 returns for a given api_type.
type Routes struct {
	ChatPath          string
	ChatMethod        string
	CompletionsPath   string
	CompletionsMethod string
	EmbeddingsPath    string
}

var table = map[catalog.ApiType]Routes{
	catalog.ApiTypeOpenAI: {
		ChatPath: "/v1/chat/completions", ChatMethod: "POST",
		CompletionsPath: "/v1/chat/completions", CompletionsMethod: "POST",
		EmbeddingsPath: "/v1/embeddings",
	},
	catalog.ApiTypeVLLM: {
		ChatPath: "/v1/chat/completions", ChatMethod: "POST",
		CompletionsPath: "/v1/chat/completions", CompletionsMethod: "POST",
		EmbeddingsPath: "/v1/embeddings",
	},
	catalog.ApiTypeOllama: {
		ChatPath: "/api/chat", ChatMethod: "POST",
		CompletionsPath: "/api/chat", CompletionsMethod: "POST",
		EmbeddingsPath: "/api/embed",
	},
	catalog.ApiTypeLMStudio: {
		ChatPath: "/api/v0/chat/completions", ChatMethod: "POST",
		CompletionsPath: "/api/v0/chat/completions", CompletionsMethod: "POST",
		EmbeddingsPath: "/api/v0/embeddings",
	},
	catalog.ApiTypeBuiltin: {},
}

// Resolve returns the route tuple for apiType, or UnknownApiType if apiType
// is not one of the known tags.
func Resolve(apiType catalog.ApiType) (Routes, error) {
	routes, ok := table[apiType]
	if !ok {
		return Routes{}, routererr.Newf(routererr.UnknownApiType, "unknown api_type %q", apiType)
	}
	return routes, nil
}

// IsKnown reports whether apiType appears in the dispatch table.
func IsKnown(apiType catalog.ApiType) bool {
	_, ok := table[apiType]
	return ok
}

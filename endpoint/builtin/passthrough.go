package builtin

import (
	"context"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/endpoint"
	"github.com/modelgateway/llmrouter/hooks"
)

// passthrough relays the client's envelope upstream unchanged and relays
// the upstream response back unchanged — spec.md §6's "Chat passthrough
// (simple-proxy)" and "Embeddings passthrough" rows. No system prompt, no
// response rewriting.
type passthrough struct {
	endpoint.NopResponseHook
}

func (passthrough) PreparePayload(_ context.Context, env hooks.Envelope) (endpoint.PreparedPayload, error) {
	return endpoint.PreparedPayload{Envelope: env}, nil
}

// chatPassthroughDescriptor builds the Descriptor shared by every chat
// passthrough alias (spec.md §6): model/messages required, streams by
// default, and can target any known provider dialect.
func chatPassthroughDescriptor(path string) endpoint.Descriptor {
	return endpoint.Descriptor{
		Path:         path,
		Method:       "POST",
		RequiredArgs: []string{"model", "messages"},
		ApiTypes: map[catalog.ApiType]bool{
			catalog.ApiTypeOpenAI:   true,
			catalog.ApiTypeVLLM:     true,
			catalog.ApiTypeOllama:   true,
			catalog.ApiTypeLMStudio: true,
		},
	}
}

// embeddingsPassthroughDescriptor mirrors chatPassthroughDescriptor but
// targets the embeddings route (spec.md §4.2) and requires "input" instead
// of "messages", per the OpenAI/Ollama embeddings request shape.
func embeddingsPassthroughDescriptor(path string) endpoint.Descriptor {
	d := chatPassthroughDescriptor(path)
	d.Operation = endpoint.OperationEmbeddings
	d.RequiredArgs = []string{"model", "input"}
	return d
}

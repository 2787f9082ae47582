// Package endpoint implements the endpoint base and dispatch pipeline
// described in spec.md §4.5 — the heart of the core. A Descriptor declares
// an endpoint's static shape (path, method, argument names, flags); Engine
// drives every request through the fourteen-step lifecycle.
package endpoint

import (
	"context"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/hooks"
	"github.com/modelgateway/llmrouter/routererr"
)

// Handler is the per-endpoint collaborator: spec.md §9 models endpoints as
// a small interface plus a generic dispatcher, rather than a class
// hierarchy. Flags that used to be subclass markers become Descriptor
// fields instead.
type Handler interface {
	// PreparePayload is the endpoint's own transformation (spec.md §4.5
	// step 5): it sets the system-prompt inputs it wants via the returned
	// PreparedPayload and returns the upstream-ready envelope. If it
	// returns an envelope containing {"status": false, ...}, the engine
	// short-circuits and relays that envelope verbatim.
	PreparePayload(ctx context.Context, env hooks.Envelope) (PreparedPayload, error)

	// OnResponse, if non-nil on the concrete handler, post-processes the
	// upstream response before it's relayed to the client. Builtin
	// endpoints that don't need this may embed NopResponseHook.
	OnResponse(ctx context.Context, resp hooks.Envelope) (hooks.Envelope, error)
}

// NopResponseHook is embeddable by handlers with no response post-processing.
type NopResponseHook struct{}

func (NopResponseHook) OnResponse(_ context.Context, resp hooks.Envelope) (hooks.Envelope, error) {
	return resp, nil
}

// PreparedPayload is the result of PreparePayload: the upstream-ready
// envelope plus the system-prompt resolution inputs from spec.md §4.5
// step 7.
type PreparedPayload struct {
	Envelope hooks.Envelope

	// PromptPlaceholders is _map_prompt: literal token -> value.
	PromptPlaceholders map[string]string
	// PromptPostfix is _prompt_str_postfix, appended after substitution.
	PromptPostfix string
	// PromptForce is _prompt_str_force: if non-empty, used verbatim and
	// the template fetch/substitution is skipped entirely.
	PromptForce string

	// DirectReturn overrides the descriptor's DirectReturn flag for this
	// specific response, e.g. when PreparePayload itself decided the
	// request needs no upstream call (leave unset to use the descriptor).
	DirectReturn *bool
}

// OperationEmbeddings marks a Descriptor as targeting the embeddings route
// instead of the default chat route (spec.md §4.2).
const OperationEmbeddings = "embeddings"

// Descriptor is an endpoint's static configuration, declared once at
// registration time (spec.md §4.5).
type Descriptor struct {
	Path   string
	Method string

	// ApiTypes this endpoint can target; intersected with the selected
	// provider's api_type. Empty means "builtin" (no intersection check).
	ApiTypes map[catalog.ApiType]bool

	// Operation selects which route apitype.Routes resolves to. Empty
	// means "chat" (spec.md §4.2); "embeddings" targets EmbeddingsPath
	// instead, for the embeddings passthrough family.
	Operation string

	RequiredArgs []string
	OptionalArgs []string

	// SystemPromptName maps language -> prompt id. Empty means no system
	// prompt is injected.
	SystemPromptName map[string]string

	DirectReturn       bool
	CallForEachUserMsg bool
	DontAddAPIPrefix   bool

	// PrepareResponseFunction aggregates per-user-message responses in
	// multi-shot mode (spec.md §4.5). MUST be set when CallForEachUserMsg
	// is true; its absence is a registration-time error.
	PrepareResponseFunction func(responses []hooks.Envelope, contents []string) (hooks.Envelope, error)
}

// Validate enforces the registration-time invariants from spec.md §4.5 and
// §9: call_for_each_user_msg combined with direct_return is never
// meaningful, and multi-shot mode requires an aggregator.
func (d Descriptor) Validate() error {
	if d.CallForEachUserMsg && d.DirectReturn {
		return routererr.New(routererr.MisconfiguredEndpoint,
			"call_for_each_user_msg and direct_return cannot both be set")
	}
	if d.CallForEachUserMsg && d.PrepareResponseFunction == nil {
		return routererr.New(routererr.MisconfiguredEndpoint,
			"call_for_each_user_msg requires a PrepareResponseFunction aggregator")
	}
	return nil
}

// intersectsProviderType reports whether this endpoint can target a
// provider speaking apiType (spec.md §4.5 step 9).
func (d Descriptor) intersectsProviderType(apiType catalog.ApiType) bool {
	if len(d.ApiTypes) == 0 {
		return true // builtin endpoints post-process locally
	}
	return d.ApiTypes[apiType]
}

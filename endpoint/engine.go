package endpoint

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/apitype"
	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/hooks"
	"github.com/modelgateway/llmrouter/prompt"
	"github.com/modelgateway/llmrouter/routererr"
	"github.com/modelgateway/llmrouter/strategy"
	"github.com/modelgateway/llmrouter/upstream"
)

// StreamSink receives one raw wire chunk at a time during a streaming
// response; returning an error aborts the relay.
type StreamSink func(chunk []byte) error

// Request bundles what the engine needs to dispatch one call: the parsed
// envelope (step 1 has already happened), whether the client asked for a
// stream, and — if streaming is actually used — the sink to relay into.
type Request struct {
	Envelope        hooks.Envelope
	WantsStream     bool
	Sink            StreamSink
	DefaultLang     string
	RequestDeadline time.Duration
}

// Response is the outcome of a buffered dispatch. Streaming dispatches
// write through Sink instead and return a zero Response.
type Response struct {
	Envelope hooks.Envelope
	Streamed bool
}

// Engine drives every endpoint through the fourteen-step dispatch pipeline
// of spec.md §4.5. One Engine is constructed per process and shared by all
// registered endpoints.
type Engine struct {
	Catalog     *catalog.ModelCatalog
	Chooser     strategy.Strategy
	Upstream    *upstream.Client
	PromptRepo  prompt.Repository
	Masker      *hooks.MaskPipeline
	Guardrail   *hooks.GuardrailPipeline
	Auditor     hooks.Auditor
	Logger      *zap.Logger
	APIPrefix   string
	DefaultLang string

	// DefaultRequestDeadline bounds a request's whole lifecycle when the
	// caller didn't set Request.RequestDeadline explicitly (spec.md §5:
	// default 300s). Zero means no deadline is applied.
	DefaultRequestDeadline time.Duration

	// OnOutcome, if set, is called after every upstream attempt so
	// dynamic_weighted can update its latency/failure state (spec.md
	// §4.3.3). Optional: nil for strategies that don't track outcomes.
	OnOutcome func(modelName, providerID string, latency time.Duration, success bool)

	// KeepAliveRecorder, if set, is notified every time a provider is
	// chosen, so the keep-alive loop (spec.md §4.7) starts pinging it
	// without waiting for the provider's catalog entry to be re-read.
	// Optional: nil when no keep-alive loop is configured.
	KeepAliveRecorder KeepAliveRecorder
}

// KeepAliveRecorder is the registration hook spec.md §4.7 calls
// record_usage: told about every (model, provider) pair as soon as it's
// chosen, so it can schedule that provider's first keep-alive ping.
type KeepAliveRecorder interface {
	RecordUsage(ctx context.Context, model, host, keepAlive string) error
}

func (e *Engine) recordKeepAliveUsage(ctx context.Context, modelName string, provider catalog.ProviderSpec) {
	if e.KeepAliveRecorder == nil || provider.KeepAlive == "" {
		return
	}
	if err := e.KeepAliveRecorder.RecordUsage(context.WithoutCancel(ctx), modelName, provider.Host(), provider.KeepAlive); err != nil {
		e.Logger.Warn("failed to record keep-alive usage", zap.Error(err), zap.String("model", modelName), zap.String("provider_id", provider.ID))
	}
}

// Dispatch runs req through d's lifecycle using h for the endpoint-specific
// steps. It always releases whatever provider lock it acquired, on every
// return path.
func (e *Engine) Dispatch(ctx context.Context, d Descriptor, h Handler, req Request) (Response, error) {
	if err := validateRequired(req.Envelope, d.RequiredArgs); err != nil {
		return Response{}, err
	}

	deadline := req.RequestDeadline
	if deadline == 0 {
		deadline = e.DefaultRequestDeadline
	}
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	env := req.Envelope
	var audits []hooks.AuditRecord

	if e.Masker.Enabled() {
		rewritten, records, err := e.Masker.Run(ctx, env)
		if err != nil {
			return Response{}, err
		}
		env = rewritten
		audits = append(audits, records...)
	}

	if e.Guardrail.Enabled() {
		result, err := e.Guardrail.Run(ctx, env)
		if err != nil {
			return Response{}, err
		}
		if result.Audit != nil {
			audits = append(audits, *result.Audit)
		}
		if result.Verdict == hooks.VerdictBlock {
			e.flushAudits(ctx, audits)
			return Response{}, routererr.New(routererr.GuardrailBlocked, "request blocked by guardrail").
				WithDetail("reason", result.Reason)
		}
	}

	prepared, err := h.PreparePayload(ctx, env)
	if err != nil {
		return Response{}, err
	}
	e.flushAudits(ctx, audits)

	if status, ok := prepared.Envelope["status"].(bool); ok && !status {
		return Response{Envelope: prepared.Envelope}, nil
	}

	directReturn := d.DirectReturn
	if prepared.DirectReturn != nil {
		directReturn = *prepared.DirectReturn
	}
	if directReturn {
		return Response{Envelope: prepared.Envelope}, nil
	}

	if len(d.SystemPromptName) > 0 || prepared.PromptForce != "" {
		if err := e.injectSystemPrompt(ctx, d, &prepared, req.DefaultLang); err != nil {
			return Response{}, err
		}
	}

	if d.CallForEachUserMsg {
		return e.dispatchMultiShot(ctx, d, prepared, req)
	}

	modelName := resolveModelName(prepared.Envelope)
	entry, ok := e.Catalog.Lookup(modelName)
	if !ok || len(entry.Providers) == 0 {
		return Response{}, routererr.Newf(routererr.NoProviderAvailable, "no provider available for model %q", modelName)
	}

	provider, err := e.Chooser.Choose(ctx, modelName, entry.Providers)
	if err != nil {
		return Response{}, err
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if relErr := e.Chooser.Release(context.WithoutCancel(ctx), modelName, provider); relErr != nil {
			e.Logger.Warn("failed to release provider lock", zap.Error(relErr), zap.String("model", modelName), zap.String("provider_id", provider.ID))
		}
	}
	defer release()
	e.recordKeepAliveUsage(ctx, modelName, provider)

	if !d.intersectsProviderType(provider.APIType) {
		return Response{}, routererr.Newf(routererr.ApiTypeMismatch, "endpoint cannot target api_type %q", provider.APIType)
	}

	if messages, _ := prepared.Envelope["messages"].([]any); messages != nil {
		if err := checkContextBudget(provider, messages); err != nil {
			return Response{}, err
		}
	}

	callStart := time.Now()
	resp, streamed, err := e.callUpstream(ctx, d, provider, prepared.Envelope, req)
	latency := time.Since(callStart)
	success := err == nil
	if e.OnOutcome != nil {
		e.OnOutcome(modelName, provider.ID, latency, success)
	}
	if err != nil {
		return Response{}, err
	}
	if streamed {
		return Response{Streamed: true}, nil
	}

	if e.Guardrail.Enabled() {
		result, gerr := e.Guardrail.Run(ctx, resp)
		if gerr != nil {
			return Response{}, gerr
		}
		if result.Verdict == hooks.VerdictBlock {
			return Response{}, routererr.New(routererr.GuardrailBlocked, "response blocked by guardrail").
				WithDetail("reason", result.Reason)
		}
	}

	final, err := h.OnResponse(ctx, resp)
	if err != nil {
		return Response{}, err
	}
	return Response{Envelope: final}, nil
}

func (e *Engine) flushAudits(ctx context.Context, records []hooks.AuditRecord) {
	if e.Auditor == nil {
		return
	}
	for _, r := range records {
		e.Auditor.Log(ctx, r)
	}
}

// injectSystemPrompt implements spec.md §4.5 step 7.
func (e *Engine) injectSystemPrompt(ctx context.Context, d Descriptor, prepared *PreparedPayload, requestLang string) error {
	language := requestLang
	if language == "" {
		language = e.DefaultLang
	}

	promptID, ok := d.SystemPromptName[language]
	if !ok {
		promptID, ok = d.SystemPromptName[e.DefaultLang]
		if !ok {
			return nil
		}
	}

	text, err := prompt.Resolve(ctx, e.PromptRepo, promptID, language, prepared.PromptPlaceholders, prepared.PromptPostfix, prepared.PromptForce)
	if err != nil {
		return routererr.New(routererr.Internal, "resolve system prompt").WithCause(err)
	}

	messages, _ := prepared.Envelope["messages"].([]any)
	systemMsg := map[string]any{"role": "system", "content": text}
	prepared.Envelope["messages"] = append([]any{systemMsg}, messages...)
	return nil
}

func validateRequired(env hooks.Envelope, required []string) error {
	for _, name := range required {
		if !env.Has(name) {
			return routererr.MissingParamErr(name)
		}
	}
	return nil
}

func resolveModelName(env hooks.Envelope) string {
	if name := env.GetString("model"); name != "" {
		return name
	}
	return env.GetString("model_name")
}

func (e *Engine) callUpstream(ctx context.Context, d Descriptor, provider catalog.ProviderSpec, env hooks.Envelope, req Request) (hooks.Envelope, bool, error) {
	routes, err := apitype.Resolve(provider.APIType)
	if err != nil {
		return nil, false, err
	}

	path, method := routes.ChatPath, routes.ChatMethod
	if d.Operation == OperationEmbeddings {
		path, method = routes.EmbeddingsPath, http.MethodPost
	}
	url := strings.TrimRight(provider.APIHost, "/") + path

	wantsStream := req.WantsStream && req.Sink != nil && env.GetBool("stream")
	if !wantsStream {
		resp, err := e.Upstream.Call(ctx, method, url, provider, env)
		return resp, false, err
	}

	dialect := upstream.DialectFor(provider.APIType)
	err = e.Upstream.StreamTo(ctx, method, url, provider, env, dialect, req.Sink)
	return nil, true, err
}

package endpoint

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/modelgateway/llmrouter/apitype"
	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/hooks"
	"github.com/modelgateway/llmrouter/routererr"
	"github.com/modelgateway/llmrouter/strategy"
)

// multiShotLockRefreshInterval is how often an in-flight multi-shot batch
// refreshes its provider lock, comfortably inside any reasonable per-call
// timeout (spec.md §4.5: "the endpoint is responsible for refreshing the
// lock before each sub-request").
const multiShotLockRefreshInterval = 30 * time.Second

// dispatchMultiShot implements call_for_each_user_msg mode (spec.md §4.5,
// §9): the same provider is selected once and reused for one upstream call
// per user message, the client's own stream flag is coerced to false, and
// the endpoint's PrepareResponseFunction aggregates the per-message
// responses into a single envelope.
func (e *Engine) dispatchMultiShot(ctx context.Context, d Descriptor, prepared PreparedPayload, req Request) (Response, error) {
	if req.Envelope.GetBool("stream") || prepared.Envelope.GetBool("stream") {
		e.Logger.Info("coercing stream=false for call_for_each_user_msg endpoint", zap.String("path", d.Path))
	}
	prepared.Envelope["stream"] = false

	messages, _ := prepared.Envelope["messages"].([]any)
	userIdx := userMessageIndices(messages)
	if len(userIdx) == 0 {
		return Response{}, routererr.New(routererr.ValidationError, "call_for_each_user_msg requires at least one user message").
			WithDetail("field", "messages").WithDetail("reason", "no_user_message")
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

	if err := checkContextBudget(provider, messages); err != nil {
		return Response{}, err
	}

	routes, err := apitype.Resolve(provider.APIType)
	if err != nil {
		return Response{}, err
	}
	url := strings.TrimRight(provider.APIHost, "/") + routes.ChatPath

	refresher, refreshable := e.Chooser.(strategy.LockRefresher)
	stopRefresh := make(chan struct{})
	if refreshable {
		go e.refreshLockPeriodically(modelName, provider, refresher, stopRefresh)
		defer close(stopRefresh)
	}

	sysPrefix := systemPrefix(messages)

	responses := make([]hooks.Envelope, len(userIdx))
	contents := make([]string, len(userIdx))
	group, gctx := errgroup.WithContext(ctx)

	for slot, cutoff := range userIdx {
		slot, cutoff := slot, cutoff
		contents[slot] = messageContent(messages[cutoff])
		group.Go(func() error {
			shotEnvelope := prepared.Envelope.Clone()
			shotEnvelope["messages"] = append(append([]any{}, sysPrefix...), messages[cutoff])

			resp, callErr := e.Upstream.Call(gctx, routes.ChatMethod, url, provider, shotEnvelope)
			if callErr != nil {
				return callErr
			}
			responses[slot] = resp
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return Response{}, err
	}

	aggregated, err := d.PrepareResponseFunction(responses, contents)
	if err != nil {
		return Response{}, err
	}
	return Response{Envelope: aggregated}, nil
}

func (e *Engine) refreshLockPeriodically(modelName string, provider catalog.ProviderSpec, refresher strategy.LockRefresher, stop <-chan struct{}) {
	ticker := time.NewTicker(multiShotLockRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := refresher.RefreshLock(context.Background(), modelName, provider, multiShotLockRefreshInterval*2); err != nil {
				e.Logger.Warn("failed to refresh provider lock mid multi-shot batch",
					zap.Error(err), zap.String("model", modelName), zap.String("provider_id", provider.ID))
			}
		}
	}
}

// systemPrefix returns the leading run of "system"-role messages, the only
// context a per-user-message call in call_for_each_user_msg mode carries
// besides the single user message it's paired with (spec.md §4.5/§9: each
// sub-request sees the system prompt plus exactly one file/message, never
// the other files' content).
func systemPrefix(messages []any) []any {
	var prefix []any
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			break
		}
		if role, _ := msg["role"].(string); role != "system" {
			break
		}
		prefix = append(prefix, m)
	}
	return prefix
}

// userMessageIndices returns the index of every message with role "user".
func userMessageIndices(messages []any) []int {
	var out []int
	for i, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role == "user" {
			out = append(out, i)
		}
	}
	return out
}

// messageContent extracts the string content of a message, for the
// aggregator's contents slice.
func messageContent(m any) string {
	msg, ok := m.(map[string]any)
	if !ok {
		return ""
	}
	content, _ := msg["content"].(string)
	return content
}

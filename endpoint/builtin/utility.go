package builtin

import (
	"context"
	"strconv"
	"strings"

	"github.com/modelgateway/llmrouter/endpoint"
	"github.com/modelgateway/llmrouter/hooks"
	"github.com/modelgateway/llmrouter/routererr"
)

// conversationHandler implements /api/conversation_with_model and
// /api/extended_conversation_with_model (spec.md §6's testable property 4):
// model_name + user_last_statement (+ optional historical_messages) become
// a chat request with the system prompt the engine injects from
// Descriptor.SystemPromptName. The "extended" variant additionally accepts
// a custom_system_prompt field, forced verbatim in place of the repository
// lookup.
type conversationHandler struct {
	endpoint.NopResponseHook
	allowCustomPrompt bool
}

func (c conversationHandler) PreparePayload(_ context.Context, env hooks.Envelope) (endpoint.PreparedPayload, error) {
	modelName := env.GetString("model_name")
	if modelName == "" {
		return endpoint.PreparedPayload{}, routererr.MissingParamErr("model_name")
	}
	statement := env.GetString("user_last_statement")
	if statement == "" {
		return endpoint.PreparedPayload{}, routererr.MissingParamErr("user_last_statement")
	}

	messages, _ := env["historical_messages"].([]any)
	messages = append(append([]any{}, messages...), map[string]any{"role": "user", "content": statement})

	prepared := endpoint.PreparedPayload{
		Envelope: hooks.Envelope{
			"model":    modelName,
			"messages": messages,
			"stream":   false,
		},
	}
	if c.allowCustomPrompt {
		if custom := env.GetString("custom_system_prompt"); custom != "" {
			prepared.PromptForce = custom
		}
	}
	return prepared, nil
}

// contextQAHandler implements /api/generative_answer: a context passage
// plus a question become one user turn instructing the model to answer
// only from the given context.
type contextQAHandler struct {
	endpoint.NopResponseHook
}

func (contextQAHandler) PreparePayload(_ context.Context, env hooks.Envelope) (endpoint.PreparedPayload, error) {
	modelName := env.GetString("model_name")
	if modelName == "" {
		return endpoint.PreparedPayload{}, routererr.MissingParamErr("model_name")
	}
	question := env.GetString("question")
	if question == "" {
		return endpoint.PreparedPayload{}, routererr.MissingParamErr("question")
	}
	docContext := env.GetString("context")

	content := question
	if docContext != "" {
		content = "Context:\n" + docContext + "\n\nQuestion:\n" + question
	}

	return endpoint.PreparedPayload{
		Envelope: hooks.Envelope{
			"model":    modelName,
			"messages": []any{map[string]any{"role": "user", "content": content}},
			"stream":   false,
		},
	}, nil
}

// textUtilityHandler implements the single-text utility endpoints that
// share one shape: a required "text" field becomes the single user turn,
// with a system prompt fixed per endpoint (translate, simplify_text,
// generate_questions, generate_article_from_text). targetField, when set,
// is an additional required parameter appended to the instruction (e.g.
// translate's target_language).
type textUtilityHandler struct {
	endpoint.NopResponseHook
	targetField string
}

func (u textUtilityHandler) PreparePayload(_ context.Context, env hooks.Envelope) (endpoint.PreparedPayload, error) {
	modelName := env.GetString("model_name")
	if modelName == "" {
		return endpoint.PreparedPayload{}, routererr.MissingParamErr("model_name")
	}
	text := env.GetString("text")
	if text == "" {
		return endpoint.PreparedPayload{}, routererr.MissingParamErr("text")
	}

	content := text
	if u.targetField != "" {
		target := env.GetString(u.targetField)
		if target == "" {
			return endpoint.PreparedPayload{}, routererr.MissingParamErr(u.targetField)
		}
		content = target + "\n---\n" + text
	}

	return endpoint.PreparedPayload{
		Envelope: hooks.Envelope{
			"model":    modelName,
			"messages": []any{map[string]any{"role": "user", "content": content}},
			"stream":   false,
		},
	}, nil
}

// multiTextHandler implements /api/create_full_article_from_texts: several
// source texts are joined into one user turn for the model to synthesize
// into a single article.
type multiTextHandler struct {
	endpoint.NopResponseHook
}

func (multiTextHandler) PreparePayload(_ context.Context, env hooks.Envelope) (endpoint.PreparedPayload, error) {
	modelName := env.GetString("model_name")
	if modelName == "" {
		return endpoint.PreparedPayload{}, routererr.MissingParamErr("model_name")
	}
	rawTexts, _ := env["texts"].([]any)
	if len(rawTexts) == 0 {
		return endpoint.PreparedPayload{}, routererr.ValidationErr("texts", "must contain at least one source text")
	}

	var sections []string
	for i, t := range rawTexts {
		s, _ := t.(string)
		sections = append(sections, "Source "+strconv.Itoa(i+1)+":\n"+s)
	}

	return endpoint.PreparedPayload{
		Envelope: hooks.Envelope{
			"model":    modelName,
			"messages": []any{map[string]any{"role": "user", "content": strings.Join(sections, "\n\n")}},
			"stream":   false,
		},
	}, nil
}

// batchSummaryHandler implements /api/batch_file_summaries in
// call_for_each_user_msg mode (spec.md §4.5/§9): one user message per file,
// so the engine dispatches one upstream call per file against the same
// held provider and aggregates the per-file summaries.
type batchSummaryHandler struct {
	endpoint.NopResponseHook
}

func (batchSummaryHandler) PreparePayload(_ context.Context, env hooks.Envelope) (endpoint.PreparedPayload, error) {
	modelName := env.GetString("model_name")
	if modelName == "" {
		return endpoint.PreparedPayload{}, routererr.MissingParamErr("model_name")
	}
	rawFiles, _ := env["files"].([]any)
	if len(rawFiles) == 0 {
		return endpoint.PreparedPayload{}, routererr.ValidationErr("files", "must contain at least one file")
	}

	messages := make([]any, 0, len(rawFiles))
	for _, f := range rawFiles {
		content, _ := f.(string)
		messages = append(messages, map[string]any{"role": "user", "content": content})
	}

	return endpoint.PreparedPayload{
		Envelope: hooks.Envelope{
			"model":    modelName,
			"messages": messages,
			"stream":   false,
		},
	}, nil
}

// aggregateSummaries implements Descriptor.PrepareResponseFunction for
// batch_file_summaries: one {"input", "summary"} object per input file, in
// order, under the "summaries" key.
func aggregateSummaries(responses []hooks.Envelope, contents []string) (hooks.Envelope, error) {
	summaries := make([]any, len(responses))
	for i, resp := range responses {
		summaries[i] = map[string]any{
			"input":   contents[i],
			"summary": firstChoiceContent(resp),
		}
	}
	return hooks.Envelope{"status": true, "summaries": summaries}, nil
}

// firstChoiceContent extracts message content from an OpenAI-shaped chat
// response, tolerating the Ollama shape as a fallback.
func firstChoiceContent(resp hooks.Envelope) string {
	if choices, ok := resp["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if msg, ok := choice["message"].(map[string]any); ok {
				if content, ok := msg["content"].(string); ok {
					return content
				}
			}
		}
	}
	if msg, ok := resp["message"].(map[string]any); ok {
		if content, ok := msg["content"].(string); ok {
			return content
		}
	}
	return ""
}

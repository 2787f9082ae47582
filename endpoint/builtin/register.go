package builtin

import (
	"encoding/json"
	"net/http"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/endpoint"
)

// assistantPromptID is the system prompt conversation_with_model and
// extended_conversation_with_model inject by default (spec.md §6); the
// extended variant lets a request override it with custom_system_prompt.
const assistantPromptID = "builtin.assistant"

// Register wires every endpoint in spec.md §6's HTTP surface table onto
// mux, driving the provider-backed ones through e and the purely local
// ones (ping, tags, models) directly off cat.
func Register(mux *http.ServeMux, e *endpoint.Engine, cat *catalog.ModelCatalog, apiPrefix string) {
	registerLocalEndpoints(mux, cat)
	registerChatPassthrough(mux, e)
	registerEmbeddingsPassthrough(mux, e)
	registerResponsesPassthrough(mux, e)
	registerBuiltinUtilities(mux, e, apiPrefix)
}

func registerLocalEndpoints(mux *http.ServeMux, cat *catalog.ModelCatalog) {
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("pong"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Ollama is running"))
	})
	mux.HandleFunc("/tags", func(w http.ResponseWriter, r *http.Request) {
		models := make([]map[string]any, 0)
		for _, name := range cat.ActiveModelNames() {
			models = append(models, map[string]any{"name": name, "model": name})
		}
		writeJSON(w, map[string]any{"models": models})
	})
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]any, 0)
		for _, name := range cat.ActiveModelNames() {
			data = append(data, map[string]any{"id": name, "object": "model"})
		}
		writeJSON(w, map[string]any{"object": "list", "data": data})
	})
	mux.HandleFunc("/api/v0/models", func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]any, 0)
		for _, name := range cat.ActiveModelNames() {
			data = append(data, map[string]any{"id": name, "object": "model", "state": "loaded"})
		}
		writeJSON(w, map[string]any{"data": data})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// registerChatPassthrough wires spec.md §6's four chat passthrough
// aliases, each streaming by default per the payload-envelope rule.
func registerChatPassthrough(mux *http.ServeMux, e *endpoint.Engine) {
	for _, path := range []string{"/chat/completions", "/v1/chat/completions", "/api/chat/completions", "/api/chat"} {
		mux.HandleFunc(path, handlerFor(e, chatPassthroughDescriptor(path), passthrough{}, true))
	}
}

func registerEmbeddingsPassthrough(mux *http.ServeMux, e *endpoint.Engine) {
	for _, path := range []string{"/api/embeddings", "/v1/embeddings", "/api/embed"} {
		mux.HandleFunc(path, handlerFor(e, embeddingsPassthroughDescriptor(path), passthrough{}, false))
	}
}

// registerResponsesPassthrough wires /v1/responses (spec.md §6): relayed
// like chat passthrough, since the OpenAI Responses wire shape is
// orthogonal to this gateway's dispatch pipeline.
func registerResponsesPassthrough(mux *http.ServeMux, e *endpoint.Engine) {
	path := "/v1/responses"
	mux.HandleFunc(path, handlerFor(e, chatPassthroughDescriptor(path), passthrough{}, true))
}

func registerBuiltinUtilities(mux *http.ServeMux, e *endpoint.Engine, apiPrefix string) {
	conversation := endpoint.Descriptor{
		Path:             apiPrefix + "/conversation_with_model",
		Method:           "POST",
		RequiredArgs:     []string{"model_name", "user_last_statement"},
		SystemPromptName: map[string]string{"en": assistantPromptID},
	}
	mux.HandleFunc(conversation.Path, handlerFor(e, conversation, conversationHandler{}, false))

	extended := conversation
	extended.Path = apiPrefix + "/extended_conversation_with_model"
	mux.HandleFunc(extended.Path, handlerFor(e, extended, conversationHandler{allowCustomPrompt: true}, false))

	generativeAnswer := endpoint.Descriptor{
		Path:         apiPrefix + "/generative_answer",
		Method:       "POST",
		RequiredArgs: []string{"model_name", "question"},
	}
	mux.HandleFunc(generativeAnswer.Path, handlerFor(e, generativeAnswer, contextQAHandler{}, false))

	type utility struct {
		path        string
		promptID    string
		targetField string
	}
	utilities := []utility{
		{path: "/generate_questions", promptID: "builtin.generate_questions"},
		{path: "/translate", promptID: "builtin.translate", targetField: "target_language"},
		{path: "/simplify_text", promptID: "builtin.simplify_text"},
		{path: "/generate_article_from_text", promptID: "builtin.generate_article_from_text"},
	}
	for _, u := range utilities {
		d := endpoint.Descriptor{
			Path:             apiPrefix + u.path,
			Method:           "POST",
			RequiredArgs:     []string{"model_name", "text"},
			SystemPromptName: map[string]string{"en": u.promptID},
		}
		if u.targetField != "" {
			d.RequiredArgs = append(d.RequiredArgs, u.targetField)
		}
		mux.HandleFunc(d.Path, handlerFor(e, d, textUtilityHandler{targetField: u.targetField}, false))
	}

	multiText := endpoint.Descriptor{
		Path:             apiPrefix + "/create_full_article_from_texts",
		Method:           "POST",
		RequiredArgs:     []string{"model_name", "texts"},
		SystemPromptName: map[string]string{"en": "builtin.create_full_article_from_texts"},
	}
	mux.HandleFunc(multiText.Path, handlerFor(e, multiText, multiTextHandler{}, false))

	batchSummary := endpoint.Descriptor{
		Path:                    apiPrefix + "/batch_file_summaries",
		Method:                  "POST",
		RequiredArgs:            []string{"model_name", "files"},
		SystemPromptName:        map[string]string{"en": "builtin.batch_file_summaries"},
		CallForEachUserMsg:      true,
		PrepareResponseFunction: aggregateSummaries,
	}
	mux.HandleFunc(batchSummary.Path, handlerFor(e, batchSummary, batchSummaryHandler{}, false))
}

// Package builtin implements the concrete HTTP surface of spec.md §6: the
// liveness/listing endpoints, the passthrough families, and the built-in
// utility endpoints that inject a system prompt before relaying upstream.
// Every endpoint that talks to a provider is a thin endpoint.Handler driven
// by the shared endpoint.Engine; this file is the adapter between net/http
// and that dispatch pipeline.
package builtin

import (
	"encoding/json"
	"net/http"

	"github.com/modelgateway/llmrouter/endpoint"
	"github.com/modelgateway/llmrouter/hooks"
	"github.com/modelgateway/llmrouter/routererr"
)

// handlerFor adapts an endpoint.Descriptor/Handler pair into an
// http.HandlerFunc: decode the JSON body into an envelope, drive the
// engine, and relay either the buffered envelope or the streamed bytes.
func handlerFor(e *endpoint.Engine, d endpoint.Descriptor, h endpoint.Handler, defaultStream bool) http.HandlerFunc {
	if err := d.Validate(); err != nil {
		panic(err)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := decodeEnvelope(r)
		if err != nil {
			writeError(w, routererr.New(routererr.BadRequest, "request body is not valid JSON").WithCause(err))
			return
		}
		if !env.Has("stream") {
			env["stream"] = defaultStream
		}
		wantsStream := env.GetBool("stream")

		var sink endpoint.StreamSink
		wroteChunk := false
		if wantsStream {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			flusher, canFlush := w.(http.Flusher)
			sink = func(chunk []byte) error {
				wroteChunk = true
				if _, werr := w.Write(chunk); werr != nil {
					return werr
				}
				if canFlush {
					flusher.Flush()
				}
				return nil
			}
		}

		resp, err := e.Dispatch(r.Context(), d, h, endpoint.Request{
			Envelope:    env,
			WantsStream: wantsStream,
			Sink:        sink,
			DefaultLang: env.GetString("language"),
		})
		if err != nil {
			if wroteChunk {
				// Headers and part of the stream are already on the
				// wire; there's nothing left to do but stop.
				return
			}
			writeError(w, err)
			return
		}
		if resp.Streamed {
			return
		}
		writeEnvelope(w, http.StatusOK, resp.Envelope)
	}
}

func decodeEnvelope(r *http.Request) (hooks.Envelope, error) {
	if r.Body == nil {
		return hooks.Envelope{}, nil
	}
	defer r.Body.Close()

	var env hooks.Envelope
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	if env == nil {
		env = hooks.Envelope{}
	}
	return env, nil
}

func writeEnvelope(w http.ResponseWriter, status int, env hooks.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeError(w http.ResponseWriter, err error) {
	re, ok := routererr.As(err)
	if !ok {
		re = routererr.New(routererr.Internal, err.Error())
	}
	body := map[string]any{
		"status": false,
		"error": map[string]any{
			"code":    re.Code,
			"message": re.Message,
		},
	}
	if len(re.Details) > 0 {
		body["error"].(map[string]any)["details"] = re.Details
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(re.HTTPStatus)
	_ = json.NewEncoder(w).Encode(body)
}

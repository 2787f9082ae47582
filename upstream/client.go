// Package upstream is the HTTP relay to the selected provider (spec.md
// §4.6): a buffered JSON round trip for ordinary calls, and a streaming
// relay that forwards SSE or NDJSON frames verbatim as they arrive, with
// no reassembly buffering.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/hooks"
	"github.com/modelgateway/llmrouter/internal/metrics"
	"github.com/modelgateway/llmrouter/routererr"
)

// Client issues buffered and streaming calls to upstream providers. No
// retries happen at this layer (spec.md §4.6): a failed call is the
// caller's problem to retry or fail.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// NewClient constructs a Client with the given external-call timeout used
// as the http.Client's default; per-call contexts may set a tighter one.
func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("component", "upstream")),
	}
}

// SetMetrics wires m as the destination for this client's upstream-call and
// stream-chunk metrics.
func (c *Client) SetMetrics(m *metrics.Collector) {
	c.metrics = m
}

// Call performs a buffered (non-streaming) round trip: encode envelope as
// the request body, parse the response body as JSON.
func (c *Client) Call(ctx context.Context, method, url string, provider catalog.ProviderSpec, envelope hooks.Envelope) (hooks.Envelope, error) {
	start := time.Now()
	model := envelope.GetString("model")

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, routererr.New(routererr.Internal, "encode upstream request body").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, routererr.New(routererr.Internal, "build upstream request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if provider.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+provider.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordUpstream(provider.ID, model, "error", start)
		if ctx.Err() != nil {
			return nil, routererr.New(routererr.UpstreamTimeout, "upstream call timed out").WithCause(err)
		}
		return nil, routererr.New(routererr.UpstreamError, "upstream call failed").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordUpstream(provider.ID, model, "error", start)
		return nil, routererr.New(routererr.UpstreamError, "read upstream response").WithCause(err)
	}

	if resp.StatusCode >= 500 {
		c.recordUpstream(provider.ID, model, "error", start)
		return nil, routererr.UpstreamErr(resp.StatusCode, string(respBody))
	}

	var out hooks.Envelope
	if err := json.Unmarshal(respBody, &out); err != nil {
		c.recordUpstream(provider.ID, model, "error", start)
		return nil, routererr.New(routererr.UpstreamError, "upstream response is not valid JSON").
			WithDetail("status", resp.StatusCode).WithCause(err)
	}

	c.recordUpstream(provider.ID, model, "ok", start)
	return out, nil
}

// recordUpstream reports one completed Call/StreamTo attempt, if a metrics
// collector has been wired via SetMetrics.
func (c *Client) recordUpstream(providerID, model, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordUpstreamRequest(providerID, model, status, time.Since(start))
}

// Dialect selects the streaming frame format used to relay an upstream
// response: SSE "data: ...\n\n" frames for OpenAI/vLLM/LM Studio, or
// newline-delimited JSON objects for Ollama.
type Dialect int

const (
	DialectSSE Dialect = iota
	DialectNDJSON
)

// DialectFor resolves the streaming dialect for a provider's api_type.
func DialectFor(apiType catalog.ApiType) Dialect {
	if apiType == catalog.ApiTypeOllama {
		return DialectNDJSON
	}
	return DialectSSE
}

// StreamTo opens a streaming upstream call and relays it chunk by chunk to
// sink as each chunk arrives — no buffering beyond a single chunk (spec.md
// §9). It returns once the stream ends (upstream EOF/terminator), the
// context is cancelled (client disconnect), or an unrecoverable error
// occurs.
func (c *Client) StreamTo(ctx context.Context, method, url string, provider catalog.ProviderSpec, envelope hooks.Envelope, dialect Dialect, sink func(chunk []byte) error) error {
	start := time.Now()
	model := envelope.GetString("model")

	body, err := json.Marshal(envelope)
	if err != nil {
		return routererr.New(routererr.Internal, "encode upstream request body").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return routererr.New(routererr.Internal, "build upstream request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if provider.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+provider.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordUpstream(provider.ID, model, "error", start)
		if ctx.Err() != nil {
			return routererr.New(routererr.UpstreamTimeout, "upstream stream call timed out").WithCause(err)
		}
		return routererr.New(routererr.UpstreamError, "upstream stream call failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.recordUpstream(provider.ID, model, "error", start)
		respBody, _ := io.ReadAll(resp.Body)
		return c.emitStreamError(dialect, sink, routererr.UpstreamErr(resp.StatusCode, string(respBody)))
	}

	switch dialect {
	case DialectNDJSON:
		err = c.relayNDJSON(ctx, provider.ID, resp.Body, sink)
	default:
		err = c.relaySSE(ctx, provider.ID, resp.Body, sink)
	}
	if err != nil {
		c.recordUpstream(provider.ID, model, "error", start)
		if ctx.Err() == nil {
			return c.emitStreamError(dialect, sink, err)
		}
		return err
	}
	c.recordUpstream(provider.ID, model, "ok", start)
	return nil
}

// relaySSE forwards "data: ...\n\n" frames verbatim until "data: [DONE]" or
// EOF, per spec.md §4.6's OpenAI/vLLM dialect. Blank separator lines are
// not forwarded on their own: each non-blank line goes out as one frame
// terminated by "\n\n".
func (c *Client) relaySSE(ctx context.Context, providerID string, body io.Reader, sink func([]byte) error) error {
	scanner := newLineScanner(body)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		frame := append(append([]byte{}, line...), '\n', '\n')
		if err := sink(frame); err != nil {
			return err
		}
		if c.metrics != nil {
			c.metrics.RecordStreamChunk(providerID, "sse")
		}
		if strings.HasPrefix(string(line), "data: [DONE]") {
			return nil
		}
	}
	return scanner.Err()
}

// relayNDJSON forwards one JSON object per line until an object with
// "done": true or EOF, per spec.md §4.6's Ollama dialect.
func (c *Client) relayNDJSON(ctx context.Context, providerID string, body io.Reader, sink func([]byte) error) error {
	scanner := newLineScanner(body)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := sink(append(append([]byte{}, line...), '\n')); err != nil {
			return err
		}
		if c.metrics != nil {
			c.metrics.RecordStreamChunk(providerID, "ndjson")
		}

		var probe struct {
			Done bool `json:"done"`
		}
		if json.Unmarshal(line, &probe) == nil && probe.Done {
			return nil
		}
	}
	return scanner.Err()
}

// emitStreamError writes one final error frame in the stream's dialect and
// closes, per spec.md §4.6's mid-stream-error rule.
func (c *Client) emitStreamError(dialect Dialect, sink func([]byte) error, streamErr error) error {
	msg := streamErr.Error()
	var frame []byte
	if dialect == DialectNDJSON {
		payload, _ := json.Marshal(map[string]any{"error": msg, "done": true})
		frame = append(payload, '\n')
	} else {
		payload, _ := json.Marshal(map[string]string{"error": msg})
		frame = []byte(fmt.Sprintf("data: %s\n\n", payload))
	}
	_ = sink(frame)
	return streamErr
}

package endpoint

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/routererr"
)

// tiktokenEncoding is the BPE table used to estimate request size against
// a provider's input_size budget. cl100k_base is the encoding every
// OpenAI-compatible chat model in the catalog (openai, vllm, lmstudio)
// approximates closely enough for a pre-flight check; Ollama models have
// no official encoder exposed by the library, so the same table is reused
// as a conservative estimate for them too.
const tiktokenEncoding = "cl100k_base"

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
	tokenizerErr  error
)

func getTokenizer() (*tiktoken.Tiktoken, error) {
	tokenizerOnce.Do(func() {
		tokenizer, tokenizerErr = tiktoken.GetEncoding(tiktokenEncoding)
	})
	return tokenizer, tokenizerErr
}

// estimateMessageTokens sums the token count of every message's content
// string. It ignores role/name overhead; the spec only needs a budget
// pre-check, not a billing-accurate count.
func estimateMessageTokens(tkm *tiktoken.Tiktoken, messages []any) int {
	total := 0
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		content, _ := msg["content"].(string)
		if content == "" {
			continue
		}
		total += len(tkm.Encode(content, nil, nil))
	}
	return total
}

// checkContextBudget implements spec.md §4.5's context-window pre-check: a
// provider with a positive input_size rejects requests whose estimated
// message token count would overflow it, before the request ever reaches
// the wire. A provider with input_size <= 0 declares no known limit and is
// never checked.
func checkContextBudget(provider catalog.ProviderSpec, messages []any) error {
	if provider.InputSize <= 0 {
		return nil
	}
	tkm, err := getTokenizer()
	if err != nil {
		return nil // tokenizer unavailable: fail open rather than block every request
	}
	count := estimateMessageTokens(tkm, messages)
	if count > provider.InputSize {
		return routererr.ValidationErr("messages", "context_too_long").
			WithDetail("estimated_tokens", count).
			WithDetail("input_size", provider.InputSize)
	}
	return nil
}

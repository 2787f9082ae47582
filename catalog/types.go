// Package catalog loads and exposes the model/provider catalog described in
// spec.md §3-4.1: a mapping of model-type-group -> model-name -> ModelEntry,
// restricted to the models listed in the catalog's active_models section.
package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ApiType identifies the wire dialect a provider speaks. It is re-declared
// here (rather than imported from apitype) because the catalog is a pure
// data layer with no dependency on the dispatch table that interprets it.
type ApiType string

const (
	ApiTypeOpenAI   ApiType = "openai"
	ApiTypeVLLM     ApiType = "vllm"
	ApiTypeOllama   ApiType = "ollama"
	ApiTypeLMStudio ApiType = "lmstudio"
	ApiTypeBuiltin  ApiType = "builtin"
)

// ProviderSpec describes one concrete upstream, per spec.md §3.
type ProviderSpec struct {
	ID          string  `json:"id"`
	APIHost     string  `json:"api_host"`
	APIToken    string  `json:"api_token,omitempty"`
	APIType     ApiType `json:"api_type"`
	ModelPath   string  `json:"model_path,omitempty"`
	InputSize   int     `json:"input_size"`
	Weight      float64 `json:"weight"`
	KeepAlive   string  `json:"keep_alive,omitempty"`
	ToolCalling bool    `json:"tool_calling,omitempty"`
}

// Host returns the host:port portion of APIHost, used as the coarser
// "physical box" key by the optimized first-available strategy (§3).
func (p ProviderSpec) Host() string {
	return extractHost(p.APIHost)
}

// rawProviderSpec mirrors ProviderSpec but accepts input_size as either a
// JSON number or a numeric string, per spec.md §4.1's boundary rule.
type rawProviderSpec struct {
	ID          string          `json:"id"`
	APIHost     string          `json:"api_host"`
	APIToken    string          `json:"api_token"`
	APIType     ApiType         `json:"api_type"`
	ModelPath   string          `json:"model_path"`
	InputSize   json.RawMessage `json:"input_size"`
	Weight      *float64        `json:"weight"`
	KeepAlive   string          `json:"keep_alive"`
	ToolCalling bool            `json:"tool_calling"`
}

func (p *ProviderSpec) UnmarshalJSON(data []byte) error {
	var raw rawProviderSpec
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	inputSize, err := parseInputSize(raw.InputSize)
	if err != nil {
		return fmt.Errorf("provider %q: %w", raw.ID, err)
	}

	weight := 1.0
	if raw.Weight != nil {
		weight = *raw.Weight
	}

	*p = ProviderSpec{
		ID:          raw.ID,
		APIHost:     raw.APIHost,
		APIToken:    raw.APIToken,
		APIType:     raw.APIType,
		ModelPath:   raw.ModelPath,
		InputSize:   inputSize,
		Weight:      weight,
		KeepAlive:   raw.KeepAlive,
		ToolCalling: raw.ToolCalling,
	}
	return nil
}

func parseInputSize(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, nil
	}

	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return asInt, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		n, err := strconv.Atoi(asString)
		if err != nil {
			return 0, fmt.Errorf("input_size %q is not numeric", asString)
		}
		return n, nil
	}

	return 0, fmt.Errorf("input_size must be an integer or numeric string")
}

// ModelEntry holds the ordered provider lists for one model, per spec.md §3.
type ModelEntry struct {
	Providers      []ProviderSpec `json:"providers"`
	ProvidersSleep []ProviderSpec `json:"providers_sleep"`
}

// ModelCatalog is the loaded, queryable view of active models and their
// providers: model-type-group -> model-name -> ModelEntry.
type ModelCatalog struct {
	groups       map[string]map[string]ModelEntry
	activeModels map[string][]string // group -> active model names
}

// Lookup returns the ModelEntry for modelName if it is visible (i.e. listed
// in active_models for some group), searching every group.
func (c *ModelCatalog) Lookup(modelName string) (ModelEntry, bool) {
	for group, names := range c.activeModels {
		for _, n := range names {
			if n == modelName {
				entry, ok := c.groups[group][modelName]
				return entry, ok
			}
		}
	}
	return ModelEntry{}, false
}

// ActiveModelNames returns every active model name across all groups, used
// by the /tags and /models listing endpoints (§6).
func (c *ModelCatalog) ActiveModelNames() []string {
	var names []string
	for _, group := range c.activeModels {
		names = append(names, group...)
	}
	return names
}

// ActiveGroups returns the group -> active model names mapping.
func (c *ModelCatalog) ActiveGroups() map[string][]string {
	out := make(map[string][]string, len(c.activeModels))
	for g, names := range c.activeModels {
		cp := make([]string, len(names))
		copy(cp, names)
		out[g] = cp
	}
	return out
}

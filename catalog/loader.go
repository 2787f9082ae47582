package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/routererr"
)

// The catalog JSON file has this shape (spec.md §3-4.1):
//
//	{
//	  "active_models": {"chat": ["gpt-4"], "embedding": ["embed-a"]},
//	  "chat": {"gpt-4": {"providers": [...], "providers_sleep": [...]}},
//	  "embedding": {"embed-a": {"providers": [...]}}
//	}
//
// Groups are any top-level key other than active_models; they are decoded
// lazily via json.RawMessage since the schema doesn't name them in advance.

// Load reads and validates a catalog JSON file, per spec.md §4.1's rules.
// Observable side effects: none; this is a pure function of the file's bytes.
func Load(path string) (*ModelCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, routererr.New(routererr.BadCatalog, fmt.Sprintf("read catalog file %q", path)).WithCause(err)
	}
	return LoadBytes(data)
}

// LoadBytes parses and validates catalog JSON already read into memory.
// Exposed separately so callers (and tests) can load from any source
// without going through the filesystem.
func LoadBytes(data []byte) (*ModelCatalog, error) {
	var rawTop map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawTop); err != nil {
		return nil, routererr.New(routererr.BadCatalog, "catalog is not valid JSON").WithCause(err)
	}

	activeRaw, ok := rawTop["active_models"]
	if !ok {
		return nil, routererr.New(routererr.BadCatalog, "active_models is mandatory")
	}

	var activeModels map[string][]string
	if err := json.Unmarshal(activeRaw, &activeModels); err != nil {
		return nil, routererr.New(routererr.BadCatalog, "active_models must be an object of group -> [model names]").WithCause(err)
	}

	groups := make(map[string]map[string]ModelEntry, len(rawTop)-1)
	for group, raw := range rawTop {
		if group == "active_models" {
			continue
		}
		var entries map[string]ModelEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, routererr.New(routererr.BadCatalog, fmt.Sprintf("group %q is malformed", group)).WithCause(err)
		}
		groups[group] = entries
	}

	// A model listed in active_models but absent from its group is fatal.
	for group, names := range activeModels {
		groupEntries, groupExists := groups[group]
		if !groupExists {
			return nil, routererr.New(routererr.BadCatalog,
				fmt.Sprintf("active_models references group %q which has no model definitions", group))
		}
		for _, name := range names {
			if _, ok := groupEntries[name]; !ok {
				return nil, routererr.New(routererr.BadCatalog,
					fmt.Sprintf("active model %q in group %q has no entry in that group", name, group))
			}
		}
	}

	warnDuplicateProviderIDs(groups)

	return &ModelCatalog{groups: groups, activeModels: activeModels}, nil
}

// warnDuplicateProviderIDs logs (but does not fail on) duplicate provider
// ids across the whole catalog, per spec.md §4.1: "the pair (model, id) is
// what matters", so duplication alone is a warning, not a fatal error.
func warnDuplicateProviderIDs(groups map[string]map[string]ModelEntry) {
	seen := make(map[string]bool)
	logger := zap.L()
	for _, entries := range groups {
		for modelName, entry := range entries {
			for _, p := range append(append([]ProviderSpec{}, entry.Providers...), entry.ProvidersSleep...) {
				if p.ID == "" {
					continue
				}
				if seen[p.ID] {
					logger.Warn("duplicate provider id across catalog",
						zap.String("provider_id", p.ID), zap.String("model", modelName))
					continue
				}
				seen[p.ID] = true
			}
		}
	}
}

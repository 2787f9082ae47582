package hooks

import "context"

// AuditRecord is a single observation emitted by a masking rule or a
// guardrail classifier, forwarded to the Auditor collaborator.
type AuditRecord struct {
	AuditType string
	Payload   map[string]any
}

// MaskRule is one named rule engine in the masking pipeline (spec.md §4.5
// step 3). It receives the envelope and returns a rewritten envelope plus
// an audit record describing what, if anything, it redacted.
type MaskRule interface {
	Name() string
	Apply(ctx context.Context, env Envelope) (Envelope, *AuditRecord, error)
}

// MaskPipeline runs an ordered list of MaskRules, threading the envelope
// through each in turn and collecting every non-nil audit record.
type MaskPipeline struct {
	rules []MaskRule
}

// NewMaskPipeline constructs a pipeline from an ordered rule list.
func NewMaskPipeline(rules ...MaskRule) *MaskPipeline {
	return &MaskPipeline{rules: rules}
}

// Run applies every rule in order, returning the final envelope and the
// audit records collected along the way.
func (p *MaskPipeline) Run(ctx context.Context, env Envelope) (Envelope, []AuditRecord, error) {
	var records []AuditRecord
	current := env
	for _, rule := range p.rules {
		rewritten, record, err := rule.Apply(ctx, current)
		if err != nil {
			return nil, records, err
		}
		current = rewritten
		if record != nil {
			records = append(records, *record)
		}
	}
	return current, records, nil
}

// Enabled reports whether this pipeline has any rules configured.
func (p *MaskPipeline) Enabled() bool {
	return p != nil && len(p.rules) > 0
}

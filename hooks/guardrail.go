package hooks

import "context"

// Verdict is a guardrail classifier's decision on one envelope.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictBlock
)

// GuardrailResult is the outcome of running the guardrail pipeline.
type GuardrailResult struct {
	Verdict Verdict
	Reason  string
	Audit   *AuditRecord
}

// GuardrailClassifier is one classifier in the guardrail pipeline (spec.md
// §4.5 steps 4 and 12). It inspects the envelope (a request before the
// upstream call, or a response body after it) and returns a verdict.
type GuardrailClassifier interface {
	Name() string
	Classify(ctx context.Context, env Envelope) (GuardrailResult, error)
}

// GuardrailPipeline runs classifiers in order; the first BLOCK verdict
// short-circuits the remaining classifiers.
type GuardrailPipeline struct {
	classifiers []GuardrailClassifier
}

// NewGuardrailPipeline constructs a pipeline from an ordered classifier list.
func NewGuardrailPipeline(classifiers ...GuardrailClassifier) *GuardrailPipeline {
	return &GuardrailPipeline{classifiers: classifiers}
}

// Enabled reports whether this pipeline has any classifiers configured.
func (p *GuardrailPipeline) Enabled() bool {
	return p != nil && len(p.classifiers) > 0
}

// Run classifies env against every classifier in order, stopping at the
// first BLOCK verdict.
func (p *GuardrailPipeline) Run(ctx context.Context, env Envelope) (GuardrailResult, error) {
	for _, classifier := range p.classifiers {
		result, err := classifier.Classify(ctx, env)
		if err != nil {
			return GuardrailResult{}, err
		}
		if result.Verdict == VerdictBlock {
			return result, nil
		}
	}
	return GuardrailResult{Verdict: VerdictAllow}, nil
}

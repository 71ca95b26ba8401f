package pipeline

import "github.com/marcus-qen/agia-orchestrator/internal/ledger"

// Templates holds the category-keyed stage templates used when a job spec
// does not declare its own pipeline (spec §4.3 step 2).
type Templates struct {
	byCategory map[string][]ledger.Stage
}

// DefaultTemplateKey is the fallback template used when neither the job spec
// nor its category has a template.
const DefaultTemplateKey = "default"

// NewTemplates builds a Templates set, seeded with the built-in default and
// per-category templates that exercise each built-in handler.
func NewTemplates() *Templates {
	t := &Templates{byCategory: map[string][]ledger.Stage{
		DefaultTemplateKey: {
			{Name: "report", Handler: "report.generate"},
		},
		"research": {
			{Name: "summarize", Handler: "research.summarize"},
			{Name: "report", Handler: "report.generate"},
		},
		"policy": {
			{Name: "analyze", Handler: "policy.analyze"},
			{Name: "report", Handler: "report.generate"},
		},
		"finance": {
			{Name: "evaluate", Handler: "finance.evaluate"},
			{Name: "report", Handler: "report.generate"},
		},
		"governance": {
			{Name: "review", Handler: "governance.review"},
			{Name: "report", Handler: "report.generate"},
		},
		"engineering": {
			{Name: "plan", Handler: "engineering.plan"},
			{Name: "report", Handler: "report.generate"},
		},
	}}
	return t
}

// Set overrides (or adds) the template for category, or DefaultTemplateKey.
func (t *Templates) Set(category string, stages []ledger.Stage) {
	t.byCategory[category] = stages
}

// Resolve implements spec §4.3 step 2: the job spec's own pipeline wins if
// non-empty, else the category's template, else the default template. It
// errors only if neither a category template nor a default template exists.
func Resolve(specPipeline []ledger.Stage, category string, templates *Templates) ([]ledger.Stage, error) {
	if len(specPipeline) > 0 {
		return specPipeline, nil
	}
	if stages, ok := templates.byCategory[category]; ok && len(stages) > 0 {
		return stages, nil
	}
	if stages, ok := templates.byCategory[DefaultTemplateKey]; ok && len(stages) > 0 {
		return stages, nil
	}
	return nil, errNoTemplate
}

var errNoTemplate = templateError("no pipeline template for category and no default template configured")

type templateError string

func (e templateError) Error() string { return string(e) }

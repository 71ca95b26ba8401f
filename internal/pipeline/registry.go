package pipeline

// Registry maps handler names to implementations: the built-ins plus any
// caller-supplied extensions (spec §9 "tagged-variant set of built-in
// handler kinds plus an optional extension registry").
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns a Registry seeded with the built-in handlers (spec
// §4.6).
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.Register("research.summarize", researchSummarize)
	r.Register("policy.analyze", policyAnalyze)
	r.Register("finance.evaluate", financeEvaluate)
	r.Register("governance.review", governanceReview)
	r.Register("engineering.plan", engineeringPlan)
	r.Register("report.generate", reportGenerate)
	return r
}

// Register adds or overrides a named handler.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Lookup returns the handler bound to name, if any.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

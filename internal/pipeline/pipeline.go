// Package pipeline implements the Pipeline Runner: binding a job's declared
// stages to built-in handlers and running them in order, instrumented with
// per-stage energy telemetry (spec §4.6).
package pipeline

import (
	"context"
	"fmt"

	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// Context is the handler-visible execution context for one stage (spec
// §4.6: "context = {jobId, stageName, category, tags, metadata?}").
type Context struct {
	JobID     ledger.JobID
	StageName string
	Category  string
	Tags      []string
	Metadata  map[string]any
}

// Handler runs one stage, turning the previous stage's output (or the
// pipeline's initial payload) into this stage's output.
type Handler func(ctx context.Context, pctx Context, payload []byte) ([]byte, error)

// GPUTimeProvider samples GPU time attributable to the stage that just ran,
// in milliseconds. No pack dependency exposes GPU telemetry, so the default
// provider (see NoGPU) always reports zero; a real implementation can be
// injected where available.
type GPUTimeProvider func() float64

// NoGPU is the default GPUTimeProvider: this process has no GPU telemetry
// source.
func NoGPU() float64 { return 0 }

// Pipeline is an ordered, bound sequence of stages ready to run.
type Pipeline struct {
	stages []boundStage
}

type boundStage struct {
	name    string
	handler Handler
}

// Build resolves stage.Handler names against the registry and binds each
// stage to its handler function. An Endpoint-addressed stage ("bind to an
// HTTP endpoint") is rejected: the core pipeline runner only implements
// local named handlers (spec §4.3 step 3, §4.6).
func Build(stages []ledger.Stage, registry *Registry) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline has no stages")
	}
	bound := make([]boundStage, 0, len(stages))
	for _, s := range stages {
		if s.Endpoint != "" {
			return nil, fmt.Errorf("stage %q: HTTP-endpoint handlers are not implemented in the core runner", s.Name)
		}
		h, ok := registry.Lookup(s.Handler)
		if !ok {
			return nil, fmt.Errorf("stage %q: unknown handler %q", s.Name, s.Handler)
		}
		bound = append(bound, boundStage{name: s.Name, handler: h})
	}
	return &Pipeline{stages: bound}, nil
}

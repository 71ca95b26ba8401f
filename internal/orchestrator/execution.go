package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/marcus-qen/agia-orchestrator/internal/audit"
	"github.com/marcus-qen/agia-orchestrator/internal/chainmath"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
	"github.com/marcus-qen/agia-orchestrator/internal/pipeline"
)

// execute runs spec §4.3's execution flow for a job the poll just observed
// as assigned to the fleet agent in aj.
func (c *Controller) execute(ctx context.Context, aj appliedJob, record ledger.JobRecord) {
	ctx, span := StartPipelineStageSpan(ctx, string(aj.Job.JobID))
	defer span.End()

	var tags []string
	var metadata map[string]any
	var specPipeline []ledger.Stage
	if spec := aj.Classification.Spec; spec != nil {
		tags = spec.Tags
		metadata = spec.Metadata
		specPipeline = spec.Pipeline
	}

	stages, err := pipeline.Resolve(specPipeline, aj.Classification.Category, c.templates)
	if err != nil {
		c.failExecution(ctx, aj, fmt.Sprintf("resolve pipeline: %v", err))
		return
	}
	bound, err := pipeline.Build(stages, c.registry)
	if err != nil {
		c.failExecution(ctx, aj, fmt.Sprintf("bind pipeline: %v", err))
		return
	}

	result, err := c.runner.Run(ctx, bound, aj.Job.JobID, aj.Classification.Category, aj.Agent, tags, metadata, []byte(aj.Job.URI))
	if err != nil {
		c.failExecution(ctx, aj, fmt.Sprintf("run pipeline: %v", err))
		return
	}
	if len(result.StageCIDs) == 0 {
		c.failExecution(ctx, aj, "pipeline produced no stage outputs")
		return
	}

	resultRef := result.ManifestCID.URI
	if _, err := c.coll.Registry.FinalizeJob(ctx, aj.Job.JobID, resultRef); err != nil {
		c.failExecution(ctx, aj, fmt.Sprintf("finalize job: %v", err))
		return
	}

	c.completed.Put(completedRecord{
		JobID:          aj.Job.JobID,
		Agent:          aj.Agent,
		Classification: aj.Classification,
		Spec:           aj.Classification.Spec,
		Summary:        string(result.FinalOutput),
		ResultRef:      resultRef,
		Record:         record,
		StoragePath:    c.storage.BlobPath(result.ManifestCID.CID),
	})
	c.metrics.JobsCompleted.Inc()
	_ = c.record(audit.Event{Type: audit.EventJobSubmitted, JobID: string(aj.Job.JobID), Actor: string(aj.Agent), Summary: "result submitted", Detail: resultRef})
	c.learning.RecordOutcome(aj.Job, aj.Classification, true, "")

	if wasQuarantined, err := c.watchdog.RecordSuccess(aj.Agent); err == nil && wasQuarantined {
		c.metrics.QuarantineEvents.WithLabelValues("auto_release").Inc()
		_ = c.record(audit.Event{Type: audit.EventWatchdogAutoRelease, Actor: string(aj.Agent), Summary: "agent released from quarantine"})
	}

	c.spawnSubtasks(ctx, aj)
}

// failExecution implements spec §4.3 step 8: record the failure on the
// watchdog, emit job.execution_failed, record the learning outcome, and
// return — the event dispatcher only logs a re-raised failure, it never
// retries.
func (c *Controller) failExecution(ctx context.Context, aj appliedJob, reason string) {
	if err := c.watchdog.RecordFailure(aj.Agent, reason); err != nil {
		c.logger.Warn("record watchdog failure failed", zap.Error(err))
	} else if c.watchdog.IsQuarantined(aj.Agent) {
		c.metrics.QuarantineEvents.WithLabelValues("quarantined").Inc()
		_ = c.record(audit.Event{Type: audit.EventWatchdogQuarantined, Actor: string(aj.Agent), Summary: "agent quarantined", Detail: reason})
	}
	c.metrics.JobsFailed.Inc()
	_ = c.record(audit.Event{Type: audit.EventJobExecutionFailed, JobID: string(aj.Job.JobID), Actor: string(aj.Agent), Summary: reason})
	c.learning.RecordOutcome(aj.Job, aj.Classification, false, reason)
	c.logger.Warn("job execution failed", zap.String("jobId", string(aj.Job.JobID)), zap.String("reason", reason))
}

// spawnSubtasks creates one new job per subtask declared in the completed
// job's spec (spec §4.3 step 7), via the orchestrator's own business/employer
// identity.
func (c *Controller) spawnSubtasks(ctx context.Context, aj appliedJob) {
	spec := aj.Classification.Spec
	if spec == nil || len(spec.Subtasks) == 0 {
		return
	}
	for _, sub := range spec.Subtasks {
		params := ledger.CreateJobParams{
			Employer: c.self.Address,
			Reward:   sub.Reward,
			URI:      sub.Description,
		}
		if _, _, err := c.coll.Registry.CreateJob(ctx, params); err != nil {
			c.logger.Warn("spawn subtask failed", zap.String("parentJobId", string(aj.Job.JobID)), zap.Error(err))
		}
	}
}

// resultHashMatches reports whether keccak256(result) equals want, the same
// comparison the validator makes against the on-chain result hash. No code or
// test in this package calls it.
func resultHashMatches(result []byte, want [32]byte) bool {
	got := chainmath.Keccak256(result)
	return got == want
}

package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/marcus-qen/agia-orchestrator/internal/audit"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// handleDisputeSignal implements spec §4.10 steps 1-5: idempotently prepare
// dispute evidence for jobID, triggered by either JobRegistry.JobDisputed or
// DisputeModule.DisputeRaised.
func (c *Controller) handleDisputeSignal(ctx context.Context, jobID ledger.JobID, triggerSource, raiser string, evidenceHash [32]byte) {
	_, created, err := c.evidence.Prepare(ctx, jobID, triggerSource, raiser, evidenceHash)
	if err != nil {
		_ = c.record(audit.Event{Type: audit.EventDisputeMissingEvid, JobID: string(jobID), Summary: "no completed-job record for disputed job", Detail: err.Error()})
		c.logger.Warn("dispute evidence preparation failed", zap.String("jobId", string(jobID)), zap.Error(err))
		return
	}
	if created {
		_ = c.record(audit.Event{Type: audit.EventDisputeEvidencePrep, JobID: string(jobID), Actor: raiser, Summary: "dispute evidence prepared"})
	}
}

// handleDisputeResolved implements spec §4.10 step 6 plus the watchdog
// bookkeeping from §4.1's DisputeResolved handler.
func (c *Controller) handleDisputeResolved(jobID ledger.JobID, resolver ledger.Address, employerWins bool) {
	if rec, ok := c.completed.Get(jobID); ok {
		if employerWins {
			if err := c.watchdog.RecordFailure(rec.Agent, "dispute resolved against agent"); err != nil {
				c.logger.Warn("record watchdog failure on dispute failed", zap.Error(err))
			}
		} else if _, err := c.watchdog.RecordSuccess(rec.Agent); err != nil {
			c.logger.Warn("record watchdog success on dispute failed", zap.Error(err))
		}
	}

	if err := c.evidence.Resolve(jobID, employerWins, string(resolver), c.clk.Now()); err != nil {
		c.logger.Warn("annotate dispute evidence failed", zap.String("jobId", string(jobID)), zap.Error(err))
	}
}

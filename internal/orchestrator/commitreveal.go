package orchestrator

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/marcus-qen/agia-orchestrator/internal/audit"
	"github.com/marcus-qen/agia-orchestrator/internal/chainmath"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// consumeValidatorsSelected dispatches ValidatorsSelected events one at a
// time, same cooperative model as consumeJobEvents.
func (c *Controller) consumeValidatorsSelected(ctx context.Context, ch <-chan ledger.ValidatorsSelectedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			c.handleValidatorsSelected(ctx, evt)
		}
	}
}

// handleValidatorsSelected starts the commit flow for every selected
// validator the fleet has an identity for (spec §4.1 "ValidatorsSelected").
func (c *Controller) handleValidatorsSelected(ctx context.Context, evt ledger.ValidatorsSelectedEvent) {
	for _, selected := range evt.Validators {
		for _, v := range c.validators {
			if v.Address.Equal(selected) {
				c.startCommit(ctx, evt.JobID, v.Address)
				break
			}
		}
	}
}

func commitKey(jobID ledger.JobID, validator ledger.Address) string {
	return string(jobID) + ":" + string(validator.Lower())
}

// startCommit runs spec §4.4's commit phase.
func (c *Controller) startCommit(ctx context.Context, jobID ledger.JobID, validator ledger.Address) {
	ctx, span := StartCommitRevealSpan(ctx, string(jobID), string(validator))
	defer span.End()

	if c.coll.Validation == nil {
		return
	}

	job, err := c.coll.Registry.Jobs(ctx, jobID)
	if err != nil {
		c.logger.Warn("commit: fetch job record failed", zap.String("jobId", string(jobID)), zap.Error(err))
		return
	}

	var classification *ledger.Classification
	if aj, ok := c.appliedJobByID(jobID); ok {
		classification = &aj.Classification
	}
	report, err := c.checker.Evaluate(ctx, jobID, job, classification)
	approve := err == nil && report.Approve
	if err != nil {
		c.logger.Warn("commit: evaluate submission failed", zap.String("jobId", string(jobID)), zap.Error(err))
	}

	nonce, err := c.coll.Validation.JobNonce(ctx, jobID)
	if err != nil {
		c.logger.Warn("commit: read job nonce failed", zap.String("jobId", string(jobID)), zap.Error(err))
		return
	}

	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		c.logger.Warn("commit: generate salt failed", zap.Error(err))
		return
	}
	commitHash := chainmath.CommitHash(mustJobIDInt(jobID), nonce, approve, salt)

	if _, err := c.coll.Validation.CommitValidation(ctx, jobID, commitHash, "", nil); err != nil {
		c.logger.Warn("commit: send commitValidation failed", zap.String("jobId", string(jobID)), zap.Error(err))
		return
	}
	c.metrics.CommitsSent.Inc()
	_ = c.record(audit.Event{Type: audit.EventValidatorCommitted, JobID: string(jobID), Actor: string(validator), Summary: "validator committed", Detail: report.Confidence})

	rec := &commitRecord{JobID: jobID, Validator: validator, Salt: salt, Approve: approve}
	key := commitKey(jobID, validator)
	c.mu.Lock()
	c.commits[key] = rec
	c.mu.Unlock()

	rec.Timer = c.clk.AfterFunc(c.cfg.RevealDelay.Std(), func() {
		c.reveal(context.Background(), jobID, validator)
	})
}

// reveal runs spec §4.4's reveal phase. No retries on failure: a failed
// reveal slashes the validator on-chain, which is the contract's behavior,
// not orchestrator policy.
func (c *Controller) reveal(ctx context.Context, jobID ledger.JobID, validator ledger.Address) {
	key := commitKey(jobID, validator)
	c.mu.Lock()
	rec, ok := c.commits[key]
	if ok {
		delete(c.commits, key)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if _, err := c.coll.Validation.RevealValidation(ctx, jobID, rec.Approve, rec.Salt, "", nil); err != nil {
		c.logger.Warn("reveal: send revealValidation failed", zap.String("jobId", string(jobID)), zap.Error(err))
		return
	}
	c.metrics.RevealsSent.Inc()
	_ = c.record(audit.Event{Type: audit.EventValidatorRevealed, JobID: string(jobID), Actor: string(validator), Summary: "validator revealed"})
}

func (c *Controller) appliedJobByID(jobID ledger.JobID) (appliedJob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	aj, ok := c.applied[jobID]
	if !ok {
		return appliedJob{}, false
	}
	return *aj, true
}

func mustJobIDInt(jobID ledger.JobID) *big.Int {
	n, err := jobID.BigInt()
	if err != nil {
		panic(fmt.Sprintf("invalid job id %q: %v", jobID, err))
	}
	return n
}

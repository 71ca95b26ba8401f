package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/marcus-qen/agia-orchestrator/internal/audit"
	"github.com/marcus-qen/agia-orchestrator/internal/capability"
	"github.com/marcus-qen/agia-orchestrator/internal/classifier"
	"github.com/marcus-qen/agia-orchestrator/internal/identity"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
	"github.com/marcus-qen/agia-orchestrator/internal/selector"
)

// consumeJobEvents dispatches every event delivered on ch until ctx is
// cancelled or the channel closes, one at a time — the "single logical
// coroutine per event" cooperative model of spec §4.1/§5.
func (c *Controller) consumeJobEvents(ctx context.Context, ch <-chan ledger.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			c.handleEvent(ctx, evt)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, evt ledger.Event) {
	switch e := evt.(type) {
	case ledger.JobCreatedEvent:
		c.handleJobCreated(ctx, e.Job)
	case ledger.JobCompletedEvent:
		c.handleJobCompleted(e.JobID, e.Success)
	case ledger.JobCancelledEvent:
		c.handleJobCancelled(e.JobID)
	case ledger.JobDisputedEvent:
		c.handleDisputeSignal(ctx, e.JobID, "JobRegistry.JobDisputed", string(e.Caller), [32]byte{})
	case ledger.DisputeRaisedEvent:
		c.handleDisputeSignal(ctx, e.JobID, "DisputeModule.DisputeRaised", string(e.Claimant), e.EvidenceHash)
	case ledger.DisputeResolvedEvent:
		c.handleDisputeResolved(e.JobID, e.Resolver, e.EmployerWins)
	default:
		c.logger.Warn("unrecognized ledger event", zap.String("kind", string(evt.Kind())))
	}
}

// handleJobCreated implements spec §4.1's JobCreated handler: ignore
// already-assigned jobs, else classify and attempt selection, applying on a
// winner and recording a spawn-request to the learning sink on a
// non-unprofitable skip.
func (c *Controller) handleJobCreated(ctx context.Context, job ledger.ChainJob) {
	ctx, span := StartApplySpan(ctx, string(job.JobID))
	defer span.End()

	record, err := c.coll.Registry.Jobs(ctx, job.JobID)
	if err == nil && record.HasAgent() {
		return
	}
	_ = c.record(audit.Event{Type: audit.EventJobDetected, JobID: string(job.JobID), Summary: "job detected"})

	var spec *ledger.JobSpec
	if job.URI != "" {
		spec, err = c.fetchSpec(ctx, job.URI)
		if err != nil {
			c.logger.Warn("fetch job spec failed", zap.String("jobId", string(job.JobID)), zap.Error(err))
		}
	}
	classification := classifier.Classify(job, spec)

	matrix, err := c.capLoader.Current()
	if err != nil {
		c.logger.Warn("capability matrix unavailable", zap.Error(err))
		return
	}

	opts := selector.Options{
		JobID:             job.JobID,
		Reward:            job.Reward,
		RequiredStake:     job.Stake,
		StakeContract:     c.coll.Stake,
		EnergyCostPerUnit: c.cfg.EnergyCostPerUnit,
		RewardDecimals:    c.cfg.TokenDecimals,
		MinProfitMargin:   &c.cfg.MinProfitMargin,
		MaxAgentAnomalyRate: c.cfg.MaxAgentAnomalyRate,
		MaxJobAnomalyRate:   c.cfg.MaxJobAnomalyRate,
	}
	if classification.Spec != nil {
		opts.RequiredSkills = classification.Spec.RequiredSkills
	}
	if thresholds, err := c.policy.GetThresholds(classification.Category); err == nil {
		opts.EnergyPolicy = &selector.EnergyThresholds{
			MinEfficiency:           thresholds.MinEfficiency,
			MaxEnergy:               thresholds.MaxEnergy,
			RecommendedProfitMargin: thresholds.RecommendedProfitMargin,
		}
	}

	result, err := selector.Select(ctx, classification.Category, c.quarantineFiltered(matrix), c.coll.Reputation, opts)
	if err != nil {
		c.logger.Warn("agent selection failed", zap.String("jobId", string(job.JobID)), zap.Error(err))
		return
	}
	if result.Agent == nil {
		c.metrics.JobsSkipped.WithLabelValues(result.SkipReason).Inc()
		_ = c.record(audit.Event{Type: "job.skipped", JobID: string(job.JobID), Summary: "no agent selected", Detail: result.SkipReason})
		if result.SkipReason != "unprofitable" {
			c.learning.RecordSpawnRequest(job, classification, result.SkipReason)
		}
		return
	}

	c.applyForJob(ctx, job, classification, *result.Agent)
}

// applyForJob implements spec §4.1's apply flow, steps 1-5.
func (c *Controller) applyForJob(ctx context.Context, job ledger.ChainJob, classification ledger.Classification, agent ledger.Address) {
	agentIdentity, ok := c.identities.Get(agent)
	subdomain := string(agent)
	if ok {
		subdomain = agentIdentity.Subdomain()
	}

	requirements, err := c.coll.Registry.Requirements(ctx, job.JobID)
	if err != nil {
		c.logger.Warn("fetch job requirements failed", zap.String("jobId", string(job.JobID)), zap.Error(err))
		return
	}

	if c.coll.Stake != nil && requirements.Stake != nil {
		if err := c.ensureStake(ctx, agent, requirements.Stake); err != nil {
			c.logger.Warn("ensure stake failed", zap.String("jobId", string(job.JobID)), zap.Error(err))
			return
		}
	}

	if _, err := c.coll.Registry.ApplyForJob(ctx, job.JobID, subdomain, nil); err != nil {
		c.logger.Warn("apply for job failed", zap.String("jobId", string(job.JobID)), zap.Error(err))
		return
	}

	c.mu.Lock()
	if _, exists := c.applied[job.JobID]; exists {
		c.mu.Unlock()
		return
	}
	aj := &appliedJob{Job: job, Classification: classification, Agent: agent}
	c.applied[job.JobID] = aj
	c.mu.Unlock()

	c.metrics.JobsApplied.Inc()
	_ = c.record(audit.Event{Type: audit.EventJobApplied, JobID: string(job.JobID), Actor: string(agent), Summary: "applied for job"})

	c.startAssignmentPoll(ctx, job.JobID)
}

// ensureStake deposits the deficit between current and required stake, if
// any (spec §4.1 step 3).
func (c *Controller) ensureStake(ctx context.Context, agent ledger.Address, required *big.Int) error {
	current, err := c.coll.Stake.StakeOf(ctx, agent, ledger.RoleAgent)
	if err != nil {
		return fmt.Errorf("read stake: %w", err)
	}
	if current.Cmp(required) >= 0 {
		return nil
	}
	deficit := new(big.Int).Sub(required, current)
	if _, err := c.coll.Stake.DepositStake(ctx, ledger.RoleAgent, deficit); err != nil {
		return fmt.Errorf("deposit stake deficit: %w", err)
	}
	return nil
}

// startAssignmentPoll schedules the periodic assignment poll for jobID
// (spec §4.2). The poll reschedules itself on each tick unless the job is
// assigned to the applying wallet or its applied-job state is cleared.
func (c *Controller) startAssignmentPoll(ctx context.Context, jobID ledger.JobID) {
	var tick func()
	tick = func() {
		c.mu.Lock()
		aj, ok := c.applied[jobID]
		running := c.running
		c.mu.Unlock()
		if !ok || !running {
			return
		}

		record, err := c.coll.Registry.Jobs(ctx, jobID)
		if err != nil {
			c.logger.Warn("assignment poll: transient RPC error", zap.String("jobId", string(jobID)), zap.Error(err))
			c.reschedulePoll(jobID, tick)
			return
		}
		if record.HasAgent() && record.Agent.Equal(aj.Agent) {
			c.mu.Lock()
			delete(c.applied, jobID)
			c.mu.Unlock()
			_ = c.record(audit.Event{Type: audit.EventJobAssigned, JobID: string(jobID), Actor: string(aj.Agent), Summary: "job assigned"})
			c.execute(ctx, *aj, record)
			return
		}
		c.reschedulePoll(jobID, tick)
	}
	c.reschedulePoll(jobID, tick)
}

func (c *Controller) reschedulePoll(jobID ledger.JobID, tick func()) {
	timer := c.clk.AfterFunc(c.cfg.AssignmentPollInterval.Std(), tick)
	c.mu.Lock()
	if aj, ok := c.applied[jobID]; ok {
		aj.AssignTimer = timer
	} else {
		timer.Stop()
	}
	c.mu.Unlock()
}

func (c *Controller) handleJobCompleted(jobID ledger.JobID, success bool) {
	_ = c.record(audit.Event{Type: audit.EventJobCompleted, JobID: string(jobID), Summary: fmt.Sprintf("job completed success=%v", success)})
	if c.anchor != nil {
		go func() {
			if err := c.anchor.Trigger(context.Background()); err != nil {
				c.logger.Warn("anchor trigger after completion failed", zap.Error(err))
			}
		}()
	}
	c.clearAppliedJob(jobID)
}

func (c *Controller) handleJobCancelled(jobID ledger.JobID) {
	_ = c.record(audit.Event{Type: "job.cancelled", JobID: string(jobID), Summary: "job cancelled"})
	c.clearAppliedJob(jobID)
}

func (c *Controller) clearAppliedJob(jobID ledger.JobID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if aj, ok := c.applied[jobID]; ok {
		if aj.AssignTimer != nil {
			aj.AssignTimer.Stop()
		}
		delete(c.applied, jobID)
	}
}

// quarantineFiltered drops quarantined agents from every category roster in
// matrix before handing it to the selector (spec §4.11: "Selector callers
// are expected to honor quarantine").
func (c *Controller) quarantineFiltered(matrix *capability.Matrix) *capability.Matrix {
	if c.watchdog == nil {
		return matrix
	}
	filtered := make(map[string][]capability.AgentInfo)
	for _, category := range matrix.Categories() {
		var kept []capability.AgentInfo
		for _, ci := range matrix.Candidates(category) {
			if !c.watchdog.IsQuarantined(ci.Address) {
				kept = append(kept, ci)
			}
		}
		if len(kept) > 0 {
			filtered[category] = kept
		}
	}
	return capability.NewMatrix(filtered)
}

// fetchSpec resolves and decodes the off-chain job spec document at uri.
func (c *Controller) fetchSpec(ctx context.Context, uri string) (*ledger.JobSpec, error) {
	data, err := c.storage.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	var spec ledger.JobSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode job spec: %w", err)
	}
	return &spec, nil
}

// identityOf is a small convenience wrapper around c.identities.Get; no code
// or test in this package calls it.
func (c *Controller) identityOf(addr ledger.Address) (identity.Identity, bool) {
	return c.identities.Get(addr)
}

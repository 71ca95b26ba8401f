// Package orchestrator implements the Orchestrator Controller: the
// single logical event-driven process that mediates between the fleet's
// agent/validator identities and the on-chain job marketplace (spec §4.1).
//
// Grounded on the teacher's internal/controlplane/jobs.Scheduler for its
// idempotent Start/Stop lifecycle, per-key tracking maps under a single
// mutex, and structured-concurrency goroutine-per-flow shape, generalized
// from "recurring probe jobs" to "ledger-driven job lifecycle".
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/marcus-qen/agia-orchestrator/internal/audit"
	"github.com/marcus-qen/agia-orchestrator/internal/capability"
	"github.com/marcus-qen/agia-orchestrator/internal/clock"
	"github.com/marcus-qen/agia-orchestrator/internal/config"
	"github.com/marcus-qen/agia-orchestrator/internal/energy"
	"github.com/marcus-qen/agia-orchestrator/internal/evidence"
	"github.com/marcus-qen/agia-orchestrator/internal/events"
	"github.com/marcus-qen/agia-orchestrator/internal/identity"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
	"github.com/marcus-qen/agia-orchestrator/internal/pipeline"
	"github.com/marcus-qen/agia-orchestrator/internal/storage"
	"github.com/marcus-qen/agia-orchestrator/internal/validator"
	"github.com/marcus-qen/agia-orchestrator/internal/watchdog"
)

// Collaborators bundles the ledger-facing contract handles the controller
// depends on. Registry is required; the rest are optional, matching spec
// §4.1's "validation contract handle (optional), dispute contract handle
// (optional), stake contract handle (optional)".
type Collaborators struct {
	Registry    ledger.JobRegistry
	Stake       ledger.StakeManager
	Validation  ledger.ValidationModule
	Dispute     ledger.DisputeModule
	Reputation  ledger.ReputationContract
	AnchorTx    ledger.AnchorSender
}

// appliedJob is the in-memory state for a job the fleet has applied to
// (spec §4.1 "applied-job map").
type appliedJob struct {
	Job            ledger.ChainJob
	Classification ledger.Classification
	Agent          ledger.Address
	AssignTimer    clock.Timer
}

// commitRecord is the in-memory state for a pending commit-reveal round
// (spec §4.4 "commit map").
type commitRecord struct {
	JobID     ledger.JobID
	Validator ledger.Address
	Salt      [32]byte
	Approve   bool
	Timer     clock.Timer
}

// Controller is the Orchestrator Controller (spec §4.1 "State" block). All
// mutable maps are protected by mu; per spec §5 there is no shared-memory
// parallelism on these structures even though RPCs and storage I/O proceed
// concurrently across goroutines.
type Controller struct {
	cfg    config.Config
	clk    clock.Clock
	logger *zap.Logger
	coll   Collaborators
	bus    *events.Bus

	identities *identity.Registry
	self       identity.Identity
	validators []identity.Identity

	capLoader *capability.Loader
	storage   *storage.Client
	energy    *energy.Store
	policy    *energy.Policy
	auditLog  *audit.Log
	anchor    *audit.Anchor
	watchdog  *watchdog.Watchdog
	completed *completedJobCache
	evidence  *evidence.Packager
	checker   *validator.Validator
	registry  *pipeline.Registry
	templates *pipeline.Templates
	runner    *pipeline.Runner
	learning  LearningSink
	metrics   *Metrics

	anchorSchedule cron.Schedule

	mu           sync.Mutex
	applied      map[ledger.JobID]*appliedJob
	commits      map[string]*commitRecord
	running      bool
	cancelSubs   context.CancelFunc
	anchorTicker clock.Ticker
	wg           sync.WaitGroup
}

// New constructs a Controller. Call Bootstrap before Start.
func New(cfg config.Config, clk clock.Clock, logger *zap.Logger, coll Collaborators, metrics *Metrics) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Controller{
		cfg:     cfg,
		clk:     clk,
		logger:  logger,
		coll:    coll,
		bus:     events.NewBus(),
		metrics: metrics,
		applied: make(map[ledger.JobID]*appliedJob),
		commits: make(map[string]*commitRecord),
	}
}

// Bus exposes the controller's internal notification bus (audit/metrics
// subscribers, tests).
func (c *Controller) Bus() *events.Bus { return c.bus }

// Bootstrap loads every persisted and on-chain piece of state the
// controller needs before it can start (spec §4.1 "bootstrap()"). It fails
// fatally (per spec §7 Configuration-missing / Identity-load-failure) if the
// job registry address is unset, identities cannot be loaded, or the
// capability matrix cannot be loaded.
func (c *Controller) Bootstrap(ctx context.Context) error {
	if c.cfg.JobRegistryAddr == "" {
		return fmt.Errorf("configuration-missing: job_registry_addr is unset")
	}
	if c.coll.Registry == nil {
		return fmt.Errorf("configuration-missing: no job registry collaborator wired")
	}

	identities, err := identity.Load(c.cfg.IdentityDir)
	if err != nil {
		return fmt.Errorf("identity-load-failure: %w", err)
	}
	self, ok := identities.OrchestratorIdentity()
	if !ok {
		return fmt.Errorf("identity-load-failure: no business or employer identity loaded")
	}
	c.identities = identities
	c.self = self
	c.validators = identities.ByRole(identity.RoleValidator)

	c.capLoader = capability.NewLoader(c.cfg.CapabilityMatrix, identities, c.clk, c.cfg.EnergyPolicy.RefreshInterval.Std())
	if _, err := c.capLoader.Current(); err != nil {
		return fmt.Errorf("capability-matrix-load-failure: %w", err)
	}

	storageClient, err := storage.New(c.cfg.StorageRoot, c.cfg.StorageGatewayURL)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	c.storage = storageClient

	energyStore, err := energy.NewStore(c.cfg.EnergyRoot)
	if err != nil {
		return fmt.Errorf("init energy store: %w", err)
	}
	c.energy = energyStore
	c.policy = energy.NewPolicy(c.cfg.EnergyPolicy, c.clk, energyStore)

	auditLog, err := audit.NewLog(c.cfg.AuditLogDir, 0, c.clk)
	if err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	c.auditLog = auditLog

	if c.coll.AnchorTx != nil && c.cfg.AnchorAddr != "" {
		anchor, err := audit.NewAnchor(c.cfg.AuditLogDir, c.cfg.AnchorStateFile, ledger.Address(c.cfg.AnchorAddr), c.coll.AnchorTx, c.cfg.AnchorMinFileAge.Std(), c.cfg.AnchorMaxFilesRun, c.clk, c.logger)
		if err != nil {
			return fmt.Errorf("init anchor: %w", err)
		}
		c.anchor = anchor
	}

	if c.cfg.AnchorSchedule != "" {
		schedule, err := cron.ParseStandard(c.cfg.AnchorSchedule)
		if err != nil {
			return fmt.Errorf("configuration-missing: invalid anchor_schedule %q: %w", c.cfg.AnchorSchedule, err)
		}
		c.anchorSchedule = schedule
	}

	wd, err := watchdog.New(c.cfg.WatchdogStateFile, c.cfg.WatchdogFailureThreshold, c.cfg.WatchdogQuarantine.Std(), c.clk)
	if err != nil {
		return fmt.Errorf("init watchdog: %w", err)
	}
	c.watchdog = wd

	completed, err := newCompletedJobCache(c.cfg.StorageRoot + "/completed-jobs")
	if err != nil {
		return fmt.Errorf("init completed-job cache: %w", err)
	}
	c.completed = completed

	evidencePackager, err := evidence.New(c.cfg.StorageRoot+"/dispute-evidence", completed, energyStore, storageClient)
	if err != nil {
		return fmt.Errorf("init evidence packager: %w", err)
	}
	c.evidence = evidencePackager

	c.checker = validator.New(c.coll.Registry, storageClient, c.cfg.ValidatorLookbackBlocks, c.cfg.ValidatorMinConfidence)
	c.registry = pipeline.NewRegistry()
	c.templates = pipeline.NewTemplates()
	c.runner = pipeline.NewRunner(storageClient, energyStore, nil)
	c.learning = newLoggingLearningSink(c.logger)

	c.logger.Info("orchestrator bootstrapped",
		zap.String("identity", string(self.Address)),
		zap.Int("validators", len(c.validators)))
	return nil
}

// Start installs ledger event subscriptions and the anchor periodic task
// (spec §4.1 "start()"). Idempotent.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancelSubs = cancel
	c.running = true
	c.mu.Unlock()

	if err := c.record(audit.Event{Type: "orchestrator.started", Summary: "orchestrator started"}); err != nil {
		c.logger.Warn("audit record failed", zap.Error(err))
	}

	events, err := c.coll.Registry.SubscribeEvents(loopCtx)
	if err != nil {
		cancel()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("subscribe job registry events: %w", err)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeJobEvents(loopCtx, events)
	}()

	if c.coll.Validation != nil {
		validatorEvents, err := c.coll.Validation.SubscribeValidatorsSelected(loopCtx)
		if err != nil {
			c.logger.Warn("subscribe validators-selected failed", zap.Error(err))
		} else {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.consumeValidatorsSelected(loopCtx, validatorEvents)
			}()
		}
	}

	if c.coll.Dispute != nil {
		disputeEvents, err := c.coll.Dispute.SubscribeEvents(loopCtx)
		if err != nil {
			c.logger.Warn("subscribe dispute events failed", zap.Error(err))
		} else {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.consumeJobEvents(loopCtx, disputeEvents)
			}()
		}
	}

	if c.anchor != nil {
		sweep := func() {
			if err := c.anchor.Trigger(loopCtx); err != nil {
				c.logger.Warn("anchor sweep failed", zap.Error(err))
				return
			}
			c.metrics.AnchorSweeps.Inc()
		}

		if c.anchorSchedule != nil {
			c.scheduleNextAnchorSweep(sweep)
		} else {
			ticker := c.clk.NewTicker(c.cfg.AnchorInterval.Std(), sweep)
			c.mu.Lock()
			c.anchorTicker = ticker
			c.mu.Unlock()
		}
	}

	return nil
}

// Stop tears down subscriptions, cancels all timers, and clears volatile
// maps. Persisted state is left on disk (spec §4.1 "stop()"). Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancelSubs
	ticker := c.anchorTicker
	c.anchorTicker = nil
	for _, job := range c.applied {
		if job.AssignTimer != nil {
			job.AssignTimer.Stop()
		}
	}
	for _, rec := range c.commits {
		if rec.Timer != nil {
			rec.Timer.Stop()
		}
	}
	c.applied = make(map[ledger.JobID]*appliedJob)
	c.commits = make(map[string]*commitRecord)
	c.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// scheduleNextAnchorSweep self-reschedules sweep against c.anchorSchedule,
// grounded on the teacher's cron.ParseStandard-based schedule parsing
// (internal/controlplane/jobs/scheduler.go), adapted to fire through the
// injected clock rather than cron's own runtime so it stays deterministic
// under tests.
func (c *Controller) scheduleNextAnchorSweep(sweep func()) {
	now := c.clk.Now()
	delay := c.anchorSchedule.Next(now).Sub(now)
	if delay < 0 {
		delay = 0
	}

	var tick func()
	tick = func() {
		c.mu.Lock()
		running := c.running
		c.mu.Unlock()
		if !running {
			return
		}
		sweep()
		c.scheduleNextAnchorSweep(sweep)
	}
	timer := c.clk.AfterFunc(delay, func() { tick() })
	c.mu.Lock()
	c.anchorTicker = timerAsTicker{timer: timer}
	c.mu.Unlock()
}

// timerAsTicker adapts a one-shot clock.Timer to the clock.Ticker interface
// so Stop() tears down whichever anchor-scheduling mode is active through a
// single field.
type timerAsTicker struct {
	timer clock.Timer
}

func (t timerAsTicker) Stop() { t.timer.Stop() }

// record appends evt to the audit log and fans it out on the notification
// bus, ignoring a nil log (bootstrap not yet run, used only by tests
// exercising handlers in isolation).
func (c *Controller) record(evt audit.Event) error {
	c.bus.Publish(events.Topic(evt.Type), evt)
	if c.auditLog == nil {
		return nil
	}
	return c.auditLog.Record(evt)
}

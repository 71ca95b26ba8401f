package orchestrator

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/marcus-qen/agia-orchestrator/internal/audit"
	"github.com/marcus-qen/agia-orchestrator/internal/clock"
	"github.com/marcus-qen/agia-orchestrator/internal/config"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// fakeRegistry is a minimal, field-configurable ledger.JobRegistry.
type fakeRegistry struct {
	jobs         func(context.Context, ledger.JobID) (ledger.JobRecord, error)
	requirements func(context.Context, ledger.JobID) (ledger.JobRequirements, error)
	apply        func(context.Context, ledger.JobID, string, [][]byte) (string, error)

	applyCalls int
}

func (f *fakeRegistry) SubscribeEvents(ctx context.Context) (<-chan ledger.Event, error) {
	ch := make(chan ledger.Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *fakeRegistry) Jobs(ctx context.Context, jobID ledger.JobID) (ledger.JobRecord, error) {
	if f.jobs != nil {
		return f.jobs(ctx, jobID)
	}
	return ledger.JobRecord{}, nil
}

func (f *fakeRegistry) Requirements(ctx context.Context, jobID ledger.JobID) (ledger.JobRequirements, error) {
	if f.requirements != nil {
		return f.requirements(ctx, jobID)
	}
	return ledger.JobRequirements{Stake: big.NewInt(0), Reward: big.NewInt(0)}, nil
}

func (f *fakeRegistry) ApplyForJob(ctx context.Context, jobID ledger.JobID, subdomain string, proofs [][]byte) (string, error) {
	f.applyCalls++
	if f.apply != nil {
		return f.apply(ctx, jobID, subdomain, proofs)
	}
	return "0xtx", nil
}

func (f *fakeRegistry) FinalizeJob(ctx context.Context, jobID ledger.JobID, resultRef string) (string, error) {
	return "0xtx", nil
}

func (f *fakeRegistry) CreateJob(ctx context.Context, spec ledger.CreateJobParams) (ledger.JobID, string, error) {
	return "", "0xtx", nil
}

func (f *fakeRegistry) ResultSubmittedLogs(ctx context.Context, jobID ledger.JobID, lookbackBlocks uint64) ([]ledger.ResultSubmittedEvent, error) {
	return nil, nil
}

type fakeStake struct {
	balance *big.Int
}

func (f *fakeStake) StakeOf(ctx context.Context, user ledger.Address, role ledger.Role) (*big.Int, error) {
	if f.balance != nil {
		return f.balance, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeStake) DepositStake(ctx context.Context, role ledger.Role, amount *big.Int) (string, error) {
	return "0xtx", nil
}

type fakeReputation struct{}

func (fakeReputation) Reputation(ctx context.Context, addr ledger.Address) (*big.Int, error) {
	return big.NewInt(10), nil
}

// testFixture bundles a bootstrapped Controller with the directories and
// fakes backing it.
type testFixture struct {
	ctrl     *Controller
	registry *fakeRegistry
	clk      *clock.Fake
}

func newTestFixture(t *testing.T, configure func(cfg *config.Config)) *testFixture {
	t.Helper()
	dir := t.TempDir()

	identityDir := filepath.Join(dir, "identities")
	if err := os.MkdirAll(identityDir, 0o750); err != nil {
		t.Fatalf("mkdir identities: %v", err)
	}
	writeIdentityFile(t, identityDir, "business.json", map[string]any{
		"address": "0xBIZ",
		"role":    "business",
	})
	writeIdentityFile(t, identityDir, "agent.json", map[string]any{
		"address":      "0xAGENT",
		"role":         "agent",
		"capabilities": []string{"general"},
	})

	matrixPath := filepath.Join(dir, "capability-matrix.yaml")
	writeCapabilityMatrix(t, matrixPath)

	cfg := config.Default()
	cfg.JobRegistryAddr = "0xREGISTRY"
	cfg.IdentityDir = identityDir
	cfg.CapabilityMatrix = matrixPath
	cfg.EnergyRoot = filepath.Join(dir, "energy")
	cfg.AuditLogDir = filepath.Join(dir, "audit")
	cfg.WatchdogStateFile = filepath.Join(dir, "watchdog.json")
	cfg.AnchorStateFile = filepath.Join(dir, "anchor-state.json")
	cfg.StorageRoot = filepath.Join(dir, "storage")
	if configure != nil {
		configure(&cfg)
	}

	registry := &fakeRegistry{}
	coll := Collaborators{
		Registry:   registry,
		Stake:      &fakeStake{},
		Reputation: fakeReputation{},
	}

	clk := clock.NewFake(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))
	ctrl := New(cfg, clk, zap.NewNop(), coll, nil)
	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return &testFixture{ctrl: ctrl, registry: registry, clk: clk}
}

func writeIdentityFile(t *testing.T, dir, name string, rec map[string]any) {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal identity: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o640); err != nil {
		t.Fatalf("write identity: %v", err)
	}
}

func writeCapabilityMatrix(t *testing.T, path string) {
	t.Helper()
	const doc = `categories:
  general:
    - address: "0xAGENT"
      energy: 1
      efficiencyScore: 10
`
	if err := os.WriteFile(path, []byte(doc), 0o640); err != nil {
		t.Fatalf("write capability matrix: %v", err)
	}
}

func TestBootstrapRequiresJobRegistryAddr(t *testing.T) {
	cfg := config.Default()
	ctrl := New(cfg, clock.System{}, nil, Collaborators{Registry: &fakeRegistry{}}, nil)
	if err := ctrl.Bootstrap(context.Background()); err == nil {
		t.Fatal("expected error when job_registry_addr is unset")
	}
}

func TestBootstrapRequiresRegistryCollaborator(t *testing.T) {
	cfg := config.Default()
	cfg.JobRegistryAddr = "0xREGISTRY"
	ctrl := New(cfg, clock.System{}, nil, Collaborators{}, nil)
	if err := ctrl.Bootstrap(context.Background()); err == nil {
		t.Fatal("expected error when no registry collaborator is wired")
	}
}

func TestBootstrapRejectsInvalidAnchorSchedule(t *testing.T) {
	dir := t.TempDir()
	identityDir := filepath.Join(dir, "identities")
	if err := os.MkdirAll(identityDir, 0o750); err != nil {
		t.Fatalf("mkdir identities: %v", err)
	}
	writeIdentityFile(t, identityDir, "business.json", map[string]any{"address": "0xBIZ", "role": "business"})
	matrixPath := filepath.Join(dir, "capability-matrix.yaml")
	writeCapabilityMatrix(t, matrixPath)

	cfg := config.Default()
	cfg.JobRegistryAddr = "0xREGISTRY"
	cfg.IdentityDir = identityDir
	cfg.CapabilityMatrix = matrixPath
	cfg.EnergyRoot = filepath.Join(dir, "energy")
	cfg.AuditLogDir = filepath.Join(dir, "audit")
	cfg.WatchdogStateFile = filepath.Join(dir, "watchdog.json")
	cfg.AnchorStateFile = filepath.Join(dir, "anchor-state.json")
	cfg.StorageRoot = filepath.Join(dir, "storage")
	cfg.AnchorSchedule = "not a cron expression"

	ctrl := New(cfg, clock.System{}, nil, Collaborators{Registry: &fakeRegistry{}}, nil)
	if err := ctrl.Bootstrap(context.Background()); err == nil {
		t.Fatal("expected error for invalid anchor_schedule")
	}
}

func TestHandleJobCreatedAppliesForUnassignedJob(t *testing.T) {
	fixture := newTestFixture(t, nil)

	job := ledger.ChainJob{
		JobID:    "1",
		Employer: "0xEMPLOYER",
		Reward:   big.NewInt(5_000_000_000_000_000_000),
		Stake:    big.NewInt(0),
	}
	fixture.ctrl.handleJobCreated(context.Background(), job)

	if fixture.registry.applyCalls != 1 {
		t.Fatalf("apply calls = %d, want 1", fixture.registry.applyCalls)
	}
	events := fixture.ctrl.auditLog.Query(audit.Filter{Type: audit.EventJobApplied, JobID: string(job.JobID)})
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
	if got := testutil.ToFloat64(fixture.ctrl.metrics.JobsApplied); got != 1 {
		t.Fatalf("JobsApplied = %v, want 1", got)
	}

	fixture.ctrl.mu.Lock()
	_, applied := fixture.ctrl.applied[job.JobID]
	fixture.ctrl.mu.Unlock()
	if !applied {
		t.Fatal("expected job to be tracked in applied map")
	}
}

// TestHandleJobCreatedThroughSubmissionRecordsFullAuditSequence drives a job
// through the whole happy path spec §8 scenario 1 describes — apply, poll,
// assign, execute, submit — and asserts the audit trail is the literal
// ordered sequence job.detected, job.applied, job.assigned, job.submitted.
func TestHandleJobCreatedThroughSubmissionRecordsFullAuditSequence(t *testing.T) {
	fixture := newTestFixture(t, nil)

	job := ledger.ChainJob{
		JobID:    "4",
		Employer: "0xEMPLOYER",
		Reward:   big.NewInt(5_000_000_000_000_000_000),
		Stake:    big.NewInt(0),
	}

	assigned := false
	fixture.registry.jobs = func(ctx context.Context, jobID ledger.JobID) (ledger.JobRecord, error) {
		if assigned {
			return ledger.JobRecord{Agent: "0xAGENT"}, nil
		}
		return ledger.JobRecord{}, nil
	}

	fixture.ctrl.handleJobCreated(context.Background(), job)
	if fixture.registry.applyCalls != 1 {
		t.Fatalf("apply calls = %d, want 1", fixture.registry.applyCalls)
	}

	assigned = true
	fixture.clk.Advance(fixture.ctrl.cfg.AssignmentPollInterval.Std())

	events := fixture.ctrl.auditLog.Query(audit.Filter{JobID: string(job.JobID)})
	got := make([]string, len(events))
	for i, e := range events {
		// Query returns newest first; reverse into chronological order.
		got[len(events)-1-i] = string(e.Type)
	}
	want := []string{
		string(audit.EventJobDetected),
		string(audit.EventJobApplied),
		string(audit.EventJobAssigned),
		string(audit.EventJobSubmitted),
	}
	if len(got) != len(want) {
		t.Fatalf("audit sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit sequence = %v, want %v", got, want)
		}
	}
}

func TestHandleJobCreatedSkipsAlreadyAssignedJob(t *testing.T) {
	fixture := newTestFixture(t, nil)
	fixture.registry.jobs = func(ctx context.Context, jobID ledger.JobID) (ledger.JobRecord, error) {
		return ledger.JobRecord{Agent: "0xOTHERAGENT"}, nil
	}

	job := ledger.ChainJob{JobID: "2", Reward: big.NewInt(1), Stake: big.NewInt(0)}
	fixture.ctrl.handleJobCreated(context.Background(), job)

	if fixture.registry.applyCalls != 0 {
		t.Fatalf("apply calls = %d, want 0 for already-assigned job", fixture.registry.applyCalls)
	}
}

func TestHandleJobCompletedClearsAppliedJob(t *testing.T) {
	fixture := newTestFixture(t, nil)
	jobID := ledger.JobID("3")

	fixture.ctrl.mu.Lock()
	fixture.ctrl.applied[jobID] = &appliedJob{Job: ledger.ChainJob{JobID: jobID}}
	fixture.ctrl.mu.Unlock()

	fixture.ctrl.handleJobCompleted(jobID, true)

	fixture.ctrl.mu.Lock()
	_, stillApplied := fixture.ctrl.applied[jobID]
	fixture.ctrl.mu.Unlock()
	if stillApplied {
		t.Fatal("expected applied-job entry to be cleared on completion")
	}

	events := fixture.ctrl.auditLog.Query(audit.Filter{Type: audit.EventJobCompleted, JobID: string(jobID)})
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
}

func TestStartStopIsIdempotent(t *testing.T) {
	fixture := newTestFixture(t, nil)
	ctx := context.Background()

	if err := fixture.ctrl.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := fixture.ctrl.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}

	fixture.ctrl.Stop()
	fixture.ctrl.Stop()
}

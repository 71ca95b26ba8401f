package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/marcus-qen/agia-orchestrator/internal/energy"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
	"github.com/marcus-qen/agia-orchestrator/internal/storage"
)

type fakeCompletedJobs struct {
	jobs map[ledger.JobID]CompletedJob
}

func (f fakeCompletedJobs) Get(jobID ledger.JobID) (CompletedJob, bool) {
	j, ok := f.jobs[jobID]
	return j, ok
}

func newTestStorage(t *testing.T) *storage.Client {
	t.Helper()
	c, err := storage.New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	return c
}

func TestPrepareBundlesAndUploads(t *testing.T) {
	completed := fakeCompletedJobs{jobs: map[ledger.JobID]CompletedJob{
		"1": {JobID: "1", Agent: "0xAgent", ResultRef: "ipfs://x", Classification: ledger.Classification{Category: "research"}},
	}}
	energyStore, err := energy.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new energy store: %v", err)
	}
	p, err := New(t.TempDir(), completed, energyStore, newTestStorage(t))
	if err != nil {
		t.Fatalf("new packager: %v", err)
	}

	rec, created, err := p.Prepare(context.Background(), "1", "JobDisputed", "0xClaimant", [32]byte{})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !created {
		t.Fatal("expected evidence to be newly created")
	}
	if rec.Hash == "" || rec.URI == "" {
		t.Fatalf("expected populated record, got %+v", rec)
	}
}

func TestPrepareIsIdempotent(t *testing.T) {
	completed := fakeCompletedJobs{jobs: map[ledger.JobID]CompletedJob{
		"1": {JobID: "1", Agent: "0xAgent", Classification: ledger.Classification{Category: "research"}},
	}}
	energyStore, err := energy.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new energy store: %v", err)
	}
	p, err := New(t.TempDir(), completed, energyStore, newTestStorage(t))
	if err != nil {
		t.Fatalf("new packager: %v", err)
	}

	first, created1, err := p.Prepare(context.Background(), "1", "JobDisputed", "", [32]byte{})
	if err != nil {
		t.Fatalf("prepare 1: %v", err)
	}
	if !created1 {
		t.Fatal("expected first prepare to create evidence")
	}

	second, created2, err := p.Prepare(context.Background(), "1", "JobDisputed", "", [32]byte{})
	if err != nil {
		t.Fatalf("prepare 2: %v", err)
	}
	if created2 {
		t.Fatal("expected second prepare to be a no-op")
	}
	if first.Hash != second.Hash {
		t.Fatalf("expected same record on repeat prepare, got %+v vs %+v", first, second)
	}
}

func TestPrepareMissingCompletedJob(t *testing.T) {
	completed := fakeCompletedJobs{jobs: map[ledger.JobID]CompletedJob{}}
	energyStore, err := energy.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new energy store: %v", err)
	}
	p, err := New(t.TempDir(), completed, energyStore, newTestStorage(t))
	if err != nil {
		t.Fatalf("new packager: %v", err)
	}

	_, _, err = p.Prepare(context.Background(), "missing", "JobDisputed", "", [32]byte{})
	if err == nil {
		t.Fatal("expected error for job with no completed-job record")
	}
}

func TestResolveAnnotatesRecord(t *testing.T) {
	completed := fakeCompletedJobs{jobs: map[ledger.JobID]CompletedJob{
		"1": {JobID: "1", Agent: "0xAgent", Classification: ledger.Classification{Category: "research"}},
	}}
	energyStore, err := energy.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new energy store: %v", err)
	}
	p, err := New(t.TempDir(), completed, energyStore, newTestStorage(t))
	if err != nil {
		t.Fatalf("new packager: %v", err)
	}
	if _, _, err := p.Prepare(context.Background(), "1", "JobDisputed", "", [32]byte{}); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	if err := p.Resolve("1", true, "0xResolver", time.Now()); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	rec, ok := p.Get("1")
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.EmployerWins == nil || !*rec.EmployerWins {
		t.Fatalf("expected employerWins=true, got %+v", rec.EmployerWins)
	}
}

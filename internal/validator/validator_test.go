package validator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/marcus-qen/agia-orchestrator/internal/chainmath"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
	"github.com/marcus-qen/agia-orchestrator/internal/storage"
)

type fakeRegistry struct {
	logs []ledger.ResultSubmittedEvent
}

func (f fakeRegistry) SubscribeEvents(ctx context.Context) (<-chan ledger.Event, error) { return nil, nil }
func (f fakeRegistry) Jobs(ctx context.Context, jobID ledger.JobID) (ledger.JobRecord, error) {
	return ledger.JobRecord{}, nil
}
func (f fakeRegistry) Requirements(ctx context.Context, jobID ledger.JobID) (ledger.JobRequirements, error) {
	return ledger.JobRequirements{}, nil
}
func (f fakeRegistry) ApplyForJob(ctx context.Context, jobID ledger.JobID, subdomain string, proofs [][]byte) (string, error) {
	return "", nil
}
func (f fakeRegistry) FinalizeJob(ctx context.Context, jobID ledger.JobID, resultRef string) (string, error) {
	return "", nil
}
func (f fakeRegistry) CreateJob(ctx context.Context, spec ledger.CreateJobParams) (ledger.JobID, string, error) {
	return "", "", nil
}
func (f fakeRegistry) ResultSubmittedLogs(ctx context.Context, jobID ledger.JobID, lookbackBlocks uint64) ([]ledger.ResultSubmittedEvent, error) {
	return f.logs, nil
}

func newTestStorage(t *testing.T) *storage.Client {
	t.Helper()
	c, err := storage.New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	return c
}

func TestEvaluateNoResultSubmitted(t *testing.T) {
	registry := fakeRegistry{}
	v := New(registry, newTestStorage(t), 200_000, 0.5)
	report, err := v.Evaluate(context.Background(), "1", ledger.JobRecord{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Approve {
		t.Fatal("expected approve=false with no ResultSubmitted event")
	}
	if len(report.ErrorNotes) == 0 {
		t.Fatal("expected an error note")
	}
}

func TestEvaluateApprovesMatchingArtifact(t *testing.T) {
	store := newTestStorage(t)
	payload, _ := json.Marshal(map[string]any{"jobId": "7", "category": "research"})
	ref, err := store.Upload(context.Background(), payload)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	hash := chainmath.Keccak256(payload)

	registry := fakeRegistry{logs: []ledger.ResultSubmittedEvent{
		{JobID: "7", ResultRef: ref.URI, ResultHash: hash, BlockNum: 100},
	}}
	job := ledger.JobRecord{ResultHash: hash}
	classification := &ledger.Classification{Category: "research"}

	v := New(registry, store, 200_000, 0.5)
	report, err := v.Evaluate(context.Background(), "7", job, classification)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !report.Approve {
		t.Fatalf("expected approve=true, notes=%v errors=%v", report.Notes, report.ErrorNotes)
	}
	if report.Confidence != 1 {
		t.Fatalf("expected confidence=1, got %f", report.Confidence)
	}
}

func TestEvaluateFlagsHashMismatch(t *testing.T) {
	store := newTestStorage(t)
	payload := []byte("not json")
	ref, err := store.Upload(context.Background(), payload)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var wrongHash [32]byte
	wrongHash[0] = 0xFF

	registry := fakeRegistry{logs: []ledger.ResultSubmittedEvent{
		{JobID: "9", ResultRef: ref.URI, BlockNum: 5},
	}}
	job := ledger.JobRecord{ResultHash: wrongHash}

	v := New(registry, store, 200_000, 0.5)
	report, err := v.Evaluate(context.Background(), "9", job, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Approve {
		t.Fatal("expected approve=false on hash mismatch")
	}
	found := false
	for _, n := range report.ErrorNotes {
		if n == "result hash does not match on-chain record" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected hash-mismatch error note, got %v", report.ErrorNotes)
	}
}

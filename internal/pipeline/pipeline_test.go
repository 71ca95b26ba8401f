package pipeline

import (
	"context"
	"os"
	"testing"

	"github.com/marcus-qen/agia-orchestrator/internal/energy"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
	"github.com/marcus-qen/agia-orchestrator/internal/storage"
)

func TestBuildRejectsUnknownHandler(t *testing.T) {
	_, err := Build([]ledger.Stage{{Name: "x", Handler: "nope.unknown"}}, NewRegistry())
	if err == nil {
		t.Fatal("expected error for unknown handler")
	}
}

func TestBuildRejectsEndpointStage(t *testing.T) {
	_, err := Build([]ledger.Stage{{Name: "x", Endpoint: "https://example.com"}}, NewRegistry())
	if err == nil {
		t.Fatal("expected error for endpoint-bound stage")
	}
}

func TestResolveSpecPipelineWins(t *testing.T) {
	templates := NewTemplates()
	spec := []ledger.Stage{{Name: "custom", Handler: "report.generate"}}
	got, err := Resolve(spec, "research", templates)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 || got[0].Name != "custom" {
		t.Fatalf("expected spec pipeline to win, got %+v", got)
	}
}

func TestResolveFallsBackToCategoryThenDefault(t *testing.T) {
	templates := NewTemplates()
	got, err := Resolve(nil, "research", templates)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected category template")
	}

	got, err = Resolve(nil, "unknown-category", templates)
	if err != nil {
		t.Fatalf("resolve default: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected default template")
	}
}

func TestRunnerExecutesStagesAndUploadsManifest(t *testing.T) {
	dir := t.TempDir()
	storageClient, err := storage.New(dir+"/storage", "")
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	energyStore, err := energy.NewStore(dir + "/energy")
	if err != nil {
		t.Fatalf("new energy store: %v", err)
	}

	registry := NewRegistry()
	p, err := Build([]ledger.Stage{
		{Name: "summarize", Handler: "research.summarize"},
		{Name: "report", Handler: "report.generate"},
	}, registry)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	runner := NewRunner(storageClient, energyStore, nil)
	result, err := runner.Run(context.Background(), p, "42", "research", "0xAgent", nil, nil, []byte("hello world"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.StageCIDs) != 2 {
		t.Fatalf("expected 2 stage CIDs, got %d", len(result.StageCIDs))
	}
	if result.ManifestCID.URI == "" {
		t.Fatal("expected non-empty manifest URI")
	}

	log, ok, err := energyStore.Load("0xAgent", "42")
	if err != nil {
		t.Fatalf("load energy log: %v", err)
	}
	if !ok {
		t.Fatal("expected energy log to exist")
	}
	if len(log.Stages) != 2 {
		t.Fatalf("expected 2 stage metrics, got %d", len(log.Stages))
	}
}

func TestRunnerFailsWhenNoStagesProduceOutput(t *testing.T) {
	dir := t.TempDir()
	_ = os.MkdirAll(dir, 0o750)
	storageClient, err := storage.New(dir+"/storage", "")
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	energyStore, err := energy.NewStore(dir + "/energy")
	if err != nil {
		t.Fatalf("new energy store: %v", err)
	}

	registry := NewRegistry()
	registry.Register("always.fail", func(context.Context, Context, []byte) ([]byte, error) {
		return nil, errAlwaysFail
	})
	p, err := Build([]ledger.Stage{{Name: "bad", Handler: "always.fail"}}, registry)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	runner := NewRunner(storageClient, energyStore, nil)
	_, err = runner.Run(context.Background(), p, "1", "research", "0xAgent", nil, nil, []byte("x"))
	if err == nil {
		t.Fatal("expected run to fail")
	}
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errAlwaysFail = sentinelError("always fails")

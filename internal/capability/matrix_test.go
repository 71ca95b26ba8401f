package capability

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	agiaclock "github.com/marcus-qen/agia-orchestrator/internal/clock"
	"github.com/marcus-qen/agia-orchestrator/internal/identity"
)

const matrixYAML = `
categories:
  research:
    - address: "0xA"
      energy: 10
      skills: ["summarize"]
    - address: "0xUNKNOWN"
      energy: 5
  general:
    - address: "0xA"
`

func writeTestIdentities(t *testing.T, dir string) *identity.Registry {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"address":"0xA","role":"agent"}`), 0o640); err != nil {
		t.Fatalf("write identity: %v", err)
	}
	reg, err := identity.Load(dir)
	if err != nil {
		t.Fatalf("load identities: %v", err)
	}
	return reg
}

func TestLoadFiltersUnknownIdentities(t *testing.T) {
	idDir := t.TempDir()
	reg := writeTestIdentities(t, idDir)

	matrixDir := t.TempDir()
	path := filepath.Join(matrixDir, "matrix.yaml")
	if err := os.WriteFile(path, []byte(matrixYAML), 0o640); err != nil {
		t.Fatalf("write matrix: %v", err)
	}

	m, err := Load(path, reg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	research := m.Candidates("research")
	if len(research) != 1 || research[0].Address != "0xA" {
		t.Fatalf("research candidates = %+v, want only 0xA", research)
	}
}

func TestLoaderCachesUntilRefreshInterval(t *testing.T) {
	idDir := t.TempDir()
	reg := writeTestIdentities(t, idDir)

	matrixDir := t.TempDir()
	path := filepath.Join(matrixDir, "matrix.yaml")
	os.WriteFile(path, []byte(matrixYAML), 0o640)

	clk := agiaclock.NewFake(time.Unix(0, 0))
	loader := NewLoader(path, reg, clk, 30*time.Second)

	m1, err := loader.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}

	// Mutate the file on disk; within the refresh interval this must not
	// be observed.
	os.WriteFile(path, []byte("categories: {}\n"), 0o640)
	m2, err := loader.Current()
	if err != nil {
		t.Fatalf("current 2: %v", err)
	}
	if len(m2.Candidates("research")) != len(m1.Candidates("research")) {
		t.Fatalf("expected cached matrix before refresh interval elapsed")
	}

	clk.Advance(31 * time.Second)
	m3, err := loader.Current()
	if err != nil {
		t.Fatalf("current 3: %v", err)
	}
	if len(m3.Candidates("research")) != 0 {
		t.Fatalf("expected reloaded empty matrix after refresh interval")
	}
}

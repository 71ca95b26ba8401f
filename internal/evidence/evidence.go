// Package evidence implements the Dispute Evidence Packager: idempotent
// bundling of a disputed job's completion record and energy log into
// content-addressed storage (spec §4.10).
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcus-qen/agia-orchestrator/internal/energy"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
	"github.com/marcus-qen/agia-orchestrator/internal/storage"
)

// CompletedJob is the completed-job cache record a dispute needs (spec §3
// "Completed-job evidence (persisted)": a snapshot of agent, classification,
// spec, summary, run manifest CID, on-chain normalized record, storagePath).
type CompletedJob struct {
	JobID          ledger.JobID
	Agent          ledger.Address
	Classification ledger.Classification
	Spec           *ledger.JobSpec
	Summary        string
	ResultRef      string
	Record         ledger.JobRecord
	StoragePath    string
}

// CompletedJobCache is the collaborator holding completed-job state the
// orchestrator maintains after a successful finalizeJob call.
type CompletedJobCache interface {
	Get(jobID ledger.JobID) (CompletedJob, bool)
}

// Bundle is the canonical document hashed and uploaded for a dispute (spec
// §4.10 steps 3-4).
type Bundle struct {
	JobID           ledger.JobID       `json:"jobId"`
	Notes           []string           `json:"notes"`
	CounterEvidence string             `json:"counterEvidenceHash,omitempty"`
	Agent           ledger.Address     `json:"agent"`
	Category        string             `json:"category"`
	EnergyLog       *energy.JobEnergyLog `json:"energyLog,omitempty"`
}

// Record is the persisted per-job evidence cache entry (spec §4.10 step 5).
type Record struct {
	Hash         string     `json:"hash"`
	CID          string     `json:"cid"`
	URI          string     `json:"uri"`
	FilePath     string     `json:"filePath"`
	UploadError  string     `json:"uploadError,omitempty"`
	EmployerWins *bool      `json:"employerWins,omitempty"`
	Resolver     string     `json:"resolver,omitempty"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

// Packager bundles and uploads dispute evidence, keeping a persisted
// idempotency cache keyed by jobID.
type Packager struct {
	dir       string
	completed CompletedJobCache
	energy    *energy.Store
	storage   *storage.Client

	mu    sync.Mutex
	cache map[ledger.JobID]Record
}

// New constructs a Packager, loading any existing cache from dir.
func New(dir string, completed CompletedJobCache, energyStore *energy.Store, storageClient *storage.Client) (*Packager, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	p := &Packager{dir: dir, completed: completed, energy: energyStore, storage: storageClient, cache: make(map[ledger.JobID]Record)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list evidence dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !isRecordFile(name) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var rec Record
		if json.Unmarshal(data, &rec) == nil {
			jobID := ledger.JobID(trimJSONExt(name))
			p.cache[jobID] = rec
		}
	}
	return p, nil
}

// isRecordFile reports whether name is a persisted Record file ("<jobID>.json"),
// not a raw evidence bundle ("<jobID>.bundle.json").
func isRecordFile(name string) bool {
	const ext = ".json"
	const bundleSuffix = ".bundle.json"
	if len(name) <= len(ext) || name[len(name)-len(ext):] != ext {
		return false
	}
	return len(name) < len(bundleSuffix) || name[len(name)-len(bundleSuffix):] != bundleSuffix
}

func trimJSONExt(name string) string {
	const ext = ".json"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)]
	}
	return name
}

// Prepare bundles and uploads evidence for jobID triggered by a
// JobDisputed/DisputeRaised signal (spec §4.10 steps 1-5). It is a no-op if
// evidence already exists for jobID. raiser and counterEvidenceHash describe
// the triggering signal (counterEvidenceHash empty/zero means none supplied).
func (p *Packager) Prepare(ctx context.Context, jobID ledger.JobID, triggerSource, raiser string, counterEvidenceHash [32]byte) (Record, bool, error) {
	p.mu.Lock()
	if existing, ok := p.cache[jobID]; ok {
		p.mu.Unlock()
		return existing, false, nil
	}
	p.mu.Unlock()

	job, ok := p.completed.Get(jobID)
	if !ok {
		return Record{}, false, fmt.Errorf("no completed-job record for %s: missing evidence", jobID)
	}

	notes := []string{fmt.Sprintf("triggered by %s", triggerSource)}
	if raiser != "" {
		notes = append(notes, fmt.Sprintf("raised by %s", raiser))
	}
	var zero [32]byte
	counterHex := ""
	if counterEvidenceHash != zero {
		counterHex = "0x" + hex.EncodeToString(counterEvidenceHash[:])
		notes = append(notes, fmt.Sprintf("counter-party evidence hash %s", counterHex))
	}

	var energyLog *energy.JobEnergyLog
	if p.energy != nil {
		if log, ok, err := p.energy.Load(job.Agent, jobID); err == nil && ok {
			energyLog = &log
		}
	}

	bundle := Bundle{
		JobID:           jobID,
		Notes:           notes,
		CounterEvidence: counterHex,
		Agent:           job.Agent,
		Category:        job.Classification.Category,
		EnergyLog:       energyLog,
	}
	canonical, err := json.Marshal(bundle)
	if err != nil {
		return Record{}, false, fmt.Errorf("marshal evidence bundle: %w", err)
	}
	sum := sha256.Sum256(canonical)
	hash := hex.EncodeToString(sum[:])

	rec := Record{Hash: hash}
	ref, uploadErr := p.storage.Upload(ctx, canonical)
	if uploadErr != nil {
		rec.UploadError = uploadErr.Error()
	} else {
		rec.CID = ref.CID
		rec.URI = ref.URI
	}

	filePath := filepath.Join(p.dir, string(jobID)+".bundle.json")
	if err := os.WriteFile(filePath, canonical, 0o640); err != nil {
		return Record{}, false, fmt.Errorf("persist evidence bundle: %w", err)
	}
	rec.FilePath = filePath

	if err := p.persist(jobID, rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Resolve annotates jobID's evidence with the dispute outcome (spec §4.10
// step 6). It is a no-op if no evidence exists for jobID.
func (p *Packager) Resolve(jobID ledger.JobID, employerWins bool, resolver string, resolvedAt time.Time) error {
	p.mu.Lock()
	rec, ok := p.cache[jobID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	rec.EmployerWins = &employerWins
	rec.Resolver = resolver
	rec.ResolvedAt = &resolvedAt
	return p.persist(jobID, rec)
}

// Get returns the cached evidence record for jobID, if any.
func (p *Packager) Get(jobID ledger.JobID) (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.cache[jobID]
	return r, ok
}

func (p *Packager) persist(jobID ledger.JobID, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal evidence record: %w", err)
	}
	path := filepath.Join(p.dir, string(jobID)+".json")
	tmp, err := os.CreateTemp(p.dir, ".evidence-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp evidence record: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp evidence record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp evidence record: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename evidence record into place: %w", err)
	}
	p.mu.Lock()
	p.cache[jobID] = rec
	p.mu.Unlock()
	return nil
}

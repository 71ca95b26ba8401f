package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/marcus-qen/agia-orchestrator/internal/evidence"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// completedRecord is the persisted completed-job cache entry (spec §6
// "<storage>/completed-jobs/<jobId>.json").
type completedRecord = evidence.CompletedJob

// completedJobCache persists completed-job state, the collaborator the
// dispute evidence packager reads through evidence.CompletedJobCache and
// restart-safety (bootstrap) rebuilds from disk.
type completedJobCache struct {
	dir string

	mu      sync.Mutex
	records map[ledger.JobID]completedRecord
}

func newCompletedJobCache(dir string) (*completedJobCache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create completed-jobs dir: %w", err)
	}
	cache := &completedJobCache{dir: dir, records: make(map[ledger.JobID]completedRecord)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list completed-jobs dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var rec completedRecord
		if json.Unmarshal(data, &rec) == nil {
			cache.records[rec.JobID] = rec
		}
	}
	return cache, nil
}

// Get implements evidence.CompletedJobCache.
func (c *completedJobCache) Get(jobID ledger.JobID) (completedRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[jobID]
	return rec, ok
}

// Put persists rec, overwriting any existing record for its jobID.
func (c *completedJobCache) Put(rec completedRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal completed-job record: %w", err)
	}
	path := filepath.Join(c.dir, string(rec.JobID)+".json")
	tmp, err := os.CreateTemp(c.dir, ".completed-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp completed-job record: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp completed-job record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp completed-job record: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename completed-job record into place: %w", err)
	}

	c.mu.Lock()
	c.records[rec.JobID] = rec
	c.mu.Unlock()
	return nil
}

package energy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// Store is the Energy Telemetry Store: append-only per-(agent,job) files
// under <root>/<sanitized-agent>/<jobId>.json, replaced atomically on each
// appended stage (spec §3, §6).
type Store struct {
	root string

	mu    sync.Mutex
	cache map[string]JobEnergyLog // key: agent|jobId
}

// NewStore constructs a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create energy root: %w", err)
	}
	return &Store{root: dir, cache: make(map[string]JobEnergyLog)}, nil
}

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

func sanitizeAgent(agent ledger.Address) string {
	return unsafePathChars.ReplaceAllString(strings.ToLower(string(agent)), "_")
}

func cacheKey(agent ledger.Address, jobID ledger.JobID) string {
	return string(agent.Lower()) + "|" + string(jobID)
}

func (s *Store) path(agent ledger.Address, jobID ledger.JobID) string {
	return filepath.Join(s.root, sanitizeAgent(agent), string(jobID)+".json")
}

// Load reads the persisted log for (agent, jobId), if any.
func (s *Store) Load(agent ledger.Address, jobID ledger.JobID) (JobEnergyLog, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(agent, jobID)
}

func (s *Store) loadLocked(agent ledger.Address, jobID ledger.JobID) (JobEnergyLog, bool, error) {
	key := cacheKey(agent, jobID)
	if log, ok := s.cache[key]; ok {
		return log, true, nil
	}

	data, err := os.ReadFile(s.path(agent, jobID))
	if os.IsNotExist(err) {
		return JobEnergyLog{}, false, nil
	}
	if err != nil {
		return JobEnergyLog{}, false, fmt.Errorf("read energy log: %w", err)
	}
	var log JobEnergyLog
	if err := json.Unmarshal(data, &log); err != nil {
		return JobEnergyLog{}, false, fmt.Errorf("parse energy log: %w", err)
	}
	s.cache[key] = log
	return log, true, nil
}

// Append adds stage to the (agent, jobId) log, recomputes the summary, and
// persists the whole file atomically (write-temp-rename). category tags the
// record for the Energy Policy's per-category lookback; it is set on first
// append and left unchanged thereafter.
func (s *Store) Append(agent ledger.Address, jobID ledger.JobID, category string, stage StageMetric) (JobEnergyLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, _, err := s.loadLocked(agent, jobID)
	if err != nil {
		return JobEnergyLog{}, err
	}
	log.Agent = agent
	log.JobID = jobID
	if log.Category == "" {
		log.Category = category
	}
	log.Stages = append(log.Stages, stage)
	log.Summary = Summarize(log.Stages)

	if err := s.persist(agent, jobID, log); err != nil {
		return JobEnergyLog{}, err
	}
	s.cache[cacheKey(agent, jobID)] = log
	return log, nil
}

func (s *Store) persist(agent ledger.Address, jobID ledger.JobID, log JobEnergyLog) error {
	dir := filepath.Join(s.root, sanitizeAgent(agent))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create agent energy dir: %w", err)
	}

	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal energy log: %w", err)
	}

	finalPath := s.path(agent, jobID)
	tmp, err := os.CreateTemp(dir, "."+string(jobID)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp energy log: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp energy log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp energy log: %w", err)
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return fmt.Errorf("rename energy log into place: %w", err)
	}
	return nil
}

// ListForAgent loads every persisted log for agent by scanning its
// directory; used by the selector's job-log energy-prediction precedence.
func (s *Store) ListForAgent(agent ledger.Address) ([]JobEnergyLog, error) {
	dir := filepath.Join(s.root, sanitizeAgent(agent))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list agent energy dir: %w", err)
	}

	var logs []JobEnergyLog
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		jobID := ledger.JobID(strings.TrimSuffix(e.Name(), ".json"))
		log, ok, err := s.Load(agent, jobID)
		if err != nil {
			return nil, err
		}
		if ok {
			logs = append(logs, log)
		}
	}
	return logs, nil
}

// ListAll loads every persisted log across every agent directory; used by
// the Energy Policy's snapshot provider (spec §4.8).
func (s *Store) ListAll() ([]JobEnergyLog, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list energy root: %w", err)
	}

	var logs []JobEnergyLog
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		agentDir := filepath.Join(s.root, e.Name())
		files, err := os.ReadDir(agentDir)
		if err != nil {
			return nil, fmt.Errorf("list agent dir %q: %w", agentDir, err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(agentDir, f.Name()))
			if err != nil {
				return nil, fmt.Errorf("read energy log %q: %w", f.Name(), err)
			}
			var log JobEnergyLog
			if err := json.Unmarshal(data, &log); err != nil {
				return nil, fmt.Errorf("parse energy log %q: %w", f.Name(), err)
			}
			logs = append(logs, log)
		}
	}
	return logs, nil
}

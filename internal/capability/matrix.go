// Package capability implements the Capability Matrix: a static per-category
// roster of candidate agents, enriched with telemetry hints and refreshed
// on an interval (spec §3, §4, and the "capability-matrix refresh" periodic
// task implied by the component table in spec §2).
package capability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marcus-qen/agia-orchestrator/internal/clock"
	"github.com/marcus-qen/agia-orchestrator/internal/identity"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// AgentInfo is one roster entry for a category (spec §3).
type AgentInfo struct {
	Address         ledger.Address
	Energy          *float64
	EfficiencyScore *float64
	Skills          []string
	Metadata        map[string]any
}

// Matrix is an immutable snapshot of the category -> candidate roster.
type Matrix struct {
	byCategory map[string][]AgentInfo
}

// Candidates returns the roster for category (case-insensitive), or nil if
// the category has none.
func (m *Matrix) Candidates(category string) []AgentInfo {
	return m.byCategory[strings.ToLower(category)]
}

// Categories lists every category with at least one candidate.
func (m *Matrix) Categories() []string {
	out := make([]string, 0, len(m.byCategory))
	for c := range m.byCategory {
		out = append(out, c)
	}
	return out
}

// NewMatrix builds a Matrix directly from a category roster map, skipping
// the YAML file and identity-registry filtering steps Load does. Used both
// by production code building a derived, filtered snapshot of a loaded
// Matrix (e.g. the orchestrator's quarantine filter) and by other packages'
// tests (e.g. selector) that need a Matrix without a YAML fixture file.
func NewMatrix(byCategory map[string][]AgentInfo) *Matrix {
	normalized := make(map[string][]AgentInfo, len(byCategory))
	for category, entries := range byCategory {
		normalized[strings.ToLower(category)] = entries
	}
	return &Matrix{byCategory: normalized}
}

type yamlFile struct {
	Categories map[string][]yamlAgentInfo `yaml:"categories"`
}

type yamlAgentInfo struct {
	Address         string         `yaml:"address"`
	Energy          *float64       `yaml:"energy,omitempty"`
	EfficiencyScore *float64       `yaml:"efficiencyScore,omitempty"`
	Skills          []string       `yaml:"skills,omitempty"`
	Metadata        map[string]any `yaml:"metadata,omitempty"`
}

// Load parses the YAML capability-matrix file at path and drops any roster
// entry whose address is not a known agent identity (bootstrap's "filter
// capability matrix against loaded identities" step).
func Load(path string, identities *identity.Registry) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability matrix %q: %w", path, err)
	}
	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse capability matrix %q: %w", path, err)
	}

	byCategory := make(map[string][]AgentInfo, len(file.Categories))
	for category, entries := range file.Categories {
		var kept []AgentInfo
		for _, e := range entries {
			addr := ledger.Address(e.Address)
			if _, ok := identities.Get(addr); !ok {
				continue
			}
			kept = append(kept, AgentInfo{
				Address:         addr,
				Energy:          e.Energy,
				EfficiencyScore: e.EfficiencyScore,
				Skills:          e.Skills,
				Metadata:        e.Metadata,
			})
		}
		if len(kept) > 0 {
			byCategory[strings.ToLower(category)] = kept
		}
	}
	return &Matrix{byCategory: byCategory}, nil
}

// Loader caches a Matrix and reloads it from disk at most once per
// RefreshInterval, so the orchestrator's periodic capability-matrix-refresh
// task is just "ask the loader for Current()".
type Loader struct {
	path            string
	identities      *identity.Registry
	clk             clock.Clock
	refreshInterval time.Duration

	mu       sync.Mutex
	current  *Matrix
	loadedAt time.Time
}

// NewLoader constructs a Loader. Call Current (or Load once up front) before
// first use; Current lazily loads if nothing has been loaded yet.
func NewLoader(path string, identities *identity.Registry, clk clock.Clock, refreshInterval time.Duration) *Loader {
	return &Loader{path: path, identities: identities, clk: clk, refreshInterval: refreshInterval}
}

// Current returns the cached Matrix, reloading from disk if the refresh
// interval has elapsed or nothing has been loaded yet.
func (l *Loader) Current() (*Matrix, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil && l.clk.Now().Sub(l.loadedAt) < l.refreshInterval {
		return l.current, nil
	}
	m, err := Load(l.path, l.identities)
	if err != nil {
		if l.current != nil {
			// Keep serving the stale matrix rather than failing a live
			// request over a transient reload error.
			return l.current, nil
		}
		return nil, err
	}
	l.current = m
	l.loadedAt = l.clk.Now()
	return l.current, nil
}

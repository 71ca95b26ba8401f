// Package watchdog implements the failure-threshold quarantine that keeps a
// misbehaving agent out of selection for a cooldown window (spec §4.11).
package watchdog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcus-qen/agia-orchestrator/internal/clock"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// entry is one agent's failure-tracking state (spec §3 "map<agent,
// {failures, lastFailureAt?, lastFailureReason?, quarantinedUntil?,
// lastResetAt?}>").
type entry struct {
	FailureCount      int       `json:"failureCount"`
	LastFailureAt     time.Time `json:"lastFailureAt,omitempty"`
	LastFailureReason string    `json:"lastFailureReason,omitempty"`
	QuarantinedUntil  time.Time `json:"quarantinedUntil,omitempty"`
	LastResetAt       time.Time `json:"lastResetAt,omitempty"`
}

func (e entry) quarantined(now time.Time) bool {
	return !e.QuarantinedUntil.IsZero() && now.Before(e.QuarantinedUntil)
}

// Watchdog tracks per-agent failures and quarantines agents that cross the
// configured threshold, persisting state to disk after every mutation.
type Watchdog struct {
	path      string
	threshold int
	window    time.Duration
	clk       clock.Clock

	mu      sync.Mutex
	entries map[ledger.Address]entry
}

// New loads (or initializes) watchdog state from path.
func New(path string, threshold int, window time.Duration, clk clock.Clock) (*Watchdog, error) {
	w := &Watchdog{path: path, threshold: threshold, window: window, clk: clk, entries: make(map[ledger.Address]entry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read watchdog state: %w", err)
	}
	var raw map[ledger.Address]entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse watchdog state: %w", err)
	}
	w.entries = raw
	return w, nil
}

// RecordFailure increments agent's failure counter and quarantines it once
// the threshold is reached (spec §4.11).
func (w *Watchdog) RecordFailure(agent ledger.Address, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := agent.Lower()
	e := w.entries[key]
	e.FailureCount++
	e.LastFailureAt = w.clk.Now()
	e.LastFailureReason = reason
	if e.FailureCount >= w.threshold {
		e.QuarantinedUntil = w.clk.Now().Add(w.window)
	}
	w.entries[key] = e
	return w.persistLocked()
}

// RecordSuccess clears agent's failure counter. If the agent was previously
// quarantined, releasedAgent reports true so the caller can emit
// watchdog.auto_release (spec §4.11).
func (w *Watchdog) RecordSuccess(agent ledger.Address) (releasedAgent bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := agent.Lower()
	e, ok := w.entries[key]
	if !ok {
		return false, nil
	}
	wasQuarantined := e.quarantined(w.clk.Now())
	delete(w.entries, key)
	if err := w.persistLocked(); err != nil {
		return false, err
	}
	return wasQuarantined, nil
}

// ManualReset lifts agent's quarantine early and resets its failure counter,
// recording lastResetAt (spec §8 scenario 3: quarantine "returns false" only
// "after expiry (or manualReset)"). releasedAgent reports whether the agent
// was actually quarantined at the time of the reset.
func (w *Watchdog) ManualReset(agent ledger.Address) (releasedAgent bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := agent.Lower()
	e, ok := w.entries[key]
	if !ok {
		return false, nil
	}
	wasQuarantined := e.quarantined(w.clk.Now())
	e.FailureCount = 0
	e.QuarantinedUntil = time.Time{}
	e.LastResetAt = w.clk.Now()
	w.entries[key] = e
	if err := w.persistLocked(); err != nil {
		return false, err
	}
	return wasQuarantined, nil
}

// IsQuarantined reports whether agent is currently quarantined, lazily
// treating an expired quarantine as released without mutating state.
func (w *Watchdog) IsQuarantined(agent ledger.Address) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[agent.Lower()]
	if !ok {
		return false
	}
	return e.quarantined(w.clk.Now())
}

func (w *Watchdog) persistLocked() error {
	data, err := json.MarshalIndent(w.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal watchdog state: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create watchdog state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".watchdog-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp watchdog state: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp watchdog state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp watchdog state: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("rename watchdog state into place: %w", err)
	}
	return nil
}

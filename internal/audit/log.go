// Package audit implements the orchestrator's audit trail: an in-memory
// ring-buffer log backed by daily-rotated JSONL files, plus the Merkle-root
// anchor sweep that periodically commits those files to the ledger (spec
// §6, §4.9).
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-qen/agia-orchestrator/internal/clock"
)

// EventType classifies an audit entry.
type EventType string

const (
	EventJobDetected          EventType = "job.detected"
	EventJobApplied           EventType = "job.applied"
	EventJobAssigned          EventType = "job.assigned"
	EventJobSubmitted         EventType = "job.submitted"
	EventJobCompleted         EventType = "job.completed"
	EventJobExecutionFailed   EventType = "job.execution_failed"
	EventValidatorCommitted   EventType = "validator.committed"
	EventValidatorRevealed    EventType = "validator.revealed"
	EventWatchdogQuarantined  EventType = "watchdog.quarantined"
	EventWatchdogAutoRelease  EventType = "watchdog.auto_release"
	EventDisputeMissingEvid   EventType = "dispute.missing_evidence"
	EventDisputeEvidencePrep  EventType = "dispute.evidence_prepared"
	EventAnchorCompleted      EventType = "anchor.completed"
)

// Event is one audit log entry (spec §6's daily JSONL record shape).
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	JobID     string    `json:"jobId,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Summary   string    `json:"summary"`
	Detail    any       `json:"detail,omitempty"`
}

// Log is the append-only audit trail: a recent-entries ring buffer in
// memory, mirrored to a daily-rotated JSONL file on disk — the file is the
// source of truth the anchor sweep reads (spec §5 "the file is the source
// of truth across restarts").
type Log struct {
	dir    string
	maxLen int
	clk    clock.Clock

	mu     sync.Mutex
	events []Event
}

// NewLog constructs a Log writing daily files under dir. maxLen bounds the
// in-memory ring buffer (0 = unbounded).
func NewLog(dir string, maxLen int, clk clock.Clock) (*Log, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	return &Log{dir: dir, maxLen: maxLen, clk: clk}, nil
}

// Record appends evt to the in-memory ring buffer and the current day's
// JSONL file.
func (l *Log) Record(evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = l.clk.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, evt)
	if l.maxLen > 0 && len(l.events) > l.maxLen {
		l.events = l.events[len(l.events)-l.maxLen:]
	}

	return l.appendToFile(evt)
}

func (l *Log) appendToFile(evt Event) error {
	path := l.filePath(evt.Timestamp)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open audit log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write audit event newline: %w", err)
	}
	return w.Flush()
}

func (l *Log) filePath(ts time.Time) string {
	return filepath.Join(l.dir, ts.UTC().Format("2006-01-02")+".log")
}

// Filter selects a subset of the in-memory ring buffer for Query.
type Filter struct {
	Type  EventType
	JobID string
	Since time.Time
	Limit int
}

// Query returns matching events, newest first.
func (l *Log) Query(f Filter) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for i := len(l.events) - 1; i >= 0; i-- {
		e := l.events[i]
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.JobID != "" && e.JobID != f.JobID {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

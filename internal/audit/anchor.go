package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/agia-orchestrator/internal/chainmath"
	"github.com/marcus-qen/agia-orchestrator/internal/clock"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// AnchorRecord is one file's anchoring outcome, persisted keyed by filename
// (spec §4.9 step 5).
type AnchorRecord struct {
	Root       string    `json:"root"`
	TxHash     string    `json:"txHash"`
	AnchoredAt time.Time `json:"anchoredAt"`
	Entries    int       `json:"entries"`
	FileSize   int64     `json:"fileSize"`
}

// Anchor runs the periodic audit-log anchoring sweep (spec §4.9): it hashes
// each not-yet-anchored daily log file into a Merkle root and sends a
// zero-value transaction recording it on-chain.
type Anchor struct {
	logDir         string
	statePath      string
	anchorAddr     ledger.Address
	sender         ledger.AnchorSender
	minFileAge     time.Duration
	maxFilesPerRun int
	clk            clock.Clock
	logger         *zap.Logger

	mu      sync.Mutex
	state   map[string]AnchorRecord
	queued  bool
	running bool
}

// NewAnchor loads (or initializes) anchor state from statePath. A nil logger
// is replaced with a no-op one.
func NewAnchor(logDir, statePath string, anchorAddr ledger.Address, sender ledger.AnchorSender, minFileAge time.Duration, maxFilesPerRun int, clk clock.Clock, logger *zap.Logger) (*Anchor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Anchor{
		logDir: logDir, statePath: statePath, anchorAddr: anchorAddr, sender: sender,
		minFileAge: minFileAge, maxFilesPerRun: maxFilesPerRun, clk: clk, logger: logger,
		state: make(map[string]AnchorRecord),
	}
	data, err := os.ReadFile(statePath)
	if os.IsNotExist(err) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read anchor state: %w", err)
	}
	if err := json.Unmarshal(data, &a.state); err != nil {
		return nil, fmt.Errorf("parse anchor state: %w", err)
	}
	return a, nil
}

// Trigger forces an out-of-band sweep. Concurrent triggers while a sweep is
// already running are coalesced into a single follow-up run (spec §4.9
// "coalescing concurrent triggers via a queued flag and a running guard").
func (a *Anchor) Trigger(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.queued = true
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.mu.Unlock()

	err := a.runSweep(ctx)

	a.mu.Lock()
	a.running = false
	again := a.queued
	a.queued = false
	a.mu.Unlock()

	if again {
		return a.Trigger(ctx)
	}
	return err
}

// runSweep anchors every eligible file, one at a time. A single file's
// failure is logged and skipped — its state entry is left unset so it's
// retried next sweep — rather than aborting the remaining eligible files
// (spec §7 "Anchor-failure (per file): logged and skipped").
func (a *Anchor) runSweep(ctx context.Context) error {
	files, err := a.eligibleFiles()
	if err != nil {
		return fmt.Errorf("list eligible audit log files: %w", err)
	}

	for _, name := range files {
		if err := a.anchorFile(ctx, name); err != nil {
			a.logger.Warn("anchor file failed, will retry next sweep", zap.String("file", name), zap.Error(err))
		}
	}
	return nil
}

func (a *Anchor) eligibleFiles() ([]string, error) {
	entries, err := os.ReadDir(a.logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	today := a.clk.Now().UTC().Format("2006-01-02") + ".log"
	cutoff := a.clk.Now().Add(-a.minFileAge)

	a.mu.Lock()
	defer a.mu.Unlock()

	var candidates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".log") {
			continue
		}
		if name == today {
			continue
		}
		if _, anchored := a.state[name]; anchored {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		candidates = append(candidates, name)
	}
	sort.Strings(candidates)
	if len(candidates) > a.maxFilesPerRun {
		candidates = candidates[:a.maxFilesPerRun]
	}
	return candidates, nil
}

func (a *Anchor) anchorFile(ctx context.Context, name string) error {
	path := filepath.Join(a.logDir, name)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	lines, err := readNonBlankLines(path)
	if err != nil {
		return fmt.Errorf("read lines: %w", err)
	}
	root := chainmath.MerkleRoot(lines)
	if root == nil {
		return nil
	}

	data := append([]byte("AGIA"), root...)
	txHash, err := a.sender.SendAnchor(ctx, a.anchorAddr, data)
	if err != nil {
		return fmt.Errorf("send anchor tx: %w", err)
	}

	record := AnchorRecord{
		Root:       fmt.Sprintf("0x%x", root),
		TxHash:     txHash,
		AnchoredAt: a.clk.Now().UTC(),
		Entries:    len(lines),
		FileSize:   info.Size(),
	}

	a.mu.Lock()
	a.state[name] = record
	err = a.persistLocked()
	a.mu.Unlock()
	return err
}

func (a *Anchor) persistLocked() error {
	data, err := json.MarshalIndent(a.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal anchor state: %w", err)
	}
	dir := filepath.Dir(a.statePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create anchor state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".anchor-state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp anchor state: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp anchor state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp anchor state: %w", err)
	}
	return os.Rename(tmp.Name(), a.statePath)
}

func readNonBlankLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// State returns the anchor record for name, if any (used by tests/diagnostics).
func (a *Anchor) State(name string) (AnchorRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.state[name]
	return r, ok
}

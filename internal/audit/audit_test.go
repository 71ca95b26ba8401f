package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/agia-orchestrator/internal/clock"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

func TestLogRecordAppendsToFileAndMemory(t *testing.T) {
	dir := t.TempDir()
	fake := clock.NewFake(time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC))
	log, err := NewLog(dir, 0, fake)
	if err != nil {
		t.Fatalf("new log: %v", err)
	}

	if err := log.Record(Event{Type: EventJobApplied, JobID: "1", Summary: "applied"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	path := filepath.Join(dir, "2026-01-02.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty log file")
	}

	got := log.Query(Filter{Type: EventJobApplied})
	if len(got) != 1 {
		t.Fatalf("expected 1 matching event, got %d", len(got))
	}
}

type fakeSender struct {
	calls int
	sent  [][]byte
}

func (f *fakeSender) SendAnchor(ctx context.Context, addr ledger.Address, data []byte) (string, error) {
	f.calls++
	f.sent = append(f.sent, data)
	return "0xtxhash", nil
}

func TestAnchorSweepSkipsTodayAndYoungFiles(t *testing.T) {
	logDir := t.TempDir()
	fake := clock.NewFake(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))

	if err := os.WriteFile(filepath.Join(logDir, "2026-01-10.log"), []byte("today\n"), 0o640); err != nil {
		t.Fatalf("write today log: %v", err)
	}
	oldPath := filepath.Join(logDir, "2026-01-05.log")
	if err := os.WriteFile(oldPath, []byte("line one\nline two\n"), 0o640); err != nil {
		t.Fatalf("write old log: %v", err)
	}
	oldTime := fake.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldPath, oldTime, oldTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	sender := &fakeSender{}
	statePath := filepath.Join(t.TempDir(), "anchor-state.json")
	anchor, err := NewAnchor(logDir, statePath, "0xAnchor", sender, 15*time.Minute, 4, fake, zap.NewNop())
	if err != nil {
		t.Fatalf("new anchor: %v", err)
	}

	if err := anchor.Trigger(context.Background()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("expected exactly 1 anchor tx (today's + too-young files excluded), got %d", sender.calls)
	}
	if _, ok := anchor.State("2026-01-05.log"); !ok {
		t.Fatal("expected 2026-01-05.log to be anchored")
	}
	if _, ok := anchor.State("2026-01-10.log"); ok {
		t.Fatal("today's file must never be anchored")
	}
}

type flakySender struct {
	failOnCall int
	calls      int
}

func (f *flakySender) SendAnchor(ctx context.Context, addr ledger.Address, data []byte) (string, error) {
	f.calls++
	if f.calls == f.failOnCall {
		return "", fmt.Errorf("simulated send failure")
	}
	return "0xtxhash", nil
}

func TestAnchorSweepIsolatesPerFileFailure(t *testing.T) {
	logDir := t.TempDir()
	fake := clock.NewFake(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))

	oldTime := fake.Now().Add(-48 * time.Hour)
	firstPath := filepath.Join(logDir, "2026-01-04.log")
	secondPath := filepath.Join(logDir, "2026-01-05.log")
	if err := os.WriteFile(firstPath, []byte("line one\n"), 0o640); err != nil {
		t.Fatalf("write first log: %v", err)
	}
	if err := os.WriteFile(secondPath, []byte("line two\n"), 0o640); err != nil {
		t.Fatalf("write second log: %v", err)
	}
	_ = os.Chtimes(firstPath, oldTime, oldTime)
	_ = os.Chtimes(secondPath, oldTime, oldTime)

	sender := &flakySender{failOnCall: 1}
	statePath := filepath.Join(t.TempDir(), "anchor-state.json")
	anchor, err := NewAnchor(logDir, statePath, "0xAnchor", sender, 15*time.Minute, 4, fake, zap.NewNop())
	if err != nil {
		t.Fatalf("new anchor: %v", err)
	}

	if err := anchor.Trigger(context.Background()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if sender.calls != 2 {
		t.Fatalf("expected both files attempted in the same sweep, got %d calls", sender.calls)
	}
	if _, ok := anchor.State("2026-01-04.log"); ok {
		t.Fatal("expected the failing file's state to be unset, so it's retried next sweep")
	}
	if _, ok := anchor.State("2026-01-05.log"); !ok {
		t.Fatal("expected the next file to still be anchored in the same sweep")
	}
}

func TestAnchorSweepIsIdempotent(t *testing.T) {
	logDir := t.TempDir()
	fake := clock.NewFake(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	oldPath := filepath.Join(logDir, "2026-01-05.log")
	if err := os.WriteFile(oldPath, []byte("line one\n"), 0o640); err != nil {
		t.Fatalf("write log: %v", err)
	}
	oldTime := fake.Now().Add(-48 * time.Hour)
	_ = os.Chtimes(oldPath, oldTime, oldTime)

	sender := &fakeSender{}
	statePath := filepath.Join(t.TempDir(), "anchor-state.json")
	anchor, err := NewAnchor(logDir, statePath, "0xAnchor", sender, 15*time.Minute, 4, fake, zap.NewNop())
	if err != nil {
		t.Fatalf("new anchor: %v", err)
	}

	if err := anchor.Trigger(context.Background()); err != nil {
		t.Fatalf("trigger 1: %v", err)
	}
	if err := anchor.Trigger(context.Background()); err != nil {
		t.Fatalf("trigger 2: %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("expected anchoring to be idempotent, got %d sends", sender.calls)
	}
}

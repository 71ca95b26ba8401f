package energy

import (
	"testing"
	"time"
)

func TestAppendAccumulatesStagesAndSummary(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	now := time.Unix(0, 0)
	stage1 := NewStageMetric("7", "research.summarize", "0xA", now, 10, 0, 12, 5, 100, 50, true, "")
	log, err := s.Append("0xA", "7", "research", stage1)
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if log.Summary.StageCount != 1 {
		t.Fatalf("stage count = %d, want 1", log.Summary.StageCount)
	}

	stage2 := NewStageMetric("7", "report.generate", "0xA", now.Add(time.Second), 5, 0, 6, 3, 50, 20, true, "")
	log, err = s.Append("0xA", "7", "research", stage2)
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if log.Summary.StageCount != 2 {
		t.Fatalf("stage count = %d, want 2", log.Summary.StageCount)
	}
	if log.Category != "research" {
		t.Fatalf("category = %q, want research", log.Category)
	}
	if log.Summary.TotalCPUTimeMs != 15 {
		t.Fatalf("total cpu = %v, want 15", log.Summary.TotalCPUTimeMs)
	}
}

func TestAppendPersistsAcrossStoreInstances(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	stage := NewStageMetric("9", "policy.analyze", "0xB", time.Unix(0, 0), 1, 0, 1, 1, 1, 1, true, "")
	if _, err := s1.Append("0xB", "9", "policy", stage); err != nil {
		t.Fatalf("append: %v", err)
	}

	s2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store 2: %v", err)
	}
	log, ok, err := s2.Load("0xB", "9")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if len(log.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(log.Stages))
	}
}

func TestListForAgentAndListAll(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	stage := NewStageMetric("1", "s", "0xA", time.Unix(0, 0), 1, 0, 1, 1, 1, 1, true, "")
	s.Append("0xA", "1", "general", stage)
	s.Append("0xA", "2", "general", stage)
	s.Append("0xB", "3", "general", stage)

	agentLogs, err := s.ListForAgent("0xA")
	if err != nil {
		t.Fatalf("list for agent: %v", err)
	}
	if len(agentLogs) != 2 {
		t.Fatalf("agent logs = %d, want 2", len(agentLogs))
	}

	all, err := s.ListAll()
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all logs = %d, want 3", len(all))
	}
}

func TestClassifyComplexityBuckets(t *testing.T) {
	cases := []struct {
		ops       float64
		inputSize int64
		want      Complexity
	}{
		{ops: 1, inputSize: 1000, want: ComplexityConstant},
		{ops: 2000, inputSize: 1000, want: ComplexityLinear},
		{ops: 1_000_000, inputSize: 1000, want: ComplexityQuadratic},
		{ops: 1e9, inputSize: 1000, want: ComplexityExponential},
	}
	for _, c := range cases {
		got := classifyComplexity(c.ops, c.inputSize)
		if got != c.want {
			t.Fatalf("classifyComplexity(%v, %v) = %v, want %v", c.ops, c.inputSize, got, c.want)
		}
	}
}

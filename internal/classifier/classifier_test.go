package classifier

import (
	"testing"

	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

func TestClassifyPrefersSpecCategory(t *testing.T) {
	spec := &ledger.JobSpec{Category: "Research", AgentType: 7}
	c := Classify(ledger.ChainJob{}, spec)
	if c.Category != "research" {
		t.Fatalf("category = %q, want research", c.Category)
	}
	if c.Confidence != confidenceSpecCategory {
		t.Fatalf("confidence = %v, want %v", c.Confidence, confidenceSpecCategory)
	}
}

func TestClassifyFallsBackToAgentTypeMap(t *testing.T) {
	spec := &ledger.JobSpec{AgentType: 1}
	c := Classify(ledger.ChainJob{}, spec)
	if c.Category != "data-entry" {
		t.Fatalf("category = %q, want data-entry", c.Category)
	}
	spec10 := &ledger.JobSpec{AgentType: 10}
	c10 := Classify(ledger.ChainJob{}, spec10)
	if c10.Category != "analysis" {
		t.Fatalf("category = %q, want analysis", c10.Category)
	}
}

func TestClassifyKeywordMatch(t *testing.T) {
	spec := &ledger.JobSpec{Metadata: map[string]any{"description": "please review our quarterly budget and invoice backlog"}}
	c := Classify(ledger.ChainJob{}, spec)
	if c.Category != "finance" {
		t.Fatalf("category = %q, want finance", c.Category)
	}
}

func TestClassifyGeneralFallback(t *testing.T) {
	c := Classify(ledger.ChainJob{Tags: []string{"misc"}}, nil)
	if c.Category != "general" {
		t.Fatalf("category = %q, want general", c.Category)
	}
	if c.Confidence != confidenceFallback {
		t.Fatalf("confidence = %v, want %v", c.Confidence, confidenceFallback)
	}
}

func TestClassifyConfidenceWithinBounds(t *testing.T) {
	cases := []*ledger.JobSpec{
		{Category: "x"},
		{AgentType: 5},
		{Metadata: map[string]any{"description": "research project"}},
		nil,
	}
	for _, spec := range cases {
		c := Classify(ledger.ChainJob{}, spec)
		if c.Confidence < ledger.MinClassificationConfidence || c.Confidence > ledger.MaxClassificationConfidence {
			t.Fatalf("confidence %v out of bounds", c.Confidence)
		}
	}
}

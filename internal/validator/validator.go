// Package validator implements the Submission Validator: a confidence-scored
// checklist run against a job's most recent ResultSubmitted log before a
// fleet validator commits to approve or reject it (spec §4.5).
package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/marcus-qen/agia-orchestrator/internal/chainmath"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
	"github.com/marcus-qen/agia-orchestrator/internal/storage"
)

// Report is the full validator output (spec §4.5 step 7: "return the full
// note list for audit").
type Report struct {
	Approve    bool
	Confidence float64
	Notes      []string
	ErrorNotes []string
}

// Validator evaluates job submissions against the ledger and content
// storage.
type Validator struct {
	registry       ledger.JobRegistry
	storage        *storage.Client
	lookbackBlocks uint64
	minConfidence  float64
}

// New constructs a Validator. lookbackBlocks and minConfidence are the
// spec's defaults (200k blocks, 0.5) unless overridden by config.
func New(registry ledger.JobRegistry, storageClient *storage.Client, lookbackBlocks uint64, minConfidence float64) *Validator {
	return &Validator{registry: registry, storage: storageClient, lookbackBlocks: lookbackBlocks, minConfidence: minConfidence}
}

var zeroHash [32]byte

// Evaluate runs the §4.5 checklist for jobID. classification is optional
// (nil-able) context used only for the JSON field-match check.
func (v *Validator) Evaluate(ctx context.Context, jobID ledger.JobID, job ledger.JobRecord, classification *ledger.Classification) (Report, error) {
	var notes, errorNotes []string
	passed, total := 0, 0

	logs, err := v.registry.ResultSubmittedLogs(ctx, jobID, v.lookbackBlocks)
	if err != nil {
		return Report{}, fmt.Errorf("query result submitted logs: %w", err)
	}
	if len(logs) == 0 {
		return Report{
			Approve:    false,
			Confidence: 0,
			Notes:      []string{"no ResultSubmitted event found within lookback window"},
			ErrorNotes: []string{"no ResultSubmitted event found within lookback window"},
		}, nil
	}
	latest := logs[len(logs)-1]
	total++
	passed++
	notes = append(notes, fmt.Sprintf("found ResultSubmitted at block %d", latest.BlockNum))

	artifact, err := v.storage.Resolve(ctx, latest.ResultRef)
	if err != nil {
		total++
		msg := fmt.Sprintf("failed to download artifact %q: %v", latest.ResultRef, err)
		notes = append(notes, msg)
		errorNotes = append(errorNotes, msg)
		return v.finish(passed, total, notes, errorNotes), nil
	}

	total++
	if len(artifact) > 0 {
		passed++
		notes = append(notes, fmt.Sprintf("artifact size %d bytes", len(artifact)))
	} else {
		msg := "artifact is empty"
		notes = append(notes, msg)
		errorNotes = append(errorNotes, msg)
	}

	if job.ResultHash != zeroHash {
		total++
		actual := chainmath.Keccak256(artifact)
		if bytes.Equal(actual[:], job.ResultHash[:]) {
			passed++
			notes = append(notes, "result hash matches on-chain record")
		} else {
			msg := "result hash does not match on-chain record"
			notes = append(notes, msg)
			errorNotes = append(errorNotes, msg)
		}
	}

	if utf8.Valid(artifact) {
		var decoded map[string]any
		if json.Unmarshal(artifact, &decoded) == nil {
			total++
			if fieldsMatch(decoded, jobID, classification) {
				passed++
				notes = append(notes, "declared jobId/type/category fields match classification")
			} else {
				msg := "declared jobId/type/category fields do not match classification"
				notes = append(notes, msg)
				errorNotes = append(errorNotes, msg)
			}
		}
	}

	return v.finish(passed, total, notes, errorNotes), nil
}

func (v *Validator) finish(passed, total int, notes, errorNotes []string) Report {
	confidence := 0.0
	if total > 0 {
		confidence = float64(passed) / float64(total)
	}
	approve := len(errorNotes) == 0 && confidence >= v.minConfidence
	return Report{Approve: approve, Confidence: confidence, Notes: notes, ErrorNotes: errorNotes}
}

func fieldsMatch(decoded map[string]any, jobID ledger.JobID, classification *ledger.Classification) bool {
	if declaredJobID, ok := decoded["jobId"]; ok {
		if !matchesString(declaredJobID, string(jobID)) {
			return false
		}
	}
	if classification == nil {
		return true
	}
	if declaredCategory, ok := decoded["category"]; ok {
		if !matchesString(declaredCategory, classification.Category) {
			return false
		}
	}
	if declaredType, ok := decoded["type"]; ok {
		if !matchesString(declaredType, classification.Category) {
			return false
		}
	}
	return true
}

func matchesString(v any, want string) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(want))
}

package pipeline

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/marcus-qen/agia-orchestrator/internal/chainmath"
)

// researchSummarize hashes the payload and keeps a short excerpt, standing
// in for a real summarization model (spec §4.6 built-in handler table).
func researchSummarize(_ context.Context, pctx Context, payload []byte) ([]byte, error) {
	hash := chainmath.Keccak256(payload)
	excerpt := string(payload)
	const maxExcerpt = 280
	if len(excerpt) > maxExcerpt {
		excerpt = excerpt[:maxExcerpt]
	}
	return json.Marshal(map[string]any{
		"stage":   pctx.StageName,
		"hash":    hex.EncodeToString(hash[:]),
		"excerpt": excerpt,
		"length":  len(payload),
	})
}

var riskKeywords = []string{"breach", "violation", "penalty", "lawsuit", "sanction", "fraud"}

// policyAnalyze counts whitespace-delimited tokens, flags unusually long
// words, and scans for risk keywords (spec §4.6).
func policyAnalyze(_ context.Context, pctx Context, payload []byte) ([]byte, error) {
	text := string(payload)
	tokens := strings.Fields(text)

	var longWords []string
	for _, tok := range tokens {
		if len(tok) >= 12 {
			longWords = append(longWords, tok)
		}
	}

	lower := strings.ToLower(text)
	var flagged []string
	for _, kw := range riskKeywords {
		if strings.Contains(lower, kw) {
			flagged = append(flagged, kw)
		}
	}

	return json.Marshal(map[string]any{
		"stage":         pctx.StageName,
		"tokenCount":    len(tokens),
		"longWords":     longWords,
		"riskKeywords":  flagged,
		"riskDetected":  len(flagged) > 0,
	})
}

// financeEvaluate computes the reward/stake ratio from the pipeline
// context's metadata, when present (spec §4.6).
func financeEvaluate(_ context.Context, pctx Context, payload []byte) ([]byte, error) {
	reward, rewardOK := numericMetadata(pctx.Metadata, "reward")
	stake, stakeOK := numericMetadata(pctx.Metadata, "stake")

	result := map[string]any{
		"stage": pctx.StageName,
	}
	if rewardOK && stakeOK && stake != 0 {
		result["rewardStakeRatio"] = reward / stake
	} else {
		result["rewardStakeRatio"] = nil
		result["note"] = "reward and/or stake unavailable in job metadata"
	}
	result["payloadSize"] = len(payload)
	return json.Marshal(result)
}

func numericMetadata(meta map[string]any, key string) (float64, bool) {
	v, ok := meta[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// governanceReview produces a short summary plus a fixed set of canned
// recommendations (spec §4.6).
func governanceReview(_ context.Context, pctx Context, payload []byte) ([]byte, error) {
	summary := string(payload)
	const maxSummary = 200
	if len(summary) > maxSummary {
		summary = summary[:maxSummary]
	}
	return json.Marshal(map[string]any{
		"stage":   pctx.StageName,
		"summary": summary,
		"recommendations": []string{
			"circulate findings to stakeholders for comment",
			"re-run validator checklist after remediation",
			"re-assess on next audit anchor cycle",
		},
	})
}

// engineeringPlan turns the payload's first 10 non-empty lines, trimmed, into
// an unnumbered step list (spec §4.6).
func engineeringPlan(_ context.Context, pctx Context, payload []byte) ([]byte, error) {
	lines := strings.Split(string(payload), "\n")
	var steps []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		steps = append(steps, trimmed)
		if len(steps) == 10 {
			break
		}
	}
	return json.Marshal(map[string]any{
		"stage": pctx.StageName,
		"steps": steps,
	})
}

// reportGenerate wraps the payload under a category headline (spec §4.6).
func reportGenerate(_ context.Context, pctx Context, payload []byte) ([]byte, error) {
	headline := fmt.Sprintf("%s report — job %s", strings.Title(pctx.Category), pctx.JobID)
	return json.Marshal(map[string]any{
		"stage":    pctx.StageName,
		"headline": headline,
		"body":     string(payload),
	})
}

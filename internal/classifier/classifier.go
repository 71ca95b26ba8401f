// Package classifier implements the Job Classifier: mapping a ledger job
// summary plus an optional off-chain spec to a Classification (spec §3,
// component table entry "Job Classifier").
package classifier

import (
	"regexp"
	"strings"

	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// agentTypeCategory is the fixed agentType -> category map (spec §3). The
// spec names agentType 1 (data-entry), 2 (image-labeling), and 10
// (analysis); agentTypes 3-9 are this orchestrator's own assignment,
// recorded in DESIGN.md as an Open Question resolution.
var agentTypeCategory = map[int]string{
	1:  "data-entry",
	2:  "image-labeling",
	3:  "transcription",
	4:  "translation",
	5:  "content-moderation",
	6:  "research",
	7:  "finance",
	8:  "policy",
	9:  "governance",
	10: "analysis",
}

type keywordRule struct {
	category string
	pattern  *regexp.Regexp
}

// keywordRules are tested in order; the first match wins (spec §3 "first
// keyword-regex hit").
var keywordRules = []keywordRule{
	{"research", regexp.MustCompile(`(?i)\b(research|study|investigat\w*)\b`)},
	{"finance", regexp.MustCompile(`(?i)\b(financ\w*|invoice|payment|budget|accounting)\b`)},
	{"policy", regexp.MustCompile(`(?i)\b(polic\w*|regulat\w*|complian\w*)\b`)},
	{"governance", regexp.MustCompile(`(?i)\b(governance|proposal|vote|voting)\b`)},
	{"data-analysis", regexp.MustCompile(`(?i)\b(analy\w*|dataset|statistic\w*)\b`)},
	{"engineering", regexp.MustCompile(`(?i)\b(code|software|engineer\w*|build\w*)\b`)},
}

const (
	categoryGeneral = "general"

	confidenceSpecCategory = 0.99
	confidenceAgentType    = 0.9
	confidenceKeyword      = 0.6
	confidenceFallback     = 0.05
)

// Classify maps job + an optional off-chain spec to a Classification.
func Classify(job ledger.ChainJob, spec *ledger.JobSpec) ledger.Classification {
	if spec != nil && spec.Category != "" {
		return ledger.Classification{
			Category:   strings.ToLower(spec.Category),
			Confidence: confidenceSpecCategory,
			Rationale:  []string{"spec.category"},
			Tags:       mergedTags(job, spec),
			Spec:       spec,
		}
	}

	if spec != nil && spec.AgentType > 0 {
		if category, ok := agentTypeCategory[spec.AgentType]; ok {
			return ledger.Classification{
				Category:   category,
				Confidence: confidenceAgentType,
				Rationale:  []string{"agentType->category fixed map"},
				Tags:       mergedTags(job, spec),
				Spec:       spec,
			}
		}
	}

	description := describeJob(job, spec)
	for _, rule := range keywordRules {
		if rule.pattern.MatchString(description) {
			return ledger.Classification{
				Category:   rule.category,
				Confidence: confidenceKeyword,
				Rationale:  []string{"keyword match: " + rule.category},
				Tags:       mergedTags(job, spec),
				Spec:       spec,
			}
		}
	}

	return ledger.Classification{
		Category:   categoryGeneral,
		Confidence: confidenceFallback,
		Rationale:  []string{"no spec category, agentType, or keyword match"},
		Tags:       mergedTags(job, spec),
		Spec:       spec,
	}
}

// describeJob assembles the free-text the keyword rules scan: a spec's
// metadata["description"] if present, else the job's tags joined together.
func describeJob(job ledger.ChainJob, spec *ledger.JobSpec) string {
	if spec != nil {
		if d, ok := spec.Metadata["description"].(string); ok && d != "" {
			return d
		}
	}
	return strings.Join(job.Tags, " ")
}

func mergedTags(job ledger.ChainJob, spec *ledger.JobSpec) []string {
	if spec != nil && len(spec.Tags) > 0 {
		return spec.Tags
	}
	return job.Tags
}

// Package selector implements the Agent Selector: the filter/rank pipeline
// that picks which fleet agent applies for a job (spec §4.7).
package selector

import (
	"math/big"

	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// MaxSafeInteger is the predicted-energy/efficiency fallback when no source
// in the precedence chain has a value for a candidate (spec §4.7 step 3):
// large enough that a candidate with no telemetry at all is dropped by any
// finite maxEnergy filter, matching the source's own MAX_SAFE_INTEGER
// sentinel.
const MaxSafeInteger = float64(1<<53 - 1)

// Result is the selector's decision for one category+options evaluation.
type Result struct {
	Agent           *ledger.Address
	Energy          float64
	EfficiencyScore float64
	SkipReason      string
	Diagnostics     *Diagnostics
}

// Diagnostics is the optional evaluation trace (spec §4.7 step 8
// "Optionally return {evaluated, considered, pool}").
type Diagnostics struct {
	Evaluated int
	Considered int
	Pool       []Candidate
}

// Candidate is one roster entry's full evaluation, surfaced in Diagnostics
// and used internally for filtering/ranking.
type Candidate struct {
	Address             ledger.Address
	Reputation           *big.Int
	PredictedEnergy      float64
	PredictedEfficiency  float64
	EnergySource         MetricSource
	EfficiencySource     MetricSource
	AnomalyRate          float64
	TrendStatus          TrendStatus
	MomentumRatio        float64
	AdjustedProfitFloor  float64
	SkillMatches         int
	EnergyCost           float64
	Profit               float64
	Margin               float64
	Profitable           bool
	StakeSufficient      bool
	DropReason           string
}

// Options bundles every selector input beyond category/matrix/reputation
// (spec §4.7 "Inputs").
type Options struct {
	Provider MetricProvider

	JobID ledger.JobID

	MinEfficiencyScore *float64
	MaxEnergyScore     *float64
	RequiredSkills     []string

	Reward         *big.Int
	RequiredStake  *big.Int

	MinProfitMargin   *float64
	EnergyCostPerUnit float64 // default 1 when zero

	EnergyPolicy *EnergyThresholds

	EnergyTrends EnergyTrends
	TrendOptions TrendOptions

	StakeContract  ledger.StakeManager
	RewardDecimals int // default 18 when zero

	MaxAgentAnomalyRate float64 // default 0.5 when zero
	MaxJobAnomalyRate   float64 // default 0.7 when zero

	IncludeDiagnostics bool
}

// EnergyThresholds mirrors energy.Thresholds without importing the energy
// package, so selector has no dependency on how thresholds are derived —
// only on the three numbers the overlay step needs (spec §4.7 step 2).
type EnergyThresholds struct {
	MinEfficiency           float64
	MaxEnergy               float64
	RecommendedProfitMargin float64
}

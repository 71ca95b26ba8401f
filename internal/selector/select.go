package selector

import (
	"context"
	"math"
	"math/big"
	"sort"

	"github.com/marcus-qen/agia-orchestrator/internal/capability"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

var (
	posInf = math.Inf(1)
	negInf = math.Inf(-1)
)

const (
	defaultMaxAgentAnomalyRate = 0.5
	defaultMaxJobAnomalyRate   = 0.7
	defaultEnergyCostPerUnit   = 1
	defaultRewardDecimals      = 18
)

// Select runs the full filter/rank pipeline over category's candidate
// roster and returns the winning agent, or a SkipReason explaining why none
// was chosen (spec §4.7).
func Select(ctx context.Context, category string, matrix *capability.Matrix, reputation ledger.ReputationContract, opts Options) (Result, error) {
	candidates := matrix.Candidates(category)
	if len(candidates) == 0 {
		return Result{SkipReason: "no-candidates"}, nil
	}

	minEfficiency, maxEnergy, profitFloor := overlayThresholds(opts)

	evaluated := make([]Candidate, 0, len(candidates))
	for _, ci := range candidates {
		c, err := evaluateCandidate(ctx, ci, reputation, opts, minEfficiency, maxEnergy, profitFloor)
		if err != nil {
			return Result{}, err
		}
		evaluated = append(evaluated, c)
	}

	pool := filterDropped(evaluated)
	if len(pool) == 0 {
		return diagnosticResult("filtered-out", len(candidates), evaluated, opts), nil
	}

	if sufficient := filterStakeSufficient(pool); len(sufficient) > 0 {
		pool = sufficient
	}

	if opts.Reward != nil {
		if profitable := filterProfitable(pool); len(profitable) > 0 {
			pool = profitable
		} else {
			return diagnosticResult("unprofitable", len(candidates), evaluated, opts), nil
		}
	}

	sortPool(pool)

	winner := pool[0]
	result := Result{
		Agent:           &winner.Address,
		Energy:          winner.PredictedEnergy,
		EfficiencyScore: winner.PredictedEfficiency,
	}
	if opts.IncludeDiagnostics {
		result.Diagnostics = &Diagnostics{
			Evaluated:  len(candidates),
			Considered: len(pool),
			Pool:       evaluated,
		}
	}
	return result, nil
}

func diagnosticResult(reason string, evaluated int, pool []Candidate, opts Options) Result {
	r := Result{SkipReason: reason}
	if opts.IncludeDiagnostics {
		r.Diagnostics = &Diagnostics{Evaluated: evaluated, Considered: 0, Pool: pool}
	}
	return r
}

func overlayThresholds(opts Options) (minEfficiency, maxEnergy, profitFloor float64) {
	minEfficiency = derefOr(opts.MinEfficiencyScore, negInf)
	maxEnergy = derefOr(opts.MaxEnergyScore, posInf)
	profitFloor = derefOr(opts.MinProfitMargin, 0)

	if opts.EnergyPolicy != nil {
		if opts.EnergyPolicy.MinEfficiency > minEfficiency {
			minEfficiency = opts.EnergyPolicy.MinEfficiency
		}
		if opts.EnergyPolicy.MaxEnergy < maxEnergy {
			maxEnergy = opts.EnergyPolicy.MaxEnergy
		}
		if opts.EnergyPolicy.RecommendedProfitMargin > profitFloor {
			profitFloor = opts.EnergyPolicy.RecommendedProfitMargin
		}
	}
	return minEfficiency, maxEnergy, profitFloor
}

func evaluateCandidate(ctx context.Context, ci capability.AgentInfo, reputation ledger.ReputationContract, opts Options, minEfficiency, maxEnergy, profitFloor float64) (Candidate, error) {
	c := Candidate{Address: ci.Address, Reputation: big.NewInt(0)}

	if reputation != nil {
		rep, err := reputation.Reputation(ctx, ci.Address)
		if err != nil {
			return Candidate{}, err
		}
		c.Reputation = rep
	}

	c.PredictedEnergy, c.EnergySource = predictEnergy(opts.Provider, ci.Address, opts.JobID, ci.Energy)
	c.PredictedEfficiency, c.EfficiencySource = predictEfficiency(opts.Provider, ci.Address, opts.JobID, ci.EfficiencyScore)

	if c.PredictedEnergy > maxEnergy {
		c.DropReason = "energy-exceeds-ceiling"
		return c, nil
	}
	if c.PredictedEfficiency < minEfficiency {
		c.DropReason = "efficiency-below-floor"
		return c, nil
	}

	agentAnomaly, jobAnomaly := anomalyRate(opts.Provider, ci.Address, opts.JobID)
	c.AnomalyRate = agentAnomaly
	if jobAnomaly > agentAnomaly {
		c.AnomalyRate = jobAnomaly
	}
	maxAgentAnomaly := defaultMaxAgentAnomalyRate
	if opts.MaxAgentAnomalyRate > 0 {
		maxAgentAnomaly = opts.MaxAgentAnomalyRate
	}
	maxJobAnomaly := defaultMaxJobAnomalyRate
	if opts.MaxJobAnomalyRate > 0 {
		maxJobAnomaly = opts.MaxJobAnomalyRate
	}
	if agentAnomaly > maxAgentAnomaly || jobAnomaly > maxJobAnomaly {
		c.DropReason = "anomalous"
		return c, nil
	}

	trend := lookupTrend(opts.EnergyTrends, ci.Address, resolvedTrendOptions(opts.TrendOptions))
	c.TrendStatus = trend.Status
	c.MomentumRatio = trend.MomentumRatio
	if trend.Blocked {
		c.DropReason = "trend-blocked"
		return c, nil
	}
	c.AdjustedProfitFloor = profitFloor + trend.FloorDelta
	if c.AdjustedProfitFloor < 0 {
		c.AdjustedProfitFloor = 0
	}

	c.SkillMatches = countSkillMatches(opts.RequiredSkills, ci)

	costPerUnit := opts.EnergyCostPerUnit
	if costPerUnit == 0 {
		costPerUnit = defaultEnergyCostPerUnit
	}
	c.EnergyCost = c.PredictedEnergy * costPerUnit

	if opts.Reward == nil {
		c.Profit = posInf
		c.Margin = posInf
		c.Profitable = true
	} else {
		decimals := opts.RewardDecimals
		if decimals == 0 {
			decimals = defaultRewardDecimals
		}
		rewardFloat := rewardToFloat(opts.Reward, decimals)
		c.Profit = rewardFloat - c.EnergyCost
		if c.EnergyCost == 0 {
			c.Margin = posInf
		} else {
			c.Margin = c.Profit / c.EnergyCost
		}
		c.Profitable = c.Margin >= c.AdjustedProfitFloor
	}

	c.StakeSufficient = true
	if opts.StakeContract != nil && opts.RequiredStake != nil {
		stake, err := opts.StakeContract.StakeOf(ctx, ci.Address, ledger.RoleAgent)
		if err != nil {
			return Candidate{}, err
		}
		c.StakeSufficient = stake.Cmp(opts.RequiredStake) >= 0
	}

	return c, nil
}

func resolvedTrendOptions(opts TrendOptions) TrendOptions {
	if opts == (TrendOptions{}) {
		return DefaultTrendOptions()
	}
	return opts
}

func countSkillMatches(required []string, ci capability.AgentInfo) int {
	if len(required) == 0 {
		return 0
	}
	have := make(map[string]struct{}, len(ci.Skills))
	for _, s := range ci.Skills {
		have[s] = struct{}{}
	}
	if raw, ok := ci.Metadata["skills"]; ok {
		if list, ok := raw.([]string); ok {
			for _, s := range list {
				have[s] = struct{}{}
			}
		}
		if list, ok := raw.([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					have[s] = struct{}{}
				}
			}
		}
	}
	count := 0
	for _, r := range required {
		if _, ok := have[r]; ok {
			count++
		}
	}
	return count
}

func rewardToFloat(reward *big.Int, decimals int) float64 {
	f := new(big.Float).SetInt(reward)
	scale := new(big.Float).SetFloat64(1)
	ten := big.NewFloat(10)
	for i := 0; i < decimals; i++ {
		scale.Mul(scale, ten)
	}
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

func filterDropped(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.DropReason == "" {
			out = append(out, c)
		}
	}
	return out
}

func filterStakeSufficient(candidates []Candidate) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if c.StakeSufficient {
			out = append(out, c)
		}
	}
	return out
}

func filterProfitable(candidates []Candidate) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if c.Profitable {
			out = append(out, c)
		}
	}
	return out
}

func sortPool(pool []Candidate) {
	sort.Slice(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.SkillMatches != b.SkillMatches {
			return a.SkillMatches > b.SkillMatches
		}
		repCmp := a.Reputation.Cmp(b.Reputation)
		if repCmp != 0 {
			return repCmp > 0
		}
		if a.MomentumRatio != b.MomentumRatio {
			return a.MomentumRatio < b.MomentumRatio
		}
		if a.PredictedEnergy != b.PredictedEnergy {
			return a.PredictedEnergy < b.PredictedEnergy
		}
		return a.Address < b.Address
	})
}

func derefOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

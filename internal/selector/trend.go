package selector

import "github.com/marcus-qen/agia-orchestrator/internal/ledger"

// TrendStatus is the cooling/warming/stable classification of an agent's
// recent energy trajectory (spec GLOSSARY "Trend status").
type TrendStatus string

const (
	TrendCooling TrendStatus = "cooling"
	TrendWarming TrendStatus = "warming"
	TrendStable  TrendStatus = "stable"
)

// TrendSnapshot is one agent's recent-vs-prior energy window, the raw input
// the trend classification reduces to a status + momentum ratio.
type TrendSnapshot struct {
	RecentAvgEnergy float64
	PriorAvgEnergy  float64
}

// EnergyTrends is the per-agent trend-snapshot input (spec §4.7
// "energyTrends?" option). An agent absent from the map is treated as
// stable with a momentum ratio of 1.
type EnergyTrends map[ledger.Address]TrendSnapshot

// TrendOptions tunes the cooling/warming/blocked boundaries and the
// magnitude of the profit-floor adjustment those statuses carry. The spec
// names the shape (status, blocking, penalty/bonus, adjusted profit floor)
// without fixing exact ratios; these defaults are this orchestrator's own
// choice (see DESIGN.md).
type TrendOptions struct {
	CoolingRatio          float64 // momentum <= this -> cooling (default 0.9)
	WarmingRatio          float64 // momentum >= this -> warming (default 1.1)
	BlockRatio            float64 // momentum >= this -> blocked (default 2.0)
	PenaltyPerWarmingUnit float64 // profit-floor increase per unit above WarmingRatio (default 0.2)
	BonusPerCoolingUnit   float64 // profit-floor relief per unit below CoolingRatio (default 0.2)
}

// DefaultTrendOptions returns the orchestrator's default trend-boundary
// configuration.
func DefaultTrendOptions() TrendOptions {
	return TrendOptions{
		CoolingRatio:          0.9,
		WarmingRatio:          1.1,
		BlockRatio:            2.0,
		PenaltyPerWarmingUnit: 0.2,
		BonusPerCoolingUnit:   0.2,
	}
}

// trendResult is the classification outcome for one candidate.
type trendResult struct {
	Status        TrendStatus
	Blocked       bool
	FloorDelta    float64
	MomentumRatio float64
}

func classifyTrend(snapshot TrendSnapshot, opts TrendOptions) trendResult {
	if snapshot.PriorAvgEnergy <= 0 {
		return trendResult{Status: TrendStable, MomentumRatio: 1}
	}
	ratio := snapshot.RecentAvgEnergy / snapshot.PriorAvgEnergy

	switch {
	case ratio >= opts.BlockRatio:
		return trendResult{Status: TrendWarming, Blocked: true, MomentumRatio: ratio}
	case ratio >= opts.WarmingRatio:
		delta := (ratio - opts.WarmingRatio) * opts.PenaltyPerWarmingUnit
		return trendResult{Status: TrendWarming, FloorDelta: delta, MomentumRatio: ratio}
	case ratio <= opts.CoolingRatio:
		delta := -(opts.CoolingRatio - ratio) * opts.BonusPerCoolingUnit
		return trendResult{Status: TrendCooling, FloorDelta: delta, MomentumRatio: ratio}
	default:
		return trendResult{Status: TrendStable, MomentumRatio: ratio}
	}
}

func lookupTrend(trends EnergyTrends, agent ledger.Address, opts TrendOptions) trendResult {
	if trends == nil {
		return trendResult{Status: TrendStable, MomentumRatio: 1}
	}
	snapshot, ok := trends[agent.Lower()]
	if !ok {
		return trendResult{Status: TrendStable, MomentumRatio: 1}
	}
	return classifyTrend(snapshot, opts)
}

package energy

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marcus-qen/agia-orchestrator/internal/clock"
	"github.com/marcus-qen/agia-orchestrator/internal/config"
)

// Thresholds is the Energy Policy's per-category output (spec §4.8).
type Thresholds struct {
	MinEfficiency           float64
	MaxEnergy               float64
	RecommendedProfitMargin float64
	Source                  string // "category" or "global"
	Confidence              float64
}

// SnapshotProvider supplies the job-energy records the Energy Policy
// statistics are derived from. *Store satisfies this.
type SnapshotProvider interface {
	ListAll() ([]JobEnergyLog, error)
}

// Policy derives per-category thresholds from historical telemetry,
// caching the underlying snapshot for RefreshInterval (spec §4.8).
type Policy struct {
	cfg      config.EnergyPolicyConfig
	clk      clock.Clock
	provider SnapshotProvider

	mu         sync.Mutex
	snapshot   []JobEnergyLog
	snapshotAt time.Time
}

// NewPolicy constructs a Policy reading from provider.
func NewPolicy(cfg config.EnergyPolicyConfig, clk clock.Clock, provider SnapshotProvider) *Policy {
	return &Policy{cfg: cfg, clk: clk, provider: provider}
}

func (p *Policy) refreshedSnapshot() ([]JobEnergyLog, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.snapshot != nil && p.clk.Now().Sub(p.snapshotAt) < p.cfg.RefreshInterval.Std() {
		return p.snapshot, nil
	}
	records, err := p.provider.ListAll()
	if err != nil {
		return nil, err
	}
	p.snapshot = records
	p.snapshotAt = p.clk.Now()
	return records, nil
}

// GetThresholds derives thresholds for category from the cached snapshot
// (spec §4.8 steps 1-7).
func (p *Policy) GetThresholds(category string) (Thresholds, error) {
	all, err := p.refreshedSnapshot()
	if err != nil {
		return Thresholds{}, err
	}

	category = strings.ToLower(category)
	var window []JobEnergyLog
	source := "category"
	for _, r := range all {
		if strings.ToLower(r.Category) == category {
			window = append(window, r)
		}
	}
	if len(window) == 0 && p.cfg.FallbackToGlobal {
		window = all
		source = "global"
	}

	sort.Slice(window, func(i, j int) bool {
		return window[i].Summary.LastUpdated.After(window[j].Summary.LastUpdated)
	})
	if len(window) > p.cfg.LookbackJobs {
		window = window[:p.cfg.LookbackJobs]
	}

	if len(window) == 0 {
		return Thresholds{
			MinEfficiency:           p.cfg.EfficiencyFloor,
			MaxEnergy:               p.cfg.EnergyCeiling,
			RecommendedProfitMargin: p.cfg.BaseProfitMargin,
			Source:                  source,
			Confidence:              0,
		}, nil
	}

	energyMean, energyStd := meanStdev(extract(window, func(l JobEnergyLog) float64 { return l.Summary.TotalEnergyScore }))
	efficiencyMean, efficiencyStd := meanStdev(extract(window, func(l JobEnergyLog) float64 { return l.Summary.AverageEfficiency }))
	anomalyMean, _ := meanStdev(extract(window, func(l JobEnergyLog) float64 { return l.Summary.AnomalyRate }))

	minEfficiency := clamp(efficiencyMean*p.cfg.EfficiencyBias-efficiencyStd*p.cfg.EfficiencySigma, p.cfg.EfficiencyFloor, p.cfg.EfficiencyCeiling)
	maxEnergy := math.Min(energyMean*p.cfg.EnergyBias+energyStd*p.cfg.EnergySigma, p.cfg.EnergyCeiling)

	volatility := 0.0
	if energyMean != 0 {
		volatility = energyStd / energyMean
	} else if energyStd > 0 {
		volatility = 1
	}
	recommendedMargin := clamp(
		p.cfg.BaseProfitMargin+anomalyMean*p.cfg.AnomalyWeight+volatility*p.cfg.VolatilityWeight,
		p.cfg.BaseProfitMargin,
		p.cfg.MaxProfitMargin,
	)

	confidence := float64(len(window)) / float64(p.cfg.LookbackJobs)
	if confidence > 1 {
		confidence = 1
	}

	return Thresholds{
		MinEfficiency:           minEfficiency,
		MaxEnergy:               maxEnergy,
		RecommendedProfitMargin: recommendedMargin,
		Source:                  source,
		Confidence:              confidence,
	}, nil
}

func extract(logs []JobEnergyLog, f func(JobEnergyLog) float64) []float64 {
	out := make([]float64, len(logs))
	for i, l := range logs {
		out[i] = f(l)
	}
	return out
}

func meanStdev(values []float64) (mean, stdev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

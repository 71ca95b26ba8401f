package selector

import "github.com/marcus-qen/agia-orchestrator/internal/ledger"

// MetricSource names which link of the precedence chain supplied a
// candidate's predicted energy/efficiency value (spec §4.7 step 3).
type MetricSource string

const (
	SourceInsightJob   MetricSource = "insight-job"
	SourceJobLog       MetricSource = "job-log"
	SourceInsightAgent MetricSource = "insight-agent"
	SourceLegacyStats  MetricSource = "legacy-stats"
	SourceCapability   MetricSource = "capability"
	SourceFallback     MetricSource = "fallback"
)

// MetricProvider supplies the four precedence-chain sources ahead of the
// capability matrix for both energy and efficiency predictions, plus
// per-job/per-agent anomaly rates. Any method may report ok=false; the
// selector falls through to the next source. A nil Provider is legal —
// every method is then treated as "no value".
type MetricProvider interface {
	InsightJobEnergy(agent ledger.Address, jobID ledger.JobID) (float64, bool)
	JobLogEnergy(agent ledger.Address, jobID ledger.JobID) (float64, bool)
	InsightAgentEnergy(agent ledger.Address) (float64, bool)
	LegacyStatsEnergy(agent ledger.Address) (float64, bool)

	InsightJobEfficiency(agent ledger.Address, jobID ledger.JobID) (float64, bool)
	JobLogEfficiency(agent ledger.Address, jobID ledger.JobID) (float64, bool)
	InsightAgentEfficiency(agent ledger.Address) (float64, bool)
	LegacyStatsEfficiency(agent ledger.Address) (float64, bool)

	JobAnomaly(jobID ledger.JobID) (float64, bool)
	AgentAnomaly(agent ledger.Address) (float64, bool)
}

func predictEnergy(p MetricProvider, agent ledger.Address, jobID ledger.JobID, capability *float64) (float64, MetricSource) {
	if p != nil {
		if v, ok := p.InsightJobEnergy(agent, jobID); ok {
			return v, SourceInsightJob
		}
		if v, ok := p.JobLogEnergy(agent, jobID); ok {
			return v, SourceJobLog
		}
		if v, ok := p.InsightAgentEnergy(agent); ok {
			return v, SourceInsightAgent
		}
		if v, ok := p.LegacyStatsEnergy(agent); ok {
			return v, SourceLegacyStats
		}
	}
	if capability != nil {
		return *capability, SourceCapability
	}
	return MaxSafeInteger, SourceFallback
}

func predictEfficiency(p MetricProvider, agent ledger.Address, jobID ledger.JobID, capability *float64) (float64, MetricSource) {
	if p != nil {
		if v, ok := p.InsightJobEfficiency(agent, jobID); ok {
			return v, SourceInsightJob
		}
		if v, ok := p.JobLogEfficiency(agent, jobID); ok {
			return v, SourceJobLog
		}
		if v, ok := p.InsightAgentEfficiency(agent); ok {
			return v, SourceInsightAgent
		}
		if v, ok := p.LegacyStatsEfficiency(agent); ok {
			return v, SourceLegacyStats
		}
	}
	if capability != nil {
		return *capability, SourceCapability
	}
	return MaxSafeInteger, SourceFallback
}

func anomalyRate(p MetricProvider, agent ledger.Address, jobID ledger.JobID) (agentRate, jobRate float64) {
	if p == nil {
		return 0, 0
	}
	if v, ok := p.AgentAnomaly(agent); ok {
		agentRate = v
	}
	if v, ok := p.JobAnomaly(jobID); ok {
		jobRate = v
	}
	return agentRate, jobRate
}

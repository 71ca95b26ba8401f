package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the controller's Prometheus collector set, grounded on the
// teacher's internal/metrics package naming conventions but instantiated per
// Controller rather than registered against a package-level global, so tests
// can pass their own registerer.
type Metrics struct {
	JobsApplied      prometheus.Counter
	JobsSkipped      *prometheus.CounterVec
	JobsCompleted    prometheus.Counter
	JobsFailed       prometheus.Counter
	QuarantineEvents *prometheus.CounterVec
	AnchorSweeps     prometheus.Counter
	CommitsSent      prometheus.Counter
	RevealsSent      prometheus.Counter
}

// NewMetrics builds a Metrics set and registers every collector against reg.
// A nil reg is accepted for callers (New's default, unit tests) that do
// not care about exposition.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agia_jobs_applied_total",
			Help: "Total number of jobs the fleet applied for.",
		}),
		JobsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agia_jobs_skipped_total",
			Help: "Total number of jobs skipped by the selector, by reason.",
		}, []string{"reason"}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agia_jobs_completed_total",
			Help: "Total number of jobs the fleet finalized successfully.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agia_jobs_failed_total",
			Help: "Total number of jobs that failed during execution.",
		}),
		QuarantineEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agia_watchdog_events_total",
			Help: "Total watchdog quarantine/auto-release events, by kind.",
		}, []string{"kind"}),
		AnchorSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agia_anchor_sweeps_total",
			Help: "Total number of audit anchor sweeps triggered.",
		}),
		CommitsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agia_validator_commits_total",
			Help: "Total number of commitValidation transactions sent.",
		}),
		RevealsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agia_validator_reveals_total",
			Help: "Total number of revealValidation transactions sent.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.JobsApplied,
			m.JobsSkipped,
			m.JobsCompleted,
			m.JobsFailed,
			m.QuarantineEvents,
			m.AnchorSweeps,
			m.CommitsSent,
			m.RevealsSent,
		)
	}
	return m
}

package orchestrator

import (
	"go.uber.org/zap"

	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// LearningSink is the narrow callback interface the controller uses to
// report spawn requests and job outcomes to a learning coordinator, without
// holding a direct reference to one — breaking the orchestrator/learning
// cyclic dependency the same way watchdog and anchor are held back at arm's
// length.
type LearningSink interface {
	// RecordSpawnRequest is called on a selector skip whose reason is not
	// "unprofitable" (an unprofitable skip is routine and not a candidate
	// for capacity expansion).
	RecordSpawnRequest(job ledger.ChainJob, classification ledger.Classification, reason string)

	// RecordOutcome is called once per job after execution concludes,
	// success or failure.
	RecordOutcome(job ledger.ChainJob, classification ledger.Classification, success bool, errMsg string)
}

// loggingLearningSink is the default LearningSink: it has no coordinator to
// talk to, so it just logs. Bootstrap always installs this sink; the
// Controller has no option to supply another.
type loggingLearningSink struct {
	logger *zap.Logger
}

func newLoggingLearningSink(logger *zap.Logger) LearningSink {
	return &loggingLearningSink{logger: logger}
}

func (s *loggingLearningSink) RecordSpawnRequest(job ledger.ChainJob, classification ledger.Classification, reason string) {
	s.logger.Info("spawn-request recorded",
		zap.String("jobId", string(job.JobID)),
		zap.String("category", classification.Category),
		zap.String("reason", reason),
	)
}

func (s *loggingLearningSink) RecordOutcome(job ledger.ChainJob, classification ledger.Classification, success bool, errMsg string) {
	if success {
		s.logger.Info("job outcome recorded",
			zap.String("jobId", string(job.JobID)),
			zap.String("category", classification.Category),
			zap.Bool("success", true),
		)
		return
	}
	s.logger.Info("job outcome recorded",
		zap.String("jobId", string(job.JobID)),
		zap.String("category", classification.Category),
		zap.Bool("success", false),
		zap.String("error", errMsg),
	)
}

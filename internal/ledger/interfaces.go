package ledger

import (
	"context"
	"math/big"
)

// JobRequirements is the result of querying a job's registration
// requirements prior to applying (spec §4.1 step 2).
type JobRequirements struct {
	Stake      *big.Int
	Reward     *big.Int
	AgentTypes []int
}

// JobRegistry is the job-marketplace contract collaborator (spec §6).
// Implementations own their own RPC/subscription machinery; the orchestrator
// only depends on this interface, so a chain-backed implementation and a
// test fake are interchangeable.
type JobRegistry interface {
	// SubscribeEvents delivers every JobCreated/JobCompleted/JobCancelled/
	// JobDisputed event the implementation observes, until ctx is cancelled;
	// the chainrpc implementation polls from block 0, so events logged before
	// bootstrap are delivered too. The channel is closed when the
	// subscription ends.
	SubscribeEvents(ctx context.Context) (<-chan Event, error)

	Jobs(ctx context.Context, jobID JobID) (JobRecord, error)
	Requirements(ctx context.Context, jobID JobID) (JobRequirements, error)

	ApplyForJob(ctx context.Context, jobID JobID, subdomain string, proofs [][]byte) (txHash string, err error)
	FinalizeJob(ctx context.Context, jobID JobID, resultRef string) (txHash string, err error)
	CreateJob(ctx context.Context, spec CreateJobParams) (JobID, txHash string, err error)

	// ResultSubmittedLogs returns raw ResultSubmitted log entries for jobID within the last
	// lookbackBlocks, newest last (spec §4.5 step 1).
	ResultSubmittedLogs(ctx context.Context, jobID JobID, lookbackBlocks uint64) ([]ResultSubmittedEvent, error)
}

// CreateJobParams mirrors createJob/createJobWithAgentTypes (spec §6); only
// the fields the spawn-subtask flow (§4.3 step 7) needs are modeled.
type CreateJobParams struct {
	Employer   Address
	Reward     *big.Int
	URI        string
	AgentTypes []int
}

// StakeManager is the stake-holding contract collaborator (spec §6).
type StakeManager interface {
	StakeOf(ctx context.Context, user Address, role Role) (*big.Int, error)
	DepositStake(ctx context.Context, role Role, amount *big.Int) (txHash string, err error)
}

// ValidationModule runs the commit-reveal validator protocol (spec §6,
// §4.4).
type ValidationModule interface {
	SubscribeValidatorsSelected(ctx context.Context) (<-chan ValidatorsSelectedEvent, error)
	JobNonce(ctx context.Context, jobID JobID) (*big.Int, error)
	CommitValidation(ctx context.Context, jobID JobID, commitHash [32]byte, subdomain string, proofs [][]byte) (txHash string, err error)
	RevealValidation(ctx context.Context, jobID JobID, approve bool, salt [32]byte, subdomain string, proofs [][]byte) (txHash string, err error)
}

// DisputeModule surfaces dispute lifecycle events (spec §6, §4.10).
type DisputeModule interface {
	SubscribeEvents(ctx context.Context) (<-chan Event, error)
}

// ReputationContract exposes the on-chain reputation score used by the
// Agent Selector (spec §4.7).
type ReputationContract interface {
	Reputation(ctx context.Context, address Address) (*big.Int, error)
}

// AnchorSender sends the zero-value anchor transaction (spec §4.9 step 4).
type AnchorSender interface {
	SendAnchor(ctx context.Context, anchorAddr Address, data []byte) (txHash string, err error)
}

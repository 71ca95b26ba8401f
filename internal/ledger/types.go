// Package ledger models the on-chain job marketplace the orchestrator
// observes and calls into: job registry, stake manager, validation module,
// and dispute module. The concrete contracts are out of scope (spec §1); this
// package only fixes the data shapes and collaborator interfaces the rest of
// the orchestrator programs against (spec §6).
package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/marcus-qen/agia-orchestrator/internal/chainmath"
)

// JobID is the decimal-string job identifier used throughout the ledger
// event stream and on-disk records.
type JobID string

// BigInt parses the JobID as a base-10 integer.
func (j JobID) BigInt() (*big.Int, error) {
	n, ok := new(big.Int).SetString(string(j), 10)
	if !ok {
		return nil, fmt.Errorf("job id %q is not a decimal integer", j)
	}
	return n, nil
}

// Address is a ledger account address, compared case-insensitively per the
// spec's "lower(address)" keying convention.
type Address string

// Lower returns the address normalized to lowercase, the form used as map
// keys throughout the orchestrator (commit records, validator matching).
func (a Address) Lower() Address { return Address(strings.ToLower(string(a))) }

func (a Address) Equal(other Address) bool { return a.Lower() == other.Lower() }

// Role identifies a stake-holding party. Only RoleAgent is exercised by this
// orchestrator; other role IDs are reserved by the stake contract and are
// not interpreted here (spec §9 Open Questions).
type Role uint8

const RoleAgent Role = 0

// ChainJob is the ledger-observed job summary produced by the JobCreated
// event decoder (spec §3).
type ChainJob struct {
	JobID    JobID
	Employer Address
	Agent    Address
	Reward   *big.Int
	Stake    *big.Int
	Fee      *big.Int
	URI      string
	Tags     []string
}

// JobRecord is the decoded jobs(jobId) view, including the unpacked
// packedMetadata bitfield (spec §6).
type JobRecord struct {
	Employer          Address
	Agent             Address
	Reward            *big.Int
	Stake             *big.Int
	BurnReceiptAmount *big.Int
	URIHash           [32]byte
	ResultHash        [32]byte
	SpecHash          [32]byte
	Metadata          chainmath.PackedMetadata
}

// HasAgent reports whether the job already has a non-zero assigned agent.
func (r JobRecord) HasAgent() bool {
	return r.Agent != "" && r.Agent != ZeroAddress
}

// ZeroAddress is the ledger's null-address sentinel.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// Stage is one named step of a job's execution pipeline (spec §3).
type Stage struct {
	Name     string
	Handler  string
	Endpoint string
	Signer   string
	Desc     string
}

// Thermodynamics carries the job spec's optional economic/energy floors and
// ceilings (spec §3).
type Thermodynamics struct {
	MaxEnergy       *float64
	MinEfficiency   *float64
	MinProfitMargin *float64
}

// Subtask is a declared follow-on job to spawn from a completed job's spec
// (spec §4.3 step 7).
type Subtask struct {
	Description string
	Reward      *big.Int
}

// JobSpec is the optional off-chain document fetched from a job's URI (spec
// §3). Known fields are typed and Extra is an open map for anything else,
// but decoding with encoding/json does not fill it: keys without a matching
// field are dropped and Extra stays nil.
type JobSpec struct {
	Category        string
	Tags            []string
	RequiredSkills  []string
	AgentType       int
	Thermodynamics  Thermodynamics
	Pipeline        []Stage
	Subtasks        []Subtask
	Metadata        map[string]any
	Extra           map[string]any
}

// Classification is the Job Classifier's output (spec §3).
type Classification struct {
	Category   string
	Confidence float64
	Rationale  []string
	Tags       []string
	Spec       *JobSpec
}

const (
	MinClassificationConfidence = 0.05
	MaxClassificationConfidence = 0.99
)

package chainrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/marcus-qen/agia-orchestrator/internal/chainmath"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// Jobs implements ledger.JobRegistry.
func (c *Client) Jobs(ctx context.Context, jobID ledger.JobID) (ledger.JobRecord, error) {
	id, err := jobID.BigInt()
	if err != nil {
		return ledger.JobRecord{}, err
	}
	data := newCall("jobs(uint256)").staticWord(word(id)).data()
	out, err := c.ethCall(ctx, c.jobRegistry, data)
	if err != nil {
		return ledger.JobRecord{}, fmt.Errorf("jobs(%s): %w", jobID, err)
	}
	return ledger.JobRecord{
		Employer:          readAddress(out, 0),
		Agent:             readAddress(out, 1),
		Reward:            readWord(out, 2),
		Stake:             readWord(out, 3),
		BurnReceiptAmount: readWord(out, 4),
		URIHash:           readBytes32(out, 5),
		ResultHash:        readBytes32(out, 6),
		SpecHash:          readBytes32(out, 7),
		Metadata:          chainmath.DecodePackedMetadata(readWord(out, 8)),
	}, nil
}

// Requirements implements ledger.JobRegistry.
func (c *Client) Requirements(ctx context.Context, jobID ledger.JobID) (ledger.JobRequirements, error) {
	id, err := jobID.BigInt()
	if err != nil {
		return ledger.JobRequirements{}, err
	}
	data := newCall("jobRequirements(uint256)").staticWord(word(id)).data()
	out, err := c.ethCall(ctx, c.jobRegistry, data)
	if err != nil {
		return ledger.JobRequirements{}, fmt.Errorf("jobRequirements(%s): %w", jobID, err)
	}
	agentTypesWords := readUintArray(out, 2)
	agentTypes := make([]int, len(agentTypesWords))
	for i, w := range agentTypesWords {
		agentTypes[i] = int(w.Int64())
	}
	return ledger.JobRequirements{
		Stake:      readWord(out, 0),
		Reward:     readWord(out, 1),
		AgentTypes: agentTypes,
	}, nil
}

func readUintArray(data []byte, headIdx int) []*big.Int {
	offset := int(readWord(data, headIdx).Int64())
	if offset+32 > len(data) {
		return nil
	}
	length := int(new(big.Int).SetBytes(data[offset : offset+32]).Int64())
	out := make([]*big.Int, 0, length)
	base := offset + 32
	for i := 0; i < length; i++ {
		start := base + i*32
		if start+32 > len(data) {
			break
		}
		out = append(out, new(big.Int).SetBytes(data[start:start+32]))
	}
	return out
}

func encodeUintArray(ns []int) []byte {
	out := word(big.NewInt(int64(len(ns))))[:]
	for _, n := range ns {
		out = append(out, word(big.NewInt(int64(n)))[:]...)
	}
	return out
}

func encodeBytesArray(items [][]byte) []byte {
	count := len(items)
	out := make([]byte, 0, 32+32*count)
	out = append(out, word(big.NewInt(int64(count)))[:]...)
	offsets := make([][32]byte, count)
	bodies := make([][]byte, count)
	headLen := count * 32
	pos := headLen
	for i, item := range items {
		offsets[i] = word(big.NewInt(int64(pos)))
		body := encodeBytes(item)
		bodies[i] = body
		pos += len(body)
	}
	for _, o := range offsets {
		out = append(out, o[:]...)
	}
	for _, b := range bodies {
		out = append(out, b...)
	}
	return out
}

// ApplyForJob implements ledger.JobRegistry.
func (c *Client) ApplyForJob(ctx context.Context, jobID ledger.JobID, subdomain string, proofs [][]byte) (string, error) {
	id, err := jobID.BigInt()
	if err != nil {
		return "", err
	}
	data := newCall("applyForJob(uint256,string,bytes[])").
		staticWord(word(id)).
		dynamic(encodeString(subdomain)).
		dynamic(encodeBytesArray(proofs)).
		data()
	return c.sendTx(ctx, c.operator, c.jobRegistry, data)
}

// FinalizeJob implements ledger.JobRegistry.
func (c *Client) FinalizeJob(ctx context.Context, jobID ledger.JobID, resultRef string) (string, error) {
	id, err := jobID.BigInt()
	if err != nil {
		return "", err
	}
	data := newCall("finalizeJob(uint256,string)").staticWord(word(id)).dynamic(encodeString(resultRef)).data()
	return c.sendTx(ctx, c.operator, c.jobRegistry, data)
}

// CreateJob implements ledger.JobRegistry. The newly assigned JobID is read
// back from the JobCreated log in the transaction's receipt; if the receipt
// isn't available yet (a single lookup is made, right after sending) the call
// still succeeds and returns an empty JobID, since spawnSubtasks (spec §4.3
// step 7) only needs the send to succeed, not the new job's identifier.
func (c *Client) CreateJob(ctx context.Context, spec ledger.CreateJobParams) (ledger.JobID, string, error) {
	var data []byte
	if len(spec.AgentTypes) == 0 {
		data = newCall("createJob(address,uint256,string)").
			staticWord(addressWord(spec.Employer)).
			staticWord(word(spec.Reward)).
			dynamic(encodeString(spec.URI)).
			data()
	} else {
		data = newCall("createJobWithAgentTypes(address,uint256,string,uint256[])").
			staticWord(addressWord(spec.Employer)).
			staticWord(word(spec.Reward)).
			dynamic(encodeString(spec.URI)).
			dynamic(encodeUintArray(spec.AgentTypes)).
			data()
	}
	txHash, err := c.sendTx(ctx, c.operator, c.jobRegistry, data)
	if err != nil {
		return "", "", err
	}
	jobID, _ := c.jobIDFromReceipt(ctx, txHash)
	return jobID, txHash, nil
}

// jobIDFromReceipt looks up the transaction's JobCreated log and returns the
// job id it carries, best-effort: a miss just means the caller doesn't learn
// the new job's id synchronously.
func (c *Client) jobIDFromReceipt(ctx context.Context, txHash string) (ledger.JobID, error) {
	result, err := c.do(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return "", err
	}
	var receipt struct {
		Logs []rawLog `json:"logs"`
	}
	if err := json.Unmarshal(result, &receipt); err != nil {
		return "", err
	}
	want := topicHex(jobCreatedSig)
	for _, l := range receipt.Logs {
		if len(l.Topics) > 0 && l.Topics[0] == want {
			return l.jobID(), nil
		}
	}
	return "", fmt.Errorf("no JobCreated log in receipt for %s", txHash)
}

// StakeOf implements ledger.StakeManager.
func (c *Client) StakeOf(ctx context.Context, user ledger.Address, role ledger.Role) (*big.Int, error) {
	data := newCall("stakeOf(address,uint8)").staticWord(addressWord(user)).staticWord(word(big.NewInt(int64(role)))).data()
	out, err := c.ethCall(ctx, c.stake, data)
	if err != nil {
		return nil, fmt.Errorf("stakeOf(%s): %w", user, err)
	}
	return readWord(out, 0), nil
}

// DepositStake implements ledger.StakeManager.
func (c *Client) DepositStake(ctx context.Context, role ledger.Role, amount *big.Int) (string, error) {
	data := newCall("depositStake(uint8,uint256)").staticWord(word(big.NewInt(int64(role)))).staticWord(word(amount)).data()
	return c.sendTx(ctx, c.operator, c.stake, data)
}

// JobNonce implements ledger.ValidationModule.
func (c *Client) JobNonce(ctx context.Context, jobID ledger.JobID) (*big.Int, error) {
	id, err := jobID.BigInt()
	if err != nil {
		return nil, err
	}
	data := newCall("jobNonce(uint256)").staticWord(word(id)).data()
	out, err := c.ethCall(ctx, c.validation, data)
	if err != nil {
		return nil, fmt.Errorf("jobNonce(%s): %w", jobID, err)
	}
	return readWord(out, 0), nil
}

// CommitValidation implements ledger.ValidationModule.
func (c *Client) CommitValidation(ctx context.Context, jobID ledger.JobID, commitHash [32]byte, subdomain string, proofs [][]byte) (string, error) {
	id, err := jobID.BigInt()
	if err != nil {
		return "", err
	}
	data := newCall("commitValidation(uint256,bytes32,string,bytes[])").
		staticWord(word(id)).
		staticWord(commitHash).
		dynamic(encodeString(subdomain)).
		dynamic(encodeBytesArray(proofs)).
		data()
	return c.sendTx(ctx, c.operator, c.validation, data)
}

// RevealValidation implements ledger.ValidationModule.
func (c *Client) RevealValidation(ctx context.Context, jobID ledger.JobID, approve bool, salt [32]byte, subdomain string, proofs [][]byte) (string, error) {
	id, err := jobID.BigInt()
	if err != nil {
		return "", err
	}
	data := newCall("revealValidation(uint256,bool,bytes32,string,bytes[])").
		staticWord(word(id)).
		staticWord(boolWord(approve)).
		staticWord(salt).
		dynamic(encodeString(subdomain)).
		dynamic(encodeBytesArray(proofs)).
		data()
	return c.sendTx(ctx, c.operator, c.validation, data)
}

// Reputation implements ledger.ReputationContract.
func (c *Client) Reputation(ctx context.Context, address ledger.Address) (*big.Int, error) {
	data := newCall("reputation(address)").staticWord(addressWord(address)).data()
	out, err := c.ethCall(ctx, c.reputation, data)
	if err != nil {
		return nil, fmt.Errorf("reputation(%s): %w", address, err)
	}
	return readWord(out, 0), nil
}

// SendAnchor implements ledger.AnchorSender. Anchoring is a zero-value
// transaction carrying the Merkle root as raw calldata (spec §4.9 step 4),
// not a contract call, so it bypasses the ABI encoder entirely.
func (c *Client) SendAnchor(ctx context.Context, anchorAddr ledger.Address, data []byte) (string, error) {
	return c.sendTx(ctx, c.operator, anchorAddr, data)
}

// Package chainrpc is a minimal JSON-RPC transport for the ledger
// collaborators (spec §6 EXTERNAL INTERFACES), grounded on the same
// "interface the orchestrator needs, swap the transport" shape as
// internal/ledger itself. The pack carries no Ethereum client library (no
// go-ethereum), so this talks to a JSON-RPC endpoint directly over
// net/http/encoding/json and encodes calldata with the small ABI helper in
// abi.go rather than pulling in an unavailable dependency.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// Client is a JSON-RPC-backed implementation of every ledger collaborator
// interface. A single Client can be handed to orchestrator.Collaborators as
// Registry/Stake/Validation/Reputation/AnchorTx interchangeably; the Dispute
// slot takes the DisputeClient returned by AsDisputeModule.
type Client struct {
	rpcURL string
	http   *http.Client

	// operator is the address used as the "from" account on every
	// state-changing call this Client issues. Per-agent key routing (each
	// agent signing its own applyForJob/commitValidation/revealValidation)
	// is outside this minimal client's scope; production deployments would
	// front it with a key-management layer that picks the signer per call.
	operator ledger.Address

	jobRegistry ledger.Address
	stake       ledger.Address
	validation  ledger.Address
	dispute     ledger.Address
	reputation  ledger.Address
	anchor      ledger.Address
}

// Addresses bundles the contract addresses a Client talks to. The Client does
// not check for empty fields; a caller leaves the optional collaborator whose
// address is empty unwired.
type Addresses struct {
	JobRegistry ledger.Address
	Stake       ledger.Address
	Validation  ledger.Address
	Dispute     ledger.Address
	Reputation  ledger.Address
	Anchor      ledger.Address
}

// New dials rpcURL, signing state-changing calls as operator. No handshake
// is performed; RPC errors surface on first call.
func New(rpcURL string, operator ledger.Address, addrs Addresses) *Client {
	return &Client{
		rpcURL:      rpcURL,
		http:        &http.Client{Timeout: 30 * time.Second},
		operator:    operator,
		jobRegistry: addrs.JobRegistry,
		stake:       addrs.Stake,
		validation:  addrs.Validation,
		dispute:     addrs.Dispute,
		reputation:  addrs.Reputation,
		anchor:      addrs.Anchor,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) do(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc transport: %w", err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return decoded.Result, nil
}

// ethCall issues an eth_call against to with the given calldata and returns
// the raw return data.
func (c *Client) ethCall(ctx context.Context, to ledger.Address, data []byte) ([]byte, error) {
	result, err := c.do(ctx, "eth_call", map[string]string{
		"to":   string(to),
		"data": "0x" + hex.EncodeToString(data),
	}, "latest")
	if err != nil {
		return nil, err
	}
	var hexStr string
	if err := json.Unmarshal(result, &hexStr); err != nil {
		return nil, fmt.Errorf("decode eth_call result: %w", err)
	}
	return hex.DecodeString(trimHexPrefix(hexStr))
}

// sendTx issues an eth_sendTransaction against to with the given calldata
// and returns the transaction hash. Signing is delegated to the node/signer
// behind rpcURL; the Client signs nothing locally and does not use the key
// material the identity registry loads.
func (c *Client) sendTx(ctx context.Context, from, to ledger.Address, data []byte) (string, error) {
	result, err := c.do(ctx, "eth_sendTransaction", map[string]string{
		"from": string(from),
		"to":   string(to),
		"data": "0x" + hex.EncodeToString(data),
	})
	if err != nil {
		return "", err
	}
	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("decode eth_sendTransaction result: %w", err)
	}
	return txHash, nil
}

func readWord(data []byte, idx int) *big.Int {
	start := idx * 32
	if start+32 > len(data) {
		return big.NewInt(0)
	}
	return new(big.Int).SetBytes(data[start : start+32])
}

func readBytes32(data []byte, idx int) [32]byte {
	var out [32]byte
	start := idx * 32
	if start+32 <= len(data) {
		copy(out[:], data[start:start+32])
	}
	return out
}

func readAddress(data []byte, idx int) ledger.Address {
	n := readWord(data, idx)
	return ledger.Address("0x" + hex.EncodeToString(leftPad20(n.Bytes())))
}

func leftPad20(b []byte) []byte {
	out := make([]byte, 20)
	if len(b) > 20 {
		b = b[len(b)-20:]
	}
	copy(out[20-len(b):], b)
	return out
}

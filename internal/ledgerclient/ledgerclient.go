// Package ledgerclient abstracts the underlying ledger node.
//
// The engine only needs three things from the chain: the current slot
// height, raw payload submission, and signature status. The production
// implementation speaks JSON-RPC to a node via go-ethereum's rpc client;
// tests substitute fakes.
package ledgerclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Status of a submitted signature.
type Status int

const (
	StatusNotFound Status = iota
	StatusPending
	StatusConfirmed
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusNotFound:
		return "not_found"
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Client is the ledger capability consumed by the engine. Every call may
// fail with *NetworkError; the engine never assumes success.
type Client interface {
	// CurrentSlot returns the ledger's current slot height.
	CurrentSlot(ctx context.Context) (uint64, error)

	// SubmitRaw submits a pre-built payload and returns its signature.
	SubmitRaw(ctx context.Context, payload []byte) (string, error)

	// SignatureStatus reports the current status of a signature.
	SignatureStatus(ctx context.Context, sig string) (Status, error)
}

// NetworkError wraps transient node/transport failures. It is the only
// error kind retried internally (bounded, at the router boundary).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("ledger: %s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is (or wraps) a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// RPCLedger implements Client over a JSON-RPC node connection.
type RPCLedger struct {
	rpc *rpc.Client
}

// Dial connects to the node's RPC endpoint.
func Dial(ctx context.Context, url string) (*RPCLedger, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, &NetworkError{Op: "dial", Err: err}
	}
	return &RPCLedger{rpc: c}, nil
}

// NewRPCLedger wraps an existing RPC connection.
func NewRPCLedger(c *rpc.Client) *RPCLedger {
	return &RPCLedger{rpc: c}
}

// CurrentSlot queries the node's block height.
func (l *RPCLedger) CurrentSlot(ctx context.Context) (uint64, error) {
	var height hexutil.Uint64
	if err := l.rpc.CallContext(ctx, &height, "eth_blockNumber"); err != nil {
		return 0, &NetworkError{Op: "current slot", Err: err}
	}
	return uint64(height), nil
}

// SubmitRaw submits a raw payload and returns the resulting signature.
func (l *RPCLedger) SubmitRaw(ctx context.Context, payload []byte) (string, error) {
	var sig common.Hash
	if err := l.rpc.CallContext(ctx, &sig, "eth_sendRawTransaction", hexutil.Encode(payload)); err != nil {
		return "", &NetworkError{Op: "submit", Err: err}
	}
	return sig.Hex(), nil
}

// receipt is the subset of the transaction receipt we care about.
type receipt struct {
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber *hexutil.Big   `json:"blockNumber"`
}

// SignatureStatus polls the node for the signature's inclusion status.
func (l *RPCLedger) SignatureStatus(ctx context.Context, sig string) (Status, error) {
	var r *receipt
	if err := l.rpc.CallContext(ctx, &r, "eth_getTransactionReceipt", common.HexToHash(sig)); err != nil {
		return StatusNotFound, &NetworkError{Op: "signature status", Err: err}
	}
	switch {
	case r == nil:
		return StatusPending, nil
	case r.Status == 1:
		return StatusConfirmed, nil
	default:
		return StatusFailed, nil
	}
}

// Close releases the underlying connection.
func (l *RPCLedger) Close() {
	l.rpc.Close()
}

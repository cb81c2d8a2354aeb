// Package provider talks to the development node over JSON-RPC: it fetches
// receipts and struct-log traces and takes and restores snapshots.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/stable-net/evmcov/pkg/snapshot"
	"github.com/stable-net/evmcov/pkg/trace"
)

// Common errors.
var (
	ErrNoURL          = errors.New("no RPC URL configured")
	ErrNotConnected   = errors.New("not connected to node")
	ErrUnknownTx      = errors.New("unknown transaction")
	ErrPendingReceipt = errors.New("transaction not mined")
)

var (
	_ snapshot.Chain    = (*Provider)(nil)
	_ trace.TraceSource = (*Provider)(nil)
)

// RPCClient is an interface for making JSON-RPC calls.
type RPCClient interface {
	Call(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

type client struct {
	c *rpc.Client
}

func (c *client) Call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return c.c.CallContext(ctx, result, method, args...)
}

func (c *client) Close() {
	c.c.Close()
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string) (RPCClient, error) {
	if url == "" {
		return nil, ErrNoURL
	}
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &client{c: c}, nil
}

// Provider wraps an RPC client. A zero timeout leaves deadlines to the
// caller's context.
type Provider struct {
	client  RPCClient
	timeout time.Duration
	log     log.Logger
}

// NewProvider creates a provider over client.
func NewProvider(client RPCClient, timeout time.Duration) *Provider {
	return &Provider{client: client, timeout: timeout, log: log.New("pkg", "provider")}
}

// Close closes the underlying client.
func (p *Provider) Close() {
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}

func (p *Provider) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if p.client == nil {
		return ErrNotConnected
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	start := time.Now()
	err := p.client.Call(ctx, result, method, args...)
	p.log.Trace("RPC call", "method", method, "elapsed", time.Since(start), "err", err)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// BlockNumber returns the current chain height.
func (p *Provider) BlockNumber(ctx context.Context) (uint64, error) {
	var height hexutil.Uint64
	if err := p.call(ctx, &height, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(height), nil
}

// Snapshot takes a node snapshot and returns the node's id for it.
func (p *Provider) Snapshot(ctx context.Context) (string, error) {
	var id json.RawMessage
	if err := p.call(ctx, &id, "evm_snapshot"); err != nil {
		return "", err
	}
	// nodes answer with either a hex string or a number
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s, nil
	}
	var n uint64
	if err := json.Unmarshal(id, &n); err != nil {
		return "", fmt.Errorf("evm_snapshot: invalid id %s", id)
	}
	return hexutil.EncodeUint64(n), nil
}

// Revert restores the node snapshot id.
func (p *Provider) Revert(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := p.call(ctx, &ok, "evm_revert", id); err != nil {
		return false, err
	}
	return ok, nil
}

type traceConfig struct {
	EnableMemory   bool `json:"enableMemory"`
	DisableStorage bool `json:"disableStorage"`
}

type traceResult struct {
	Gas         uint64                `json:"gas"`
	Failed      bool                  `json:"failed"`
	ReturnValue string                `json:"returnValue"`
	StructLogs  []trace.ExecutionStep `json:"structLogs"`
}

// TraceTransaction fetches the struct-log trace of hash with memory enabled
// and storage disabled.
func (p *Provider) TraceTransaction(ctx context.Context, hash common.Hash) ([]trace.ExecutionStep, error) {
	var res traceResult
	cfg := traceConfig{EnableMemory: true, DisableStorage: true}
	if err := p.call(ctx, &res, "debug_traceTransaction", hash, cfg); err != nil {
		return nil, err
	}
	p.log.Debug("Fetched trace", "hash", hash, "steps", len(res.StructLogs), "failed", res.Failed)
	return res.StructLogs, nil
}

type rpcTransaction struct {
	Hash  common.Hash     `json:"hash"`
	Nonce hexutil.Uint64  `json:"nonce"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
	Input hexutil.Bytes   `json:"input"`
}

type rpcReceipt struct {
	BlockNumber     hexutil.Uint64  `json:"blockNumber"`
	Index           hexutil.Uint    `json:"transactionIndex"`
	Status          hexutil.Uint64  `json:"status"`
	GasUsed         hexutil.Uint64  `json:"gasUsed"`
	ContractAddress *common.Address `json:"contractAddress"`

	// reported by development nodes for failed transactions
	RevertReason   *hexutil.Bytes  `json:"revertReason,omitempty"`
	ProgramCounter *hexutil.Uint64 `json:"programCounter,omitempty"`
}

// TransactionReceipt fetches the transaction and its receipt.
func (p *Provider) TransactionReceipt(ctx context.Context, hash common.Hash) (*trace.Receipt, error) {
	var tx *rpcTransaction
	if err := p.call(ctx, &tx, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTx, hash.Hex())
	}
	var rcpt *rpcReceipt
	if err := p.call(ctx, &rcpt, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	if rcpt == nil {
		return nil, fmt.Errorf("%w: %s", ErrPendingReceipt, hash.Hex())
	}

	r := &trace.Receipt{
		Hash:        hash,
		BlockNumber: uint64(rcpt.BlockNumber),
		Index:       uint(rcpt.Index),
		Nonce:       uint64(tx.Nonce),
		From:        tx.From,
		To:          tx.To,
		Value:       new(big.Int),
		Input:       tx.Input,
		Status:      uint64(rcpt.Status),
		GasUsed:     uint64(rcpt.GasUsed),
		RevertPC:    -1,
	}
	if tx.Value != nil {
		r.Value = tx.Value.ToInt()
	}
	if rcpt.ContractAddress != nil {
		r.ContractAddress = *rcpt.ContractAddress
	}
	if r.Failed() {
		if rcpt.RevertReason != nil {
			if msg, err := abi.UnpackRevert(*rcpt.RevertReason); err == nil {
				r.RevertMsg = msg
			}
		}
		if rcpt.ProgramCounter != nil {
			r.RevertPC = int(*rcpt.ProgramCounter)
		}
	}
	return r, nil
}

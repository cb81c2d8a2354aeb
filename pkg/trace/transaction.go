package trace

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/stable-net/evmcov/pkg/analysis"
	"github.com/stable-net/evmcov/pkg/coverage"
)

// ErrTraceUnavailable wraps failures to retrieve a transaction trace.
var ErrTraceUnavailable = errors.New("trace unavailable")

const transferGas = 21000

// TraceSource retrieves the struct-log trace of a transaction.
type TraceSource interface {
	TraceTransaction(ctx context.Context, hash common.Hash) ([]ExecutionStep, error)
}

// Receipt holds the transaction and receipt fields the engine needs.
type Receipt struct {
	Hash            common.Hash
	BlockNumber     uint64
	Index           uint
	Nonce           uint64
	From            common.Address
	To              *common.Address
	Value           *big.Int
	Input           []byte
	Status          uint64
	GasUsed         uint64
	ContractAddress common.Address

	// RevertMsg is the revert reason decoded by the node, if any.
	RevertMsg string
	// RevertPC is the pc of the failing instruction reported by the node,
	// or -1.
	RevertPC int
}

// Failed reports whether the transaction reverted.
func (r *Receipt) Failed() bool {
	return r.Status == 0
}

// Transaction is a mined transaction whose trace is fetched on first use.
type Transaction struct {
	Receipt

	session *analysis.Session
	source  TraceSource

	mu     sync.Mutex
	raw    []ExecutionStep
	result *Result
}

// NewTransaction binds a receipt to the session and trace source.
func NewTransaction(session *analysis.Session, source TraceSource, r Receipt) *Transaction {
	return &Transaction{Receipt: r, session: session, source: source}
}

// Session returns the session the transaction is analysed in.
func (tx *Transaction) Session() *analysis.Session {
	return tx.session
}

// CoverageHash identifies executions that must evaluate the same coverage.
func (tx *Transaction) CoverageHash() common.Hash {
	var to common.Address
	if tx.To != nil {
		to = *tx.To
	}
	value := new(big.Int)
	if tx.Value != nil {
		value = tx.Value
	}
	num := func(n uint64) []byte {
		return binary.BigEndian.AppendUint64(nil, n)
	}
	return crypto.Keccak256Hash(
		num(tx.Nonce),
		tx.From.Bytes(),
		to.Bytes(),
		common.BigToHash(value).Bytes(),
		tx.Input,
		num(tx.Status),
		num(tx.GasUsed),
		num(uint64(tx.Index)),
	)
}

// Untraced reports whether the transaction has nothing to trace: a plain
// value transfer or a deployment.
func (tx *Transaction) Untraced() bool {
	if tx.To == nil {
		return true
	}
	return len(tx.Input) == 0 && tx.GasUsed == transferGas
}

// Selector returns the hex selector of the call data, or "" for call data
// shorter than 4 bytes.
func (tx *Transaction) Selector() string {
	if len(tx.Input) < 4 {
		return ""
	}
	return hex.EncodeToString(tx.Input[:4])
}

// Entry returns the name of the function the transaction called.
func (tx *Transaction) Entry() string {
	if tx.To == nil {
		return analysis.UnknownContract
	}
	c, _ := tx.session.ContractAt(*tx.To)
	selector := tx.Selector()
	if selector == "" {
		selector = "fallback"
	}
	return analysis.FunctionName(c, selector)
}

// RawSteps returns the unannotated trace, fetching it at most once.
func (tx *Transaction) RawSteps(ctx context.Context) ([]ExecutionStep, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.fetchLocked(ctx)
}

func (tx *Transaction) fetchLocked(ctx context.Context) ([]ExecutionStep, error) {
	if tx.raw != nil {
		return tx.raw, nil
	}
	if tx.Untraced() {
		tx.raw = []ExecutionStep{}
		return tx.raw, nil
	}
	if tx.source == nil {
		return nil, fmt.Errorf("%w: %x: no trace source", ErrTraceUnavailable, tx.Hash)
	}
	steps, err := tx.source.TraceTransaction(ctx, tx.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %x: %v", ErrTraceUnavailable, tx.Hash, err)
	}
	if steps == nil {
		steps = []ExecutionStep{}
	}
	tx.raw = steps
	log.Debug("Fetched transaction trace", "tx", tx.Hash, "steps", len(steps))
	return steps, nil
}

// Trace returns the consumed trace, computing it at most once.
func (tx *Transaction) Trace(ctx context.Context) (*Result, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.result != nil {
		return tx.result, nil
	}
	raw, err := tx.fetchLocked(ctx)
	if err != nil {
		return nil, err
	}
	var receiver common.Address
	if tx.To != nil {
		receiver = *tx.To
	}
	result, err := Consume(tx.session, receiver, raw, tx.Entry())
	if err != nil {
		return nil, err
	}
	tx.result = result
	return result, nil
}

// Steps returns the annotated trace.
func (tx *Transaction) Steps(ctx context.Context) ([]Step, error) {
	result, err := tx.Trace(ctx)
	if err != nil {
		return nil, err
	}
	return result.Steps, nil
}

// Evaluation returns the coverage of the transaction.
func (tx *Transaction) Evaluation(ctx context.Context) (coverage.Evaluation, error) {
	result, err := tx.Trace(ctx)
	if err != nil {
		return nil, err
	}
	return result.Evaluation, nil
}

// Package tracing records struct-log traces of in-process EVM executions in
// the shape debug_traceTransaction returns them.
package tracing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"

	"github.com/stable-net/evmcov/pkg/trace"
)

// ErrNotRecorded is returned when a trace is requested for a transaction
// other than the recorded one.
var ErrNotRecorded = errors.New("transaction not recorded")

var (
	_ vm.EVMLogger      = (*StepLogger)(nil)
	_ trace.TraceSource = (*StepLogger)(nil)
)

const wordSize = 32

// Config configures the step logger.
type Config struct {
	DisableMemory bool `json:"disableMemory"`
	DisableStack  bool `json:"disableStack"`
	// Limit caps the number of recorded steps. Zero means no limit.
	Limit int `json:"limit"`
}

// StepLogger records one trace.ExecutionStep per executed opcode.
type StepLogger struct {
	config Config
	hash   common.Hash

	mu      sync.Mutex
	steps   []trace.ExecutionStep
	output  []byte
	gasUsed uint64
	err     error

	gasLimit  uint64
	interrupt atomic.Bool
	reason    error
}

// NewStepLogger creates a logger for the transaction hash.
func NewStepLogger(hash common.Hash, cfg *Config) *StepLogger {
	config := Config{}
	if cfg != nil {
		config = *cfg
	}
	return &StepLogger{config: config, hash: hash}
}

// CaptureTxStart implements vm.EVMLogger.
func (l *StepLogger) CaptureTxStart(gasLimit uint64) {
	l.gasLimit = gasLimit
}

// CaptureTxEnd implements vm.EVMLogger.
func (l *StepLogger) CaptureTxEnd(restGas uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gasLimit > 0 {
		l.gasUsed = l.gasLimit - restGas
	}
}

// CaptureStart implements vm.EVMLogger.
func (l *StepLogger) CaptureStart(env *vm.EVM, from common.Address, to common.Address, create bool, input []byte, gas uint64, value *big.Int) {
}

// CaptureEnd implements vm.EVMLogger.
func (l *StepLogger) CaptureEnd(output []byte, gasUsed uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = common.CopyBytes(output)
	l.gasUsed = gasUsed
	l.err = err
}

// CaptureState implements vm.EVMLogger.
func (l *StepLogger) CaptureState(pc uint64, op vm.OpCode, gas, cost uint64, scope *vm.ScopeContext, rData []byte, depth int, err error) {
	if l.interrupt.Load() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.config.Limit != 0 && len(l.steps) >= l.config.Limit {
		return
	}

	step := trace.ExecutionStep{
		PC:      pc,
		Op:      op.String(),
		Gas:     gas,
		GasCost: cost,
		Depth:   depth,
		Stack:   []string{},
	}
	if scope != nil {
		if !l.config.DisableStack && scope.Stack != nil {
			data := scope.Stack.Data()
			step.Stack = make([]string, len(data))
			for i := range data {
				step.Stack[i] = data[i].Hex()
			}
		}
		if !l.config.DisableMemory && scope.Memory != nil {
			step.Memory = memoryWords(scope.Memory.Data())
		}
	}
	if err != nil {
		step.Error = err.Error()
	}
	l.steps = append(l.steps, step)
}

// CaptureFault implements vm.EVMLogger. The error is attached to the step
// that was already recorded for pc.
func (l *StepLogger) CaptureFault(pc uint64, op vm.OpCode, gas, cost uint64, scope *vm.ScopeContext, depth int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.steps); n > 0 && err != nil {
		last := &l.steps[n-1]
		if last.PC == pc && last.Depth == depth && last.Error == "" {
			last.Error = err.Error()
		}
	}
}

// CaptureEnter implements vm.EVMLogger.
func (l *StepLogger) CaptureEnter(typ vm.OpCode, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
}

// CaptureExit implements vm.EVMLogger.
func (l *StepLogger) CaptureExit(output []byte, gasUsed uint64, err error) {
}

func memoryWords(mem []byte) []string {
	words := make([]string, 0, (len(mem)+wordSize-1)/wordSize)
	for i := 0; i < len(mem); i += wordSize {
		end := i + wordSize
		if end > len(mem) {
			word := make([]byte, wordSize)
			copy(word, mem[i:])
			words = append(words, hex.EncodeToString(word))
			break
		}
		words = append(words, hex.EncodeToString(mem[i:end]))
	}
	return words
}

// Steps returns a copy of the recorded steps.
func (l *StepLogger) Steps() []trace.ExecutionStep {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]trace.ExecutionStep(nil), l.steps...)
}

// Output returns the return data, gas used and error of the execution.
func (l *StepLogger) Output() ([]byte, uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.output, l.gasUsed, l.err
}

// TraceTransaction implements trace.TraceSource for the recorded
// transaction.
func (l *StepLogger) TraceTransaction(ctx context.Context, hash common.Hash) ([]trace.ExecutionStep, error) {
	if hash != l.hash {
		return nil, fmt.Errorf("%w: %s", ErrNotRecorded, hash.Hex())
	}
	if l.reason != nil {
		return nil, l.reason
	}
	steps := l.Steps()
	log.Debug("Serving recorded trace", "hash", hash, "steps", len(steps))
	return steps, nil
}

// Stop stops recording. Later trace requests fail with err.
func (l *StepLogger) Stop(err error) {
	l.reason = err
	l.interrupt.Store(true)
}

// Reset clears the logger for recording hash.
func (l *StepLogger) Reset(hash common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hash = hash
	l.steps = nil
	l.output = nil
	l.gasUsed = 0
	l.err = nil
	l.gasLimit = 0
	l.interrupt.Store(false)
	l.reason = nil
}

package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var txHash = common.HexToHash("0x7e57")

// PUSH1 0x2a PUSH1 0x00 MSTORE PUSH1 0x20 PUSH1 0x00 REVERT
var revertCode = common.FromHex("0x602a60005260206000fd")

// PUSH1 0x01 PUSH1 0x02 ADD STOP
var addCode = common.FromHex("0x6001600201" + "00")

func execute(t *testing.T, code []byte, cfg *Config) (*StepLogger, error) {
	t.Helper()
	logger := NewStepLogger(txHash, cfg)
	_, _, err := runtime.Execute(code, nil, &runtime.Config{
		GasLimit:  100000,
		EVMConfig: vm.Config{Tracer: logger},
	})
	return logger, err
}

func TestStepLogger_Revert(t *testing.T) {
	logger, err := execute(t, revertCode, nil)
	require.ErrorIs(t, err, vm.ErrExecutionReverted)

	steps := logger.Steps()
	require.Len(t, steps, 6)

	pcs := make([]uint64, len(steps))
	for i, st := range steps {
		pcs[i] = st.PC
		assert.Equal(t, 1, st.Depth)
	}
	assert.Equal(t, []uint64{0, 2, 4, 5, 7, 9}, pcs)

	last := steps[5]
	assert.Equal(t, "REVERT", last.Op)
	assert.Equal(t, []string{"0x20", "0x0"}, last.Stack)
	require.Len(t, last.Memory, 1)
	assert.Equal(t, "000000000000000000000000000000000000000000000000000000000000002a", last.Memory[0])
	assert.Equal(t, "execution reverted", last.Error)
	assert.True(t, last.IsFailure())

	offset, ok := last.StackBack(1)
	require.True(t, ok)
	assert.True(t, offset.IsZero())
	assert.Empty(t, steps[2].Memory)

	_, _, outErr := logger.Output()
	assert.ErrorIs(t, outErr, vm.ErrExecutionReverted)
}

func TestStepLogger_Success(t *testing.T) {
	logger, err := execute(t, addCode, nil)
	require.NoError(t, err)

	steps := logger.Steps()
	require.Len(t, steps, 4)
	assert.Equal(t, "ADD", steps[2].Op)
	assert.Equal(t, []string{"0x1", "0x2"}, steps[2].Stack)
	assert.Equal(t, []string{"0x3"}, steps[3].Stack)
	assert.Equal(t, uint64(3), steps[2].GasCost)
	assert.Empty(t, steps[3].Error)
}

func TestStepLogger_Config(t *testing.T) {
	logger, err := execute(t, revertCode, &Config{DisableMemory: true, DisableStack: true})
	require.ErrorIs(t, err, vm.ErrExecutionReverted)
	for _, st := range logger.Steps() {
		assert.Empty(t, st.Stack)
		assert.Empty(t, st.Memory)
	}

	logger, _ = execute(t, revertCode, &Config{Limit: 2})
	assert.Len(t, logger.Steps(), 2)
}

func TestStepLogger_TraceTransaction(t *testing.T) {
	logger, _ := execute(t, addCode, nil)

	steps, err := logger.TraceTransaction(context.Background(), txHash)
	require.NoError(t, err)
	assert.Len(t, steps, 4)

	_, err = logger.TraceTransaction(context.Background(), common.HexToHash("0x01"))
	assert.ErrorIs(t, err, ErrNotRecorded)
}

func TestStepLogger_Stop(t *testing.T) {
	logger := NewStepLogger(txHash, nil)
	boom := errors.New("interrupted")
	logger.Stop(boom)

	_, _, err := runtime.Execute(addCode, nil, &runtime.Config{EVMConfig: vm.Config{Tracer: logger}})
	require.NoError(t, err)
	assert.Empty(t, logger.Steps())

	_, err = logger.TraceTransaction(context.Background(), txHash)
	assert.ErrorIs(t, err, boom)
}

func TestStepLogger_Reset(t *testing.T) {
	logger, _ := execute(t, addCode, nil)
	other := common.HexToHash("0x02")
	logger.Reset(other)

	assert.Empty(t, logger.Steps())
	steps, err := logger.TraceTransaction(context.Background(), other)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestMemoryWords(t *testing.T) {
	assert.Empty(t, memoryWords(nil))

	mem := make([]byte, 40)
	mem[0], mem[39] = 0xff, 0x01
	words := memoryWords(mem)
	require.Len(t, words, 2)
	assert.Equal(t, "ff"+strings.Repeat("00", 31), words[0])
	assert.Equal(t, strings.Repeat("00", 7)+"01"+strings.Repeat("00", 24), words[1])
}

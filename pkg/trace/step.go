// Package trace annotates raw EVM execution traces with contract, function
// and source information and evaluates their coverage.
package trace

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ExecutionStep is one struct-log entry of debug_traceTransaction.
type ExecutionStep struct {
	PC      uint64   `json:"pc"`
	Op      string   `json:"op"`
	Gas     uint64   `json:"gas"`
	GasCost uint64   `json:"gasCost"`
	Depth   int      `json:"depth"`
	Stack   []string `json:"stack"`
	Memory  []string `json:"memory,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// StackBack returns the n-th stack word from the top, counting from 1.
func (s *ExecutionStep) StackBack(n int) (*uint256.Int, bool) {
	if n < 1 || n > len(s.Stack) {
		return nil, false
	}
	return new(uint256.Int).SetBytes(common.FromHex(s.Stack[len(s.Stack)-n])), true
}

// AddressBack returns the n-th stack word from the top as an address.
func (s *ExecutionStep) AddressBack(n int) (common.Address, bool) {
	v, ok := s.StackBack(n)
	if !ok {
		return common.Address{}, false
	}
	return common.Address(v.Bytes20()), true
}

const maxMemorySlice = 1 << 20

// MemorySlice returns size bytes of memory from offset. Bytes past the end
// of recorded memory read as zero.
func (s *ExecutionStep) MemorySlice(offset, size uint64) []byte {
	if size > maxMemorySlice {
		size = maxMemorySlice
	}
	mem := common.FromHex(strings.Join(s.Memory, ""))
	out := make([]byte, size)
	if offset < uint64(len(mem)) {
		copy(out, mem[offset:])
	}
	return out
}

// IsFailure reports whether the step ends its frame abnormally.
func (s *ExecutionStep) IsFailure() bool {
	return s.Op == "REVERT" || s.Op == "INVALID"
}

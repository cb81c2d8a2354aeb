// Package pcmap builds per-instruction coverage maps from compiler output.
package pcmap

import (
	"errors"

	"github.com/stable-net/evmcov/pkg/solast"
	"github.com/stable-net/evmcov/pkg/sourcemap"
)

// NoID marks an instruction without a statement or branch.
const NoID = -1

// Common errors.
var (
	ErrEmptyOpcodes = errors.New("source map given for empty opcode stream")
	ErrNoSource     = errors.New("unit source not found")
)

// Unit is one compiled contract, library or interface.
type Unit struct {
	Name            string
	SourceID        int
	Path            string
	CompilerVersion string
	RuntimeBytecode []byte
	DeployBytecode  []byte
	Opcodes         string
	SourceMap       string
	Dependencies    []int
	// Selectors maps 4 byte selectors, as 8 lowercase hex characters, to
	// function names.
	Selectors   map[string]string
	HasFallback bool
}

// SourceIDs returns the ids of every source the unit's bytecode may map to.
func (u *Unit) SourceIDs() []int {
	ids := []int{u.SourceID}
	for _, id := range u.Dependencies {
		if id != u.SourceID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Source is one source file with its parsed AST.
type Source struct {
	ID   int
	Path string
	AST  *solast.Node
	Text string
}

// Sources indexes source files by the id used in source maps.
type Sources map[int]*Source

// Instruction describes one bytecode position.
type Instruction struct {
	PC       int
	Op       string
	Push     string
	SourceID int
	Span     sourcemap.Span
	HasSpan  bool
	Jump     sourcemap.JumpKind
	Function string

	Statement int
	Branch    int
	Dev       string

	// FirstRevert marks the dispatcher fallback REVERT.
	FirstRevert bool
	// OptimizerRevert marks the REVERT shared by reverts with a message.
	OptimizerRevert bool
	// JumpRevert marks a jump to the fallback REVERT that stands in for a
	// revert or require call without bytecode of its own.
	JumpRevert bool
}

// HasStatement reports whether the instruction starts a statement.
func (i *Instruction) HasStatement() bool {
	return i.Statement != NoID
}

// HasBranch reports whether the instruction bounds a branch.
func (i *Instruction) HasBranch() bool {
	return i.Branch != NoID
}

// InstructionMap is the ordered pc to instruction mapping of one unit.
type InstructionMap struct {
	list  []*Instruction
	index map[int]int
}

func newInstructionMap(list []*Instruction) *InstructionMap {
	m := &InstructionMap{list: list, index: make(map[int]int, len(list))}
	for i, ins := range list {
		m.index[ins.PC] = i
	}
	return m
}

// Get returns the instruction at pc.
func (m *InstructionMap) Get(pc int) (*Instruction, bool) {
	i, ok := m.index[pc]
	if !ok {
		return nil, false
	}
	return m.list[i], true
}

// Index returns the position of pc in the instruction stream.
func (m *InstructionMap) Index(pc int) (int, bool) {
	i, ok := m.index[pc]
	return i, ok
}

// At returns the i-th instruction.
func (m *InstructionMap) At(i int) *Instruction {
	return m.list[i]
}

// Len returns the number of instructions.
func (m *InstructionMap) Len() int {
	return len(m.list)
}

// All returns the instructions in pc order.
func (m *InstructionMap) All() []*Instruction {
	return m.list
}

// Branch is a finalized branch of the branch map.
type Branch struct {
	Span sourcemap.Span `json:"span"`
	Jump bool           `json:"jump"`
	// Condition and JumpI are the instruction indexes bounding the branch.
	Condition int `json:"-"`
	JumpI     int `json:"-"`
}

// StatementMap is path -> function -> statement id -> span.
type StatementMap map[string]map[string]map[int]sourcemap.Span

// BranchMap is path -> function -> branch id -> branch.
type BranchMap map[string]map[string]map[int]Branch

// Result is the output of Build.
type Result struct {
	Instructions *InstructionMap
	Statements   StatementMap
	Branches     BranchMap
	// Paths maps source ids to source paths.
	Paths map[int]string
	// FallbackPC is the pc of the dispatcher fallback JUMPDEST, or -1.
	FallbackPC int
}

// StatementCount returns the number of mapped statements.
func (r *Result) StatementCount() int {
	total := 0
	for _, fns := range r.Statements {
		for _, stmts := range fns {
			total += len(stmts)
		}
	}
	return total
}

// BranchCount returns the number of mapped branches.
func (r *Result) BranchCount() int {
	total := 0
	for _, fns := range r.Branches {
		for _, branches := range fns {
			total += len(branches)
		}
	}
	return total
}

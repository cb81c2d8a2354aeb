package trace

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stable-net/evmcov/pkg/analysis"
	"github.com/stable-net/evmcov/pkg/coverage"
	"github.com/stable-net/evmcov/pkg/pcmap"
	"github.com/stable-net/evmcov/pkg/sourcemap"
)

// Location is the source span of a step.
type Location struct {
	Path string         `json:"path"`
	Span sourcemap.Span `json:"span"`
}

// Step is an execution step annotated with what was executing.
type Step struct {
	ExecutionStep
	Address   common.Address `json:"address"`
	Contract  string         `json:"contractName,omitempty"`
	Function  string         `json:"fn"`
	JumpDepth int            `json:"jumpDepth"`
	Source    *Location      `json:"source,omitempty"`
}

// Result is a consumed trace.
type Result struct {
	Steps      []Step
	Evaluation coverage.Evaluation
}

type frame struct {
	address  common.Address
	contract *analysis.Contract
	result   *pcmap.Result
	fns      []string
	armed    map[int]struct{}
}

func newFrame(addr common.Address, c *analysis.Contract, fn string) (*frame, error) {
	f := &frame{address: addr, contract: c, fns: []string{fn}, armed: make(map[int]struct{})}
	if c == nil {
		return f, nil
	}
	result, err := c.Map()
	if err != nil {
		return nil, fmt.Errorf("instruction map of %s: %w", c.Name(), err)
	}
	f.result = result
	return f, nil
}

func (f *frame) fn() string {
	return f.fns[len(f.fns)-1]
}

func (f *frame) jumpDepth() int {
	return len(f.fns) - 1
}

// enterFrame opens the frame called by the step before a depth increase.
func enterFrame(session *analysis.Session, call *ExecutionStep) (*frame, error) {
	switch call.Op {
	case "CREATE", "CREATE2":
		return newFrame(common.Address{}, nil, analysis.UnknownContract)
	}
	addr, _ := call.AddressBack(2)
	argsBack := 3
	if call.Op == "CALL" || call.Op == "CALLCODE" {
		argsBack = 4
	}
	selector := ""
	if offset, ok := call.StackBack(argsBack); ok && offset.IsUint64() {
		selector = hex.EncodeToString(call.MemorySlice(offset.Uint64(), 4))
	}
	c, _ := session.ContractAt(addr)
	return newFrame(addr, c, analysis.FunctionName(c, selector))
}

// Consume annotates the steps of a transaction sent to receiver and collects
// the statements and branches it hit. entry names the function called on
// receiver.
func Consume(session *analysis.Session, receiver common.Address, steps []ExecutionStep, entry string) (*Result, error) {
	out := &Result{Steps: make([]Step, len(steps)), Evaluation: make(coverage.Evaluation)}
	if len(steps) == 0 {
		return out, nil
	}

	c, _ := session.ContractAt(receiver)
	top, err := newFrame(receiver, c, entry)
	if err != nil {
		return nil, err
	}
	frames := []*frame{top}
	base := steps[0].Depth

	for i := range steps {
		st := &steps[i]
		if i > 0 {
			prev := &steps[i-1]
			switch {
			case st.Depth > prev.Depth:
				f, err := enterFrame(session, prev)
				if err != nil {
					return nil, err
				}
				frames = append(frames, f)
			case st.Depth < prev.Depth:
				n := st.Depth - base + 1
				if n < 1 {
					n = 1
				}
				if n < len(frames) {
					frames = frames[:n]
				}
			}
		}

		cur := frames[len(frames)-1]
		step := &out.Steps[i]
		*step = Step{
			ExecutionStep: *st,
			Address:       cur.address,
			Function:      cur.fn(),
			JumpDepth:     cur.jumpDepth(),
		}
		if cur.result == nil {
			continue
		}
		step.Contract = cur.contract.Name()

		ins, ok := cur.result.Instructions.Get(int(st.PC))
		if !ok {
			continue
		}
		path := cur.result.Paths[ins.SourceID]
		if ins.HasSpan {
			step.Source = &Location{Path: path, Span: ins.Span}
		}
		if ins.HasStatement() {
			out.Evaluation.Hits(step.Contract, path).Statements.Add(ins.Statement)
		}
		if ins.HasBranch() {
			if ins.Op != "JUMPI" {
				cur.armed[ins.Branch] = struct{}{}
			} else if _, armed := cur.armed[ins.Branch]; armed && i+1 < len(steps) {
				hits := out.Evaluation.Hits(step.Contract, path)
				if steps[i+1].PC == st.PC+1 {
					hits.False.Add(ins.Branch)
				} else {
					hits.True.Add(ins.Branch)
				}
				delete(cur.armed, ins.Branch)
			}
		}

		switch ins.Jump {
		case sourcemap.JumpInto:
			fn := cur.fn()
			if i+1 < len(steps) {
				if next, ok := cur.result.Instructions.Get(int(steps[i+1].PC)); ok && next.Function != "" {
					fn = next.Function
				}
			}
			cur.fns = append(cur.fns, fn)
		case sourcemap.JumpOutOf:
			if len(cur.fns) > 1 {
				cur.fns = cur.fns[:len(cur.fns)-1]
			}
		}
	}
	return out, nil
}

// Package revert explains why a transaction reverted, preferring the
// cheapest source of truth.
package revert

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/stable-net/evmcov/pkg/analysis"
	"github.com/stable-net/evmcov/pkg/source"
	"github.com/stable-net/evmcov/pkg/trace"
)

// ErrNotReverted is returned for transactions that succeeded.
var ErrNotReverted = errors.New("transaction did not revert")

const devMarker = "dev: "

// Method tells where a revert reason came from.
type Method int

const (
	FromRPC Method = iota
	FromDevComment
	FromTrace
	FromOpcode
)

func (m Method) String() string {
	switch m {
	case FromRPC:
		return "rpc"
	case FromDevComment:
		return "dev comment"
	case FromTrace:
		return "trace"
	default:
		return "opcode"
	}
}

// Reason is a resolved revert reason.
type Reason struct {
	Message string
	// Dev is the dev comment at the revert site, without the "dev: " marker.
	Dev    string
	Method Method
	// PC is the program counter of the located revert site, or -1.
	PC int
	// StepIndex is the trace step of the revert site, or -1 when the trace
	// was not consulted.
	StepIndex int
	// Source is the rendered source of the revert site.
	Source string
}

// Resolver resolves revert reasons of transactions in one session.
type Resolver struct {
	session *analysis.Session
	pad     int
	log     log.Logger
}

// NewResolver creates a resolver rendering pad lines of source context.
func NewResolver(session *analysis.Session, pad int) *Resolver {
	return &Resolver{session: session, pad: pad, log: log.New("pkg", "revert")}
}

// Resolve returns the revert reason of tx. The trace is only fetched when
// neither the node nor the dev comment table can answer.
func (r *Resolver) Resolve(ctx context.Context, tx *trace.Transaction) (*Reason, error) {
	if !tx.Failed() {
		return nil, ErrNotReverted
	}
	if tx.RevertMsg != "" {
		return &Reason{Message: tx.RevertMsg, Method: FromRPC, PC: tx.RevertPC, StepIndex: -1}, nil
	}
	if tx.RevertPC >= 0 {
		if dev, ok := r.session.DevComment(tx.RevertPC); ok {
			return &Reason{Message: devMarker + dev, Dev: dev, Method: FromDevComment, PC: tx.RevertPC, StepIndex: -1}, nil
		}
	}

	steps, err := tx.Steps(ctx)
	if err != nil {
		return nil, err
	}
	return r.fromTrace(steps)
}

func (r *Resolver) fromTrace(steps []trace.Step) (*Reason, error) {
	idx := -1
	for i := range steps {
		if steps[i].IsFailure() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &Reason{Method: FromOpcode, PC: -1, StepIndex: -1}, nil
	}

	failing := steps[idx]
	var message string
	if failing.Op == "REVERT" {
		message = revertString(&failing.ExecutionStep)
	}

	loc := idx
	dev, err := r.devComment(steps, idx, &loc)
	if err != nil {
		return nil, err
	}

	reason := &Reason{
		Message:   message,
		Dev:       dev,
		Method:    FromTrace,
		PC:        int(steps[loc].PC),
		StepIndex: loc,
		Source:    trace.SourceString(r.session, steps, loc, r.pad),
	}
	switch {
	case message != "":
	case dev != "":
		reason.Message = devMarker + dev
	default:
		reason.Method = FromOpcode
		if failing.Op == "INVALID" {
			reason.Message = "invalid opcode"
		}
	}
	r.log.Debug("Resolved revert from trace", "step", loc, "pc", reason.PC, "method", reason.Method)
	return reason, nil
}

// revertString decodes an Error(string) or Panic(uint256) payload returned
// by a REVERT step.
func revertString(step *trace.ExecutionStep) string {
	offset, ok := step.StackBack(1)
	if !ok || !offset.IsUint64() {
		return ""
	}
	size, ok := step.StackBack(2)
	if !ok || !size.IsUint64() || size.IsZero() {
		return ""
	}
	msg, err := abi.UnpackRevert(step.MemorySlice(offset.Uint64(), size.Uint64()))
	if err != nil {
		return ""
	}
	return msg
}

// devComment moves *loc from the failing step to the real revert site and
// returns its dev comment.
func (r *Resolver) devComment(steps []trace.Step, idx int, loc *int) (string, error) {
	st := steps[idx]
	c, ok := r.session.ContractAt(st.Address)
	if !ok {
		return "", nil
	}
	result, err := c.Map()
	if err != nil {
		return "", err
	}

	ins, ok := result.Instructions.Get(int(st.PC))
	if ok && ins.FirstRevert {
		// the dispatcher fallback is reached by a jump from the real site
		if j := idx - 4; j >= 0 && steps[j].PC != st.PC-4 {
			*loc = j
		}
	}
	if site, ok := result.Instructions.Get(int(steps[*loc].PC)); ok && site.OptimizerRevert {
		*loc = optimizerSite(steps, *loc)
	}
	site := steps[*loc]

	if dev, ok := r.session.DevCommentFor(c.Name(), int(site.PC)); ok {
		return dev, nil
	}
	if site.Source == nil {
		return "", nil
	}
	text, ok := c.Text(site.Source.Path)
	if !ok {
		return "", nil
	}
	dev, _ := source.DevComment(text, site.Source.Span)
	return dev, nil
}

// optimizerSite walks back from a shared optimizer revert to the jump that
// reached it. A differing source before any JUMPDEST means the shared site
// is the real one.
func optimizerSite(steps []trace.Step, idx int) int {
	j := idx - 1
	for j >= 0 && steps[j+1].Op != "JUMPDEST" {
		if !sameSource(steps[j].Source, steps[idx].Source) {
			return idx
		}
		j--
	}
	for j >= 0 && steps[j].Source == nil {
		j--
	}
	if j < 0 {
		return idx
	}
	return j
}

func sameSource(a, b *trace.Location) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

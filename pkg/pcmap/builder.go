package pcmap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-version"

	"github.com/stable-net/evmcov/pkg/disasm"
	"github.com/stable-net/evmcov/pkg/solast"
	"github.com/stable-net/evmcov/pkg/sourcemap"
)

const nonPayableDev = "Cannot send ether to nonpayable function"

var checkedArithmetic = version.Must(version.NewVersion("0.8.0"))

// spanKey identifies a span within one source.
type spanKey struct {
	source int
	span   sourcemap.Span
}

type closedBranch struct {
	key       spanKey
	condition int
	jumpi     int
}

type builder struct {
	unit    *Unit
	sources Sources
	checked bool
	log     log.Logger

	list  []*Instruction
	count int

	candidates map[int]map[sourcemap.Span]struct{}
	polarity   map[spanKey]bool
	active     map[int]map[sourcemap.Span]int
	closed     map[spanKey]closedBranch
	spans      map[spanKey]struct{}

	statements StatementMap
	branches   BranchMap

	fallbackPC   int
	revertJumps  map[spanKey][]int
	revertOrder  []spanKey
	sharedRevert bool

	activeFn     *solast.Node
	activeFnName string
	activeSource *Source
}

// Build maps every instruction of the unit's runtime bytecode to its source
// position, function, statement and branch.
func Build(unit *Unit, sources Sources) (*Result, error) {
	if _, ok := sources[unit.SourceID]; !ok {
		return nil, fmt.Errorf("%w: %s (id %d)", ErrNoSource, unit.Name, unit.SourceID)
	}
	records, err := sourcemap.Decode(unit.SourceMap)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", unit.Name, err)
	}
	records = sourcemap.TrimUnmapped(records)
	instructions := disasm.Parse(unit.Opcodes)
	if len(instructions) == 0 && len(records) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyOpcodes, unit.Name)
	}

	b := newBuilder(unit, sources)
	b.run(records, instructions)
	result := b.finish()
	b.log.Debug("Built coverage map", "instructions", result.Instructions.Len(),
		"statements", result.StatementCount(), "branches", result.BranchCount())
	return result, nil
}

func newBuilder(unit *Unit, sources Sources) *builder {
	b := &builder{
		unit:        unit,
		sources:     make(Sources),
		checked:     isChecked(unit.CompilerVersion),
		log:         log.New("pkg", "pcmap", "unit", unit.Name),
		candidates:  make(map[int]map[sourcemap.Span]struct{}),
		polarity:    make(map[spanKey]bool),
		active:      make(map[int]map[sourcemap.Span]int),
		closed:      make(map[spanKey]closedBranch),
		spans:       make(map[spanKey]struct{}),
		statements:  make(StatementMap),
		branches:    make(BranchMap),
		fallbackPC:  -1,
		revertJumps: make(map[spanKey][]int),
	}
	for _, id := range unit.SourceIDs() {
		src, ok := sources[id]
		if !ok || src.AST == nil {
			continue
		}
		b.sources[id] = src
		pool := make(map[sourcemap.Span]struct{})
		for _, span := range src.AST.StatementSpans() {
			pool[span] = struct{}{}
		}
		b.candidates[id] = pool
		for _, c := range src.AST.BranchCandidates() {
			b.polarity[spanKey{id, c.Span}] = c.Jump
		}
		b.active[id] = make(map[sourcemap.Span]int)
	}
	return b
}

// isChecked reports whether the compiler emits checked arithmetic. An empty
// version is treated as a current compiler.
func isChecked(v string) bool {
	if v == "" {
		return true
	}
	ver, err := version.NewVersion(strings.TrimPrefix(v, "v"))
	if err != nil {
		return false
	}
	return ver.Core().GreaterThanOrEqual(checkedArithmetic)
}

func (b *builder) run(records []sourcemap.Record, instructions []disasm.Instruction) {
	pc, next := 0, 0
	var first sourcemap.Record
	if len(records) > 0 {
		first = records[0]
	}

	for r, rec := range records {
		if next >= len(instructions) {
			b.log.Warn("Source map longer than opcode stream", "records", len(records), "opcodes", len(instructions))
			break
		}
		ins := instructions[next]
		next++

		cur := b.emit(pc, ins)
		cur.Jump = rec.Jump
		pc += instructionSize(ins)

		if cur.Op == "REVERT" && b.fallbackPC < 0 && !b.unit.HasFallback && b.precededBy("JUMPDEST", "PUSH1", "DUP1") {
			cur.FirstRevert = true
			b.fallbackPC = cur.PC - 4
		}

		// generated sources carry no AST to infer from
		if cur.Op == "REVERT" && (rec.SourceID == -1 || rec == first) {
			b.inferRevert(cur, records[r+1:])
		}
		if rec.SourceID == -1 || b.sources[rec.SourceID] == nil {
			continue
		}
		if rec.Start == -1 {
			continue
		}

		src := b.sources[rec.SourceID]
		span := rec.Span()
		cur.SourceID, cur.Span, cur.HasSpan = rec.SourceID, span, true
		b.spans[spanKey{rec.SourceID, span}] = struct{}{}

		if cur.Op == "REVERT" && b.checked && !b.sharedRevert {
			if call, ok := src.AST.RevertCall(span); ok && call.HasRevertMessage() {
				cur.OptimizerRevert = true
				b.sharedRevert = true
			}
		}
		if cur.Op == "INVALID" || (cur.Op == "REVERT" && b.checked && !cur.OptimizerRevert) {
			if dev, ok := inferDev(src.AST, span, b.checked); ok {
				cur.Dev = dev
			}
		}

		b.trackBranch(rec.SourceID, span)
		b.trackStatement(src, span)

		if b.fallbackPC >= 0 && next < len(instructions) && b.isFallbackPush(cur) {
			if op := instructions[next].Op; op == "JUMP" || op == "JUMPI" {
				key := spanKey{rec.SourceID, span}
				if _, ok := b.revertJumps[key]; !ok {
					b.revertOrder = append(b.revertOrder, key)
				}
				b.revertJumps[key] = append(b.revertJumps[key], len(b.list))
			}
		}
	}

	// the source map may stop short of the code; keep the remaining opcodes
	limit := len(disasm.StripMetadata(b.unit.RuntimeBytecode))
	if len(b.unit.RuntimeBytecode) == 0 {
		limit = disasm.ByteLength(instructions)
	}
	for ; next < len(instructions) && pc < limit; next++ {
		ins := instructions[next]
		b.emit(pc, ins)
		pc += instructionSize(ins)
	}
}

func instructionSize(ins disasm.Instruction) int {
	if ins.Push == "" {
		return 1
	}
	return ins.Size()
}

func (b *builder) emit(pc int, ins disasm.Instruction) *Instruction {
	cur := &Instruction{
		PC:        pc,
		Op:        ins.Op,
		Push:      ins.Push,
		SourceID:  -1,
		Statement: NoID,
		Branch:    NoID,
	}
	b.list = append(b.list, cur)
	return cur
}

// precededBy reports whether the instructions before the current one are ops,
// in order.
func (b *builder) precededBy(ops ...string) bool {
	start := len(b.list) - 1 - len(ops)
	if start < 0 {
		return false
	}
	for i, op := range ops {
		if b.list[start+i].Op != op {
			return false
		}
	}
	return true
}

func (b *builder) isFallbackPush(cur *Instruction) bool {
	if cur.Push == "" {
		return false
	}
	value, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(cur.Push), "0x"), 16, 64)
	if err != nil {
		return false
	}
	return value == uint64(b.fallbackPC)
}

// inferRevert attaches a location to a REVERT the source map leaves without
// a useful one.
func (b *builder) inferRevert(cur *Instruction, rest []sourcemap.Record) {
	if len(rest) > 0 && len(b.list) >= 8 {
		if guard := b.list[len(b.list)-8]; guard.Op == "CALLVALUE" {
			cur.Dev = nonPayableDev
			cur.Function = guard.Function
			cur.SourceID, cur.Span, cur.HasSpan = guard.SourceID, guard.Span, guard.HasSpan
			return
		}
	}
	if b.activeFn == nil {
		return
	}

	if len(rest) > 0 && rest[0].Mapped() && rest[0].SourceID == b.activeSource.ID {
		span := rest[0].Span()
		if span != b.activeFn.Span && b.activeFn.Contains(span) {
			cur.SourceID, cur.Span, cur.HasSpan = b.activeSource.ID, span, true
			cur.Function = b.activeFnName
			return
		}
	}

	last, ok := b.activeFn.LastStatement()
	if !ok || last.Kind != solast.KindExpressionStatement || last.Expression == nil {
		return
	}
	call := last.Expression
	if !call.IsRevertCall() || call.Expression == nil {
		return
	}
	cur.SourceID, cur.Span, cur.HasSpan = b.activeSource.ID, call.Expression.Span, true
	cur.Function = b.activeFnName
}

// inferDev derives a dev comment for an INVALID or checked arithmetic site
// from the smallest AST node covering span.
func inferDev(ast *solast.Node, span sourcemap.Span, checked bool) (string, bool) {
	node, ok := ast.Covering(span)
	if !ok {
		return "", false
	}
	switch node.Kind {
	case solast.KindIndexAccess:
		return "Index out of range", true
	case solast.KindBinaryOperation:
		switch node.Operator {
		case "/":
			return "Division by zero", true
		case "%":
			return "Modulo by zero", true
		}
		if checked {
			return arithmeticDev(node.Operator)
		}
	case solast.KindAssignment:
		if checked && node.Operator != "=" {
			return arithmeticDev(strings.TrimSuffix(node.Operator, "="))
		}
	}
	return "", false
}

func arithmeticDev(op string) (string, bool) {
	switch op {
	case "-":
		return "Integer underflow", true
	case "+", "*", "**", "<<":
		return "Integer overflow", true
	}
	return "", false
}

func (b *builder) trackBranch(source int, span sourcemap.Span) {
	active := b.active[source]
	cur := len(b.list) - 1

	if len(active) > 0 && b.list[cur].Op == "JUMPI" {
		for s, condition := range active {
			key := spanKey{source, s}
			b.closed[key] = closedBranch{key: key, condition: condition, jumpi: cur}
		}
		b.active[source] = make(map[sourcemap.Span]int)
		return
	}
	key := spanKey{source, span}
	if _, ok := b.polarity[key]; ok {
		// a later occurrence replaces an optimizer duplicate
		delete(b.closed, key)
		active[span] = cur
	}
}

func (b *builder) trackStatement(src *Source, span sourcemap.Span) {
	cur := b.list[len(b.list)-1]
	if len(b.list) > 1 {
		prev := b.list[len(b.list)-2]
		if prev.HasSpan && prev.SourceID == src.ID && prev.Span == span {
			cur.Function = prev.Function
			return
		}
	}

	fn, ok := src.AST.EnclosingFunction(span)
	if !ok {
		return
	}
	name := fn.FunctionName()
	b.activeFn, b.activeFnName, b.activeSource = fn, name, src
	cur.Function = name

	stmt, ok := b.claim(src.ID, span)
	if !ok {
		return
	}
	cur.Statement = b.count
	fns := b.statements[src.Path]
	if fns == nil {
		fns = make(map[string]map[int]sourcemap.Span)
		b.statements[src.Path] = fns
	}
	if fns[name] == nil {
		fns[name] = make(map[int]sourcemap.Span)
	}
	fns[name][b.count] = stmt
	b.count++
}

// claim removes and returns the smallest remaining statement containing span.
func (b *builder) claim(source int, span sourcemap.Span) (sourcemap.Span, bool) {
	var best sourcemap.Span
	found := false
	for candidate := range b.candidates[source] {
		if !span.Inside(candidate) {
			continue
		}
		if !found || candidate.Len() < best.Len() || (candidate.Len() == best.Len() && candidate.Start < best.Start) {
			best, found = candidate, true
		}
	}
	if found {
		delete(b.candidates[source], best)
	}
	return best, found
}

func (b *builder) finish() *Result {
	b.reconcileRevertJumps()
	b.finalizeBranches()

	paths := make(map[int]string, len(b.sources))
	for id, src := range b.sources {
		paths[id] = src.Path
	}
	return &Result{
		Instructions: newInstructionMap(b.list),
		Statements:   b.statements,
		Branches:     b.branches,
		Paths:        paths,
		FallbackPC:   b.fallbackPC,
	}
}

// reconcileRevertJumps attaches revert and require calls that have no bytecode
// of their own to the jumps that reach the fallback REVERT.
func (b *builder) reconcileRevertJumps() {
	for _, key := range b.revertOrder {
		jumps := b.revertJumps[key]
		fn, ok := b.sources[key.source].AST.EnclosingFunction(key.span)
		if !ok {
			continue
		}
		for _, call := range fn.RevertCalls() {
			if len(jumps) == 0 {
				break
			}
			callKey := spanKey{key.source, call.Span}
			if _, ok := b.spans[callKey]; ok {
				continue
			}
			if jumps[0] < len(b.list) {
				target := b.list[jumps[0]]
				target.SourceID, target.Span, target.HasSpan = key.source, call.Span, true
				target.JumpRevert = true
				b.spans[callKey] = struct{}{}
			}
			jumps = jumps[1:]
		}
	}
}

func (b *builder) finalizeBranches() {
	for source, active := range b.active {
		if len(active) > 0 {
			b.log.Debug("Dropped unclosed branch candidates", "source", source, "count", len(active))
		}
	}

	closed := make([]closedBranch, 0, len(b.closed))
	for _, c := range b.closed {
		closed = append(closed, c)
	}
	sort.Slice(closed, func(i, j int) bool {
		if closed[i].jumpi != closed[j].jumpi {
			return closed[i].jumpi < closed[j].jumpi
		}
		return closed[i].condition < closed[j].condition
	})

	for _, c := range closed {
		start := b.list[c.condition]
		if start.Function == "" {
			b.log.Warn("Dropped branch outside a function", "span", c.key.span)
			continue
		}
		start.Branch = b.count
		b.list[c.jumpi].Branch = b.count

		path := b.sources[c.key.source].Path
		fns := b.branches[path]
		if fns == nil {
			fns = make(map[string]map[int]Branch)
			b.branches[path] = fns
		}
		if fns[start.Function] == nil {
			fns[start.Function] = make(map[int]Branch)
		}
		fns[start.Function][b.count] = Branch{
			Span:      c.key.span,
			Jump:      b.polarity[c.key],
			Condition: c.condition,
			JumpI:     c.jumpi,
		}
		b.count++
	}
}

package solast

import (
	"sort"

	"github.com/stable-net/evmcov/pkg/sourcemap"
)

// BranchCandidate is a boolean leaf of a require, if or ternary condition.
// Jump reports whether a JUMPI being taken means the leaf evaluated true.
type BranchCandidate struct {
	Span sourcemap.Span
	Jump bool
}

// Contracts returns the contract definitions directly below a source unit.
func (n *Node) Contracts() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Kind == KindContractDefinition {
			out = append(out, c)
		}
	}
	return out
}

// StatementSpans returns the spans of every lowest-level statement, one with
// no statement below it, skipping constructors. An empty block counts as a
// statement while a block holding statements does not.
func (n *Node) StatementSpans() []sourcemap.Span {
	seen := make(map[sourcemap.Span]struct{})
	var visit func(x *Node) bool
	// visit reports whether x is or holds a statement.
	visit = func(x *Node) bool {
		if x.isConstructorFn() {
			return false
		}
		nested := false
		for _, c := range x.Children {
			if visit(c) {
				nested = true
			}
		}
		if !x.isStatement() {
			return nested
		}
		if !nested {
			seen[x.Span] = struct{}{}
		}
		return true
	}
	visit(n)
	return sortedSpans(seen)
}

func (n *Node) isStatement() bool {
	switch n.Kind {
	case KindBlock, KindIfStatement, KindExpressionStatement, KindStatement:
		return true
	}
	return false
}

// EnclosingFunction returns the innermost function definition containing span.
func (n *Node) EnclosingFunction(span sourcemap.Span) (*Node, bool) {
	var found *Node
	n.Walk(func(x *Node) bool {
		if !x.Contains(span) {
			return false
		}
		if x.Kind == KindFunctionDefinition {
			found = x
		}
		return true
	})
	return found, found != nil
}

// Covering returns the smallest node containing span.
func (n *Node) Covering(span sourcemap.Span) (*Node, bool) {
	if !n.Contains(span) {
		return nil, false
	}
	current := n
	for {
		next := (*Node)(nil)
		for _, c := range current.Children {
			if c.Contains(span) {
				next = c
				break
			}
		}
		if next == nil {
			return current, true
		}
		current = next
	}
}

// RevertCall returns the innermost revert or require call containing span.
func (n *Node) RevertCall(span sourcemap.Span) (*Node, bool) {
	var found *Node
	n.Walk(func(x *Node) bool {
		if !x.Contains(span) {
			return false
		}
		if x.IsRevertCall() {
			found = x
		}
		return true
	})
	return found, found != nil
}

// RevertCalls returns every revert and require call below n in source order.
func (n *Node) RevertCalls() []*Node {
	var out []*Node
	n.Walk(func(x *Node) bool {
		if x.IsRevertCall() {
			out = append(out, x)
		}
		return true
	})
	return out
}

// LastStatement returns the final statement of a function body.
func (n *Node) LastStatement() (*Node, bool) {
	for _, c := range n.Children {
		if c.Kind == KindBlock && len(c.Children) > 0 {
			return c.Children[len(c.Children)-1], true
		}
	}
	return nil, false
}

// BranchCandidates decomposes every require, if and ternary condition inside
// the contracts of a source unit into its boolean leaves.
func (n *Node) BranchCandidates() []BranchCandidate {
	found := make(map[sourcemap.Span]bool)
	var order []sourcemap.Span

	for _, contract := range n.Contracts() {
		contract.Walk(func(x *Node) bool {
			if !(x.Callee() == "require" || x.Kind == KindIfStatement || x.Kind == KindConditional) {
				return true
			}
			for _, c := range recursiveBranches(x) {
				if _, ok := found[c.Span]; !ok {
					order = append(order, c.Span)
				}
				found[c.Span] = c.Jump
			}
			return true
		})
	}

	sort.Slice(order, func(i, j int) bool { return spanLess(order[i], order[j]) })
	out := make([]BranchCandidate, len(order))
	for i, span := range order {
		out[i] = BranchCandidate{Span: span, Jump: found[span]}
	}
	return out
}

func recursiveBranches(base *Node) []BranchCandidate {
	node := base
	if base.Kind != KindFunctionCall {
		node = base.Condition
	}
	if node == nil {
		return nil
	}
	// for an if statement, a taken jump means the condition was false
	jumpTrue := base.Kind != KindIfStatement

	var binaries []*Node
	node.Walk(func(x *Node) bool {
		if isLogicalOp(x) {
			binaries = append(binaries, x)
		}
		return true
	})

	if len(binaries) == 0 {
		if base.Kind == KindFunctionCall {
			if len(base.Arguments) == 0 {
				return nil
			}
			node = base.Arguments[0]
		} else if node.Kind == KindUnaryOperation && node.SubExpression != nil {
			node = node.SubExpression
		}
		return []BranchCandidate{{Span: node.Span, Jump: jumpTrue}}
	}

	var out []BranchCandidate
	for _, bin := range binaries {
		for _, leaf := range []*Node{bin.Left, bin.Right} {
			if leaf == nil || containsLogicalOp(leaf) {
				continue
			}
			jump := jumpTrue
			if parent, ok := leftParent(leaf, base.Depth); ok {
				jump = parent.Operator == "||"
			}
			if leaf.Kind == KindUnaryOperation && leaf.SubExpression != nil {
				leaf = leaf.SubExpression
			}
			out = append(out, BranchCandidate{Span: leaf.Span, Jump: jump})
		}
	}
	return out
}

// leftParent finds the nearest boolean binary ancestor, no shallower than
// depth, on whose left side leaf sits. A leaf without one is the right-most
// operation of its expression.
func leftParent(leaf *Node, depth int) (*Node, bool) {
	for p := leaf.Parent; p != nil && p.Depth >= depth; p = p.Parent {
		if !isBoolBinary(p) || p.Left == nil {
			continue
		}
		if leaf.IsDescendantOf(p.Left) {
			return p, true
		}
	}
	return nil, false
}

func isBoolBinary(n *Node) bool {
	return n.Kind == KindBinaryOperation && n.TypeString == "bool"
}

func isLogicalOp(n *Node) bool {
	return isBoolBinary(n) && (n.Operator == "&&" || n.Operator == "||")
}

func containsLogicalOp(n *Node) bool {
	found := false
	n.Walk(func(x *Node) bool {
		if isLogicalOp(x) {
			found = true
		}
		return !found
	})
	return found
}

func spanLess(a, b sourcemap.Span) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.Stop < b.Stop
}

func sortedSpans(set map[sourcemap.Span]struct{}) []sourcemap.Span {
	out := make([]sourcemap.Span, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return spanLess(out[i], out[j]) })
	return out
}

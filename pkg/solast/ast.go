// Package solast provides the subset of the solc compact JSON AST needed for
// coverage mapping.
package solast

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/stable-net/evmcov/pkg/sourcemap"
)

// Common errors.
var (
	ErrInvalidAST = errors.New("invalid ast")
	ErrInvalidSrc = errors.New("invalid src attribute")
)

// Kind is the closed set of node kinds the engine inspects. Every other node
// type is KindOther (or KindStatement when solc classifies it as a statement).
type Kind uint8

const (
	KindOther Kind = iota
	KindSourceUnit
	KindContractDefinition
	KindFunctionDefinition
	KindModifierDefinition
	KindBlock
	KindIfStatement
	KindConditional
	KindBinaryOperation
	KindUnaryOperation
	KindFunctionCall
	KindIndexAccess
	KindAssignment
	KindExpressionStatement
	KindStatement
)

var kindByNodeType = map[string]Kind{
	"SourceUnit":                   KindSourceUnit,
	"ContractDefinition":           KindContractDefinition,
	"FunctionDefinition":           KindFunctionDefinition,
	"ModifierDefinition":           KindModifierDefinition,
	"Block":                        KindBlock,
	"UncheckedBlock":               KindBlock,
	"IfStatement":                  KindIfStatement,
	"Conditional":                  KindConditional,
	"BinaryOperation":              KindBinaryOperation,
	"UnaryOperation":               KindUnaryOperation,
	"FunctionCall":                 KindFunctionCall,
	"IndexAccess":                  KindIndexAccess,
	"Assignment":                   KindAssignment,
	"ExpressionStatement":          KindExpressionStatement,
	"Break":                        KindStatement,
	"Continue":                     KindStatement,
	"DoWhileStatement":             KindStatement,
	"EmitStatement":                KindStatement,
	"ForStatement":                 KindStatement,
	"InlineAssembly":               KindStatement,
	"PlaceholderStatement":         KindStatement,
	"Return":                       KindStatement,
	"RevertStatement":              KindStatement,
	"Throw":                        KindStatement,
	"TryStatement":                 KindStatement,
	"VariableDeclarationStatement": KindStatement,
	"WhileStatement":               KindStatement,
}

// Node is one AST node.
type Node struct {
	Kind     Kind
	NodeType string
	ID       int
	SourceID int
	Span     sourcemap.Span
	Depth    int

	Name          string
	FunctionKind  string
	IsConstructor bool
	Operator      string
	TypeString    string

	Condition     *Node
	Left          *Node
	Right         *Node
	Expression    *Node
	SubExpression *Node
	Arguments     []*Node

	BaseContracts []int
	ContractDeps  []int
	AbsolutePath  string

	Children []*Node
	Parent   *Node
}

// Parse decodes a compact JSON AST as emitted in solc standard JSON output.
func Parse(data []byte) (*Node, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAST, err)
	}
	if _, ok := raw["nodeType"]; !ok {
		return nil, fmt.Errorf("%w: missing nodeType", ErrInvalidAST)
	}
	return build(raw, nil, 0)
}

func build(raw map[string]interface{}, parent *Node, depth int) (*Node, error) {
	n := &Node{Parent: parent, Depth: depth, SourceID: -1}
	n.NodeType, _ = raw["nodeType"].(string)
	n.Kind = kindByNodeType[n.NodeType]

	if src, ok := raw["src"].(string); ok {
		span, id, err := ParseSrc(src)
		if err != nil {
			return nil, err
		}
		n.Span, n.SourceID = span, id
	}
	if id, ok := raw["id"].(float64); ok {
		n.ID = int(id)
	}
	n.Name, _ = raw["name"].(string)
	n.Operator, _ = raw["operator"].(string)
	n.AbsolutePath, _ = raw["absolutePath"].(string)
	n.IsConstructor, _ = raw["isConstructor"].(bool)
	if n.Kind == KindFunctionDefinition {
		n.FunctionKind, _ = raw["kind"].(string)
	}
	if td, ok := raw["typeDescriptions"].(map[string]interface{}); ok {
		n.TypeString, _ = td["typeString"].(string)
	}
	n.BaseContracts = intList(raw["linearizedBaseContracts"])
	n.ContractDeps = intList(raw["contractDependencies"])

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch value := raw[key].(type) {
		case map[string]interface{}:
			if _, ok := value["nodeType"]; !ok {
				continue
			}
			child, err := build(value, n, depth+1)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
			n.assign(key, child)
		case []interface{}:
			for _, item := range value {
				m, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				if _, ok := m["nodeType"]; !ok {
					continue
				}
				child, err := build(m, n, depth+1)
				if err != nil {
					return nil, err
				}
				n.Children = append(n.Children, child)
				if key == "arguments" {
					n.Arguments = append(n.Arguments, child)
				}
			}
		}
	}

	sort.SliceStable(n.Children, func(i, j int) bool {
		a, b := n.Children[i].Span, n.Children[j].Span
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.Stop > b.Stop
	})
	return n, nil
}

func (n *Node) assign(key string, child *Node) {
	switch key {
	case "condition":
		n.Condition = child
	case "leftExpression":
		n.Left = child
	case "rightExpression":
		n.Right = child
	case "expression":
		n.Expression = child
	case "subExpression":
		n.SubExpression = child
	}
}

func intList(v interface{}) []int {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		if f, ok := item.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}

// ParseSrc parses a "start:length:sourceId" attribute.
func ParseSrc(src string) (sourcemap.Span, int, error) {
	parts := strings.Split(src, ":")
	if len(parts) != 3 {
		return sourcemap.Span{}, 0, fmt.Errorf("%w: %q", ErrInvalidSrc, src)
	}
	var values [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return sourcemap.Span{}, 0, fmt.Errorf("%w: %q", ErrInvalidSrc, src)
		}
		values[i] = v
	}
	return sourcemap.Span{Start: values[0], Stop: values[0] + values[1]}, values[2], nil
}

// Walk visits n and its descendants in source order. Returning false from fn
// skips the children of the visited node.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Contains reports whether span lies within the node.
func (n *Node) Contains(span sourcemap.Span) bool {
	return span.Inside(n.Span)
}

// IsDescendantOf reports whether n is other or sits below it.
func (n *Node) IsDescendantOf(other *Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == other {
			return true
		}
	}
	return false
}

// Callee returns the identifier name of a function call expression.
func (n *Node) Callee() string {
	if n.Kind != KindFunctionCall || n.Expression == nil {
		return ""
	}
	if n.Expression.NodeType != "Identifier" {
		return ""
	}
	return n.Expression.Name
}

// IsRevertCall reports whether n is a call to revert or require.
func (n *Node) IsRevertCall() bool {
	callee := n.Callee()
	return callee == "revert" || callee == "require"
}

// HasRevertMessage reports whether a revert/require call supplies a message.
func (n *Node) HasRevertMessage() bool {
	switch n.Callee() {
	case "require":
		return len(n.Arguments) == 2
	case "revert":
		return len(n.Arguments) > 0
	}
	return false
}

// FunctionName returns the coverage name of a function definition, qualified
// by its contract unless it is a free function.
func (n *Node) FunctionName() string {
	name := n.Name
	if name == "" {
		switch {
		case n.FunctionKind != "" && n.FunctionKind != "function":
			name = "<" + n.FunctionKind + ">"
		case n.IsConstructor:
			name = "<constructor>"
		default:
			name = "<fallback>"
		}
	}
	if n.Parent == nil || n.Parent.Kind == KindSourceUnit {
		return name
	}
	return n.Parent.Name + "." + name
}

func (n *Node) isConstructorFn() bool {
	return n.Kind == KindFunctionDefinition && (n.FunctionKind == "constructor" || n.IsConstructor)
}

// Package solasttest builds solc compact JSON ASTs over real source text.
package solasttest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stable-net/evmcov/pkg/sourcemap"
)

// Node is one JSON AST node.
type Node map[string]interface{}

// Builder creates nodes whose src attributes point into Text.
type Builder struct {
	Text     string
	SourceID int
	nextID   int
}

// New returns a builder for text registered under sourceID.
func New(text string, sourceID int) *Builder {
	return &Builder{Text: text, SourceID: sourceID, nextID: sourceID*1000 + 1}
}

// Span returns the span of the n-th occurrence (counting from zero) of sub.
func (b *Builder) Span(sub string, n int) sourcemap.Span {
	start := b.index(sub, n)
	return sourcemap.Span{Start: start, Stop: start + len(sub)}
}

// Between spans from the n-th occurrence of from to the end of the m-th
// occurrence of to.
func (b *Builder) Between(from string, n int, to string, m int) sourcemap.Span {
	start := b.index(from, n)
	end := b.index(to, m) + len(to)
	if end <= start {
		panic(fmt.Sprintf("solasttest: %q #%d ends before %q #%d", to, m, from, n))
	}
	return sourcemap.Span{Start: start, Stop: end}
}

// Within returns the span of the first occurrence of sub inside outer.
func (b *Builder) Within(outer sourcemap.Span, sub string) sourcemap.Span {
	i := strings.Index(b.Text[outer.Start:outer.Stop], sub)
	if i < 0 {
		panic(fmt.Sprintf("solasttest: %q not inside %s", sub, outer))
	}
	return sourcemap.Span{Start: outer.Start + i, Stop: outer.Start + i + len(sub)}
}

// Whole spans the entire text.
func (b *Builder) Whole() sourcemap.Span {
	return sourcemap.Span{Start: 0, Stop: len(b.Text)}
}

func (b *Builder) index(sub string, n int) int {
	offset := 0
	for i := 0; ; i++ {
		j := strings.Index(b.Text[offset:], sub)
		if j < 0 {
			panic(fmt.Sprintf("solasttest: occurrence %d of %q not found", n, sub))
		}
		if i == n {
			return offset + j
		}
		offset += j + len(sub)
	}
}

// Src formats span as a src attribute.
func (b *Builder) Src(span sourcemap.Span) string {
	return fmt.Sprintf("%d:%d:%d", span.Start, span.Len(), b.SourceID)
}

// Node creates a node of nodeType at span with extra fields.
func (b *Builder) Node(nodeType string, span sourcemap.Span, fields Node) Node {
	n := Node{"nodeType": nodeType, "src": b.Src(span), "id": b.nextID}
	b.nextID++
	for k, v := range fields {
		n[k] = v
	}
	return n
}

// Ident creates an Identifier node.
func (b *Builder) Ident(name string, span sourcemap.Span, typeString string) Node {
	return b.Node("Identifier", span, Node{
		"name":             name,
		"typeDescriptions": Node{"typeString": typeString},
	})
}

// Literal creates a Literal node.
func (b *Builder) Literal(span sourcemap.Span, typeString string) Node {
	return b.Node("Literal", span, Node{
		"value":            strings.Trim(b.Text[span.Start:span.Stop], `"`),
		"typeDescriptions": Node{"typeString": typeString},
	})
}

// Binary creates a BinaryOperation node.
func (b *Builder) Binary(op string, span sourcemap.Span, typeString string, left, right Node) Node {
	return b.Node("BinaryOperation", span, Node{
		"operator":         op,
		"leftExpression":   left,
		"rightExpression":  right,
		"typeDescriptions": Node{"typeString": typeString},
	})
}

// Call creates a FunctionCall of the named identifier.
func (b *Builder) Call(name string, span sourcemap.Span, args ...Node) Node {
	callee := b.Ident(name, sourcemap.Span{Start: span.Start, Stop: span.Start + len(name)}, "function")
	list := make([]interface{}, len(args))
	for i, a := range args {
		list[i] = a
	}
	return b.Node("FunctionCall", span, Node{
		"expression": callee,
		"arguments":  list,
		"kind":       "functionCall",
	})
}

// Statement wraps an expression in an ExpressionStatement.
func (b *Builder) Statement(span sourcemap.Span, expr Node) Node {
	return b.Node("ExpressionStatement", span, Node{"expression": expr})
}

// Assign creates an Assignment node.
func (b *Builder) Assign(op string, span sourcemap.Span, left, right Node) Node {
	return b.Node("Assignment", span, Node{
		"operator":      op,
		"leftHandSide":  left,
		"rightHandSide": right,
	})
}

// Block creates a Block holding statements.
func (b *Builder) Block(span sourcemap.Span, statements ...Node) Node {
	return b.Node("Block", span, Node{"statements": list(statements)})
}

// Function creates a FunctionDefinition with the given body.
func (b *Builder) Function(name, kind string, span sourcemap.Span, body Node) Node {
	return b.Node("FunctionDefinition", span, Node{
		"name":       name,
		"kind":       kind,
		"body":       body,
		"visibility": "public",
	})
}

// Contract creates a ContractDefinition.
func (b *Builder) Contract(name string, span sourcemap.Span, nodes ...Node) Node {
	return b.Node("ContractDefinition", span, Node{
		"name":                    name,
		"contractKind":            "contract",
		"nodes":                   list(nodes),
		"linearizedBaseContracts": []interface{}{b.nextID},
		"contractDependencies":    []interface{}{},
	})
}

// Unit creates the SourceUnit spanning the whole text.
func (b *Builder) Unit(path string, nodes ...Node) Node {
	return b.Node("SourceUnit", b.Whole(), Node{
		"absolutePath": path,
		"nodes":        list(nodes),
	})
}

func list(nodes []Node) []interface{} {
	out := make([]interface{}, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out
}

// JSON encodes n.
func JSON(n Node) []byte {
	data, err := json.Marshal(n)
	if err != nil {
		panic(err)
	}
	return data
}

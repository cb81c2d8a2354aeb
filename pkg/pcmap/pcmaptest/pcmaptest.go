// Package pcmaptest assembles small compiled units with matching source maps
// and ASTs for tests.
package pcmaptest

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/stable-net/evmcov/pkg/disasm"
	"github.com/stable-net/evmcov/pkg/pcmap"
	"github.com/stable-net/evmcov/pkg/solast"
	"github.com/stable-net/evmcov/pkg/solast/solasttest"
	"github.com/stable-net/evmcov/pkg/sourcemap"
)

// metadata is a minimal CBOR trailer: one byte of payload and its length.
var metadata = []byte{0xa1, 0x00, 0x01}

// Op is one assembled instruction and its source location.
type Op struct {
	Op       string
	Push     string
	Span     sourcemap.Span
	Unmapped bool
	Jump     sourcemap.JumpKind
}

// At maps an instruction to span.
func At(span sourcemap.Span, op string, push ...string) Op {
	o := Op{Op: op, Span: span}
	if len(push) > 0 {
		o.Push = push[0]
	}
	return o
}

// Unmapped returns an instruction without source.
func Unmapped(op string, push ...string) Op {
	o := Op{Op: op, Unmapped: true}
	if len(push) > 0 {
		o.Push = push[0]
	}
	return o
}

// Assemble encodes ops as a solc opcode string, an uncompressed source map and
// runtime bytecode with a metadata trailer.
func Assemble(sourceID int, ops []Op) (string, string, []byte) {
	var tokens, records []string
	var code []byte
	for _, o := range ops {
		tokens = append(tokens, o.Op)
		if o.Push != "" {
			tokens = append(tokens, o.Push)
		}
		if o.Unmapped {
			records = append(records, fmt.Sprintf("-1:-1:-1:%s", o.Jump))
		} else {
			records = append(records, fmt.Sprintf("%d:%d:%d:%s", o.Span.Start, o.Span.Len(), sourceID, o.Jump))
		}
		code = append(code, opByte(o.Op))
		if o.Push != "" {
			payload := common.FromHex(o.Push)
			width := disasm.PushWidth(o.Op)
			padded := make([]byte, width)
			copy(padded[width-len(payload):], payload)
			code = append(code, padded...)
		}
	}
	code = append(code, metadata...)
	return strings.Join(tokens, " "), strings.Join(records, ";"), code
}

func opByte(op string) byte {
	if op == "INVALID" {
		return 0xfe
	}
	return byte(vm.StringToOp(op))
}

// Fixture is a compiled unit with its only source.
type Fixture struct {
	Unit    *pcmap.Unit
	Sources pcmap.Sources
	Source  *pcmap.Source
	Ops     []Op
	// Spans names the spans the ops are mapped to.
	Spans map[string]sourcemap.Span
}

// PC returns the program counter of the i-th op.
func (f *Fixture) PC(i int) int {
	pc := 0
	for _, o := range f.Ops[:i] {
		pc++
		if o.Push != "" {
			pc += disasm.PushWidth(o.Op)
		}
	}
	return pc
}

// Build runs pcmap.Build on the fixture and panics on error.
func (f *Fixture) Build() *pcmap.Result {
	result, err := pcmap.Build(f.Unit, f.Sources)
	if err != nil {
		panic(err)
	}
	return result
}

// WithOps reassembles the fixture's unit from ops.
func (f *Fixture) WithOps(ops []Op) *Fixture {
	unit := *f.Unit
	unit.Opcodes, unit.SourceMap, unit.RuntimeBytecode = Assemble(f.Source.ID, ops)
	return &Fixture{Unit: &unit, Sources: f.Sources, Source: f.Source, Ops: ops, Spans: f.Spans}
}

func newFixture(b *solasttest.Builder, path, name, compiler string, ast solasttest.Node, spans map[string]sourcemap.Span, ops []Op) *Fixture {
	root, err := solast.Parse(solasttest.JSON(ast))
	if err != nil {
		panic(err)
	}
	src := &pcmap.Source{ID: b.SourceID, Path: path, AST: root, Text: b.Text}
	f := &Fixture{
		Unit: &pcmap.Unit{
			Name:            name,
			SourceID:        b.SourceID,
			Path:            path,
			CompilerVersion: compiler,
			Selectors:       map[string]string{},
		},
		Sources: pcmap.Sources{b.SourceID: src},
		Source:  src,
		Spans:   spans,
	}
	return f.WithOps(ops)
}

// Package disasm parses and produces EVM opcode streams.
package disasm

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
)

// Instruction is a single disassembled opcode with its inline push payload.
type Instruction struct {
	Op   string
	Push string // 0x prefixed payload for PUSH1..PUSH32, empty otherwise
}

// Size returns the number of bytecode bytes the instruction occupies.
func (i Instruction) Size() int {
	return 1 + PushWidth(i.Op)
}

// PushWidth returns the number of immediate bytes consumed by op.
func PushWidth(op string) int {
	if !strings.HasPrefix(op, "PUSH") {
		return 0
	}
	n, err := strconv.Atoi(op[4:])
	if err != nil || n < 1 || n > 32 {
		return 0
	}
	return n
}

// Parse splits the space separated disassembly produced by solc. A PUSH
// mnemonic is followed by its payload token, which is attached to it.
func Parse(opcodes string) []Instruction {
	tokens := strings.Fields(opcodes)
	instructions := make([]Instruction, 0, len(tokens))

	for i := 0; i < len(tokens); i++ {
		ins := Instruction{Op: tokens[i]}
		if PushWidth(ins.Op) > 0 && i+1 < len(tokens) && strings.HasPrefix(tokens[i+1], "0x") {
			ins.Push = tokens[i+1]
			i++
		}
		instructions = append(instructions, ins)
	}
	return instructions
}

// Disassemble decodes raw bytecode. A truncated trailing push keeps whatever
// payload bytes remain.
func Disassemble(code []byte) []Instruction {
	var instructions []Instruction

	for pc := 0; pc < len(code); pc++ {
		op := vm.OpCode(code[pc])
		ins := Instruction{Op: opName(op)}

		if width := PushWidth(ins.Op); width > 0 {
			end := pc + 1 + width
			if end > len(code) {
				end = len(code)
			}
			ins.Push = "0x" + strings.ToUpper(hex.EncodeToString(code[pc+1:end]))
			pc = end - 1
		}
		instructions = append(instructions, ins)
	}
	return instructions
}

// opName returns the solc mnemonic of op. Undefined opcodes disassemble as
// INVALID, matching solc output.
func opName(op vm.OpCode) string {
	name := op.String()
	if strings.HasPrefix(name, "opcode ") {
		return "INVALID"
	}
	return name
}

// StripMetadata removes the CBOR encoded metadata trailer from bytecode. The
// final two bytes hold the big endian length of the trailer.
func StripMetadata(code []byte) []byte {
	if len(code) < 2 {
		return code
	}
	size := int(code[len(code)-2])<<8 | int(code[len(code)-1])
	if size+2 > len(code) {
		return code
	}
	return code[:len(code)-size-2]
}

// ByteLength returns the number of bytecode bytes covered by instructions.
func ByteLength(instructions []Instruction) int {
	total := 0
	for _, ins := range instructions {
		total += ins.Size()
	}
	return total
}

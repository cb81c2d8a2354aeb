// Package sourcemap decodes the compressed source maps emitted by solc.
package sourcemap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Common errors.
var (
	ErrInvalidField = errors.New("invalid source map field")
)

// JumpKind classifies a jump instruction in the source map.
type JumpKind uint8

const (
	// JumpNone is a regular jump, or no jump at all ("-").
	JumpNone JumpKind = iota
	// JumpInto is a jump into a function ("i").
	JumpInto
	// JumpOutOf is a jump returning from a function ("o").
	JumpOutOf
)

// String returns the solc notation of the jump kind.
func (j JumpKind) String() string {
	switch j {
	case JumpInto:
		return "i"
	case JumpOutOf:
		return "o"
	default:
		return "-"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (j JumpKind) MarshalText() ([]byte, error) {
	return []byte(j.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (j *JumpKind) UnmarshalText(text []byte) error {
	kind, err := parseJump(string(text))
	if err != nil {
		return err
	}
	*j = kind
	return nil
}

func parseJump(s string) (JumpKind, error) {
	switch s {
	case "i":
		return JumpInto, nil
	case "o":
		return JumpOutOf, nil
	case "-", "":
		return JumpNone, nil
	}
	return JumpNone, fmt.Errorf("%w: jump %q", ErrInvalidField, s)
}

// Span is a half-open byte range [Start, Stop) in a source file.
type Span struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
}

// Inside reports whether s lies entirely within other.
func (s Span) Inside(other Span) bool {
	return other.Start <= s.Start && s.Start <= s.Stop && s.Stop <= other.Stop
}

// Len returns the length of the span.
func (s Span) Len() int {
	return s.Stop - s.Start
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d", s.Start, s.Stop)
}

// Record is one expanded source map entry, describing a single instruction.
type Record struct {
	Start    int
	Length   int
	SourceID int
	Jump     JumpKind
}

// Mapped reports whether the record points at source code.
func (r Record) Mapped() bool {
	return r.SourceID >= 0 && r.Start >= 0
}

// Span returns the source span of the record.
func (r Record) Span() Span {
	return Span{Start: r.Start, Stop: r.Start + r.Length}
}

// Decode expands a compressed source map. Every empty field inherits the same
// field of the previous record; fields absent from the first record are -1.
func Decode(s string) ([]Record, error) {
	if s == "" {
		return nil, nil
	}

	entries := strings.Split(s, ";")
	records := make([]Record, 0, len(entries))
	prev := Record{Start: -1, Length: -1, SourceID: -1, Jump: JumpNone}

	for i, entry := range entries {
		rec := prev
		// a fifth field (modifier depth) is ignored
		fields := strings.Split(entry, ":")
		for x := 0; x < len(fields) && x < 4; x++ {
			field := fields[x]
			if field == "" {
				continue
			}
			if x == 3 {
				kind, err := parseJump(field)
				if err != nil {
					return nil, fmt.Errorf("record %d: %w", i, err)
				}
				rec.Jump = kind
				continue
			}
			value, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("%w: record %d field %d: %q", ErrInvalidField, i, x, field)
			}
			switch x {
			case 0:
				rec.Start = value
			case 1:
				rec.Length = value
			case 2:
				rec.SourceID = value
			}
		}
		records = append(records, rec)
		prev = rec
	}

	return records, nil
}

// TrimUnmapped drops trailing records that have no source unit. The optimizer
// may append such records beyond the end of the real instruction stream.
func TrimUnmapped(records []Record) []Record {
	end := len(records)
	for end > 0 && records[end-1].SourceID == -1 {
		end--
	}
	return records[:end]
}

// Package artifact reads solc standard JSON output into compilation units.
package artifact

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/stable-net/evmcov/pkg/pcmap"
	"github.com/stable-net/evmcov/pkg/solast"
)

// Common errors.
var (
	ErrInvalidOutput = errors.New("invalid compiler output")
	ErrMissingText   = errors.New("source text not given")
	ErrUnlinked      = errors.New("unresolved link placeholder")
)

type linkRef struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

type bytecodeJSON struct {
	Object         string                          `json:"object"`
	SourceMap      string                          `json:"sourceMap"`
	Opcodes        string                          `json:"opcodes"`
	LinkReferences map[string]map[string][]linkRef `json:"linkReferences"`
}

type contractJSON struct {
	ABI json.RawMessage `json:"abi"`
	EVM struct {
		Bytecode          bytecodeJSON      `json:"bytecode"`
		DeployedBytecode  bytecodeJSON      `json:"deployedBytecode"`
		MethodIdentifiers map[string]string `json:"methodIdentifiers"`
	} `json:"evm"`
}

type standardOutput struct {
	Sources map[string]struct {
		ID  int             `json:"id"`
		AST json.RawMessage `json:"ast"`
	} `json:"sources"`
	Contracts map[string]map[string]contractJSON `json:"contracts"`
}

// ParseStandardOutput reads the sources and contracts of a solc standard
// JSON output. texts maps source paths to their text; every source in the
// output needs one. Units are returned sorted by path and name.
func ParseStandardOutput(output []byte, texts map[string]string, version string) ([]*pcmap.Unit, pcmap.Sources, error) {
	var out standardOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	sources := make(pcmap.Sources, len(out.Sources))
	byPath := make(map[string]*pcmap.Source, len(out.Sources))
	// contract definition node id -> source id
	owners := make(map[int]int)
	for path, s := range out.Sources {
		text, ok := texts[path]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingText, path)
		}
		root, err := solast.Parse(s.AST)
		if err != nil {
			return nil, nil, fmt.Errorf("parse ast of %s: %w", path, err)
		}
		src := &pcmap.Source{ID: s.ID, Path: path, AST: root, Text: text}
		sources[s.ID] = src
		byPath[path] = src
		for _, c := range root.Contracts() {
			owners[c.ID] = s.ID
		}
	}

	var units []*pcmap.Unit
	for path, contracts := range out.Contracts {
		src, ok := byPath[path]
		if !ok {
			return nil, nil, fmt.Errorf("%w: contracts for unknown source %s", ErrInvalidOutput, path)
		}
		for name, c := range contracts {
			unit, err := newUnit(src, name, version, &c, owners)
			if err != nil {
				return nil, nil, fmt.Errorf("%s:%s: %w", path, name, err)
			}
			units = append(units, unit)
		}
	}
	sort.Slice(units, func(i, j int) bool {
		if units[i].Path != units[j].Path {
			return units[i].Path < units[j].Path
		}
		return units[i].Name < units[j].Name
	})
	log.Debug("Parsed compiler output", "sources", len(sources), "units", len(units))
	return units, sources, nil
}

func newUnit(src *pcmap.Source, name, version string, c *contractJSON, owners map[int]int) (*pcmap.Unit, error) {
	runtime, err := linkedBytecode(&c.EVM.DeployedBytecode)
	if err != nil {
		return nil, err
	}
	deploy, err := linkedBytecode(&c.EVM.Bytecode)
	if err != nil {
		return nil, err
	}

	unit := &pcmap.Unit{
		Name:            name,
		SourceID:        src.ID,
		Path:            src.Path,
		CompilerVersion: version,
		RuntimeBytecode: runtime,
		DeployBytecode:  deploy,
		Opcodes:         c.EVM.DeployedBytecode.Opcodes,
		SourceMap:       c.EVM.DeployedBytecode.SourceMap,
		Selectors:       make(map[string]string),
	}

	for _, node := range src.AST.Contracts() {
		if node.Name != name {
			continue
		}
		unit.Dependencies = dependencies(node, owners)
		break
	}

	parsed, err := parseABI(c.ABI)
	if err != nil {
		return nil, err
	}
	unit.HasFallback = parsed.HasFallback()
	for sig, selector := range c.EVM.MethodIdentifiers {
		if i := strings.IndexByte(sig, '('); i > 0 {
			sig = sig[:i]
		}
		unit.Selectors[strings.ToLower(selector)] = sig
	}
	if len(c.EVM.MethodIdentifiers) == 0 {
		for _, m := range parsed.Methods {
			unit.Selectors[Selector(m.Sig)] = m.RawName
		}
	}
	return unit, nil
}

// dependencies returns the source ids of the contract's linearized bases and
// contract dependencies, without the contract's own source.
func dependencies(node *solast.Node, owners map[int]int) []int {
	seen := map[int]struct{}{node.SourceID: {}}
	var out []int
	for _, ids := range [][]int{node.BaseContracts, node.ContractDeps} {
		for _, id := range ids {
			sourceID, ok := owners[id]
			if !ok {
				continue
			}
			if _, dup := seen[sourceID]; dup {
				continue
			}
			seen[sourceID] = struct{}{}
			out = append(out, sourceID)
		}
	}
	sort.Ints(out)
	return out
}

func parseABI(raw json.RawMessage) (abi.ABI, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return abi.ABI{}, nil
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("%w: abi: %v", ErrInvalidOutput, err)
	}
	return parsed, nil
}

// linkedBytecode decodes a bytecode object with every library link
// placeholder replaced by the zero address.
func linkedBytecode(b *bytecodeJSON) ([]byte, error) {
	object := []byte(strings.TrimPrefix(b.Object, "0x"))
	for _, libs := range b.LinkReferences {
		for _, refs := range libs {
			for _, ref := range refs {
				start, end := ref.Start*2, (ref.Start+ref.Length)*2
				if start < 0 || end > len(object) {
					return nil, fmt.Errorf("%w: link reference %d:%d out of range", ErrInvalidOutput, ref.Start, ref.Length)
				}
				copy(object[start:end], strings.Repeat("0", end-start))
			}
		}
	}
	if bytes.Contains(object, []byte("__")) {
		return nil, ErrUnlinked
	}
	code, err := hex.DecodeString(string(object))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return code, nil
}

// Selector returns the 4 byte selector of a canonical function signature as
// 8 lowercase hex characters.
func Selector(signature string) string {
	return common.Bytes2Hex(crypto.Keccak256([]byte(signature))[:4])
}

package analysis

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stable-net/evmcov/pkg/pcmap"
)

// Contract is a registered compilation unit.
type Contract struct {
	Unit    *pcmap.Unit
	Sources pcmap.Sources

	key      common.Hash
	fallback *pcmap.Result
	session  *Session
}

// Name returns the unit name.
func (c *Contract) Name() string {
	return c.Unit.Name
}

// Map returns the instruction map of the contract.
func (c *Contract) Map() (*pcmap.Result, error) {
	return c.session.resultFor(c)
}

// FunctionName resolves a 4 byte selector, given as hex, to "Name.fn". Unknown
// selectors resolve to "Name.<selector>".
func (c *Contract) FunctionName(selector string) string {
	selector = strings.ToLower(strings.TrimPrefix(selector, "0x"))
	if fn, ok := c.Unit.Selectors[selector]; ok {
		return c.Unit.Name + "." + fn
	}
	return c.Unit.Name + "." + selector
}

// Text returns the source text of path.
func (c *Contract) Text(path string) (string, bool) {
	for _, src := range c.Sources {
		if src.Path == path {
			return src.Text, true
		}
	}
	return "", false
}

// Texts maps every source path of the contract to its text.
func (c *Contract) Texts() map[string]string {
	out := make(map[string]string, len(c.Sources))
	for _, src := range c.Sources {
		out[src.Path] = src.Text
	}
	return out
}

// FunctionName resolves a selector called on a contract that may be unknown.
func FunctionName(c *Contract, selector string) string {
	if c == nil {
		return UnknownContract + "." + strings.TrimPrefix(selector, "0x")
	}
	return c.FunctionName(selector)
}

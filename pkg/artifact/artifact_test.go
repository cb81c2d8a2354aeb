package artifact

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stable-net/evmcov/pkg/solast"
	"github.com/stable-net/evmcov/pkg/solast/solasttest"
)

const (
	baseText  = "contract Base { function ping() public {} }\n"
	tokenText = "import \"./Base.sol\";\ncontract Token is Base { fallback() external {} }\n"
)

var placeholder = "__$" + strings.Repeat("a", 34) + "$__"

type fixture struct {
	output map[string]interface{}
	texts  map[string]string
}

func setupOutput(t *testing.T) *fixture {
	t.Helper()

	base := solasttest.New(baseText, 0)
	baseContract := base.Contract("Base", base.Between("contract", 0, "}", 1))
	baseID := baseContract["id"]

	token := solasttest.New(tokenText, 1)
	tokenContract := token.Node("ContractDefinition", token.Between("contract", 0, "}", 1), solasttest.Node{
		"name":                 "Token",
		"contractKind":         "contract",
		"nodes":                []interface{}{},
		"contractDependencies": []interface{}{},
	})
	tokenContract["linearizedBaseContracts"] = []interface{}{tokenContract["id"], baseID}

	transfer := map[string]interface{}{
		"type": "function", "name": "transfer", "stateMutability": "nonpayable",
		"inputs": []interface{}{
			map[string]interface{}{"name": "to", "type": "address"},
			map[string]interface{}{"name": "amount", "type": "uint256"},
		},
		"outputs": []interface{}{map[string]interface{}{"name": "", "type": "bool"}},
	}
	fallback := map[string]interface{}{"type": "fallback", "stateMutability": "nonpayable"}

	output := map[string]interface{}{
		"sources": map[string]interface{}{
			"Base.sol":  map[string]interface{}{"id": 0, "ast": base.Unit("Base.sol", baseContract)},
			"Token.sol": map[string]interface{}{"id": 1, "ast": token.Unit("Token.sol", tokenContract)},
		},
		"contracts": map[string]interface{}{
			"Base.sol": map[string]interface{}{
				"Base": map[string]interface{}{
					"abi": []interface{}{},
					"evm": map[string]interface{}{
						"bytecode":          map[string]interface{}{"object": "6080"},
						"deployedBytecode":  map[string]interface{}{"object": "00", "sourceMap": "0:43:0:-:0", "opcodes": "STOP "},
						"methodIdentifiers": map[string]interface{}{"ping()": "5C36B186"},
					},
				},
			},
			"Token.sol": map[string]interface{}{
				"Token": map[string]interface{}{
					"abi": []interface{}{transfer, fallback},
					"evm": map[string]interface{}{
						"bytecode": map[string]interface{}{"object": "6080"},
						"deployedBytecode": map[string]interface{}{
							"object":    "73" + placeholder + "50",
							"sourceMap": "21:51:1:-:0;;",
							"opcodes":   "PUSH20 0x0 POP ",
							"linkReferences": map[string]interface{}{
								"Lib.sol": map[string]interface{}{
									"Lib": []interface{}{map[string]interface{}{"start": 1, "length": 20}},
								},
							},
						},
					},
				},
			},
		},
	}
	return &fixture{
		output: output,
		texts:  map[string]string{"Base.sol": baseText, "Token.sol": tokenText},
	}
}

func (f *fixture) json(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(f.output)
	require.NoError(t, err)
	return data
}

func TestParseStandardOutput(t *testing.T) {
	f := setupOutput(t)

	units, sources, err := ParseStandardOutput(f.json(t), f.texts, "0.8.19+commit.7dd6d404")
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.Len(t, sources, 2)

	base, token := units[0], units[1]
	assert.Equal(t, "Base", base.Name)
	assert.Equal(t, "Base.sol", base.Path)
	assert.Equal(t, 0, base.SourceID)
	assert.Empty(t, base.Dependencies)
	assert.False(t, base.HasFallback)
	assert.Equal(t, map[string]string{"5c36b186": "ping"}, base.Selectors)
	assert.Equal(t, []byte{0x00}, base.RuntimeBytecode)
	assert.Equal(t, []byte{0x60, 0x80}, base.DeployBytecode)

	assert.Equal(t, "Token", token.Name)
	assert.Equal(t, 1, token.SourceID)
	assert.Equal(t, "0.8.19+commit.7dd6d404", token.CompilerVersion)
	assert.Equal(t, []int{0}, token.Dependencies)
	assert.Equal(t, []int{1, 0}, token.SourceIDs())
	assert.True(t, token.HasFallback)
	assert.Equal(t, map[string]string{"a9059cbb": "transfer"}, token.Selectors)
	assert.Equal(t, "21:51:1:-:0;;", token.SourceMap)
	assert.Equal(t, "PUSH20 0x0 POP ", token.Opcodes)

	want := append(append([]byte{0x73}, make([]byte, 20)...), 0x50)
	assert.Equal(t, want, token.RuntimeBytecode)

	assert.Equal(t, tokenText, sources[1].Text)
	assert.Equal(t, "Token.sol", sources[1].Path)
	require.NotNil(t, sources[1].AST)
	assert.Len(t, sources[1].AST.Contracts(), 1)
}

func TestParseStandardOutput_MissingText(t *testing.T) {
	f := setupOutput(t)
	delete(f.texts, "Base.sol")

	_, _, err := ParseStandardOutput(f.json(t), f.texts, "0.8.19")
	assert.ErrorIs(t, err, ErrMissingText)
}

func TestParseStandardOutput_Unlinked(t *testing.T) {
	f := setupOutput(t)
	token := f.output["contracts"].(map[string]interface{})["Token.sol"].(map[string]interface{})["Token"].(map[string]interface{})
	deployed := token["evm"].(map[string]interface{})["deployedBytecode"].(map[string]interface{})
	delete(deployed, "linkReferences")

	_, _, err := ParseStandardOutput(f.json(t), f.texts, "0.8.19")
	assert.ErrorIs(t, err, ErrUnlinked)
}

func TestParseStandardOutput_Invalid(t *testing.T) {
	_, _, err := ParseStandardOutput([]byte("{"), nil, "")
	assert.ErrorIs(t, err, ErrInvalidOutput)

	f := setupOutput(t)
	f.output["sources"].(map[string]interface{})["Base.sol"] = map[string]interface{}{"id": 0, "ast": map[string]interface{}{"src": "0:1:0"}}
	_, _, err = ParseStandardOutput(f.json(t), f.texts, "")
	assert.ErrorIs(t, err, solast.ErrInvalidAST)
}

func TestSelector(t *testing.T) {
	assert.Equal(t, "a9059cbb", Selector("transfer(address,uint256)"))
	assert.Equal(t, "70a08231", Selector("balanceOf(address)"))
}

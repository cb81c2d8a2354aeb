package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stable-net/evmcov/pkg/analysis"
	"github.com/stable-net/evmcov/pkg/artifact"
	"github.com/stable-net/evmcov/pkg/pcmap/pcmaptest"
	"github.com/stable-net/evmcov/pkg/trace"
)

func TestReadTexts(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.json")
	require.NoError(t, os.WriteFile(inputPath, []byte(`{"sources": {"A.sol": {"content": "contract A {}"}, "B.sol": {"urls": []}}}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "B.sol"), []byte("contract B {}"), 0o644))

	texts, err := readTexts(inputPath, dir, []string{"A.sol", "C.sol"})
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrMissingText)
	assert.Nil(t, texts)

	texts, err = readTexts(inputPath, filepath.Join(dir, "src"), []string{"A.sol", "B.sol"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A.sol": "contract A {}", "B.sol": "contract B {}"}, texts)

	texts, err = readTexts("", dir, []string{"src/B.sol"})
	require.NoError(t, err)
	assert.Equal(t, "contract B {}", texts["src/B.sol"])
}

func TestSourcePaths(t *testing.T) {
	paths, err := sourcePaths([]byte(`{"sources": {"b.sol": {"id": 1}, "a.sol": {"id": 0}}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.sol", "b.sol"}, paths)

	_, err = sourcePaths([]byte("{"))
	assert.ErrorIs(t, err, artifact.ErrInvalidOutput)
}

func TestParseHash(t *testing.T) {
	want := common.HexToHash("0x7e57")
	got, err := parseHash(want.Hex())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = parseHash("0x1234")
	assert.Error(t, err)
}

func TestWorkspace_MatchCreation(t *testing.T) {
	s := analysis.NewSession(4)
	f := pcmaptest.Tester()

	long := *f.Unit
	long.DeployBytecode = []byte{0x60, 0x80, 0x60, 0x40}
	_, err := s.Register(&long, f.Sources)
	require.NoError(t, err)

	short := *f.Unit
	short.Name = "Short"
	short.DeployBytecode = []byte{0x60, 0x80}
	_, err = s.Register(&short, f.Sources)
	require.NoError(t, err)

	w := &workspace{session: s}
	created := common.HexToAddress("0xc0ffee")
	r := &trace.Receipt{
		Status:          1,
		ContractAddress: created,
		Input:           []byte{0x60, 0x80, 0x60, 0x40, 0x00, 0x2a},
	}
	require.True(t, w.matchCreation(r))
	c, ok := s.ContractAt(created)
	require.True(t, ok)
	assert.Equal(t, f.Unit.Name, c.Name())

	r.Input = []byte{0x60, 0x80, 0x00}
	r.ContractAddress = common.HexToAddress("0xbeef")
	require.True(t, w.matchCreation(r))
	c, _ = s.ContractAt(r.ContractAddress)
	assert.Equal(t, "Short", c.Name())

	r.Status = 0
	assert.False(t, w.matchCreation(r))

	r.Status = 1
	r.To = &created
	assert.False(t, w.matchCreation(r))

	r.To = nil
	r.Input = []byte{0xfe}
	assert.False(t, w.matchCreation(r))
}

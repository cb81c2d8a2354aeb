package analysis

import (
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stable-net/evmcov/pkg/pcmap"
	"github.com/stable-net/evmcov/pkg/pcmap/pcmaptest"
)

const nonPayable = "Cannot send ether to nonpayable function"

func setupSession(t *testing.T) (*Session, *pcmaptest.Fixture) {
	t.Helper()
	s := NewSession(0)
	f := pcmaptest.Tester()
	_, err := s.Register(f.Unit, f.Sources)
	require.NoError(t, err)
	return s, f
}

// twin registers a copy of the Tester fixture under another name with the
// dev comment text replaced.
func twin(t *testing.T, s *Session, f *pcmaptest.Fixture, name, comment string) {
	t.Helper()
	require.Len(t, comment, len("not four"))
	unit := *f.Unit
	unit.Name = name
	src := *f.Source
	src.Text = strings.Replace(src.Text, "not four", comment, 1)
	_, err := s.Register(&unit, pcmap.Sources{src.ID: &src})
	require.NoError(t, err)
}

func TestSession_Register(t *testing.T) {
	s, f := setupSession(t)

	c, ok := s.Contract("Tester")
	require.True(t, ok)
	assert.Equal(t, "Tester", c.Name())
	assert.Equal(t, []string{"Tester"}, s.Contracts())

	result, err := c.Map()
	require.NoError(t, err)
	assert.Equal(t, 5, result.StatementCount())
	assert.Equal(t, 4, result.BranchCount())
	again, err := c.Map()
	require.NoError(t, err)
	assert.Same(t, result, again)

	text, ok := c.Text("contracts/Tester.sol")
	require.True(t, ok)
	assert.Equal(t, f.Source.Text, text)
	assert.Equal(t, map[string]string{"contracts/Tester.sol": f.Source.Text}, c.Texts())

	_, ok = s.Contract("Missing")
	assert.False(t, ok)
}

func TestSession_RegisterErrors(t *testing.T) {
	s := NewSession(0)
	_, err := s.Register(nil, nil)
	assert.ErrorIs(t, err, ErrNilUnit)

	f := pcmaptest.Tester()
	unit := *f.Unit
	unit.Opcodes = ""
	_, err = s.Register(&unit, f.Sources)
	assert.ErrorIs(t, err, pcmap.ErrEmptyOpcodes)
	assert.Empty(t, s.Contracts())
}

func TestSession_MapEviction(t *testing.T) {
	s := NewSession(1)
	tester := pcmaptest.Tester()
	branch := pcmaptest.Branch()
	c, err := s.Register(tester.Unit, tester.Sources)
	require.NoError(t, err)
	_, err = s.Register(branch.Unit, branch.Sources)
	require.NoError(t, err)

	result, err := c.Map()
	require.NoError(t, err)
	assert.Equal(t, 5, result.StatementCount())
}

func TestSession_Deploy(t *testing.T) {
	s, _ := setupSession(t)
	addr := common.HexToAddress("0x1000")

	assert.ErrorIs(t, s.Deploy(addr, "Missing"), ErrUnknownContract)
	_, ok := s.ContractAt(addr)
	assert.False(t, ok)

	require.NoError(t, s.Deploy(addr, "Tester"))
	c, ok := s.ContractAt(addr)
	require.True(t, ok)
	assert.Equal(t, "Tester", c.Name())
}

func TestSession_DevComment(t *testing.T) {
	s, f := setupSession(t)
	guard := f.PC(pcmaptest.TesterGuardRevert)
	jump := f.PC(pcmaptest.TesterRequireJumpI)

	msg, ok := s.DevComment(guard)
	require.True(t, ok)
	assert.Equal(t, nonPayable, msg)

	msg, ok = s.DevComment(jump)
	require.True(t, ok)
	assert.Equal(t, "not four", msg)

	msg, ok = s.DevCommentFor("Tester", jump)
	require.True(t, ok)
	assert.Equal(t, "not four", msg)

	_, ok = s.DevComment(f.PC(pcmaptest.TesterMessageRevert))
	assert.False(t, ok)
	_, ok = s.DevCommentFor("Missing", jump)
	assert.False(t, ok)
}

func TestSession_DevCommentAmbiguous(t *testing.T) {
	s, f := setupSession(t)
	jump := f.PC(pcmaptest.TesterRequireJumpI)

	twin(t, s, f, "Same", "not four")
	msg, ok := s.DevComment(jump)
	require.True(t, ok, "agreeing contracts keep the pc")
	assert.Equal(t, "not four", msg)

	twin(t, s, f, "Other", "never 4!")
	_, ok = s.DevComment(jump)
	assert.False(t, ok)

	msg, ok = s.DevCommentFor("Other", jump)
	require.True(t, ok)
	assert.Equal(t, "never 4!", msg)

	msg, ok = s.DevComment(f.PC(pcmaptest.TesterGuardRevert))
	require.True(t, ok)
	assert.Equal(t, nonPayable, msg)
}

func TestSession_SaveLoadDevComments(t *testing.T) {
	s, f := setupSession(t)
	db := memorydb.New()
	require.NoError(t, s.SaveDevComments(db))

	fresh := NewSession(0)
	require.NoError(t, fresh.LoadDevComments(db))
	msg, ok := fresh.DevCommentFor("Tester", f.PC(pcmaptest.TesterRequireJumpI))
	require.True(t, ok)
	assert.Equal(t, "not four", msg)

	msg, ok = fresh.DevComment(f.PC(pcmaptest.TesterGuardRevert))
	require.True(t, ok)
	assert.Equal(t, nonPayable, msg)
}

func TestSession_LoadDevCommentsCorrupt(t *testing.T) {
	db := memorydb.New()
	require.NoError(t, db.Put([]byte("dev-Broken"), []byte("[")))
	assert.Error(t, NewSession(0).LoadDevComments(db))
}

func TestSession_Concurrent(t *testing.T) {
	s, f := setupSession(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, ok := s.Contract("Tester")
			if assert.True(t, ok) {
				_, err := c.Map()
				assert.NoError(t, err)
			}
			s.DevComment(f.PC(pcmaptest.TesterGuardRevert))
		}()
	}
	twin(t, s, f, "Same", "not four")
	wg.Wait()
}

func TestContract_FunctionName(t *testing.T) {
	s, f := setupSession(t)
	f.Unit.Selectors["1a2b3c4d"] = "check"
	c, _ := s.Contract("Tester")

	assert.Equal(t, "Tester.check", c.FunctionName("1a2b3c4d"))
	assert.Equal(t, "Tester.check", c.FunctionName("0x1A2B3C4D"))
	assert.Equal(t, "Tester.deadbeef", c.FunctionName("deadbeef"))
	assert.Equal(t, "Tester.check", FunctionName(c, "1a2b3c4d"))
	assert.Equal(t, "<UnknownContract>.deadbeef", FunctionName(nil, "0xdeadbeef"))
}

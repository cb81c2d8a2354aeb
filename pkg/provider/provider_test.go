package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient answers calls with canned JSON responses and records the
// arguments of each call.
type mockRPCClient struct {
	responses map[string]string
	calls     map[string][][]interface{}
	deadlines map[string]bool
	closed    bool
}

func newMockRPCClient() *mockRPCClient {
	return &mockRPCClient{
		responses: make(map[string]string),
		calls:     make(map[string][][]interface{}),
		deadlines: make(map[string]bool),
	}
}

func (m *mockRPCClient) Call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if m.closed {
		return errors.New("client closed")
	}
	m.calls[method] = append(m.calls[method], args)
	_, m.deadlines[method] = ctx.Deadline()

	resp, exists := m.responses[method]
	if !exists {
		return errors.New("method not found")
	}
	return json.Unmarshal([]byte(resp), result)
}

func (m *mockRPCClient) Close() {
	m.closed = true
}

func (m *mockRPCClient) SetResponse(method, response string) {
	m.responses[method] = response
}

func setupProvider(t *testing.T) (*Provider, *mockRPCClient) {
	t.Helper()
	client := newMockRPCClient()
	return NewProvider(client, 0), client
}

const txHash = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

const txJSON = `{
	"hash": "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060",
	"nonce": "0x7",
	"from": "0x66aB6D9362d4F35596279692F0251Db635165871",
	"to": "0x3194cBDC3dbcd3E11a07892e7bA5c3394048Cc87",
	"value": "0x10",
	"input": "0x1a2b3c4d"
}`

func TestDial_NoURL(t *testing.T) {
	_, err := Dial(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoURL)
}

func TestProvider_BlockNumber(t *testing.T) {
	p, client := setupProvider(t)
	client.SetResponse("eth_blockNumber", `"0x1b4"`)

	height, err := p.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(436), height)
}

func TestProvider_RPCError(t *testing.T) {
	p, _ := setupProvider(t)
	_, err := p.BlockNumber(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eth_blockNumber")
}

func TestProvider_Timeout(t *testing.T) {
	client := newMockRPCClient()
	client.SetResponse("eth_blockNumber", `"0x1"`)

	_, err := NewProvider(client, time.Second).BlockNumber(context.Background())
	require.NoError(t, err)
	assert.True(t, client.deadlines["eth_blockNumber"])

	_, err = NewProvider(client, 0).BlockNumber(context.Background())
	require.NoError(t, err)
	assert.False(t, client.deadlines["eth_blockNumber"])
}

func TestProvider_Snapshot(t *testing.T) {
	p, client := setupProvider(t)

	client.SetResponse("evm_snapshot", `"0x3"`)
	id, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0x3", id)

	client.SetResponse("evm_snapshot", `12`)
	id, err = p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0xc", id)

	client.SetResponse("evm_snapshot", `{}`)
	_, err = p.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestProvider_Revert(t *testing.T) {
	p, client := setupProvider(t)
	client.SetResponse("evm_revert", `true`)

	ok, err := p.Revert(context.Background(), "0x3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []interface{}{"0x3"}, client.calls["evm_revert"][0])

	client.SetResponse("evm_revert", `false`)
	ok, err = p.Revert(context.Background(), "0x9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProvider_TraceTransaction(t *testing.T) {
	p, client := setupProvider(t)
	client.SetResponse("debug_traceTransaction", `{
		"gas": 23000,
		"failed": true,
		"returnValue": "",
		"structLogs": [
			{"pc": 0, "op": "PUSH1", "gas": 79000, "gasCost": 3, "depth": 1, "stack": [], "memory": []},
			{"pc": 2, "op": "REVERT", "gas": 78997, "gasCost": 0, "depth": 1,
			 "stack": ["0x0", "0x0"], "error": "execution reverted"}
		]
	}`)

	steps, err := p.TraceTransaction(context.Background(), common.HexToHash(txHash))
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "REVERT", steps[1].Op)
	assert.Equal(t, uint64(2), steps[1].PC)
	assert.Equal(t, 1, steps[1].Depth)
	assert.True(t, steps[1].IsFailure())

	args := client.calls["debug_traceTransaction"][0]
	require.Len(t, args, 2)
	assert.Equal(t, traceConfig{EnableMemory: true, DisableStorage: true}, args[1])
}

func TestProvider_TransactionReceipt(t *testing.T) {
	p, client := setupProvider(t)
	client.SetResponse("eth_getTransactionByHash", txJSON)
	client.SetResponse("eth_getTransactionReceipt", `{
		"blockNumber": "0x5",
		"transactionIndex": "0x0",
		"status": "0x1",
		"gasUsed": "0x6b5c",
		"contractAddress": null
	}`)

	r, err := p.TransactionReceipt(context.Background(), common.HexToHash(txHash))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), r.BlockNumber)
	assert.Equal(t, uint64(7), r.Nonce)
	assert.Equal(t, common.HexToAddress("0x66aB6D9362d4F35596279692F0251Db635165871"), r.From)
	require.NotNil(t, r.To)
	assert.Equal(t, common.HexToAddress("0x3194cBDC3dbcd3E11a07892e7bA5c3394048Cc87"), *r.To)
	assert.Equal(t, int64(16), r.Value.Int64())
	assert.Equal(t, common.FromHex("0x1a2b3c4d"), r.Input)
	assert.Equal(t, uint64(27484), r.GasUsed)
	assert.False(t, r.Failed())
	assert.Equal(t, -1, r.RevertPC)
}

func TestProvider_TransactionReceipt_Reverted(t *testing.T) {
	p, client := setupProvider(t)
	client.SetResponse("eth_getTransactionByHash", txJSON)
	client.SetResponse("eth_getTransactionReceipt", `{
		"blockNumber": "0x5",
		"transactionIndex": "0x1",
		"status": "0x0",
		"gasUsed": "0x6b5c",
		"revertReason": "0x08c379a0000000000000000000000000000000000000000000000000000000000000002000000000000000000000000000000000000000000000000000000000000000057468726565000000000000000000000000000000000000000000000000000000",
		"programCounter": "0x81"
	}`)

	r, err := p.TransactionReceipt(context.Background(), common.HexToHash(txHash))
	require.NoError(t, err)
	assert.True(t, r.Failed())
	assert.Equal(t, uint(1), r.Index)
	assert.Equal(t, "three", r.RevertMsg)
	assert.Equal(t, 0x81, r.RevertPC)
}

func TestProvider_TransactionReceipt_Missing(t *testing.T) {
	p, client := setupProvider(t)
	client.SetResponse("eth_getTransactionByHash", `null`)
	_, err := p.TransactionReceipt(context.Background(), common.HexToHash(txHash))
	assert.ErrorIs(t, err, ErrUnknownTx)

	client.SetResponse("eth_getTransactionByHash", txJSON)
	client.SetResponse("eth_getTransactionReceipt", `null`)
	_, err = p.TransactionReceipt(context.Background(), common.HexToHash(txHash))
	assert.ErrorIs(t, err, ErrPendingReceipt)
}

func TestProvider_Close(t *testing.T) {
	p, client := setupProvider(t)
	p.Close()
	assert.True(t, client.closed)

	_, err := p.BlockNumber(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	p.Close()
}

package evm

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeledger/internal/chain"
)

type fakeRaw struct {
	blocks map[string]string
	err    error
}

func (f *fakeRaw) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if f.err != nil {
		return f.err
	}
	body, ok := f.blocks[args[0].(string)]
	if !ok {
		body = "null"
	}
	return json.Unmarshal([]byte(body), result)
}

type fakeBackend struct {
	head     uint64
	receipts map[common.Hash]*types.Receipt
	calls    map[string][]byte
	callErr  error
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeBackend) TransactionReceipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	for name, m := range erc20ABI.Methods {
		if string(m.ID) == string(msg.Data[:4]) {
			return f.calls[name], nil
		}
	}
	return nil, errors.New("execution reverted")
}

const blockJSON = `{
	"number": "0x10",
	"timestamp": "0x65a0f000",
	"transactions": [
		{"hash": "0x1111111111111111111111111111111111111111111111111111111111111111",
		 "from": "0xAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaa",
		 "to": "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
		 "transactionIndex": "0x0",
		 "type": "0x2"},
		{"hash": 12},
		{"hash": "0x2222222222222222222222222222222222222222222222222222222222222222",
		 "from": "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		 "to": null,
		 "transactionIndex": "0x2",
		 "type": "0x7e"}
	]
}`

func newTestAdapter(raw RawCaller, be Backend) *Adapter {
	return New(Config{
		Name:       "ethereum",
		RPCTimeout: time.Second,
		Routers:    []string{"0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"},
	}, raw, be)
}

func TestAdapter_Block(t *testing.T) {
	t.Run("decodes block and skips malformed transactions", func(t *testing.T) {
		a := newTestAdapter(&fakeRaw{blocks: map[string]string{"0x10": blockJSON}}, &fakeBackend{})

		b, err := a.Block(context.Background(), 16)
		require.NoError(t, err)
		assert.Equal(t, uint64(16), b.Number)
		assert.Equal(t, 1, b.Skipped)
		require.Len(t, b.Txs, 2)
		assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", b.Txs[0].From)
		assert.Equal(t, uint64(16), b.Txs[0].Block)
		assert.Equal(t, "0x7a250d5630b4cf539739df2c5dacb4c659f2488d", b.Txs[0].To)
		assert.Equal(t, "", b.Txs[1].To)
		assert.Equal(t, 2, b.Txs[1].Index)
	})

	t.Run("missing block is an error", func(t *testing.T) {
		a := newTestAdapter(&fakeRaw{blocks: map[string]string{}}, &fakeBackend{})
		_, err := a.Block(context.Background(), 99)
		assert.ErrorIs(t, err, ethereum.NotFound)
	})

	t.Run("rpc failure", func(t *testing.T) {
		a := newTestAdapter(&fakeRaw{err: errors.New("connection refused")}, &fakeBackend{})
		_, err := a.Block(context.Background(), 16)
		assert.Error(t, err)
	})
}

func TestAdapter_Transfers(t *testing.T) {
	txHash := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	lg := pinnedTransferLog()
	lg.TxHash = txHash
	approval := &types.Log{Topics: []common.Hash{common.HexToHash("0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925")}}

	be := &fakeBackend{receipts: map[common.Hash]*types.Receipt{
		txHash: {Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{approval, lg}},
	}}
	a := newTestAdapter(&fakeRaw{}, be)
	tx := chain.Tx{Hash: txHash.Hex(), To: "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"}

	t.Run("decodes transfer logs", func(t *testing.T) {
		out, err := a.Transfers(context.Background(), tx)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "ethereum", out[0].Chain)
		assert.Equal(t, tx.To, out[0].TxTo)
		assert.Equal(t, txHash.Hex(), out[0].TxHash)
	})

	t.Run("reverted receipt yields nothing", func(t *testing.T) {
		be.receipts[txHash].Status = types.ReceiptStatusFailed
		defer func() { be.receipts[txHash].Status = types.ReceiptStatusSuccessful }()

		out, err := a.Transfers(context.Background(), tx)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("missing receipt", func(t *testing.T) {
		_, err := a.Transfers(context.Background(), chain.Tx{Hash: common.HexToHash("0x99").Hex()})
		assert.ErrorIs(t, err, ethereum.NotFound)
	})
}

func TestAdapter_Metadata(t *testing.T) {
	symbol, err := erc20ABI.Methods["symbol"].Outputs.Pack("USDC")
	require.NoError(t, err)
	name, err := erc20ABI.Methods["name"].Outputs.Pack("USD Coin")
	require.NoError(t, err)
	decimals, err := erc20ABI.Methods["decimals"].Outputs.Pack(uint8(6))
	require.NoError(t, err)

	token := "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"

	t.Run("string returns", func(t *testing.T) {
		a := newTestAdapter(&fakeRaw{}, &fakeBackend{calls: map[string][]byte{
			"symbol": symbol, "name": name, "decimals": decimals,
		}})
		s, err := a.TokenSymbol(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "USDC", s)

		n, err := a.TokenName(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "USD Coin", n)

		d, err := a.TokenDecimals(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, uint8(6), d)
	})

	t.Run("bytes32 symbol", func(t *testing.T) {
		raw := common.RightPadBytes([]byte("MKR"), 32)
		a := newTestAdapter(&fakeRaw{}, &fakeBackend{calls: map[string][]byte{"symbol": raw}})
		s, err := a.TokenSymbol(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "MKR", s)
	})

	t.Run("empty result", func(t *testing.T) {
		a := newTestAdapter(&fakeRaw{}, &fakeBackend{calls: map[string][]byte{}})
		_, err := a.TokenDecimals(context.Background(), token)
		assert.Error(t, err)
	})

	t.Run("invalid address", func(t *testing.T) {
		a := newTestAdapter(&fakeRaw{}, &fakeBackend{})
		_, err := a.TokenSymbol(context.Background(), "not-an-address")
		assert.Error(t, err)
	})
}

func TestAdapter_IsRouter(t *testing.T) {
	a := newTestAdapter(&fakeRaw{}, &fakeBackend{})
	assert.True(t, a.IsRouter("0x7A250D5630B4CF539739DF2C5DACB4C659F2488D"))
	assert.False(t, a.IsRouter("0x0000000000000000000000000000000000000001"))
}

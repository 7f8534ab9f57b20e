// Package evm implements chain.Adapter for EVM JSON-RPC endpoints.
package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tradeledger/internal/chain"
	"tradeledger/internal/metrics"
)

// Backend is the subset of ethclient.Client the adapter uses.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RawCaller issues raw JSON-RPC calls. Blocks are fetched raw so one
// transaction type unknown to go-ethereum cannot fail the whole block.
type RawCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

type Config struct {
	Name              string
	RPCURL            string
	RPCTimeout        time.Duration
	RequestsPerSecond float64
	Routers           []string
}

type Adapter struct {
	name    string
	raw     RawCaller
	backend Backend
	limiter *rate.Limiter
	timeout time.Duration
	routers map[string]struct{}
	log     *log.Entry
}

var _ chain.Adapter = (*Adapter)(nil)
var _ chain.MetadataSource = (*Adapter)(nil)

// Dial connects to cfg.RPCURL.
func Dial(ctx context.Context, cfg Config) (*Adapter, error) {
	rc, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", cfg.Name, err)
	}
	return New(cfg, rc, ethclient.NewClient(rc)), nil
}

func New(cfg Config, raw RawCaller, backend Backend) *Adapter {
	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	routers := make(map[string]struct{}, len(cfg.Routers))
	for _, r := range cfg.Routers {
		routers[Normalize(r)] = struct{}{}
	}
	return &Adapter{
		name:    cfg.Name,
		raw:     raw,
		backend: backend,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		routers: routers,
		log:     log.WithFields(log.Fields{"component": "evm_adapter", "chain": cfg.Name}),
	}
}

func (a *Adapter) Chain() string { return a.name }

func (a *Adapter) NormalizeAddress(addr string) string { return Normalize(addr) }

func (a *Adapter) IsRouter(addr string) bool {
	_, ok := a.routers[Normalize(addr)]
	return ok
}

func (a *Adapter) HeadBlock(ctx context.Context) (uint64, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	head, err := a.backend.BlockNumber(ctx)
	metrics.ObserveRPC(a.name, "eth_blockNumber", start, err)
	if err != nil {
		return 0, fmt.Errorf("get head block: %w", err)
	}
	return head, nil
}

type rpcBlock struct {
	Number       hexutil.Uint64    `json:"number"`
	Timestamp    hexutil.Uint64    `json:"timestamp"`
	Transactions []json.RawMessage `json:"transactions"`
}

type rpcTx struct {
	Hash             *common.Hash    `json:"hash"`
	From             *common.Address `json:"from"`
	To               *common.Address `json:"to"`
	TransactionIndex hexutil.Uint64  `json:"transactionIndex"`
}

func (a *Adapter) Block(ctx context.Context, number uint64) (*chain.Block, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var raw *rpcBlock
	start := time.Now()
	err := a.raw.CallContext(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true)
	metrics.ObserveRPC(a.name, "eth_getBlockByNumber", start, err)
	if err != nil {
		return nil, fmt.Errorf("get block %d: %w", number, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("get block %d: %w", number, ethereum.NotFound)
	}
	return a.decodeBlock(raw), nil
}

func (a *Adapter) decodeBlock(raw *rpcBlock) *chain.Block {
	block := &chain.Block{
		Number: uint64(raw.Number),
		Time:   time.Unix(int64(raw.Timestamp), 0).UTC(),
		Txs:    make([]chain.Tx, 0, len(raw.Transactions)),
	}
	for i, msg := range raw.Transactions {
		var tx rpcTx
		if err := json.Unmarshal(msg, &tx); err != nil || tx.Hash == nil || tx.From == nil {
			block.Skipped++
			a.log.WithFields(log.Fields{"block": block.Number, "position": i}).Warnf("> skip malformed transaction: %v", err)
			continue
		}
		entry := chain.Tx{
			Hash:  tx.Hash.Hex(),
			Block: block.Number,
			Index: int(tx.TransactionIndex),
			From:  Normalize(tx.From.Hex()),
		}
		if tx.To != nil {
			entry.To = Normalize(tx.To.Hex())
		}
		block.Txs = append(block.Txs, entry)
	}
	return block
}

// Transfers fetches the receipt and decodes its ERC20 transfer logs.
// Reverted transactions yield no transfers.
func (a *Adapter) Transfers(ctx context.Context, tx chain.Tx) ([]chain.Transfer, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	receipt, err := a.backend.TransactionReceipt(ctx, common.HexToHash(tx.Hash))
	metrics.ObserveRPC(a.name, "eth_getTransactionReceipt", start, err)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s not found: %w", tx.Hash, err)
		}
		return nil, fmt.Errorf("get receipt %s: %w", tx.Hash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, nil
	}

	var out []chain.Transfer
	for _, lg := range receipt.Logs {
		t := DecodeTransferLog(lg)
		if t == nil {
			continue
		}
		t.Chain = a.name
		t.TxTo = tx.To
		if t.TxHash == (common.Hash{}).Hex() {
			t.TxHash = tx.Hash
		}
		if t.BlockNumber == 0 {
			t.BlockNumber = tx.Block
		}
		out = append(out, *t)
	}
	return out, nil
}

// Normalize lowercases a hex address.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

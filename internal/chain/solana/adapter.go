// Package solana implements chain.Adapter over Solana JSON-RPC. Slots play
// the role of blocks and SPL token balance deltas play the role of transfer logs.
package solana

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tradeledger/internal/chain"
	"tradeledger/internal/metrics"
)

// RPC error codes for slots that will never have a block.
const (
	codeSlotSkipped            = -32007
	codeLongTermStorageSkipped = -32009
)

// Client is the subset of rpc.Client the adapter uses.
type Client interface {
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetBlockWithOpts(ctx context.Context, slot uint64, opts *rpc.GetBlockOpts) (*rpc.GetBlockResult, error)
	GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
}

type Config struct {
	Name              string
	RPCURL            string
	RPCTimeout        time.Duration
	RequestsPerSecond float64
	Routers           []string
}

type Adapter struct {
	name       string
	client     Client
	limiter    *rate.Limiter
	timeout    time.Duration
	routers    map[string]struct{}
	commitment rpc.CommitmentType
	log        *log.Entry
}

var _ chain.Adapter = (*Adapter)(nil)
var _ chain.MetadataSource = (*Adapter)(nil)

func Dial(cfg Config) *Adapter {
	return New(cfg, rpc.New(cfg.RPCURL))
}

func New(cfg Config, client Client) *Adapter {
	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if b := int(cfg.RequestsPerSecond); b > 1 {
			burst = b
		}
	}
	routers := make(map[string]struct{}, len(cfg.Routers))
	for _, r := range cfg.Routers {
		routers[strings.TrimSpace(r)] = struct{}{}
	}
	return &Adapter{
		name:       cfg.Name,
		client:     client,
		limiter:    rate.NewLimiter(limit, burst),
		timeout:    timeout,
		routers:    routers,
		commitment: rpc.CommitmentConfirmed,
		log:        log.WithFields(log.Fields{"component": "solana_adapter", "chain": cfg.Name}),
	}
}

func (a *Adapter) Chain() string { return a.name }

// Normalize trims whitespace; base58 is case-sensitive.
func Normalize(addr string) string { return strings.TrimSpace(addr) }

func (a *Adapter) NormalizeAddress(addr string) string { return Normalize(addr) }

func (a *Adapter) IsRouter(addr string) bool {
	_, ok := a.routers[addr]
	return ok
}

func (a *Adapter) HeadBlock(ctx context.Context) (uint64, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	slot, err := a.client.GetSlot(ctx, a.commitment)
	metrics.ObserveRPC(a.name, "getSlot", start, err)
	if err != nil {
		return 0, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

func (a *Adapter) Block(ctx context.Context, slot uint64) (*chain.Block, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	maxVersion := uint64(0)
	noRewards := false
	start := time.Now()
	res, err := a.client.GetBlockWithOpts(ctx, slot, &rpc.GetBlockOpts{
		Encoding:                       solana.EncodingBase64,
		TransactionDetails:             rpc.TransactionDetailsFull,
		Rewards:                        &noRewards,
		Commitment:                     a.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	metrics.ObserveRPC(a.name, "getBlock", start, err)
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) && (rpcErr.Code == codeSlotSkipped || rpcErr.Code == codeLongTermStorageSkipped) {
			// skipped slots never produce a block
			return &chain.Block{Number: slot}, nil
		}
		return nil, fmt.Errorf("get block %d: %w", slot, err)
	}
	if res == nil {
		return &chain.Block{Number: slot}, nil
	}
	return a.decodeBlock(slot, res), nil
}

func (a *Adapter) decodeBlock(slot uint64, res *rpc.GetBlockResult) *chain.Block {
	block := &chain.Block{Number: slot, Txs: make([]chain.Tx, 0, len(res.Transactions))}
	if res.BlockTime != nil {
		block.Time = res.BlockTime.Time().UTC()
	}
	for i, twm := range res.Transactions {
		if twm.Transaction == nil || twm.Meta == nil {
			block.Skipped++
			continue
		}
		tx, err := twm.GetTransaction()
		if err != nil || len(tx.Signatures) == 0 || len(tx.Message.AccountKeys) == 0 {
			block.Skipped++
			a.log.WithFields(log.Fields{"block": slot, "position": i}).Warnf("> skip undecodable transaction: %v", err)
			continue
		}
		block.Txs = append(block.Txs, chain.Tx{
			Hash:     tx.Signatures[0].String(),
			Block:    slot,
			Index:    i,
			From:     tx.Message.AccountKeys[0].String(),
			Accounts: accountsOf(tx.Message.AccountKeys[1:], twm.Meta),
			Payload:  twm.Meta,
		})
	}
	return block
}

// accountsOf lists static keys, loaded lookup-table keys and token balance
// owners. Owners matter because a wallet receiving tokens only appears
// through its token account.
func accountsOf(keys solana.PublicKeySlice, meta *rpc.TransactionMeta) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, k := range keys {
		add(k.String())
	}
	for _, k := range meta.LoadedAddresses.Writable {
		add(k.String())
	}
	for _, k := range meta.LoadedAddresses.ReadOnly {
		add(k.String())
	}
	for _, bals := range [][]rpc.TokenBalance{meta.PreTokenBalances, meta.PostTokenBalances} {
		for _, b := range bals {
			if b.Owner != nil {
				add(b.Owner.String())
			}
		}
	}
	return out
}

// Transfers derives transfers from the pre/post token balances already
// present in the block payload, so no extra RPC call is made.
func (a *Adapter) Transfers(ctx context.Context, tx chain.Tx) ([]chain.Transfer, error) {
	meta, ok := tx.Payload.(*rpc.TransactionMeta)
	if !ok || meta == nil {
		return nil, fmt.Errorf("transaction %s has no metadata", tx.Hash)
	}
	if meta.Err != nil {
		return nil, nil
	}
	var via string
	for _, acc := range tx.Accounts {
		if a.IsRouter(acc) {
			via = acc
			break
		}
	}
	return balanceTransfers(a.name, tx.Hash, via, tx.Block, meta), nil
}

type ownerMint struct {
	owner string
	mint  string
}

func balanceTransfers(chainName, txHash, via string, slot uint64, meta *rpc.TransactionMeta) []chain.Transfer {
	var order []ownerMint
	seen := make(map[ownerMint]struct{})
	sum := func(bals []rpc.TokenBalance) map[ownerMint]*big.Int {
		out := make(map[ownerMint]*big.Int)
		for _, b := range bals {
			if b.Owner == nil || b.UiTokenAmount == nil {
				continue
			}
			amt, ok := new(big.Int).SetString(b.UiTokenAmount.Amount, 10)
			if !ok {
				continue
			}
			k := ownerMint{owner: b.Owner.String(), mint: b.Mint.String()}
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				order = append(order, k)
			}
			if cur, ok := out[k]; ok {
				cur.Add(cur, amt)
			} else {
				out[k] = amt
			}
		}
		return out
	}
	pre := sum(meta.PreTokenBalances)
	post := sum(meta.PostTokenBalances)

	var out []chain.Transfer
	for i, k := range order {
		delta := new(big.Int)
		if p, ok := post[k]; ok {
			delta.Set(p)
		}
		if p, ok := pre[k]; ok {
			delta.Sub(delta, p)
		}
		if delta.Sign() == 0 {
			continue
		}
		t := chain.Transfer{
			Chain:       chainName,
			Token:       k.mint,
			TxHash:      txHash,
			TxTo:        via,
			BlockNumber: slot,
			LogIndex:    uint(i),
		}
		if delta.Sign() > 0 {
			t.To = k.owner
			t.Amount = delta
		} else {
			t.From = k.owner
			t.Amount = delta.Neg(delta)
		}
		out = append(out, t)
	}
	return out
}

// TokenName is not available from the token program itself.
func (a *Adapter) TokenName(ctx context.Context, token string) (string, error) {
	return "", chain.ErrUnsupported
}

func (a *Adapter) TokenSymbol(ctx context.Context, token string) (string, error) {
	return "", chain.ErrUnsupported
}

func (a *Adapter) TokenDecimals(ctx context.Context, token string) (uint8, error) {
	mint, err := solana.PublicKeyFromBase58(token)
	if err != nil {
		return 0, fmt.Errorf("invalid mint %q: %w", token, err)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	res, err := a.client.GetTokenSupply(ctx, mint, a.commitment)
	metrics.ObserveRPC(a.name, "getTokenSupply", start, err)
	if err != nil {
		return 0, fmt.Errorf("get token supply %s: %w", token, err)
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("get token supply %s: empty result", token)
	}
	return res.Value.Decimals, nil
}

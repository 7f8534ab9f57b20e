// Package chain defines the capability interface every monitored chain implements.
package chain

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// TransferTopic is topic0 of the ERC20 Transfer(address,address,uint256) event.
const TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// ErrUnsupported is returned by adapters for lookups the chain cannot answer.
var ErrUnsupported = errors.New("chain: unsupported")

// Transfer is one decoded token movement inside a transaction.
// An empty From or To means the counterparty is not known to the adapter.
type Transfer struct {
	Chain       string
	Token       string
	From        string
	To          string
	Amount      *big.Int
	TxHash      string
	TxTo        string
	BlockNumber uint64
	LogIndex    uint
}

// Tx is a transaction listed in a block.
type Tx struct {
	Hash  string
	Block uint64
	Index int
	From  string
	To    string
	// Accounts holds extra addresses touched by the transaction on chains
	// where from/to is not enough to find the owning wallet.
	Accounts []string
	// Payload carries adapter-specific data needed later by Transfers.
	Payload any
}

// Participants returns every address that can match a tracked wallet.
func (t Tx) Participants() []string {
	out := make([]string, 0, 2+len(t.Accounts))
	if t.From != "" {
		out = append(out, t.From)
	}
	if t.To != "" {
		out = append(out, t.To)
	}
	return append(out, t.Accounts...)
}

type Block struct {
	Number uint64
	Time   time.Time
	Txs    []Tx
	// Skipped counts transactions dropped because their payload could not be decoded.
	Skipped int
}

// Adapter hides everything chain-specific from the poller and classifier.
type Adapter interface {
	Chain() string
	NormalizeAddress(addr string) string
	HeadBlock(ctx context.Context) (uint64, error)
	Block(ctx context.Context, number uint64) (*Block, error)
	// Transfers returns the token transfers a transaction produced, in log order.
	Transfers(ctx context.Context, tx Tx) ([]Transfer, error)
	IsRouter(addr string) bool
}

// MetadataSource answers read-only token metadata calls.
type MetadataSource interface {
	TokenName(ctx context.Context, token string) (string, error)
	TokenSymbol(ctx context.Context, token string) (string, error)
	TokenDecimals(ctx context.Context, token string) (uint8, error)
}

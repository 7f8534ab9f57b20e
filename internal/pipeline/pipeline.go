// Package pipeline assembles the per-chain ingestion stack from configuration.
package pipeline

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradeledger/internal/chain"
	"tradeledger/internal/chain/evm"
	"tradeledger/internal/chain/solana"
	"tradeledger/internal/metadata"
	"tradeledger/internal/poller"
	"tradeledger/internal/price"
	"tradeledger/internal/settlement"
	"tradeledger/internal/store"
	"tradeledger/internal/tracker"
	"tradeledger/pkg/config"
)

// ChainAdapter is what every configured chain provides.
type ChainAdapter interface {
	chain.Adapter
	chain.MetadataSource
}

// Chain is the wired stack of one configured chain.
type Chain struct {
	Config    config.ChainConfig
	Adapter   ChainAdapter
	Oracle    price.Oracle
	Processor *settlement.Processor
	Poller    *poller.Poller
}

// Dialer opens the adapter of one chain. Tests replace it.
type Dialer func(ctx context.Context, cfg config.ChainConfig) (ChainAdapter, error)

func Dial(ctx context.Context, cfg config.ChainConfig) (ChainAdapter, error) {
	switch cfg.Kind {
	case config.KindEVM:
		return evm.Dial(ctx, evm.Config{
			Name:              cfg.Name,
			RPCURL:            cfg.RPCURL,
			RPCTimeout:        cfg.RPCTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Routers:           cfg.Routers,
		})
	case config.KindSolana:
		return solana.Dial(solana.Config{
			Name:              cfg.Name,
			RPCURL:            cfg.RPCURL,
			RPCTimeout:        cfg.RPCTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Routers:           cfg.Routers,
		}), nil
	default:
		return nil, fmt.Errorf("chain %s: unsupported kind %q", cfg.Name, cfg.Kind)
	}
}

// NewOracle picks the price source configured for a chain.
func NewOracle(cfg config.ChainConfig, all *config.Chains) price.Oracle {
	var src price.Source
	switch cfg.PriceSource {
	case config.PriceDexScreener:
		src = price.NewDexScreener(cfg.PriceAPIURL, cfg.ChainID)
	case config.PriceJupiter:
		src = price.NewJupiter(cfg.PriceAPIURL)
	default:
		return price.NewStatic(decimal.Zero)
	}
	return price.NewAdapter(src, cfg.BaseAsset, all.PriceTTL, all.PriceCacheSize)
}

// Build wires every configured chain onto one store, registry and engine.
func Build(ctx context.Context, dial Dialer, all *config.Chains, st store.Store, registry *tracker.Registry, engine *settlement.Engine, notifier settlement.Notifier) ([]*Chain, error) {
	if dial == nil {
		dial = Dial
	}
	out := make([]*Chain, 0, len(all.Chains))
	for _, cfg := range all.Chains {
		adapter, err := dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		oracle := NewOracle(cfg, all)
		resolver := metadata.NewResolver(cfg.Name, adapter, all.MetadataCacheSize)
		proc := settlement.NewProcessor(cfg.Name, engine, resolver, oracle, notifier)
		p := poller.New(adapter, st, registry, proc, poller.Config{
			MaxBlockRange:      cfg.MaxBlockRange,
			StartBlock:         cfg.StartBlock,
			ReceiptConcurrency: cfg.ReceiptConcurrency,
		})
		out = append(out, &Chain{Config: cfg, Adapter: adapter, Oracle: oracle, Processor: proc, Poller: p})
	}
	return out, nil
}

// Normalizers maps chain names to their address normalizer.
func Normalizers(chains []*Chain) map[string]tracker.Normalizer {
	out := make(map[string]tracker.Normalizer, len(chains))
	for _, c := range chains {
		out[c.Config.Name] = c.Adapter.NormalizeAddress
	}
	return out
}

// AddressNormalizer returns the normalizer of a chain kind without dialing.
func AddressNormalizer(kind string) tracker.Normalizer {
	if kind == config.KindSolana {
		return solana.Normalize
	}
	return evm.Normalize
}

// Find returns the wired chain with the given name.
func Find(chains []*Chain, name string) (*Chain, bool) {
	for _, c := range chains {
		if c.Config.Name == name {
			return c, true
		}
	}
	return nil, false
}

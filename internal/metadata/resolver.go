// Package metadata resolves token name, symbol and decimals with a bounded cache.
package metadata

import (
	"context"

	log "github.com/sirupsen/logrus"

	"tradeledger/internal/cache"
	"tradeledger/internal/chain"
	"tradeledger/internal/metrics"
)

const (
	DefaultName     = "Unknown"
	DefaultSymbol   = "UNKNOWN"
	DefaultDecimals = uint8(18)

	// MaxDecimals is the largest exponent whose unit still fits in uint256.
	MaxDecimals = 77

	DefaultCacheSize = 4096
)

type Token struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Resolver looks up token metadata for one chain. Lookups never fail:
// each field falls back to its default independently.
type Resolver struct {
	chain  string
	source chain.MetadataSource
	cache  *cache.FIFO[string, Token]
	log    *log.Entry
}

func NewResolver(chainName string, source chain.MetadataSource, capacity int) *Resolver {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Resolver{
		chain:  chainName,
		source: source,
		cache:  cache.NewFIFO[string, Token](capacity),
		log:    log.WithFields(log.Fields{"component": "metadata", "chain": chainName}),
	}
}

func (r *Resolver) Resolve(ctx context.Context, token string) Token {
	if t, ok := r.cache.Get(token); ok {
		metrics.MetadataLookups.WithLabelValues(r.chain, "cached").Inc()
		return t
	}

	out := Token{Name: DefaultName, Symbol: DefaultSymbol, Decimals: DefaultDecimals}
	entry := r.log.WithField("token", token)

	if name, err := r.source.TokenName(ctx, token); err == nil && name != "" {
		out.Name = name
	} else if err != nil {
		entry.Debugf("> name lookup failed: %v", err)
	}
	if symbol, err := r.source.TokenSymbol(ctx, token); err == nil && symbol != "" {
		out.Symbol = symbol
	} else if err != nil {
		entry.Debugf("> symbol lookup failed: %v", err)
	}

	decimals, err := r.source.TokenDecimals(ctx, token)
	if err != nil {
		// decimals drive amount scaling, so a default is never cached
		entry.Warnf("> decimals lookup failed, using %d: %v", DefaultDecimals, err)
		metrics.MetadataLookups.WithLabelValues(r.chain, "fallback").Inc()
		return out
	}
	if decimals > MaxDecimals {
		entry.Warnf("> decimals %d out of range, using %d", decimals, DefaultDecimals)
		decimals = DefaultDecimals
	}
	out.Decimals = decimals

	r.cache.Put(token, out)
	metrics.MetadataLookups.WithLabelValues(r.chain, "resolved").Inc()
	return out
}

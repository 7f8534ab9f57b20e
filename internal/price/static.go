package price

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Static is an Oracle over fixed prices. With no prices set it reports every
// token as unpriced, which is how chains without a price source run.
type Static struct {
	mu     sync.RWMutex
	base   decimal.Decimal
	prices map[string]Price
}

var _ Oracle = (*Static)(nil)

func NewStatic(base decimal.Decimal) *Static {
	return &Static{base: base, prices: make(map[string]Price)}
}

func (s *Static) Set(token string, inBase decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[token] = Price{InBaseAsset: inBase, InQuote: inBase.Mul(s.base)}
}

func (s *Static) BaseAssetPrice(ctx context.Context) decimal.Decimal {
	return s.base
}

func (s *Static) TokenPrice(ctx context.Context, token string) (Price, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[token]
	return p, ok
}

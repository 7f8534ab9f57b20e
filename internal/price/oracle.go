// Package price adapts external USD price feeds into base-asset prices with a
// short-lived cache.
package price

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"tradeledger/internal/cache"
	"tradeledger/internal/metrics"
)

const (
	DefaultTTL       = 30 * time.Second
	DefaultCacheSize = 2048

	divPrecision = 18
)

// Price of one whole token.
type Price struct {
	InBaseAsset decimal.Decimal `json:"in_base_asset"`
	InQuote     decimal.Decimal `json:"in_quote"`
}

// Oracle never fails: a missing price is reported through ok=false.
type Oracle interface {
	BaseAssetPrice(ctx context.Context) decimal.Decimal
	TokenPrice(ctx context.Context, token string) (Price, bool)
}

// Source fetches the USD price of one token.
type Source interface {
	Name() string
	TokenUSD(ctx context.Context, token string) (decimal.Decimal, error)
}

// Adapter turns a USD Source into an Oracle priced in the chain's base asset.
// A failed fetch falls back to the last known price, however old.
type Adapter struct {
	src       Source
	baseAsset string
	cache     *cache.TTL[string, decimal.Decimal]
	log       *log.Entry
}

var _ Oracle = (*Adapter)(nil)

func NewAdapter(src Source, baseAsset string, ttl time.Duration, capacity int) *Adapter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Adapter{
		src:       src,
		baseAsset: baseAsset,
		cache:     cache.NewTTL[string, decimal.Decimal](capacity, ttl),
		log:       log.WithFields(log.Fields{"component": "price", "source": src.Name()}),
	}
}

// WithClock replaces the cache time source, for tests.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.cache.WithClock(now)
	return a
}

// BaseAssetPrice is the USD price of the base asset, zero when unknown.
func (a *Adapter) BaseAssetPrice(ctx context.Context) decimal.Decimal {
	p, _ := a.usd(ctx, a.baseAsset)
	return p
}

func (a *Adapter) TokenPrice(ctx context.Context, token string) (Price, bool) {
	base, ok := a.usd(ctx, a.baseAsset)
	if !ok || !base.IsPositive() {
		return Price{}, false
	}
	if token == a.baseAsset {
		return Price{InBaseAsset: decimal.NewFromInt(1), InQuote: base}, true
	}
	usd, ok := a.usd(ctx, token)
	if !ok || !usd.IsPositive() {
		return Price{}, false
	}
	return Price{InBaseAsset: usd.DivRound(base, divPrecision), InQuote: usd}, true
}

func (a *Adapter) usd(ctx context.Context, token string) (decimal.Decimal, bool) {
	if p, ok := a.cache.Get(token); ok {
		metrics.PriceLookups.WithLabelValues(a.src.Name(), "cached").Inc()
		return p, true
	}
	p, err := a.src.TokenUSD(ctx, token)
	if err == nil {
		a.cache.Put(token, p)
		metrics.PriceLookups.WithLabelValues(a.src.Name(), "fetched").Inc()
		return p, true
	}
	if stale, ok := a.cache.Stale(token); ok {
		a.log.WithField("token", token).Warnf("> price fetch failed, using stale price: %v", err)
		metrics.PriceLookups.WithLabelValues(a.src.Name(), "stale").Inc()
		return stale, true
	}
	a.log.WithField("token", token).Debugf("> no price available: %v", err)
	metrics.PriceLookups.WithLabelValues(a.src.Name(), "missing").Inc()
	return decimal.Zero, false
}

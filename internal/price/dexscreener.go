package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DexScreenerURL = "https://api.dexscreener.com"

var ErrNoPrice = errors.New("price: no price for token")

// DexScreener prices EVM tokens from the most liquid pair on one chain.
type DexScreener struct {
	baseURL string
	chainID string
	client  *http.Client
}

func NewDexScreener(baseURL, chainID string) *DexScreener {
	if baseURL == "" {
		baseURL = DexScreenerURL
	}
	return &DexScreener{
		baseURL: strings.TrimRight(baseURL, "/"),
		chainID: chainID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DexScreener) Name() string { return "dexscreener" }

type dexPair struct {
	ChainID   string `json:"chainId"`
	BaseToken struct {
		Address string `json:"address"`
	} `json:"baseToken"`
	PriceUsd  *decimal.Decimal `json:"priceUsd"`
	Liquidity *struct {
		Usd float64 `json:"usd"`
	} `json:"liquidity"`
}

func (d *DexScreener) TokenUSD(ctx context.Context, token string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("dexscreener request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("dexscreener api returned status: %d", resp.StatusCode)
	}

	var result struct {
		Pairs []dexPair `json:"pairs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("decode dexscreener response: %w", err)
	}

	// the token must be the pair's base token, otherwise priceUsd is the other side
	var best *dexPair
	bestLiquidity := -1.0
	for i := range result.Pairs {
		p := &result.Pairs[i]
		if p.ChainID != d.chainID || !strings.EqualFold(p.BaseToken.Address, token) || p.PriceUsd == nil {
			continue
		}
		liq := 0.0
		if p.Liquidity != nil {
			liq = p.Liquidity.Usd
		}
		if liq > bestLiquidity {
			best, bestLiquidity = p, liq
		}
	}
	if best == nil {
		return decimal.Zero, fmt.Errorf("%w: %s on %s", ErrNoPrice, token, d.chainID)
	}
	return *best.PriceUsd, nil
}

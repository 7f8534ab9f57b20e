package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const JupiterURL = "https://lite-api.jup.ag"

// Jupiter prices Solana mints through the Jupiter price API.
type Jupiter struct {
	baseURL string
	client  *http.Client
}

func NewJupiter(baseURL string) *Jupiter {
	if baseURL == "" {
		baseURL = JupiterURL
	}
	return &Jupiter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (j *Jupiter) Name() string { return "jupiter" }

type jupiterPrice struct {
	UsdPrice *decimal.Decimal `json:"usdPrice"`
}

func (j *Jupiter) TokenUSD(ctx context.Context, mint string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Add("ids", mint)
	fullURL := fmt.Sprintf("%s/price/v3?%s", j.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("HTTP request failed with status: %d", resp.StatusCode)
	}

	var result map[string]*jupiterPrice
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode JSON response: %w", err)
	}
	p, ok := result[mint]
	if !ok || p == nil || p.UsdPrice == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, mint)
	}
	return *p.UsdPrice, nil
}

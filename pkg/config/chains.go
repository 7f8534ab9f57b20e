package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	KindEVM    = "evm"
	KindSolana = "solana"

	PriceDexScreener = "dexscreener"
	PriceJupiter     = "jupiter"
	PriceNone        = "none"

	DefaultChainsPath = "config/chains.yaml"
)

// ChainConfig is one monitored chain.
type ChainConfig struct {
	Name               string        `yaml:"name"`
	Kind               string        `yaml:"kind"`
	RPCURL             string        `yaml:"rpc_url"`
	ChainID            string        `yaml:"chain_id"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	MaxBlockRange      uint64        `yaml:"max_block_range"`
	StartBlock         uint64        `yaml:"start_block"`
	RPCTimeout         time.Duration `yaml:"rpc_timeout"`
	ReceiptConcurrency int           `yaml:"receipt_concurrency"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	BaseAsset          string        `yaml:"base_asset"`
	PriceSource        string        `yaml:"price_source"`
	PriceAPIURL        string        `yaml:"price_api_url"`
	Routers            []string      `yaml:"routers"`
}

// Chains is the YAML chain list with shared settings.
type Chains struct {
	Chains            []ChainConfig `yaml:"chains"`
	MetadataCacheSize int           `yaml:"metadata_cache_size"`
	PriceTTL          time.Duration `yaml:"price_ttl"`
	PriceCacheSize    int           `yaml:"price_cache_size"`
	EventBuffer       int           `yaml:"event_buffer"`
}

// LoadEnv reads .env when present. A missing file is not an error.
func LoadEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("> could not load env file: %v", err)
	}
}

// ChainsPath returns CHAINS_CONFIG or the default path.
func ChainsPath() string {
	if p := os.Getenv("CHAINS_CONFIG"); p != "" {
		return p
	}
	return DefaultChainsPath
}

func LoadChains(path string) (*Chains, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chains config: %w", err)
	}
	defer f.Close()
	return ParseChains(f)
}

// ParseChains decodes, applies defaults and validates. ${VAR} references
// are expanded from the environment so RPC keys stay out of the file.
func ParseChains(r io.Reader) (*Chains, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read chains config: %w", err)
	}
	var cfg Chains
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode chains config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Chains) applyDefaults() {
	if c.PriceTTL <= 0 {
		c.PriceTTL = 30 * time.Second
	}
	for i := range c.Chains {
		ch := &c.Chains[i]
		ch.Name = strings.TrimSpace(ch.Name)
		ch.Kind = strings.ToLower(strings.TrimSpace(ch.Kind))
		if ch.PollInterval <= 0 {
			ch.PollInterval = 10 * time.Second
		}
		if ch.MaxBlockRange == 0 {
			ch.MaxBlockRange = 50
		}
		if ch.RPCTimeout <= 0 {
			ch.RPCTimeout = 15 * time.Second
		}
		if ch.ReceiptConcurrency <= 0 {
			ch.ReceiptConcurrency = 4
		}
		if ch.ChainID == "" {
			ch.ChainID = ch.Name
		}
		if ch.PriceSource == "" {
			switch ch.Kind {
			case KindSolana:
				ch.PriceSource = PriceJupiter
			default:
				ch.PriceSource = PriceDexScreener
			}
		}
	}
}

func (c *Chains) validate() error {
	if len(c.Chains) == 0 {
		return errors.New("chains config: no chains configured")
	}
	seen := make(map[string]bool, len(c.Chains))
	for i, ch := range c.Chains {
		if ch.Name == "" {
			return fmt.Errorf("chains config: chain %d has no name", i)
		}
		if seen[ch.Name] {
			return fmt.Errorf("chains config: duplicate chain %q", ch.Name)
		}
		seen[ch.Name] = true
		if ch.Kind != KindEVM && ch.Kind != KindSolana {
			return fmt.Errorf("chains config: chain %q has unknown kind %q", ch.Name, ch.Kind)
		}
		if ch.RPCURL == "" {
			return fmt.Errorf("chains config: chain %q has no rpc_url", ch.Name)
		}
		if ch.BaseAsset == "" {
			return fmt.Errorf("chains config: chain %q has no base_asset", ch.Name)
		}
		switch ch.PriceSource {
		case PriceDexScreener, PriceJupiter, PriceNone:
		default:
			return fmt.Errorf("chains config: chain %q has unknown price_source %q", ch.Name, ch.PriceSource)
		}
	}
	return nil
}

// Chain returns the named chain config.
func (c *Chains) Chain(name string) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

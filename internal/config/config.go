// Package config defines the explicit configuration record passed at
// construction to every component. Values are loaded from a TOML file
// via naoina/toml and may each be overridden by an environment
// variable of the same name.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/naoina/toml"
)

// Config is the full set of knobs the indexing pipeline needs,
// covering both the chain-indexing core and its ambient concerns.
type Config struct {
	ChainID     uint64
	OriginBlock uint64
	RPCURL      string
	L2RPCURL    string

	MarketAddress  common.Address
	AuctionAddress common.Address
	PointsAddress  common.Address
	BridgeAddress  common.Address
	EscrowAddress  common.Address

	Confirmations  uint64
	BlockHistory   int
	SegmentSize    int
	RetryDelay     time.Duration

	DatabaseURL               string
	AMQPURL                   string
	EthscriptionsProviderURL  string
	MetricsAddr               string
}

// Default returns the baseline configuration defaults:
// CONFIRMATIONS=6, BLOCK_HISTORY=30, SEGMENT_SIZE=64, RETRY_DELAY_MS=5000.
func Default() Config {
	return Config{
		Confirmations: 6,
		BlockHistory:  30,
		SegmentSize:   64,
		RetryDelay:    5 * time.Second,
		MetricsAddr:   ":9100",
		EscrowAddress: common.Address{}, // overwritten: == MarketAddress once loaded
	}
}

// Load reads path as a TOML file into Default(), then applies any
// matching environment variable overrides, and finally fixes up the
// ESCROW_ADDRESS == MARKET_ADDRESS invariant when the former is left
// unset.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("config: open %s: %w", path, err)
		}
		defer f.Close()
		if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	if cfg.EscrowAddress == (common.Address{}) {
		cfg.EscrowAddress = cfg.MarketAddress
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("config: RPC_URL is required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("config: CHAIN_ID is required")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("CHAIN_ID"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ChainID = n
		}
	}
	if v, ok := os.LookupEnv("ORIGIN_BLOCK"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.OriginBlock = n
		}
	}
	if v, ok := os.LookupEnv("RPC_URL"); ok {
		cfg.RPCURL = v
	}
	if v, ok := os.LookupEnv("L2_RPC_URL"); ok {
		cfg.L2RPCURL = v
	}
	if v, ok := os.LookupEnv("MARKET_ADDRESS"); ok {
		cfg.MarketAddress = common.HexToAddress(v)
	}
	if v, ok := os.LookupEnv("AUCTION_ADDRESS"); ok {
		cfg.AuctionAddress = common.HexToAddress(v)
	}
	if v, ok := os.LookupEnv("POINTS_ADDRESS"); ok {
		cfg.PointsAddress = common.HexToAddress(v)
	}
	if v, ok := os.LookupEnv("BRIDGE_ADDRESS"); ok {
		cfg.BridgeAddress = common.HexToAddress(v)
	}
	if v, ok := os.LookupEnv("ESCROW_ADDRESS"); ok {
		cfg.EscrowAddress = common.HexToAddress(v)
	}
	if v, ok := os.LookupEnv("CONFIRMATIONS"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Confirmations = n
		}
	}
	if v, ok := os.LookupEnv("BLOCK_HISTORY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BlockHistory = n
		}
	}
	if v, ok := os.LookupEnv("SEGMENT_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SegmentSize = n
		}
	}
	if v, ok := os.LookupEnv("RETRY_DELAY_MS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := os.LookupEnv("AMQP_URL"); ok {
		cfg.AMQPURL = v
	}
	if v, ok := os.LookupEnv("ETHSCRIPTIONS_PROVIDER_URL"); ok {
		cfg.EthscriptionsProviderURL = v
	}
	if v, ok := os.LookupEnv("METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
}

package config

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/stablezap/stablezap/pkg/logger"
)

// MinSlippage is the lowest slippage tolerance accepted for swaps, in percent
const MinSlippage = 0.1

// Config holds the configuration for the routing service
type Config struct {
	RPCURL             string
	ChainID            int64
	BundlerURL         string
	EntryPoint         common.Address
	StableToken        common.Address
	StableDecimals     int32
	MinNativeBalance   *big.Int
	GaslessFeeReserve  decimal.Decimal
	ReceiptTimeout     time.Duration
	GasMultiplier      float64
	MaxGasPrice        *big.Int
	Aggregator         AggregatorConfig
	Protocols          ProtocolConfig
	IndexTokens        map[string]common.Address
	RedisURL           string
	DatabaseDSN        string
	KeystoreDir        string
	KeystorePassphrase string
	MonitorInterval    time.Duration
	MetricsPort        string
	MetricsAPIKey      string
	CircuitBreaker     CircuitBreakerConfig
	LoggerConfig       LoggerConfig
}

// AggregatorConfig holds the swap aggregator settings
type AggregatorConfig struct {
	URL             string
	RateLimit       int
	Timeout         time.Duration
	DefaultSlippage float64
	MaxSlippage     float64
}

// ProtocolConfig holds the lending protocol deployments
type ProtocolConfig struct {
	AavePool       common.Address
	AaveAToken     common.Address
	AaveRewards    common.Address
	CompoundComet  common.Address
	CompoundReward common.Address
	MorphoVault    common.Address
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// GaslessEnabled reports whether a bundler is configured
func (c *Config) GaslessEnabled() bool {
	return c.BundlerURL != ""
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	return loadFromEnv()
}

func loadFromEnv() (*Config, error) {
	cfg := &Config{
		RedisURL:           os.Getenv("REDIS_URL"),
		DatabaseDSN:        os.Getenv("DATABASE_DSN"),
		KeystoreDir:        os.Getenv("KEYSTORE_DIR"),
		KeystorePassphrase: os.Getenv("KEYSTORE_PASSPHRASE"),
		MetricsAPIKey:      os.Getenv("METRICS_API_KEY"),
	}
	var err error

	if cfg.RPCURL, err = GetEnvRPCURL(); err != nil {
		return nil, err
	}
	if cfg.ChainID, err = GetEnvChainID(); err != nil {
		return nil, err
	}
	if cfg.BundlerURL, err = GetEnvBundlerURL(); err != nil {
		return nil, err
	}
	if cfg.EntryPoint, err = GetEnvAddress("ENTRYPOINT_ADDRESS", DefaultEntryPointAddress); err != nil {
		return nil, err
	}
	if cfg.StableToken, err = GetEnvAddress("STABLE_TOKEN_ADDRESS", DefaultStableTokenAddress); err != nil {
		return nil, err
	}
	if cfg.StableDecimals, err = GetEnvStableTokenDecimals(); err != nil {
		return nil, err
	}
	if cfg.MinNativeBalance, err = GetEnvMinNativeBalance(); err != nil {
		return nil, err
	}
	if cfg.GaslessFeeReserve, err = GetEnvGaslessFeeReserve(); err != nil {
		return nil, err
	}
	if cfg.ReceiptTimeout, err = GetEnvDuration("RECEIPT_TIMEOUT", DefaultReceiptTimeout); err != nil {
		return nil, err
	}
	if cfg.GasMultiplier, err = GetEnvGasMultiplier(); err != nil {
		return nil, err
	}
	if cfg.MaxGasPrice, err = GetEnvMaxGasPrice(); err != nil {
		return nil, err
	}
	if cfg.IndexTokens, err = GetEnvIndexTokens(); err != nil {
		return nil, err
	}
	if cfg.MonitorInterval, err = GetEnvDuration("MONITOR_INTERVAL", DefaultMonitorInterval); err != nil {
		return nil, err
	}
	if cfg.MetricsPort, err = GetEnvMetricsPort(); err != nil {
		return nil, err
	}

	// Aggregator
	if cfg.Aggregator.URL, err = GetEnvAggregatorURL(); err != nil {
		return nil, err
	}
	if cfg.Aggregator.RateLimit, err = GetEnvQuoteRateLimit(); err != nil {
		return nil, err
	}
	if cfg.Aggregator.Timeout, err = GetEnvDuration("QUOTE_TIMEOUT", DefaultQuoteTimeout); err != nil {
		return nil, err
	}
	if cfg.Aggregator.DefaultSlippage, err = GetEnvDefaultSlippage(); err != nil {
		return nil, err
	}
	if cfg.Aggregator.MaxSlippage, err = GetEnvMaxSlippage(); err != nil {
		return nil, err
	}

	// Protocols
	if cfg.Protocols.AavePool, err = GetEnvAddress("AAVE_POOL_ADDRESS", AaveV3PoolAddress); err != nil {
		return nil, err
	}
	if cfg.Protocols.AaveAToken, err = GetEnvAddress("AAVE_ATOKEN_ADDRESS", AaveV3ATokenAddress); err != nil {
		return nil, err
	}
	if cfg.Protocols.AaveRewards, err = GetEnvAddress("AAVE_REWARDS_ADDRESS", AaveV3RewardsAddress); err != nil {
		return nil, err
	}
	if cfg.Protocols.CompoundComet, err = GetEnvAddress("COMPOUND_COMET_ADDRESS", CompoundCometAddress); err != nil {
		return nil, err
	}
	if cfg.Protocols.CompoundReward, err = GetEnvAddress("COMPOUND_REWARDS_ADDRESS", CompoundRewardsAddress); err != nil {
		return nil, err
	}
	if cfg.Protocols.MorphoVault, err = GetEnvAddress("MORPHO_VAULT_ADDRESS", MorphoVaultAddress); err != nil {
		return nil, err
	}

	// Circuit breaker
	if cfg.CircuitBreaker.Enabled, err = GetEnvCircuitBreakerEnabled(); err != nil {
		return nil, err
	}
	if cfg.CircuitBreaker.Threshold, err = GetEnvCircuitBreakerThreshold(); err != nil {
		return nil, err
	}
	if cfg.CircuitBreaker.WindowDuration, err = GetEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow); err != nil {
		return nil, err
	}
	if cfg.CircuitBreaker.ResetTimeout, err = GetEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset); err != nil {
		return nil, err
	}

	// Logger
	if cfg.LoggerConfig.Level, err = GetEnvLogLevel(); err != nil {
		return nil, err
	}
	if cfg.LoggerConfig.Coloring, err = GetEnvLogColoring(); err != nil {
		return nil, err
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN environment variable is required")
	}
	if cfg.KeystoreDir == "" {
		return fmt.Errorf("KEYSTORE_DIR environment variable is required")
	}
	if cfg.Aggregator.MaxSlippage < MinSlippage {
		return fmt.Errorf("MAX_SLIPPAGE must be at least %.1f", MinSlippage)
	}
	if cfg.Aggregator.DefaultSlippage < MinSlippage || cfg.Aggregator.DefaultSlippage > cfg.Aggregator.MaxSlippage {
		return fmt.Errorf("DEFAULT_SLIPPAGE must be between %.1f and MAX_SLIPPAGE", MinSlippage)
	}
	return nil
}

package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/stablezap/stablezap/pkg/logger"
)

const (
	// DefaultChainID is Base mainnet
	DefaultChainID = 8453

	// DefaultRPCURL is the public Base RPC endpoint
	DefaultRPCURL = "https://mainnet.base.org"

	// DefaultEntryPointAddress is the ERC-4337 v0.6 EntryPoint
	DefaultEntryPointAddress = "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"

	// DefaultStableTokenAddress is USDC on Base
	DefaultStableTokenAddress = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

	// DefaultStableTokenDecimals is the USDC precision
	DefaultStableTokenDecimals = 6

	// DefaultMinNativeBalance is the native balance (in wei) an EOA needs before a standard path is chosen
	DefaultMinNativeBalance = "20000000000000" // 0.00002 ETH

	// DefaultGaslessFeeReserve is kept back from max amounts on the gasless path, in stable token units
	DefaultGaslessFeeReserve = "0.05"

	// DefaultAggregatorURL is the swap aggregator API
	DefaultAggregatorURL = "https://api.odos.xyz"

	// DefaultQuoteRateLimit is the number of quote calls allowed per minute
	DefaultQuoteRateLimit = 10

	// DefaultQuoteTimeout bounds a quote request
	DefaultQuoteTimeout = 20 * time.Second

	// DefaultSlippage is the slippage tolerance in percent
	DefaultSlippage = 0.5

	// DefaultMaxSlippage is the highest accepted slippage tolerance in percent
	DefaultMaxSlippage = 3.0

	// DefaultReceiptTimeout bounds the wait for a receipt
	DefaultReceiptTimeout = 2 * time.Minute

	// DefaultGasMultiplier is applied to the suggested gas price
	DefaultGasMultiplier = 1.1

	// DefaultMaxGasPrice caps the gas price for standard transactions
	DefaultMaxGasPrice = "5000000000" // 5 Gwei

	// DefaultMonitorInterval is the polling interval of the deposit monitor
	DefaultMonitorInterval = 10 * time.Second

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5 * time.Minute

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15 * time.Minute

	// Protocol deployments on Base mainnet
	// These can be overridden by environment variables for forks and testnets

	AaveV3PoolAddress        = "0xA238Dd80C259a72e81d7e4664a9801593F98d1c5"
	AaveV3ATokenAddress      = "0x4e65fE4DbA92790696d040ac24Aa414708F5c0AB"
	AaveV3RewardsAddress     = "0xf9cc4F0D883F1a1eb2c253bdb46c254Ca51E1F44"
	CompoundCometAddress     = "0xb125E6687d4313864e53df431d5425969c15Eb2F"
	CompoundRewardsAddress   = "0x123964802e6ABabBE1Bc9547D72Ef1B69B00A6b1"
	MorphoVaultAddress       = "0xc1256Ae5FF1cf2719D4937adb3bbCCab2E00A2Ca"
	DefaultIndexTokensString = ""
)

// GetEnvRPCURL returns the RPC endpoint from environment variables
func GetEnvRPCURL() (string, error) {
	return getEnvURL("RPC_URL", DefaultRPCURL)
}

// GetEnvBundlerURL returns the bundler endpoint. Empty disables the gasless path.
func GetEnvBundlerURL() (string, error) {
	return getEnvURL("BUNDLER_URL", "")
}

// GetEnvAggregatorURL returns the swap aggregator base URL
func GetEnvAggregatorURL() (string, error) {
	return getEnvURL("AGGREGATOR_URL", DefaultAggregatorURL)
}

// GetEnvChainID returns the chain ID from environment variables
func GetEnvChainID() (int64, error) {
	chainID := os.Getenv("CHAIN_ID")
	if chainID == "" {
		return DefaultChainID, nil
	}

	id, err := strconv.ParseInt(chainID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid CHAIN_ID value: %s, must be an integer", chainID)
	}
	if id <= 0 {
		return 0, fmt.Errorf("CHAIN_ID must be greater than 0")
	}
	return id, nil
}

// GetEnvStableTokenDecimals returns the decimals of the stable token
func GetEnvStableTokenDecimals() (int32, error) {
	decimals := os.Getenv("STABLE_TOKEN_DECIMALS")
	if decimals == "" {
		return DefaultStableTokenDecimals, nil
	}

	d, err := strconv.Atoi(decimals)
	if err != nil {
		return 0, fmt.Errorf("invalid STABLE_TOKEN_DECIMALS value: %s, must be an integer", decimals)
	}
	if d < 0 || d > 36 {
		return 0, fmt.Errorf("STABLE_TOKEN_DECIMALS must be between 0 and 36")
	}
	return int32(d), nil
}

// GetEnvMinNativeBalance returns the native gas minimum in wei
func GetEnvMinNativeBalance() (*big.Int, error) {
	return getEnvBigInt("MIN_NATIVE_BALANCE", DefaultMinNativeBalance)
}

// GetEnvMaxGasPrice returns the maximum gas price from environment variables
func GetEnvMaxGasPrice() (*big.Int, error) {
	return getEnvBigInt("MAX_GAS_PRICE", DefaultMaxGasPrice)
}

// GetEnvGaslessFeeReserve returns the reserve kept back from max gasless amounts, in token units
func GetEnvGaslessFeeReserve() (decimal.Decimal, error) {
	reserve := os.Getenv("GASLESS_FEE_RESERVE")
	if reserve == "" {
		reserve = DefaultGaslessFeeReserve
	}

	d, err := decimal.NewFromString(reserve)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid GASLESS_FEE_RESERVE value: %s, must be a decimal", reserve)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("GASLESS_FEE_RESERVE must be greater than or equal to 0")
	}
	return d, nil
}

// GetEnvQuoteRateLimit returns the number of quote calls allowed per minute
func GetEnvQuoteRateLimit() (int, error) {
	limit := os.Getenv("QUOTE_RATE_LIMIT")
	if limit == "" {
		return DefaultQuoteRateLimit, nil
	}

	l, err := strconv.Atoi(limit)
	if err != nil {
		return 0, fmt.Errorf("invalid QUOTE_RATE_LIMIT value: %s, must be an integer", limit)
	}
	if l <= 0 {
		return 0, fmt.Errorf("QUOTE_RATE_LIMIT must be greater than 0")
	}
	return l, nil
}

// GetEnvDefaultSlippage returns the slippage used when a swap does not specify one
func GetEnvDefaultSlippage() (float64, error) {
	return getEnvPercent("DEFAULT_SLIPPAGE", DefaultSlippage)
}

// GetEnvMaxSlippage returns the highest accepted slippage
func GetEnvMaxSlippage() (float64, error) {
	return getEnvPercent("MAX_SLIPPAGE", DefaultMaxSlippage)
}

// GetEnvGasMultiplier returns the gas price multiplier
func GetEnvGasMultiplier() (float64, error) {
	multiplier := os.Getenv("GAS_MULTIPLIER")
	if multiplier == "" {
		return DefaultGasMultiplier, nil
	}

	m, err := strconv.ParseFloat(multiplier, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GAS_MULTIPLIER value: %s, must be a number", multiplier)
	}
	if m < 1 {
		return 0, fmt.Errorf("GAS_MULTIPLIER must be greater than or equal to 1")
	}
	return m, nil
}

// GetEnvIndexTokens returns the tokens accepted by swaps as id=address pairs
func GetEnvIndexTokens() (map[string]common.Address, error) {
	raw := os.Getenv("INDEX_TOKENS")
	if raw == "" {
		raw = DefaultIndexTokensString
	}

	tokens := make(map[string]common.Address)
	if raw == "" {
		return tokens, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 || parts[0] == "" || !common.IsHexAddress(parts[1]) {
			return nil, fmt.Errorf("invalid INDEX_TOKENS entry: %q, must be id=0xaddress", pair)
		}
		tokens[strings.ToLower(parts[0])] = common.HexToAddress(parts[1])
	}
	return tokens, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return getEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := strings.ToLower(os.Getenv("LOG_LEVEL"))
	switch level {
	case "", "info":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}
	return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of debug, info, notice, error", level)
}

// GetEnvLogColoring returns whether log prefixes are colored
func GetEnvLogColoring() (bool, error) {
	return getEnvBool("LOG_COLORING", true)
}

// GetEnvDuration parses a duration variable
func GetEnvDuration(key string, def time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", key, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

// GetEnvAddress parses an address variable
func GetEnvAddress(key string, def string) (common.Address, error) {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}

	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s value: %s, must be a valid Ethereum address", key, value)
	}
	return common.HexToAddress(value), nil
}

func getEnvURL(key, def string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	// Validate URL format
	if _, err := url.ParseRequestURI(value); err != nil {
		return "", fmt.Errorf("invalid %s value: %s, must be a valid URL", key, value)
	}
	return value, nil
}

func getEnvBigInt(key, def string) (*big.Int, error) {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}

	parsed := new(big.Int)
	if _, ok := parsed.SetString(value, 10); !ok {
		return nil, fmt.Errorf("invalid %s value: %s, must be a valid integer string", key, value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("%s must be greater than or equal to 0", key)
	}
	return parsed, nil
}

func getEnvPercent(key string, def float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a number", key, value)
	}
	if parsed <= 0 || parsed > 100 {
		return 0, fmt.Errorf("%s must be in (0, 100]", key)
	}
	return parsed, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	if value == "true" {
		return true, nil
	} else if value == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", key, value)
}

package config

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablezap/stablezap/pkg/logger"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://localhost/stablezap")
	t.Setenv("KEYSTORE_DIR", t.TempDir())
}

func TestLoadFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := loadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, int64(DefaultChainID), cfg.ChainID)
	assert.Equal(t, common.HexToAddress(DefaultStableTokenAddress), cfg.StableToken)
	assert.Equal(t, int32(6), cfg.StableDecimals)
	assert.True(t, decimal.RequireFromString("0.05").Equal(cfg.GaslessFeeReserve))
	assert.Equal(t, 20*time.Second, cfg.Aggregator.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.ReceiptTimeout)
	assert.Equal(t, DefaultQuoteRateLimit, cfg.Aggregator.RateLimit)
	assert.False(t, cfg.GaslessEnabled())
	assert.Equal(t, logger.InfoLevel, cfg.LoggerConfig.Level)
	assert.Empty(t, cfg.IndexTokens)
}

func TestLoadFromEnvRequired(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("KEYSTORE_DIR", "")

	_, err := loadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_DSN")
}

func TestLoadFromEnvSlippageBounds(t *testing.T) {
	setRequired(t)
	t.Setenv("DEFAULT_SLIPPAGE", "5")
	t.Setenv("MAX_SLIPPAGE", "3")

	_, err := loadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEFAULT_SLIPPAGE")
}

func TestGetEnvGetters(t *testing.T) {
	t.Run("Invalid chain id", func(t *testing.T) {
		t.Setenv("CHAIN_ID", "base")
		_, err := GetEnvChainID()
		assert.Error(t, err)
	})

	t.Run("Max gas price", func(t *testing.T) {
		t.Setenv("MAX_GAS_PRICE", "42")
		price, err := GetEnvMaxGasPrice()
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(42), price)
	})

	t.Run("Negative min native balance", func(t *testing.T) {
		t.Setenv("MIN_NATIVE_BALANCE", "-1")
		_, err := GetEnvMinNativeBalance()
		assert.Error(t, err)
	})

	t.Run("Gas multiplier below one", func(t *testing.T) {
		t.Setenv("GAS_MULTIPLIER", "0.5")
		_, err := GetEnvGasMultiplier()
		assert.Error(t, err)
	})

	t.Run("Invalid address", func(t *testing.T) {
		t.Setenv("AAVE_POOL_ADDRESS", "0x123")
		_, err := GetEnvAddress("AAVE_POOL_ADDRESS", AaveV3PoolAddress)
		assert.Error(t, err)
	})

	t.Run("Duration", func(t *testing.T) {
		t.Setenv("MONITOR_INTERVAL", "3s")
		d, err := GetEnvDuration("MONITOR_INTERVAL", DefaultMonitorInterval)
		require.NoError(t, err)
		assert.Equal(t, 3*time.Second, d)
	})

	t.Run("Index tokens", func(t *testing.T) {
		t.Setenv("INDEX_TOKENS", "WETH=0x4200000000000000000000000000000000000006, cbbtc=0xcbB7C0000aB88B473b1f5aFd9ef808440eed33Bf")
		tokens, err := GetEnvIndexTokens()
		require.NoError(t, err)
		assert.Len(t, tokens, 2)
		assert.Equal(t, common.HexToAddress("0x4200000000000000000000000000000000000006"), tokens["weth"])
	})

	t.Run("Invalid index token", func(t *testing.T) {
		t.Setenv("INDEX_TOKENS", "weth")
		_, err := GetEnvIndexTokens()
		assert.Error(t, err)
	})

	t.Run("Log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")
		level, err := GetEnvLogLevel()
		require.NoError(t, err)
		assert.Equal(t, logger.DebugLevel, level)
	})
}

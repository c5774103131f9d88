package txerr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "Nil", err: nil, expected: "none"},
		{name: "No wallet", err: &NoWalletError{UserID: "u1"}, expected: "no_wallet"},
		{name: "Wrapped balance", err: fmt.Errorf("deposit: %w", &InsufficientBalanceError{Required: big.NewInt(10), Available: big.NewInt(5)}), expected: "insufficient_balance"},
		{name: "Paymaster", err: &PaymasterRejectedError{Reason: "limit"}, expected: "paymaster_rejected"},
		{name: "Bundler", err: &BundlerRejectedError{Stage: "send", Err: errors.New("AA25 invalid account nonce")}, expected: "bundler_rejected"},
		{name: "Timeout", err: &ExecutionTimeoutError{Hash: "0x1", Timeout: time.Minute}, expected: "execution_timeout"},
		{name: "Simulation", err: ClassifySimulation("supply", errors.New("execution reverted: 26")), expected: "execution_reverted"},
		{name: "Circuit open", err: fmt.Errorf("quote: %w", ErrCircuitOpen), expected: "circuit_open"},
		{name: "Cancelled", err: context.Canceled, expected: "cancelled"},
		{name: "Network", err: errors.New("dial tcp: connection refused"), expected: "network_error"},
		{name: "Nonce", err: errors.New("nonce too low"), expected: "nonce_error"},
		{name: "Unknown", err: errors.New("something odd"), expected: "unknown_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.err))
		})
	}
}

func TestClassifySimulation(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected SimulationCategory
	}{
		{name: "Allowance", raw: "execution reverted: ERC20: insufficient allowance", expected: SimulationAllowance},
		{name: "Funds", raw: "insufficient funds for gas * price + value", expected: SimulationInsufficientFunds},
		{name: "Balance", raw: "execution reverted: ERC20: transfer amount exceeds balance", expected: SimulationInsufficientFunds},
		{name: "Out of gas money", raw: "gas required exceeds allowance (0)", expected: SimulationInsufficientFunds},
		{name: "Revert", raw: "execution reverted", expected: SimulationRevert},
		{name: "Other", raw: "header not found", expected: SimulationUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ClassifySimulation("supply", errors.New(tc.raw))
			sim, ok := As[*SimulationError](err)
			require.True(t, ok)
			assert.Equal(t, tc.expected, sim.Category)
			assert.NotEmpty(t, sim.Hint())
		})
	}

	assert.NoError(t, ClassifySimulation("supply", nil))
}

func TestClassifyBundler(t *testing.T) {
	err := ClassifyBundler(errors.New("pm_sponsorUserOperation: sponsorship limit exceeded"))
	_, ok := As[*PaymasterRejectedError](err)
	assert.True(t, ok)

	err = ClassifyBundler(errors.New("AA33 reverted (or OOG)"))
	_, ok = As[*PaymasterRejectedError](err)
	assert.True(t, ok)

	raw := errors.New("AA25 invalid account nonce")
	assert.Equal(t, raw, ClassifyBundler(raw))
}

func TestIsTransactional(t *testing.T) {
	assert.True(t, IsTransactional(&PaymasterRejectedError{Reason: "x"}))
	assert.True(t, IsTransactional(&OnChainRevertError{TxHash: "0xabc"}))
	assert.True(t, IsTransactional(&BundlerRejectedError{Stage: "estimate", Err: errors.New("AA23 reverted")}))
	assert.False(t, IsTransactional(&ExecutionTimeoutError{Hash: "0xabc"}))
	assert.False(t, IsTransactional(fmt.Errorf("bundler send failed: %w", io.EOF)), "a lost response may still land")
	assert.False(t, IsTransactional(errors.New("something odd")))
	assert.False(t, IsTransactional(&InsufficientBalanceError{Required: big.NewInt(2), Available: big.NewInt(1)}))
	assert.False(t, IsTransactional(nil))
}

func TestShortage(t *testing.T) {
	err := &InsufficientBalanceError{Required: big.NewInt(25), Available: big.NewInt(15)}
	assert.Equal(t, big.NewInt(10), err.Shortage())

	err = &InsufficientBalanceError{Required: big.NewInt(5), Available: big.NewInt(15)}
	assert.Equal(t, 0, err.Shortage().Sign())
}

func TestUserMessage(t *testing.T) {
	t.Run("Names amount and target", func(t *testing.T) {
		msg := UserMessage("deposit", "10 USDC", "aave", &InsufficientGasError{Balance: big.NewInt(0), Required: big.NewInt(1)})
		assert.Contains(t, msg, "10 USDC")
		assert.Contains(t, msg, "aave")
		assert.Contains(t, msg, "ETH")
	})

	t.Run("Truncates details", func(t *testing.T) {
		long := errors.New(strings.Repeat("x", 500))
		msg := UserMessage("withdraw", "1 USDC", "compound", long)
		assert.Less(t, len(msg), 300)
		assert.True(t, strings.HasSuffix(msg, "..."))
	})
}

// Package txerr defines the error taxonomy of the routing core and the
// helpers that classify raw node, bundler and paymaster errors into it.
package txerr

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NoWalletError means the user has neither an EOA nor a smart account
type NoWalletError struct {
	UserID string
}

func (e *NoWalletError) Error() string {
	return fmt.Sprintf("no wallet found for user %s", e.UserID)
}

// UnsupportedProtocolError is returned for an unknown protocol name
type UnsupportedProtocolError struct {
	Protocol string
	Known    []string
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("unsupported protocol %q (known: %s)", e.Protocol, strings.Join(e.Known, ", "))
}

// GaslessUnsupportedError is returned when a protocol has no gasless flow yet
type GaslessUnsupportedError struct {
	Protocol string
}

func (e *GaslessUnsupportedError) Error() string {
	return fmt.Sprintf("protocol %s does not support gasless execution yet, use the standard wallet or provision a smart wallet flow", e.Protocol)
}

// ApprovalIneffectiveError is returned when an approval was mined but the allowance is still short
type ApprovalIneffectiveError struct {
	Token     common.Address
	Spender   common.Address
	Allowance *big.Int
	Required  *big.Int
}

func (e *ApprovalIneffectiveError) Error() string {
	return fmt.Sprintf("approval of %s for spender %s did not take effect: allowance %s < required %s",
		e.Token.Hex(), e.Spender.Hex(), e.Allowance, e.Required)
}

// InsufficientBalanceError means the wallet cannot cover the requested amount.
// The router converts it into a pending intent for deposits and buys.
type InsufficientBalanceError struct {
	Asset     string
	Wallet    common.Address
	Required  *big.Int
	Available *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance in %s: have %s, need %s",
		e.Asset, e.Wallet.Hex(), e.Available, e.Required)
}

// Shortage returns the missing amount
func (e *InsufficientBalanceError) Shortage() *big.Int {
	shortage := new(big.Int).Sub(e.Required, e.Available)
	if shortage.Sign() < 0 {
		return big.NewInt(0)
	}
	return shortage
}

// InsufficientGasError means the EOA cannot pay gas in the native token
type InsufficientGasError struct {
	Wallet   common.Address
	Balance  *big.Int
	Required *big.Int
}

func (e *InsufficientGasError) Error() string {
	return fmt.Sprintf("insufficient native gas balance in %s: have %s wei, need %s wei",
		e.Wallet.Hex(), e.Balance, e.Required)
}

// NoViablePathError means neither the gasless nor the standard path can run
type NoViablePathError struct {
	Reason string
}

func (e *NoViablePathError) Error() string {
	return "no viable execution path: " + e.Reason
}

// InvalidAmountError is returned for amounts that cannot be parsed
type InvalidAmountError struct {
	Amount string
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %q: %s", e.Amount, e.Reason)
}

// SlippageTooHighError rejects quotes above the price impact ceiling
type SlippageTooHighError struct {
	PriceImpactPct float64
	MaxPct         float64
}

func (e *SlippageTooHighError) Error() string {
	return fmt.Sprintf("price impact %.2f%% exceeds the %.2f%% ceiling", e.PriceImpactPct, e.MaxPct)
}

// InvalidSlippageError rejects a slippage tolerance outside the accepted range
type InvalidSlippageError struct {
	SlippagePct float64
	MinPct      float64
	MaxPct      float64
}

func (e *InvalidSlippageError) Error() string {
	return fmt.Sprintf("slippage %.2f%% outside [%.2f%%, %.2f%%]", e.SlippagePct, e.MinPct, e.MaxPct)
}

// NoLiquidityError rejects quotes with an empty or zero output
type NoLiquidityError struct {
	InputToken  common.Address
	OutputToken common.Address
}

func (e *NoLiquidityError) Error() string {
	return fmt.Sprintf("no liquidity for %s -> %s", e.InputToken.Hex(), e.OutputToken.Hex())
}

// RateLimitedError is returned by the local quote limiter
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("quote rate limit reached, retry after %s", e.RetryAfter.Round(time.Second))
}

// PaymasterRejectedError is a sponsorship refusal. It may trigger a standard path fallback.
type PaymasterRejectedError struct {
	Reason string
	Err    error
}

func (e *PaymasterRejectedError) Error() string {
	return "paymaster rejected the operation: " + e.Reason
}

func (e *PaymasterRejectedError) Unwrap() error { return e.Err }

// ExecutionTimeoutError is returned when confirmation did not arrive in time.
// The submission may still land, so it is never retried automatically.
type ExecutionTimeoutError struct {
	Hash    string
	Timeout time.Duration
	UserOp  bool // Hash is a user operation hash, not a transaction hash
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("no confirmation for %s within %s", e.Hash, e.Timeout)
}

// BundlerRejectedError is a bundler refusal that happened before the user
// operation could be included: a failed estimate or an RPC error answer to
// eth_sendUserOperation.
type BundlerRejectedError struct {
	Stage string
	Err   error
}

func (e *BundlerRejectedError) Error() string {
	return fmt.Sprintf("bundler rejected the operation at %s: %v", e.Stage, e.Err)
}

func (e *BundlerRejectedError) Unwrap() error { return e.Err }

// OnChainRevertError is a mined transaction or user operation with a failed status
type OnChainRevertError struct {
	TxHash string
	Reason string
}

func (e *OnChainRevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transaction %s reverted on-chain", e.TxHash)
	}
	return fmt.Sprintf("transaction %s reverted on-chain: %s", e.TxHash, e.Reason)
}

// SimulationCategory groups simulation failures
type SimulationCategory string

const (
	SimulationRevert            SimulationCategory = "execution_reverted"
	SimulationInsufficientFunds SimulationCategory = "insufficient_funds"
	SimulationAllowance         SimulationCategory = "allowance_too_low"
	SimulationUnknown           SimulationCategory = "simulation_failed"
)

// SimulationError is a pre-flight failure; nothing was broadcast
type SimulationError struct {
	Category SimulationCategory
	Method   string
	Err      error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation of %s failed (%s): %v", e.Method, e.Category, e.Err)
}

func (e *SimulationError) Unwrap() error { return e.Err }

// Hint returns an actionable explanation for the user
func (e *SimulationError) Hint() string {
	switch e.Category {
	case SimulationInsufficientFunds:
		return "the wallet does not hold enough funds for the amount plus gas"
	case SimulationAllowance:
		return "the token allowance is too low, approve the protocol and try again"
	case SimulationRevert:
		return "the protocol rejected the call"
	default:
		return "the transaction could not be simulated"
	}
}

// As is a small generic helper around errors.As
func As[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}

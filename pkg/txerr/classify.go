package txerr

import (
	"context"
	"errors"
	"strings"
)

// ClassifySimulation maps a raw eth_call error onto a SimulationError
func ClassifySimulation(method string, err error) error {
	if err == nil {
		return nil
	}
	errStr := strings.ToLower(err.Error())

	category := SimulationUnknown
	switch {
	case strings.Contains(errStr, "gas required exceeds allowance") ||
		strings.Contains(errStr, "insufficient funds") ||
		strings.Contains(errStr, "exceeds balance") ||
		strings.Contains(errStr, "insufficient balance"):
		category = SimulationInsufficientFunds
	case strings.Contains(errStr, "insufficient allowance") ||
		strings.Contains(errStr, "exceeds allowance") ||
		strings.Contains(errStr, "allowance"):
		category = SimulationAllowance
	case strings.Contains(errStr, "execution reverted") ||
		strings.Contains(errStr, "revert"):
		category = SimulationRevert
	}
	return &SimulationError{Category: category, Method: method, Err: err}
}

// paymasterMarkers are bundler/paymaster messages that mean sponsorship was refused
var paymasterMarkers = []string{
	"sponsorship limit",
	"sponsorship policy",
	"unsupported fee token",
	"token not supported",
	"unsupported token",
	"paymaster",
	"aa31",
	"aa32",
	"aa33",
	"aa34",
}

// ClassifyBundler maps a raw bundler error onto the taxonomy.
// Paymaster refusals become PaymasterRejectedError; everything else is returned wrapped as is.
func ClassifyBundler(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As[*PaymasterRejectedError](err); ok {
		return err
	}
	errStr := strings.ToLower(err.Error())
	for _, marker := range paymasterMarkers {
		if strings.Contains(errStr, marker) {
			return &PaymasterRejectedError{Reason: err.Error(), Err: err}
		}
	}
	return err
}

// Classify returns a short label for metrics and logs
func Classify(err error) string {
	if err == nil {
		return "none"
	}

	var (
		noWallet     *NoWalletError
		unsupported  *UnsupportedProtocolError
		noGasless    *GaslessUnsupportedError
		approval     *ApprovalIneffectiveError
		balance      *InsufficientBalanceError
		gas          *InsufficientGasError
		noPath       *NoViablePathError
		amount       *InvalidAmountError
		slippage     *SlippageTooHighError
		badSlippage  *InvalidSlippageError
		liquidity    *NoLiquidityError
		rateLimited  *RateLimitedError
		paymaster    *PaymasterRejectedError
		bundler      *BundlerRejectedError
		timeout      *ExecutionTimeoutError
		revert       *OnChainRevertError
		simulation   *SimulationError
		breakerOpen  = errors.Is(err, ErrCircuitOpen)
		ctxCancelled = errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	)

	switch {
	case errors.As(err, &noWallet):
		return "no_wallet"
	case errors.As(err, &unsupported):
		return "unsupported_protocol"
	case errors.As(err, &noGasless):
		return "gasless_unsupported"
	case errors.As(err, &approval):
		return "approval_ineffective"
	case errors.As(err, &balance):
		return "insufficient_balance"
	case errors.As(err, &gas):
		return "insufficient_gas"
	case errors.As(err, &noPath):
		return "no_viable_path"
	case errors.As(err, &amount):
		return "invalid_amount"
	case errors.As(err, &slippage):
		return "slippage_too_high"
	case errors.As(err, &badSlippage):
		return "invalid_slippage"
	case errors.As(err, &liquidity):
		return "no_liquidity"
	case errors.As(err, &rateLimited):
		return "rate_limited"
	case errors.As(err, &paymaster):
		return "paymaster_rejected"
	case errors.As(err, &bundler):
		return "bundler_rejected"
	case errors.As(err, &timeout):
		return "execution_timeout"
	case errors.As(err, &revert):
		return "onchain_revert"
	case errors.As(err, &simulation):
		return string(simulation.Category)
	case breakerOpen:
		return "circuit_open"
	case ctxCancelled:
		return "cancelled"
	}

	// Fall back on message inspection for raw RPC errors
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "eof"):
		return "network_error"
	case strings.Contains(errStr, "nonce too low") ||
		strings.Contains(errStr, "nonce too high") ||
		strings.Contains(errStr, "replacement transaction underpriced"):
		return "nonce_error"
	case strings.Contains(errStr, "gas price too low") ||
		strings.Contains(errStr, "gas required exceeds allowance"):
		return "gas_error"
	}
	return "unknown_error"
}

// IsTransactional reports whether err is known to have left the chain
// untouched or to have been mined with a failed status, so another path may
// run the intent. Errors of unknown fate, such as timeouts or a lost
// eth_sendUserOperation response, are excluded since the submission may
// still be included.
func IsTransactional(err error) bool {
	if err == nil {
		return false
	}
	switch Classify(err) {
	case "paymaster_rejected", "bundler_rejected", "onchain_revert",
		string(SimulationRevert), string(SimulationUnknown):
		return true
	}
	return false
}

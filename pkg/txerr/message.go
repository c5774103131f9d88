package txerr

import (
	"errors"
	"fmt"
)

// maxDetailLength bounds the technical part of user-facing messages
const maxDetailLength = 160

// ErrCircuitOpen is returned when a circuit breaker refuses a call
var ErrCircuitOpen = errors.New("circuit breaker open")

// UserMessage builds the text shown to the user for a failed intent.
// It always names the amount and the target and appends truncated details.
func UserMessage(action, amount, target string, err error) string {
	reason := Reason(err)
	msg := fmt.Sprintf("Could not %s %s on %s: %s.", action, amount, target, reason)
	if err != nil {
		msg += " Details: " + Truncate(err.Error(), maxDetailLength)
	}
	return msg
}

// Reason returns a plain-language reason for err
func Reason(err error) string {
	if err == nil {
		return "unknown error"
	}
	if sim, ok := As[*SimulationError](err); ok {
		return sim.Hint()
	}
	switch Classify(err) {
	case "no_wallet":
		return "no wallet is set up for this account yet"
	case "unsupported_protocol":
		return "this protocol is not supported"
	case "gasless_unsupported":
		return "this protocol cannot be used without gas yet"
	case "approval_ineffective":
		return "the token approval did not take effect"
	case "insufficient_balance":
		return "the wallet balance is too low"
	case "insufficient_gas":
		return "the wallet does not have enough ETH to pay for gas"
	case "no_viable_path":
		return "neither the smart wallet nor the regular wallet can execute this"
	case "invalid_amount":
		return "the amount is not valid"
	case "slippage_too_high":
		return "the price impact is too high"
	case "invalid_slippage":
		return "the slippage setting is out of range"
	case "no_liquidity":
		return "there is no liquidity for this swap"
	case "rate_limited":
		return "too many quote requests, please wait a moment"
	case "paymaster_rejected":
		return "gas sponsorship was refused"
	case "bundler_rejected":
		return "the bundler refused the operation"
	case "execution_timeout":
		return "the transaction was not confirmed in time, check your balance before retrying"
	case "onchain_revert":
		return "the transaction reverted on-chain"
	case "circuit_open":
		return "the service is temporarily unavailable"
	case "cancelled":
		return "the request was cancelled"
	}
	return "the transaction failed"
}

// Truncate shortens s to at most n runes
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WalletKind identifies which wallet executes a plan
type WalletKind string

const (
	// WalletSmartAccount is the fee-sponsored smart account
	WalletSmartAccount WalletKind = "smartAccount"
	// WalletEOA is the externally-owned account
	WalletEOA WalletKind = "eoa"
)

// Call is one contract call of a plan
type Call struct {
	To     common.Address
	Data   []byte
	Value  *big.Int
	Method string // for logs only
}

// ExecutionPlan is the per-attempt routing decision. It is never persisted.
type ExecutionPlan struct {
	WalletKind WalletKind
	Gasless    bool
	Calls      []Call
}

// Path returns the metrics label of the plan
func (p ExecutionPlan) Path() string {
	if p.Gasless {
		return "gasless"
	}
	return "standard"
}

// ExecutionResult is what an executor reports for a confirmed submission
type ExecutionResult struct {
	TxHash     string
	UserOpHash string // set on the gasless path
	GasUsed    uint64
	Gasless    bool
}

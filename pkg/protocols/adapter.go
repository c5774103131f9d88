// Package protocols holds the lending protocol adapters and the handlers
// that run deposits and withdrawals through them.
package protocols

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stablezap/stablezap/pkg/balance"
	"github.com/stablezap/stablezap/pkg/models"
)

// Adapter describes how to talk to one lending protocol
type Adapter interface {
	// Name is the canonical protocol name
	Name() string
	// Aliases are additional lookup names
	Aliases() []string
	// SupportsGasless reports whether the protocol flow is validated for smart accounts
	SupportsGasless() bool
	// Asset is the token supplied to the protocol
	Asset() common.Address
	// Spender is the contract that pulls the asset on deposit
	Spender() common.Address
	// Position reads the user's supplied balance in asset units
	Position() balance.Source
	// DepositCalls builds the supply calls, approvals excluded
	DepositCalls(owner common.Address, amount *big.Int) ([]models.Call, error)
	// WithdrawCalls builds the withdrawal calls. The first call is the withdrawal itself,
	// a rewards claim may follow.
	WithdrawCalls(ctx context.Context, owner common.Address, amount *big.Int, max bool, claimRewards bool) ([]models.Call, error)
}

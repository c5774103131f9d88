// Package wallet resolves the wallets of a user.
package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/txerr"
)

// HashSigner signs a 32-byte digest with the smart account owner key
type HashSigner interface {
	SignHash(hash []byte) ([]byte, error)
}

// EOA is an externally-owned account able to sign standard transactions
type EOA struct {
	Address common.Address
	Opts    *bind.TransactOpts
}

// SmartAccount is a fee-sponsored ERC-4337 account.
// InitCode is only meaningful while the account is not deployed.
type SmartAccount struct {
	Address  common.Address
	Owner    common.Address
	InitCode []byte
	Deployed bool
	Signer   HashSigner
}

// WithoutInitCode returns a copy of the account with the init code stripped
func (a SmartAccount) WithoutInitCode() SmartAccount {
	a.InitCode = nil
	a.Deployed = true
	return a
}

// Store is the read side of the wallet directory.
// Both getters return nil without error when the wallet does not exist.
type Store interface {
	GetWallet(ctx context.Context, userID string) (*EOA, error)
	GetSmartWallet(ctx context.Context, userID string) (*SmartAccount, error)
}

// Resolution is the capability snapshot of a user
type Resolution struct {
	GaslessAvailable bool
	SmartAccount     *SmartAccount
	EOA              *EOA
}

// Resolver reports which wallets a user has. It never creates wallets.
type Resolver struct {
	store  Store
	logger logger.Logger
}

// NewResolver creates a new resolver
func NewResolver(store Store, log logger.Logger) *Resolver {
	return &Resolver{store: store, logger: log}
}

// Resolve returns the wallets of userID
func (r *Resolver) Resolve(ctx context.Context, userID string) (*Resolution, error) {
	eoa, err := r.store.GetWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}

	smart, err := r.store.GetSmartWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load smart wallet: %w", err)
	}

	if eoa == nil && smart == nil {
		return nil, &txerr.NoWalletError{UserID: userID}
	}

	res := &Resolution{
		GaslessAvailable: smart != nil,
		SmartAccount:     smart,
		EOA:              eoa,
	}
	r.logger.DebugWithUser(userID, "Resolved wallets: eoa=%t smart=%t", eoa != nil, smart != nil)
	return res, nil
}

// Address returns the address of the wallet of the given kind
func (r *Resolution) Address(smart bool) (common.Address, bool) {
	if smart {
		if r.SmartAccount == nil {
			return common.Address{}, false
		}
		return r.SmartAccount.Address, true
	}
	if r.EOA == nil {
		return common.Address{}, false
	}
	return r.EOA.Address, true
}

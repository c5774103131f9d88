// Package balance reads point-in-time wallet balances.
package balance

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/wallet"
)

// Source reads the balance of one asset for an owner: a token, or a protocol position
type Source interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
}

// NativeReader reads the native gas balance
type NativeReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Snapshot holds the balances of both wallets in smallest units.
// A missing wallet or a failed read counts as zero.
type Snapshot struct {
	EOA         *big.Int
	SmartWallet *big.Int
}

// Of returns the balance of the smart wallet or the EOA
func (s Snapshot) Of(smart bool) *big.Int {
	if smart {
		return s.SmartWallet
	}
	return s.EOA
}

// Service reads balances. Values are never cached.
type Service struct {
	native NativeReader
	logger logger.Logger
}

// NewService creates a new balance service
func NewService(native NativeReader, log logger.Logger) *Service {
	return &Service{native: native, logger: log}
}

// Snapshot reads the balance of both wallets of res concurrently
func (s *Service) Snapshot(ctx context.Context, userID string, res *wallet.Resolution, source Source) Snapshot {
	snapshot := Snapshot{EOA: big.NewInt(0), SmartWallet: big.NewInt(0)}

	var g errgroup.Group
	if res.EOA != nil {
		address := res.EOA.Address
		g.Go(func() error {
			snapshot.EOA = s.read(ctx, userID, "eoa", source, address)
			return nil
		})
	}
	if res.SmartAccount != nil {
		address := res.SmartAccount.Address
		g.Go(func() error {
			snapshot.SmartWallet = s.read(ctx, userID, "smart wallet", source, address)
			return nil
		})
	}
	_ = g.Wait()

	return snapshot
}

// Read returns the balance of a single address, zero on failure
func (s *Service) Read(ctx context.Context, userID string, source Source, address common.Address) *big.Int {
	return s.read(ctx, userID, address.Hex(), source, address)
}

// NativeBalance returns the native balance of address, zero on failure
func (s *Service) NativeBalance(ctx context.Context, address common.Address) *big.Int {
	balance, err := s.native.BalanceAt(ctx, address, nil)
	if err != nil {
		s.logger.Error("Failed to read native balance of %s: %v", address.Hex(), err)
		return big.NewInt(0)
	}
	return balance
}

func (s *Service) read(ctx context.Context, userID, label string, source Source, address common.Address) *big.Int {
	balance, err := source.BalanceOf(ctx, address)
	if err != nil {
		s.logger.ErrorWithUser(userID, "Failed to read %s balance of %s: %v", label, address.Hex(), err)
		return big.NewInt(0)
	}
	if balance == nil {
		return big.NewInt(0)
	}
	return balance
}

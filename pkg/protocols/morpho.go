package protocols

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stablezap/stablezap/pkg/balance"
	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/contracts"
	"github.com/stablezap/stablezap/pkg/models"
)

// MorphoAdapter deposits into a MetaMorpho ERC-4626 vault.
// The gasless flow is disabled until it has been validated on a smart account.
type MorphoAdapter struct {
	client blockchain.ChainClient
	vault  common.Address
	asset  common.Address
}

var _ Adapter = (*MorphoAdapter)(nil)

// NewMorphoAdapter creates a MetaMorpho vault adapter
func NewMorphoAdapter(client blockchain.ChainClient, vault, asset common.Address) *MorphoAdapter {
	return &MorphoAdapter{client: client, vault: vault, asset: asset}
}

func (m *MorphoAdapter) Name() string            { return "morpho" }
func (m *MorphoAdapter) Aliases() []string       { return []string{"metamorpho", "morpho-blue"} }
func (m *MorphoAdapter) SupportsGasless() bool   { return false }
func (m *MorphoAdapter) Asset() common.Address   { return m.asset }
func (m *MorphoAdapter) Spender() common.Address { return m.vault }

// Position converts the share balance into assets
func (m *MorphoAdapter) Position() balance.Source {
	return vaultPosition{adapter: m}
}

func (m *MorphoAdapter) DepositCalls(owner common.Address, amount *big.Int) ([]models.Call, error) {
	deposit, err := blockchain.PackCall(contracts.ERC4626, m.vault, "deposit", amount, owner)
	if err != nil {
		return nil, err
	}
	return []models.Call{deposit}, nil
}

// WithdrawCalls redeems every share for a max withdrawal. Vault rewards are
// distributed off-chain, so claimRewards has no call to add.
func (m *MorphoAdapter) WithdrawCalls(ctx context.Context, owner common.Address, amount *big.Int, max bool, _ bool) ([]models.Call, error) {
	if !max {
		withdraw, err := blockchain.PackCall(contracts.ERC4626, m.vault, "withdraw", amount, owner, owner)
		if err != nil {
			return nil, err
		}
		return []models.Call{withdraw}, nil
	}

	shares, err := m.shares(ctx, owner)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return nil, fmt.Errorf("no vault shares to redeem for %s", owner.Hex())
	}
	redeem, err := blockchain.PackCall(contracts.ERC4626, m.vault, "redeem", shares, owner, owner)
	if err != nil {
		return nil, err
	}
	return []models.Call{redeem}, nil
}

func (m *MorphoAdapter) shares(ctx context.Context, owner common.Address) (*big.Int, error) {
	return blockchain.CallUint256(ctx, m.client, contracts.ERC4626, m.vault, "balanceOf", owner)
}

type vaultPosition struct {
	adapter *MorphoAdapter
}

func (v vaultPosition) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	shares, err := v.adapter.shares(ctx, owner)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return shares, nil
	}
	return blockchain.CallUint256(ctx, v.adapter.client, contracts.ERC4626, v.adapter.vault, "convertToAssets", shares)
}

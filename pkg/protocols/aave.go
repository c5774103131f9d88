package protocols

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/stablezap/stablezap/pkg/balance"
	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/contracts"
	"github.com/stablezap/stablezap/pkg/models"
)

// aaveReferralCode is the Aave V3 referral code, unused
const aaveReferralCode = 0

// AaveAdapter supplies to an Aave V3 pool
type AaveAdapter struct {
	client  blockchain.ChainClient
	pool    common.Address
	aToken  common.Address
	rewards common.Address
	asset   common.Address
}

var _ Adapter = (*AaveAdapter)(nil)

// NewAaveAdapter creates an Aave V3 adapter
func NewAaveAdapter(client blockchain.ChainClient, pool, aToken, rewards, asset common.Address) *AaveAdapter {
	return &AaveAdapter{client: client, pool: pool, aToken: aToken, rewards: rewards, asset: asset}
}

func (a *AaveAdapter) Name() string            { return "aave" }
func (a *AaveAdapter) Aliases() []string       { return []string{"aave-v3", "aavev3"} }
func (a *AaveAdapter) SupportsGasless() bool   { return true }
func (a *AaveAdapter) Asset() common.Address   { return a.asset }
func (a *AaveAdapter) Spender() common.Address { return a.pool }

// Position is the aToken balance, which accrues interest
func (a *AaveAdapter) Position() balance.Source {
	return blockchain.ERC20Source{Client: a.client, Token: a.aToken}
}

func (a *AaveAdapter) DepositCalls(owner common.Address, amount *big.Int) ([]models.Call, error) {
	supply, err := blockchain.PackCall(contracts.AavePool, a.pool, "supply", a.asset, amount, owner, uint16(aaveReferralCode))
	if err != nil {
		return nil, err
	}
	return []models.Call{supply}, nil
}

func (a *AaveAdapter) WithdrawCalls(_ context.Context, owner common.Address, amount *big.Int, max bool, claimRewards bool) ([]models.Call, error) {
	value := amount
	if max {
		// The pool withdraws the whole aToken balance for type(uint256).max
		value = math.MaxBig256
	}
	withdraw, err := blockchain.PackCall(contracts.AavePool, a.pool, "withdraw", a.asset, value, owner)
	if err != nil {
		return nil, err
	}
	calls := []models.Call{withdraw}

	if claimRewards {
		claim, err := blockchain.PackCall(contracts.AaveRewards, a.rewards, "claimAllRewardsToSelf", []common.Address{a.aToken})
		if err != nil {
			return nil, err
		}
		calls = append(calls, claim)
	}
	return calls, nil
}

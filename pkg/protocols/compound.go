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

// CompoundAdapter supplies the base asset of a Compound V3 Comet market
type CompoundAdapter struct {
	client  blockchain.ChainClient
	comet   common.Address
	rewards common.Address
	asset   common.Address
}

var _ Adapter = (*CompoundAdapter)(nil)

// NewCompoundAdapter creates a Compound V3 adapter
func NewCompoundAdapter(client blockchain.ChainClient, comet, rewards, asset common.Address) *CompoundAdapter {
	return &CompoundAdapter{client: client, comet: comet, rewards: rewards, asset: asset}
}

func (c *CompoundAdapter) Name() string            { return "compound" }
func (c *CompoundAdapter) Aliases() []string       { return []string{"comet", "compound-v3"} }
func (c *CompoundAdapter) SupportsGasless() bool   { return true }
func (c *CompoundAdapter) Asset() common.Address   { return c.asset }
func (c *CompoundAdapter) Spender() common.Address { return c.comet }

// Position is the Comet balance of the base asset including accrued interest
func (c *CompoundAdapter) Position() balance.Source {
	return blockchain.ERC20Source{Client: c.client, Token: c.comet}
}

func (c *CompoundAdapter) DepositCalls(_ common.Address, amount *big.Int) ([]models.Call, error) {
	supply, err := blockchain.PackCall(contracts.Comet, c.comet, "supply", c.asset, amount)
	if err != nil {
		return nil, err
	}
	return []models.Call{supply}, nil
}

func (c *CompoundAdapter) WithdrawCalls(_ context.Context, owner common.Address, amount *big.Int, max bool, claimRewards bool) ([]models.Call, error) {
	value := amount
	if max {
		// Comet withdraws the full supplied balance for type(uint256).max
		value = math.MaxBig256
	}
	withdraw, err := blockchain.PackCall(contracts.Comet, c.comet, "withdraw", c.asset, value)
	if err != nil {
		return nil, err
	}
	calls := []models.Call{withdraw}

	if claimRewards {
		claim, err := blockchain.PackCall(contracts.CometRewards, c.rewards, "claim", c.comet, owner, true)
		if err != nil {
			return nil, err
		}
		calls = append(calls, claim)
	}
	return calls, nil
}

// Package contracts holds the ABIs of the contracts the router talks to.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ERC20ABI is the subset of the ERC-20 interface used for balances and approvals
const ERC20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

// AavePoolABI covers supply and withdraw on the Aave V3 pool
const AavePoolABI = `[
	{"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"name":"supply","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"name":"withdraw","outputs":[{"name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

// AaveRewardsABI covers the incentives controller claim
const AaveRewardsABI = `[
	{"inputs":[{"name":"assets","type":"address[]"}],"name":"claimAllRewardsToSelf","outputs":[{"name":"rewardsList","type":"address[]"},{"name":"claimedAmounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

// CometABI covers Compound V3 supply, withdraw and balance
const CometABI = `[
	{"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"}],"name":"supply","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"}],"name":"withdraw","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// CometRewardsABI covers the COMP rewards claim
const CometRewardsABI = `[
	{"inputs":[{"name":"comet","type":"address"},{"name":"src","type":"address"},{"name":"shouldAccrue","type":"bool"}],"name":"claim","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// ERC4626ABI covers the vault interface used for MetaMorpho
const ERC4626ABI = `[
	{"inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"name":"deposit","outputs":[{"name":"shares","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"name":"withdraw","outputs":[{"name":"shares","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"shares","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"name":"redeem","outputs":[{"name":"assets","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"shares","type":"uint256"}],"name":"convertToAssets","outputs":[{"name":"assets","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// EntryPointABI is the v0.6 EntryPoint nonce getter
const EntryPointABI = `[
	{"inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"name":"getNonce","outputs":[{"name":"nonce","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// SimpleAccountABI is the smart account execution interface
const SimpleAccountABI = `[
	{"inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"name":"execute","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"dest","type":"address[]"},{"name":"func","type":"bytes[]"}],"name":"executeBatch","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var (
	ERC20         = mustParseABI(ERC20ABI)
	AavePool      = mustParseABI(AavePoolABI)
	AaveRewards   = mustParseABI(AaveRewardsABI)
	Comet         = mustParseABI(CometABI)
	CometRewards  = mustParseABI(CometRewardsABI)
	ERC4626       = mustParseABI(ERC4626ABI)
	EntryPoint    = mustParseABI(EntryPointABI)
	SimpleAccount = mustParseABI(SimpleAccountABI)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic("invalid ABI: " + err.Error())
	}
	return parsed
}

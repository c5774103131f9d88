package blockchain_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/testutil"
)

func TestERC20Reads(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	token := testutil.GenerateAddress()
	owner := testutil.GenerateAddress()
	spender := testutil.GenerateAddress()

	chain.SetBalance(token, owner, testutil.USDC(15))
	chain.SetAllowance(token, owner, spender, testutil.USDC(3))

	balance, err := blockchain.ERC20Source{Client: chain, Token: token}.BalanceOf(ctx, owner)
	require.NoError(t, err)
	testutil.AssertBigIntEqual(t, testutil.USDC(15), balance)

	allowance, err := blockchain.Allowance(ctx, chain, token, owner, spender)
	require.NoError(t, err)
	testutil.AssertBigIntEqual(t, testutil.USDC(3), allowance)

	chain.FailBalance(owner, testutil.ErrRPC)
	_, err = blockchain.TokenBalance(ctx, chain, token, owner)
	assert.Error(t, err)
}

func TestGasPrice(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	chain.GasPriceWei = big.NewInt(1_000_000_000)

	price, err := blockchain.GasPrice(ctx, chain, 1.5, big.NewInt(10_000_000_000))
	require.NoError(t, err)
	testutil.AssertBigIntEqual(t, big.NewInt(1_500_000_000), price)

	price, err = blockchain.GasPrice(ctx, chain, 1.5, big.NewInt(1_200_000_000))
	require.NoError(t, err)
	testutil.AssertBigIntEqual(t, big.NewInt(1_200_000_000), price)
}

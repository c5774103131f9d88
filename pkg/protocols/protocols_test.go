package protocols

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablezap/stablezap/pkg/balance"
	"github.com/stablezap/stablezap/pkg/contracts"
	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/models"
	"github.com/stablezap/stablezap/pkg/testutil"
	"github.com/stablezap/stablezap/pkg/txerr"
	"github.com/stablezap/stablezap/pkg/wallet"
)

type fakeStandard struct {
	chain     *testutil.FakeChain
	calls     []models.Call
	approvals int
	failOn    string
}

func (f *fakeStandard) Execute(_ context.Context, _ *wallet.EOA, call models.Call) (*models.ExecutionResult, error) {
	f.calls = append(f.calls, call)
	if call.Method == f.failOn {
		return nil, errors.New("execution reverted")
	}
	return &models.ExecutionResult{TxHash: "0xstd"}, nil
}

func (f *fakeStandard) EnsureAllowance(_ context.Context, eoa *wallet.EOA, token, spender common.Address, _ *big.Int) (bool, error) {
	f.approvals++
	f.chain.SetAllowance(token, eoa.Address, spender, math.MaxBig256)
	return true, nil
}

type fakeGasless struct {
	bundles [][]models.Call
}

func (f *fakeGasless) Execute(_ context.Context, _ *wallet.SmartAccount, calls []models.Call) (*models.ExecutionResult, error) {
	f.bundles = append(f.bundles, calls)
	return &models.ExecutionResult{TxHash: "0xaa", Gasless: true}, nil
}

type fixture struct {
	chain    *testutil.FakeChain
	standard *fakeStandard
	gasless  *fakeGasless
	registry *Registry
	wallets  *wallet.Resolution
	usdc     common.Address
	aToken   common.Address
	vault    common.Address
}

func newFixture(t *testing.T) *fixture {
	chain := testutil.NewFakeChain()
	log := &logger.EmptyLogger{}
	f := &fixture{
		chain:    chain,
		standard: &fakeStandard{chain: chain},
		gasless:  &fakeGasless{},
		usdc:     testutil.GenerateAddress(),
		aToken:   testutil.GenerateAddress(),
		vault:    testutil.GenerateAddress(),
		wallets: &wallet.Resolution{
			GaslessAvailable: true,
			EOA:              &wallet.EOA{Address: testutil.GenerateAddress()},
			SmartAccount:     &wallet.SmartAccount{Address: testutil.GenerateAddress()},
		},
	}

	f.registry = NewRegistry(Dependencies{
		Chain:            chain,
		Balances:         balance.NewService(chain, log),
		Standard:         f.standard,
		Gasless:          f.gasless,
		MinNativeBalance: big.NewInt(1_000),
		Logger:           log,
	})
	f.registry.Register(NewAaveAdapter(chain, testutil.GenerateAddress(), f.aToken, testutil.GenerateAddress(), f.usdc))
	f.registry.Register(NewCompoundAdapter(chain, testutil.GenerateAddress(), testutil.GenerateAddress(), f.usdc))
	f.registry.Register(NewMorphoAdapter(chain, f.vault, f.usdc))

	chain.SetNative(f.wallets.EOA.Address, big.NewInt(1_000_000))
	return f
}

func selectorOf(contractABI abi.ABI, method string) []byte {
	return contractABI.Methods[method].ID
}

func isApprove(call models.Call) bool {
	return bytes.Equal(call.Data[:4], selectorOf(contracts.ERC20, "approve"))
}

func TestRegistry(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{"aave", "AAVE", "aave-v3", "compound", "Comet", "morpho", " metamorpho "} {
		handler, err := f.registry.AdapterFor(name)
		require.NoError(t, err, name)
		assert.NotNil(t, handler)
	}

	_, err := f.registry.AdapterFor("euler")
	unsupported, ok := txerr.As[*txerr.UnsupportedProtocolError](err)
	require.True(t, ok)
	assert.Equal(t, []string{"aave", "compound", "morpho"}, unsupported.Known)
	assert.Contains(t, err.Error(), "aave, compound, morpho")
}

func TestDepositSkipsApprovalWhenAllowanceSuffices(t *testing.T) {
	ctx := context.Background()
	amount := testutil.USDC(25)

	for _, name := range []string{"aave", "compound", "morpho"} {
		for _, gasless := range []bool{false, true} {
			f := newFixture(t)
			handler, err := f.registry.AdapterFor(name)
			require.NoError(t, err)
			if gasless && !handler.Adapter().SupportsGasless() {
				continue
			}

			owner, _ := f.wallets.Address(gasless)
			f.chain.SetAllowance(f.usdc, owner, handler.Adapter().Spender(), amount)

			_, err = handler.Deposit(ctx, Request{UserID: "u1", Amount: amount, Wallets: f.wallets, Gasless: gasless})
			require.NoError(t, err)

			assert.Equal(t, 0, f.standard.approvals, "%s gasless=%t", name, gasless)
			for _, bundle := range f.gasless.bundles {
				for _, call := range bundle {
					assert.False(t, isApprove(call), "%s bundled an approval", name)
				}
			}
		}
	}
}

func TestDepositApprovesWhenAllowanceShort(t *testing.T) {
	ctx := context.Background()
	amount := testutil.USDC(25)

	t.Run("Standard path approves then deposits", func(t *testing.T) {
		f := newFixture(t)
		handler, _ := f.registry.AdapterFor("compound")

		res, err := handler.Deposit(ctx, Request{UserID: "u1", Amount: amount, Wallets: f.wallets})
		require.NoError(t, err)
		assert.Equal(t, "0xstd", res.TxHash)
		assert.Equal(t, 1, f.standard.approvals)
		require.Len(t, f.standard.calls, 1)
		assert.Equal(t, "supply", f.standard.calls[0].Method)
	})

	t.Run("Gasless path bundles the approval first", func(t *testing.T) {
		f := newFixture(t)
		handler, _ := f.registry.AdapterFor("aave")

		_, err := handler.Deposit(ctx, Request{UserID: "u1", Amount: amount, Wallets: f.wallets, Gasless: true})
		require.NoError(t, err)
		require.Len(t, f.gasless.bundles, 1)
		bundle := f.gasless.bundles[0]
		require.Len(t, bundle, 2)
		assert.True(t, isApprove(bundle[0]))
		assert.Equal(t, f.usdc, bundle[0].To)
		assert.Equal(t, "supply", bundle[1].Method)
		assert.Equal(t, 0, f.standard.approvals)
	})
}

func TestPathPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("Gasless unsupported", func(t *testing.T) {
		f := newFixture(t)
		handler, _ := f.registry.AdapterFor("morpho")

		_, err := handler.Deposit(ctx, Request{UserID: "u1", Amount: testutil.USDC(1), Wallets: f.wallets, Gasless: true})
		_, ok := txerr.As[*txerr.GaslessUnsupportedError](err)
		assert.True(t, ok)
		assert.Empty(t, f.gasless.bundles)
	})

	t.Run("Standard path needs native gas", func(t *testing.T) {
		f := newFixture(t)
		f.chain.SetNative(f.wallets.EOA.Address, big.NewInt(10))
		handler, _ := f.registry.AdapterFor("aave")

		_, err := handler.Deposit(ctx, Request{UserID: "u1", Amount: testutil.USDC(1), Wallets: f.wallets})
		_, ok := txerr.As[*txerr.InsufficientGasError](err)
		assert.True(t, ok)
		assert.Empty(t, f.standard.calls)
	})

	t.Run("Gasless path ignores native gas", func(t *testing.T) {
		f := newFixture(t)
		handler, _ := f.registry.AdapterFor("aave")
		// smart account holds no ETH at all
		_, err := handler.Deposit(ctx, Request{UserID: "u1", Amount: testutil.USDC(1), Wallets: f.wallets, Gasless: true})
		assert.NoError(t, err)
	})
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("Max withdrawal uses the protocol sentinel", func(t *testing.T) {
		f := newFixture(t)
		handler, _ := f.registry.AdapterFor("aave")

		_, err := handler.Withdraw(ctx, Request{UserID: "u1", Max: true, ClaimRewards: true, Wallets: f.wallets, Gasless: true})
		require.NoError(t, err)
		require.Len(t, f.gasless.bundles, 1)
		bundle := f.gasless.bundles[0]
		require.Len(t, bundle, 2)

		values, err := contracts.AavePool.Methods["withdraw"].Inputs.Unpack(bundle[0].Data[4:])
		require.NoError(t, err)
		testutil.AssertBigIntEqual(t, math.MaxBig256, values[1].(*big.Int))
		assert.Equal(t, f.wallets.SmartAccount.Address, values[2])
		assert.Equal(t, "claimAllRewardsToSelf", bundle[1].Method)
	})

	t.Run("Partial withdrawal without rewards", func(t *testing.T) {
		f := newFixture(t)
		handler, _ := f.registry.AdapterFor("compound")

		_, err := handler.Withdraw(ctx, Request{UserID: "u1", Amount: testutil.USDC(5), Wallets: f.wallets})
		require.NoError(t, err)
		require.Len(t, f.standard.calls, 1)

		values, err := contracts.Comet.Methods["withdraw"].Inputs.Unpack(f.standard.calls[0].Data[4:])
		require.NoError(t, err)
		testutil.AssertBigIntEqual(t, testutil.USDC(5), values[1].(*big.Int))
	})

	t.Run("Vault max redeems every share", func(t *testing.T) {
		f := newFixture(t)
		f.chain.SetBalance(f.vault, f.wallets.EOA.Address, big.NewInt(123_456))
		handler, _ := f.registry.AdapterFor("morpho")

		_, err := handler.Withdraw(ctx, Request{UserID: "u1", Max: true, Wallets: f.wallets})
		require.NoError(t, err)
		require.Len(t, f.standard.calls, 1)
		assert.Equal(t, "redeem", f.standard.calls[0].Method)

		values, err := contracts.ERC4626.Methods["redeem"].Inputs.Unpack(f.standard.calls[0].Data[4:])
		require.NoError(t, err)
		testutil.AssertBigIntEqual(t, big.NewInt(123_456), values[0].(*big.Int))
	})

	t.Run("Failed reward claim keeps the withdrawal", func(t *testing.T) {
		f := newFixture(t)
		f.standard.failOn = "claim"
		handler, _ := f.registry.AdapterFor("compound")

		res, err := handler.Withdraw(ctx, Request{UserID: "u1", Max: true, ClaimRewards: true, Wallets: f.wallets})
		require.NoError(t, err)
		assert.Equal(t, "0xstd", res.TxHash)
		assert.Len(t, f.standard.calls, 2)
	})
}

func TestPositions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.wallets.EOA.Address

	f.chain.SetBalance(f.aToken, owner, testutil.USDC(30))
	f.chain.SetBalance(f.vault, owner, testutil.USDC(12))

	aave, _ := f.registry.AdapterFor("aave")
	position, err := aave.Adapter().Position().BalanceOf(ctx, owner)
	require.NoError(t, err)
	testutil.AssertBigIntEqual(t, testutil.USDC(30), position)

	morpho, _ := f.registry.AdapterFor("morpho")
	position, err = morpho.Adapter().Position().BalanceOf(ctx, owner)
	require.NoError(t, err)
	testutil.AssertBigIntEqual(t, testutil.USDC(12), position)
}

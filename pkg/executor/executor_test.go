package executor

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/contracts"
	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/models"
	"github.com/stablezap/stablezap/pkg/testutil"
	"github.com/stablezap/stablezap/pkg/txerr"
	"github.com/stablezap/stablezap/pkg/wallet"
)

func newExecutor(t *testing.T, chain *testutil.FakeChain, cfg Config) (*Executor, *wallet.EOA) {
	opts, _ := testutil.NewTransactor(t)
	log := &logger.EmptyLogger{}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = time.Second
	}
	if cfg.GasMultiplier == 0 {
		cfg.GasMultiplier = 1
	}
	return New(chain, blockchain.NewNonceManager(log), cfg, log), &wallet.EOA{Address: opts.From, Opts: opts}
}

func supplyCall() models.Call {
	return models.Call{To: testutil.GenerateAddress(), Data: []byte{0x61, 0x7b, 0xa0, 0x37}, Method: "supply"}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("Confirmed", func(t *testing.T) {
		chain := testutil.NewFakeChain()
		exec, eoa := newExecutor(t, chain, Config{})

		res, err := exec.Execute(ctx, eoa, supplyCall())
		require.NoError(t, err)
		require.Len(t, chain.Sent, 1)
		assert.Equal(t, chain.Sent[0].Hash().Hex(), res.TxHash)
		assert.Equal(t, uint64(120_000), chain.Sent[0].Gas())
		assert.Equal(t, uint64(60_000), res.GasUsed)
	})

	t.Run("Simulation failure sends nothing", func(t *testing.T) {
		chain := testutil.NewFakeChain()
		chain.SimulateErr = errors.New("execution reverted: ERC20: transfer amount exceeds balance")
		exec, eoa := newExecutor(t, chain, Config{})

		res, err := exec.Execute(ctx, eoa, supplyCall())
		assert.Nil(t, res)
		sim, ok := txerr.As[*txerr.SimulationError](err)
		require.True(t, ok)
		assert.Equal(t, txerr.SimulationInsufficientFunds, sim.Category)
		assert.Empty(t, chain.Sent)
	})

	t.Run("Reverted receipt is a failure", func(t *testing.T) {
		chain := testutil.NewFakeChain()
		chain.RevertSends = true
		exec, eoa := newExecutor(t, chain, Config{})

		res, err := exec.Execute(ctx, eoa, supplyCall())
		assert.Nil(t, res)
		revert, ok := txerr.As[*txerr.OnChainRevertError](err)
		require.True(t, ok)
		assert.Equal(t, chain.Sent[0].Hash().Hex(), revert.TxHash)
	})

	t.Run("Receipt timeout", func(t *testing.T) {
		chain := testutil.NewFakeChain()
		chain.WithholdReceipts = true
		exec, eoa := newExecutor(t, chain, Config{ReceiptTimeout: 50 * time.Millisecond})

		_, err := exec.Execute(ctx, eoa, supplyCall())
		_, ok := txerr.As[*txerr.ExecutionTimeoutError](err)
		assert.True(t, ok)
	})

	t.Run("Send failure releases the nonce", func(t *testing.T) {
		chain := testutil.NewFakeChain()
		chain.SendErr = errors.New("connection refused")
		exec, eoa := newExecutor(t, chain, Config{})

		_, err := exec.Execute(ctx, eoa, supplyCall())
		require.Error(t, err)

		chain.SendErr = nil
		_, err = exec.Execute(ctx, eoa, supplyCall())
		require.NoError(t, err)
		assert.Equal(t, uint64(0), chain.Sent[0].Nonce())
	})

	t.Run("Gas price capped", func(t *testing.T) {
		chain := testutil.NewFakeChain()
		chain.GasPriceWei = big.NewInt(10_000_000_000)
		exec, eoa := newExecutor(t, chain, Config{GasMultiplier: 1.1, MaxGasPrice: big.NewInt(5_000_000_000)})

		_, err := exec.Execute(ctx, eoa, supplyCall())
		require.NoError(t, err)
		testutil.AssertBigIntEqual(t, big.NewInt(5_000_000_000), chain.Sent[0].GasPrice())
	})

	t.Run("Missing signer", func(t *testing.T) {
		exec, _ := newExecutor(t, testutil.NewFakeChain(), Config{})
		_, err := exec.Execute(ctx, &wallet.EOA{Address: common.HexToAddress("0x1")}, supplyCall())
		assert.Error(t, err)
	})
}

func TestEnsureAllowance(t *testing.T) {
	ctx := context.Background()
	token := testutil.GenerateAddress()
	spender := testutil.GenerateAddress()
	required := testutil.USDC(25)

	t.Run("Sufficient allowance sends nothing", func(t *testing.T) {
		chain := testutil.NewFakeChain()
		exec, eoa := newExecutor(t, chain, Config{})
		chain.SetAllowance(token, eoa.Address, spender, required)

		approved, err := exec.EnsureAllowance(ctx, eoa, token, spender, required)
		require.NoError(t, err)
		assert.False(t, approved)
		assert.Empty(t, chain.Sent)
	})

	t.Run("Short allowance is approved once", func(t *testing.T) {
		chain := testutil.NewFakeChain()
		exec, eoa := newExecutor(t, chain, Config{})

		approved, err := exec.EnsureAllowance(ctx, eoa, token, spender, required)
		require.NoError(t, err)
		assert.True(t, approved)
		assert.Equal(t, 1, chain.SentWithSelector(contracts.ERC20, "approve"))

		approved, err = exec.EnsureAllowance(ctx, eoa, token, spender, required)
		require.NoError(t, err)
		assert.False(t, approved)
		assert.Equal(t, 1, chain.SentWithSelector(contracts.ERC20, "approve"))
	})

	t.Run("Ineffective approval", func(t *testing.T) {
		chain := testutil.NewFakeChain()
		chain.IgnoreApprovals = true
		exec, eoa := newExecutor(t, chain, Config{})

		_, err := exec.EnsureAllowance(ctx, eoa, token, spender, required)
		_, ok := txerr.As[*txerr.ApprovalIneffectiveError](err)
		assert.True(t, ok)
	})
}

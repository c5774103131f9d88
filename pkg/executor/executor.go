// Package executor submits standard transactions from an EOA.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/metrics"
	"github.com/stablezap/stablezap/pkg/models"
	"github.com/stablezap/stablezap/pkg/txerr"
	"github.com/stablezap/stablezap/pkg/wallet"
)

// gasLimitBufferPct is added on top of the node's gas estimate
const gasLimitBufferPct = 20

// Config holds the executor settings
type Config struct {
	GasMultiplier  float64
	MaxGasPrice    *big.Int
	ReceiptTimeout time.Duration
}

// Executor simulates, signs, sends and confirms single calls
type Executor struct {
	client blockchain.ChainClient
	nonces *blockchain.NonceManager
	cfg    Config
	logger logger.Logger
}

// New creates a new standard executor
func New(client blockchain.ChainClient, nonces *blockchain.NonceManager, cfg Config, log logger.Logger) *Executor {
	return &Executor{client: client, nonces: nonces, cfg: cfg, logger: log}
}

// Execute runs call from eoa and waits for its receipt. A nil error means the
// receipt status was successful.
func (e *Executor) Execute(ctx context.Context, eoa *wallet.EOA, call models.Call) (*models.ExecutionResult, error) {
	if eoa == nil || eoa.Opts == nil || eoa.Opts.Signer == nil {
		return nil, fmt.Errorf("no signer for standard execution")
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}
	msg := ethereum.CallMsg{From: eoa.Address, To: &call.To, Data: call.Data, Value: value}

	// Simulate first so nothing reverting is broadcast
	if _, err := e.client.CallContract(ctx, msg, nil); err != nil {
		return nil, txerr.ClassifySimulation(call.Method, err)
	}

	gasLimit, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, txerr.ClassifySimulation(call.Method, err)
	}
	gasLimit = gasLimit * (100 + gasLimitBufferPct) / 100

	gasPrice, err := blockchain.GasPrice(ctx, e.client, e.cfg.GasMultiplier, e.cfg.MaxGasPrice)
	if err != nil {
		return nil, err
	}
	gasPriceGwei, _ := new(big.Float).Quo(new(big.Float).SetInt(gasPrice), big.NewFloat(1e9)).Float64()
	metrics.GasPrice.Set(gasPriceGwei)

	nonce, err := e.nonces.GetNonce(ctx, e.client, eoa.Address)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &call.To,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     call.Data,
	})
	signed, err := eoa.Opts.Signer(eoa.Address, tx)
	if err != nil {
		e.nonces.MarkTransactionFailed(eoa.Address, nonce)
		return nil, fmt.Errorf("failed to sign transaction: %v", err)
	}

	if err := e.client.SendTransaction(ctx, signed); err != nil {
		e.nonces.MarkTransactionFailed(eoa.Address, nonce)
		return nil, fmt.Errorf("failed to send %s transaction: %w", call.Method, err)
	}
	e.nonces.TrackTransaction(eoa.Address, signed.Hash(), nonce)
	e.logger.Info("Sent %s transaction %s from %s (nonce %d, gas %d, price %.2f gwei)",
		call.Method, signed.Hash().Hex(), eoa.Address.Hex(), nonce, gasLimit, gasPriceGwei)

	receipt, err := e.waitMined(ctx, signed)
	if err != nil {
		return nil, err
	}
	e.nonces.MarkTransactionConfirmed(eoa.Address, nonce)

	if receipt.Status == types.ReceiptStatusFailed {
		e.logger.Error("Transaction %s (%s) reverted", signed.Hash().Hex(), call.Method)
		return nil, &txerr.OnChainRevertError{TxHash: signed.Hash().Hex(), Reason: call.Method}
	}

	e.logger.Info("Transaction %s (%s) confirmed, gas used %d", signed.Hash().Hex(), call.Method, receipt.GasUsed)
	return &models.ExecutionResult{TxHash: signed.Hash().Hex(), GasUsed: receipt.GasUsed}, nil
}

// EnsureAllowance approves spender for an unlimited amount when the current
// allowance is below required, then reads the allowance back. It reports
// whether an approval was sent.
func (e *Executor) EnsureAllowance(ctx context.Context, eoa *wallet.EOA, token, spender common.Address, required *big.Int) (bool, error) {
	allowance, err := blockchain.Allowance(ctx, e.client, token, eoa.Address, spender)
	if err != nil {
		return false, err
	}
	if allowance.Cmp(required) >= 0 {
		return false, nil
	}

	e.logger.Info("Allowance %s of %s for %s is below %s, approving", allowance, token.Hex(), spender.Hex(), required)
	approve, err := blockchain.ApproveCall(token, spender)
	if err != nil {
		return false, err
	}
	if _, err := e.Execute(ctx, eoa, approve); err != nil {
		return false, fmt.Errorf("approval failed: %w", err)
	}

	after, err := blockchain.Allowance(ctx, e.client, token, eoa.Address, spender)
	if err != nil {
		return true, err
	}
	if after.Cmp(required) < 0 {
		return true, &txerr.ApprovalIneffectiveError{Token: token, Spender: spender, Allowance: after, Required: required}
	}
	return true, nil
}

func (e *Executor) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ReceiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, e.client, tx)
	if err == nil {
		return receipt, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		e.logger.Notice("No receipt for %s after %s", tx.Hash().Hex(), e.cfg.ReceiptTimeout)
		return nil, &txerr.ExecutionTimeoutError{Hash: tx.Hash().Hex(), Timeout: e.cfg.ReceiptTimeout}
	}
	return nil, fmt.Errorf("failed to wait for transaction %s: %w", tx.Hash().Hex(), err)
}

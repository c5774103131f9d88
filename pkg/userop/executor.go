package userop

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/circuitbreaker"
	"github.com/stablezap/stablezap/pkg/contracts"
	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/metrics"
	"github.com/stablezap/stablezap/pkg/models"
	"github.com/stablezap/stablezap/pkg/txerr"
	"github.com/stablezap/stablezap/pkg/wallet"
)

// DefaultPollInterval is the receipt polling interval
const DefaultPollInterval = 2 * time.Second

// Config holds the gasless executor settings
type Config struct {
	EntryPoint     common.Address
	ChainID        *big.Int
	GasToken       common.Address
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// Executor submits batched calls from a smart account with paymaster
// sponsorship. Each Execute produces exactly one user operation.
type Executor struct {
	client  blockchain.ChainClient
	bundler Bundler
	breaker *circuitbreaker.CircuitBreaker
	pad     GasPadder
	cfg     Config
	logger  logger.Logger
}

// NewExecutor creates a gasless executor using PadGasEstimate
func NewExecutor(client blockchain.ChainClient, bundler Bundler, breaker *circuitbreaker.CircuitBreaker, cfg Config, log logger.Logger) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Executor{
		client:  client,
		bundler: bundler,
		breaker: breaker,
		pad:     PadGasEstimate,
		cfg:     cfg,
		logger:  log,
	}
}

// SetGasPadder replaces the estimate padding policy
func (e *Executor) SetGasPadder(pad GasPadder) {
	if pad != nil {
		e.pad = pad
	}
}

// Execute bundles calls into one user operation paid in the gas token and
// waits for its receipt.
func (e *Executor) Execute(ctx context.Context, account *wallet.SmartAccount, calls []models.Call) (*models.ExecutionResult, error) {
	if account == nil || account.Signer == nil {
		return nil, fmt.Errorf("no signer for gasless execution")
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("no calls to execute")
	}
	if e.breaker != nil {
		if err := e.breaker.Allow(); err != nil {
			return nil, err
		}
	}

	acct, err := e.prepareAccount(ctx, *account)
	if err != nil {
		return nil, err
	}

	callData, err := EncodeCalls(calls)
	if err != nil {
		return nil, err
	}

	nonce, err := blockchain.CallUint256(ctx, e.client, contracts.EntryPoint, e.cfg.EntryPoint, "getNonce", acct.Address, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("failed to read account nonce: %w", err)
	}

	maxFee, tip, err := e.fees(ctx)
	if err != nil {
		return nil, err
	}

	op := &UserOperation{
		Sender:               acct.Address,
		Nonce:                nonce,
		InitCode:             acct.InitCode,
		CallData:             callData,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
		Signature:            DummySignature,
	}

	estimate, err := e.bundler.EstimateUserOperationGas(ctx, op, e.cfg.EntryPoint)
	if err != nil {
		return nil, e.bundlerFailure("estimate", err)
	}
	padded := e.pad(*estimate)
	op.PreVerificationGas = padded.PreVerificationGas
	op.VerificationGasLimit = padded.VerificationGasLimit
	op.CallGasLimit = padded.CallGasLimit

	sponsorship, err := e.bundler.SponsorUserOperation(ctx, op, e.cfg.EntryPoint, map[string]interface{}{
		"token": e.cfg.GasToken.Hex(),
	})
	if err != nil {
		return nil, e.paymasterFailure(err)
	}
	applySponsorship(op, sponsorship)

	if err := e.sign(op, acct.Signer); err != nil {
		return nil, err
	}

	opHash, err := e.bundler.SendUserOperation(ctx, op, e.cfg.EntryPoint)
	if err != nil {
		return nil, e.bundlerFailure("send", err)
	}
	if e.breaker != nil {
		e.breaker.RecordSuccess()
	}
	e.logger.Info("Sent user operation %s from %s (%d calls, nonce %s)", opHash.Hex(), acct.Address.Hex(), len(calls), nonce)

	receipt, err := e.waitReceipt(ctx, opHash)
	if err != nil {
		return nil, err
	}

	txHash := receipt.Receipt.TransactionHash.Hex()
	if !receipt.Success {
		e.logger.Error("User operation %s reverted in %s: %s", opHash.Hex(), txHash, receipt.Reason)
		return nil, &txerr.OnChainRevertError{TxHash: txHash, Reason: receipt.Reason}
	}

	var gasUsed uint64
	if receipt.ActualGasUsed != nil {
		gasUsed = receipt.ActualGasUsed.ToInt().Uint64()
	}
	e.logger.Info("User operation %s confirmed in %s", opHash.Hex(), txHash)
	return &models.ExecutionResult{
		TxHash:     txHash,
		UserOpHash: opHash.Hex(),
		GasUsed:    gasUsed,
		Gasless:    true,
	}, nil
}

// prepareAccount strips the init code from accounts that already exist.
// The caller's handle is never mutated.
func (e *Executor) prepareAccount(ctx context.Context, acct wallet.SmartAccount) (wallet.SmartAccount, error) {
	if acct.Deployed || len(acct.InitCode) == 0 {
		return acct.WithoutInitCode(), nil
	}
	deployed, err := blockchain.HasCode(ctx, e.client, acct.Address)
	if err != nil {
		return acct, fmt.Errorf("failed to check account deployment: %w", err)
	}
	if deployed {
		e.logger.Debug("Account %s is deployed, dropping init code", acct.Address.Hex())
		return acct.WithoutInitCode(), nil
	}
	return acct, nil
}

// EncodeCalls packs calls into SimpleAccount execute or executeBatch calldata
func EncodeCalls(calls []models.Call) ([]byte, error) {
	if len(calls) == 1 {
		value := calls[0].Value
		if value == nil {
			value = big.NewInt(0)
		}
		return contracts.SimpleAccount.Pack("execute", calls[0].To, value, calls[0].Data)
	}

	dests := make([]common.Address, len(calls))
	data := make([][]byte, len(calls))
	for i, call := range calls {
		if call.Value != nil && call.Value.Sign() != 0 {
			return nil, fmt.Errorf("batched call %d (%s) carries value", i, call.Method)
		}
		dests[i] = call.To
		data[i] = call.Data
	}
	return contracts.SimpleAccount.Pack("executeBatch", dests, data)
}

func (e *Executor) fees(ctx context.Context) (*big.Int, *big.Int, error) {
	tip, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get priority fee: %w", err)
	}
	head, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	if head.BaseFee == nil {
		price, err := e.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get gas price: %w", err)
		}
		return price, price, nil
	}
	maxFee := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	return maxFee.Add(maxFee, tip), tip, nil
}

func (e *Executor) sign(op *UserOperation, signer wallet.HashSigner) error {
	hash, err := op.Hash(e.cfg.EntryPoint, e.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("failed to hash user operation: %w", err)
	}
	sig, err := signer.SignHash(accounts.TextHash(hash.Bytes()))
	if err != nil {
		return fmt.Errorf("failed to sign user operation: %w", err)
	}
	if len(sig) == 65 && sig[64] < 27 {
		sig[64] += 27
	}
	op.Signature = sig
	return nil
}

func (e *Executor) waitReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.bundler.GetUserOperationReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && waitCtx.Err() == nil {
			e.logger.Debug("Receipt lookup for %s failed: %v", hash.Hex(), err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Notice("No receipt for user operation %s after %s", hash.Hex(), e.cfg.ReceiptTimeout)
			return nil, &txerr.ExecutionTimeoutError{Hash: hash.Hex(), Timeout: e.cfg.ReceiptTimeout, UserOp: true}
		case <-ticker.C:
		}
	}
}

func (e *Executor) paymasterFailure(err error) error {
	metrics.PaymasterRejections.Inc()
	e.logger.Notice("Paymaster refused sponsorship: %v", err)
	if rejected, ok := txerr.As[*txerr.PaymasterRejectedError](txerr.ClassifyBundler(err)); ok {
		return rejected
	}
	return &txerr.PaymasterRejectedError{Reason: err.Error(), Err: err}
}

func (e *Executor) bundlerFailure(stage string, err error) error {
	classified := txerr.ClassifyBundler(err)
	if _, ok := txerr.As[*txerr.PaymasterRejectedError](classified); ok {
		metrics.PaymasterRejections.Inc()
		e.logger.Notice("Bundler %s rejected by paymaster: %v", stage, err)
		return classified
	}
	if e.breaker != nil {
		e.breaker.RecordFailure()
	}
	var rpcErr rpc.Error
	if stage != "send" || errors.As(err, &rpcErr) {
		return &txerr.BundlerRejectedError{Stage: stage, Err: classified}
	}
	// The operation may have reached the mempool before the response was lost
	e.logger.Notice("Bundler %s outcome unknown: %v", stage, err)
	return fmt.Errorf("bundler %s failed: %w", stage, classified)
}

func applySponsorship(op *UserOperation, s *Sponsorship) {
	op.PaymasterAndData = s.PaymasterAndData
	if s.PreVerificationGas != nil {
		op.PreVerificationGas = s.PreVerificationGas.ToInt()
	}
	if s.VerificationGasLimit != nil {
		op.VerificationGasLimit = s.VerificationGasLimit.ToInt()
	}
	if s.CallGasLimit != nil {
		op.CallGasLimit = s.CallGasLimit.ToInt()
	}
}

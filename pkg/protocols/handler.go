package protocols

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/metrics"
	"github.com/stablezap/stablezap/pkg/models"
	"github.com/stablezap/stablezap/pkg/txerr"
	"github.com/stablezap/stablezap/pkg/wallet"
)

// StandardExecutor submits transactions from an EOA
type StandardExecutor interface {
	Execute(ctx context.Context, eoa *wallet.EOA, call models.Call) (*models.ExecutionResult, error)
	EnsureAllowance(ctx context.Context, eoa *wallet.EOA, token, spender common.Address, required *big.Int) (bool, error)
}

// GaslessExecutor submits sponsored call bundles from a smart account
type GaslessExecutor interface {
	Execute(ctx context.Context, account *wallet.SmartAccount, calls []models.Call) (*models.ExecutionResult, error)
}

// NativeBalances reads native gas balances
type NativeBalances interface {
	NativeBalance(ctx context.Context, address common.Address) *big.Int
}

// Dependencies are shared by every handler of a registry
type Dependencies struct {
	Chain            blockchain.ChainClient
	Balances         NativeBalances
	Standard         StandardExecutor
	Gasless          GaslessExecutor
	MinNativeBalance *big.Int
	Logger           logger.Logger
}

// Request is a deposit or withdrawal on one wallet
type Request struct {
	UserID       string
	Amount       *big.Int
	Max          bool // withdrawals only
	ClaimRewards bool // withdrawals only
	Wallets      *wallet.Resolution
	Gasless      bool
}

// Handler runs deposits and withdrawals for one adapter
type Handler struct {
	adapter Adapter
	deps    Dependencies
}

// Adapter returns the wrapped adapter
func (h *Handler) Adapter() Adapter {
	return h.adapter
}

// Deposit supplies req.Amount of the asset. The allowance is checked first and
// only topped up when short.
func (h *Handler) Deposit(ctx context.Context, req Request) (*models.ExecutionResult, error) {
	owner, err := h.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	allowance, err := blockchain.Allowance(ctx, h.deps.Chain, h.adapter.Asset(), owner, h.adapter.Spender())
	if err != nil {
		return nil, err
	}
	needsApproval := allowance.Cmp(req.Amount) < 0

	deposit, err := h.adapter.DepositCalls(owner, req.Amount)
	if err != nil {
		return nil, err
	}

	if req.Gasless {
		calls := make([]models.Call, 0, len(deposit)+1)
		if needsApproval {
			approve, err := blockchain.ApproveCall(h.adapter.Asset(), h.adapter.Spender())
			if err != nil {
				return nil, err
			}
			calls = append(calls, approve)
			metrics.ApprovalsSent.WithLabelValues(h.adapter.Name(), "gasless").Inc()
		}
		calls = append(calls, deposit...)
		h.deps.Logger.DebugWithUser(req.UserID, "Gasless %s deposit of %s (approval bundled: %t)",
			h.adapter.Name(), req.Amount, needsApproval)
		return h.deps.Gasless.Execute(ctx, req.Wallets.SmartAccount, calls)
	}

	if needsApproval {
		if _, err := h.deps.Standard.EnsureAllowance(ctx, req.Wallets.EOA, h.adapter.Asset(), h.adapter.Spender(), req.Amount); err != nil {
			return nil, err
		}
		metrics.ApprovalsSent.WithLabelValues(h.adapter.Name(), "standard").Inc()
	}
	return h.runStandard(ctx, req, deposit)
}

// Withdraw removes req.Amount, or the whole position when req.Max is set
func (h *Handler) Withdraw(ctx context.Context, req Request) (*models.ExecutionResult, error) {
	owner, err := h.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	calls, err := h.adapter.WithdrawCalls(ctx, owner, req.Amount, req.Max, req.ClaimRewards)
	if err != nil {
		return nil, err
	}

	if req.Gasless {
		h.deps.Logger.DebugWithUser(req.UserID, "Gasless %s withdrawal (max: %t, rewards: %t)",
			h.adapter.Name(), req.Max, req.ClaimRewards)
		return h.deps.Gasless.Execute(ctx, req.Wallets.SmartAccount, calls)
	}
	return h.runStandard(ctx, req, calls)
}

// prepare validates the path and returns the acting address
func (h *Handler) prepare(ctx context.Context, req Request) (common.Address, error) {
	if req.Gasless && !h.adapter.SupportsGasless() {
		return common.Address{}, &txerr.GaslessUnsupportedError{Protocol: h.adapter.Name()}
	}
	if !req.Max && (req.Amount == nil || req.Amount.Sign() <= 0) {
		return common.Address{}, &txerr.InvalidAmountError{Amount: "0", Reason: "must be greater than 0"}
	}

	owner, ok := req.Wallets.Address(req.Gasless)
	if !ok {
		return common.Address{}, &txerr.NoViablePathError{Reason: "the selected wallet does not exist"}
	}

	// Gas is sponsored on the gasless path
	if !req.Gasless {
		native := h.deps.Balances.NativeBalance(ctx, owner)
		if native.Cmp(h.deps.MinNativeBalance) < 0 {
			return common.Address{}, &txerr.InsufficientGasError{Wallet: owner, Balance: native, Required: h.deps.MinNativeBalance}
		}
	}
	return owner, nil
}

// runStandard executes the first call, then the follow-ups. Follow-ups (reward
// claims) are best effort once the primary call is confirmed.
func (h *Handler) runStandard(ctx context.Context, req Request, calls []models.Call) (*models.ExecutionResult, error) {
	result, err := h.deps.Standard.Execute(ctx, req.Wallets.EOA, calls[0])
	if err != nil {
		return nil, err
	}
	for _, call := range calls[1:] {
		if _, err := h.deps.Standard.Execute(ctx, req.Wallets.EOA, call); err != nil {
			h.deps.Logger.ErrorWithUser(req.UserID, "Follow-up %s on %s failed: %v", call.Method, h.adapter.Name(), err)
		}
	}
	return result, nil
}

package router

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stablezap/stablezap/pkg/balance"
	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/metrics"
	"github.com/stablezap/stablezap/pkg/models"
	"github.com/stablezap/stablezap/pkg/protocols"
	"github.com/stablezap/stablezap/pkg/swap"
	"github.com/stablezap/stablezap/pkg/txerr"
	"github.com/stablezap/stablezap/pkg/wallet"
)

// deposit prioritizes capability: the smart wallet whenever the protocol
// supports it, the EOA only when it can pay for gas.
func (r *Router) deposit(ctx context.Context, intent models.Intent) *execution {
	run := r.rejected(intent, nil)

	r.transition(intent, StateResolving)
	res, err := r.deps.Wallets.Resolve(ctx, intent.UserID)
	if err != nil {
		run.err = err
		return run
	}
	handler, err := r.deps.Registry.AdapterFor(intent.Target)
	if err != nil {
		run.err = err
		return run
	}
	adapter := handler.Adapter()
	run.position = adapter.Name()

	kind := models.WalletEOA
	switch {
	case res.GaslessAvailable && adapter.SupportsGasless():
		run.gasless = true
		run.wallet = res.SmartAccount.Address
		kind = models.WalletSmartAccount
	case r.hasNativeGas(ctx, res):
		run.wallet = res.EOA.Address
	default:
		run.err = r.noDepositPath(ctx, res, adapter.Name())
		return run
	}

	r.transition(intent, StateBalanceChecking)
	stable := blockchain.ERC20Source{Client: r.deps.Chain, Token: r.cfg.StableToken}
	available := r.deps.Balances.Read(ctx, intent.UserID, stable, run.wallet)

	amount, err := r.resolveAmount(intent, available, run.gasless, r.cfg.StableDecimals)
	if err != nil {
		run.err = err
		return run
	}
	run.amount = amount
	if available.Cmp(amount) < 0 {
		return r.capture(ctx, intent, run, amount, available, kind)
	}

	r.transition(intent, StatePlanning)
	req := protocols.Request{UserID: intent.UserID, Amount: amount, Wallets: res, Gasless: run.gasless}

	r.transition(intent, StateExecuting)
	run.executed = true
	run.result, run.err = handler.Deposit(ctx, req)

	if run.err != nil && run.gasless && isPaymasterRejection(run.err) {
		fallback, ok := r.standardFallback(ctx, intent, res, stable, amount, intent.IsMax())
		if ok {
			r.logger.NoticeWithUser(intent.UserID, "Sponsorship refused, retrying deposit from %s", res.EOA.Address.Hex())
			metrics.Fallbacks.WithLabelValues(string(intent.Kind), "paymaster_rejected").Inc()
			run.gasless = false
			run.wallet = res.EOA.Address
			run.amount = fallback
			req.Gasless = false
			req.Amount = fallback
			run.result, run.err = handler.Deposit(ctx, req)
		}
	}
	return run
}

// withdraw prioritizes sufficiency: the smart wallet when it holds enough,
// otherwise the EOA.
func (r *Router) withdraw(ctx context.Context, intent models.Intent) *execution {
	run := r.rejected(intent, nil)

	r.transition(intent, StateResolving)
	res, err := r.deps.Wallets.Resolve(ctx, intent.UserID)
	if err != nil {
		run.err = err
		return run
	}
	handler, err := r.deps.Registry.AdapterFor(intent.Target)
	if err != nil {
		run.err = err
		return run
	}
	adapter := handler.Adapter()
	run.position = adapter.Name()

	isMax := intent.IsMax()
	var required *big.Int
	if !isMax {
		if required, err = blockchain.ParseAmount(intent.Amount, r.cfg.StableDecimals); err != nil {
			run.err = err
			return run
		}
	}
	claim := isMax
	if intent.ClaimRewards != nil {
		claim = *intent.ClaimRewards
	}

	r.transition(intent, StateBalanceChecking)
	snapshot := r.deps.Balances.Snapshot(ctx, intent.UserID, res, adapter.Position())
	smartOK := res.SmartAccount != nil && adapter.SupportsGasless() && r.covers(snapshot.SmartWallet, required, true)
	eoaOK := res.EOA != nil && r.covers(snapshot.EOA, required, false)

	r.transition(intent, StatePlanning)
	switch {
	case smartOK:
		run.gasless = true
		run.wallet = res.SmartAccount.Address
	case eoaOK:
		run.wallet = res.EOA.Address
	case res.SmartAccount != nil && !adapter.SupportsGasless() && r.covers(snapshot.SmartWallet, required, false):
		// The position exists but only the gasless path could reach it
		run.err = &txerr.GaslessUnsupportedError{Protocol: adapter.Name()}
		return run
	default:
		run.err = r.withdrawShortage(res, adapter.Name(), required, snapshot.EOA, snapshot.SmartWallet)
		return run
	}
	run.amount = required
	if isMax {
		run.amount = r.maxAmount(snapshot.Of(run.gasless), run.gasless)
	}

	req := protocols.Request{
		UserID:       intent.UserID,
		Amount:       run.amount,
		Max:          isMax,
		ClaimRewards: claim,
		Wallets:      res,
		Gasless:      run.gasless,
	}

	r.transition(intent, StateExecuting)
	run.executed = true
	run.result, run.err = handler.Withdraw(ctx, req)

	if run.err != nil && run.gasless && eoaOK && txerr.IsTransactional(run.err) {
		fallback, ok := r.standardFallback(ctx, intent, res, adapter.Position(), required, isMax)
		if ok {
			r.logger.NoticeWithUser(intent.UserID, "Gasless withdrawal failed (%v), retrying from %s", run.err, res.EOA.Address.Hex())
			metrics.Fallbacks.WithLabelValues(string(intent.Kind), txerr.Classify(run.err)).Inc()
			run.gasless = false
			run.wallet = res.EOA.Address
			run.amount = fallback
			req.Gasless = false
			req.Amount = fallback
			run.result, run.err = handler.Withdraw(ctx, req)
		}
	}
	return run
}

// swap buys or sells an index token through the aggregator
func (r *Router) swap(ctx context.Context, intent models.Intent) *execution {
	run := r.rejected(intent, nil)
	buy := intent.Kind == models.KindSwapBuy

	r.transition(intent, StateResolving)
	res, err := r.deps.Wallets.Resolve(ctx, intent.UserID)
	if err != nil {
		run.err = err
		return run
	}
	token, err := r.indexToken(intent.Target)
	if err != nil {
		run.err = err
		return run
	}

	input, output := r.cfg.StableToken, token
	if !buy {
		input, output = token, r.cfg.StableToken
		decimals, err := blockchain.TokenDecimals(ctx, r.deps.Chain, token)
		if err != nil {
			run.err = err
			return run
		}
		run.decimals = decimals
		run.symbol = strings.ToUpper(intent.Target)
	}

	kind := models.WalletEOA
	switch {
	case res.GaslessAvailable:
		run.gasless = true
		run.wallet = res.SmartAccount.Address
		kind = models.WalletSmartAccount
	case r.hasNativeGas(ctx, res):
		run.wallet = res.EOA.Address
	default:
		run.err = r.noDepositPath(ctx, res, "swaps")
		return run
	}

	r.transition(intent, StateBalanceChecking)
	source := blockchain.ERC20Source{Client: r.deps.Chain, Token: input}
	available := r.deps.Balances.Read(ctx, intent.UserID, source, run.wallet)

	amount, err := r.resolveAmount(intent, available, run.gasless && buy, run.decimals)
	if err != nil {
		run.err = err
		return run
	}
	run.amount = amount
	if available.Cmp(amount) < 0 {
		if buy {
			return r.capture(ctx, intent, run, amount, available, kind)
		}
		run.err = &txerr.InsufficientBalanceError{Asset: run.symbol, Wallet: run.wallet, Required: amount, Available: available}
		return run
	}

	r.transition(intent, StatePlanning)
	quote, calls, err := r.planSwap(ctx, input, output, amount, run.wallet)
	if err != nil {
		run.err = err
		return run
	}

	r.transition(intent, StateExecuting)
	run.executed = true
	run.result, run.err = r.runSwap(ctx, res, run.gasless, quote, calls)

	if run.err != nil && run.gasless && isPaymasterRejection(run.err) {
		fallback, ok := r.standardFallback(ctx, intent, res, source, amount, intent.IsMax())
		if !ok {
			return run
		}
		// Aggregator calldata is bound to the wallet, so the EOA gets its own quote
		quote, calls, err := r.planSwap(ctx, input, output, fallback, res.EOA.Address)
		if err != nil {
			r.logger.ErrorWithUser(intent.UserID, "Could not re-quote for the regular wallet: %v", err)
			return run
		}
		r.logger.NoticeWithUser(intent.UserID, "Sponsorship refused, retrying swap from %s", res.EOA.Address.Hex())
		metrics.Fallbacks.WithLabelValues(string(intent.Kind), "paymaster_rejected").Inc()
		run.gasless = false
		run.wallet = res.EOA.Address
		run.amount = fallback
		run.result, run.err = r.runSwap(ctx, res, false, quote, calls)
	}
	return run
}

func (r *Router) planSwap(ctx context.Context, input, output common.Address, amount *big.Int, owner common.Address) (*models.Quote, []models.Call, error) {
	quote, err := r.deps.Swaps.Quote(ctx, swap.QuoteRequest{
		InputToken:  input,
		OutputToken: output,
		InputAmount: amount,
		UserAddress: owner,
	})
	if err != nil {
		return nil, nil, err
	}
	calls, err := r.deps.Swaps.BuildSwapCalls(ctx, quote, owner)
	if err != nil {
		return nil, nil, err
	}
	return quote, calls, nil
}

// runSwap submits the swap calls. On the standard path approvals go through
// EnsureAllowance so the allowance is confirmed before the swap is sent.
func (r *Router) runSwap(ctx context.Context, res *wallet.Resolution, gasless bool, quote *models.Quote, calls []models.Call) (*models.ExecutionResult, error) {
	if gasless {
		return r.deps.Gasless.Execute(ctx, res.SmartAccount, calls)
	}

	var result *models.ExecutionResult
	for _, call := range calls {
		if call.Method == "approve" {
			if _, err := r.deps.Standard.EnsureAllowance(ctx, res.EOA, quote.InputToken, quote.Transaction.To, quote.InAmount); err != nil {
				return nil, err
			}
			continue
		}
		out, err := r.deps.Standard.Execute(ctx, res.EOA, call)
		if err != nil {
			return nil, err
		}
		result = out
	}
	if result == nil {
		return nil, fmt.Errorf("swap produced no transaction")
	}
	return result, nil
}

// standardFallback re-reads the EOA and returns the amount it can execute,
// if it can execute at all.
func (r *Router) standardFallback(ctx context.Context, intent models.Intent, res *wallet.Resolution, source balance.Source, amount *big.Int, isMax bool) (*big.Int, bool) {
	if res.EOA == nil || !r.hasNativeGas(ctx, res) {
		return nil, false
	}
	available := r.deps.Balances.Read(ctx, intent.UserID, source, res.EOA.Address)
	if isMax {
		if available.Sign() <= 0 {
			return nil, false
		}
		return available, true
	}
	if amount == nil || available.Cmp(amount) < 0 {
		return nil, false
	}
	return amount, true
}

// resolveAmount parses the intent amount; "max" takes the available balance,
// less the fee reserve when reserve is set.
func (r *Router) resolveAmount(intent models.Intent, available *big.Int, reserve bool, decimals int32) (*big.Int, error) {
	if !intent.IsMax() {
		return blockchain.ParseAmount(intent.Amount, decimals)
	}
	amount := r.maxAmount(available, reserve)
	if amount.Sign() <= 0 {
		return nil, &txerr.InvalidAmountError{Amount: models.AmountMax, Reason: "there is nothing to move"}
	}
	return amount, nil
}

// covers reports whether available satisfies required; a nil required means
// a max withdrawal that needs a positive amount after the reserve
func (r *Router) covers(available, required *big.Int, gasless bool) bool {
	if required == nil {
		return r.maxAmount(available, gasless).Sign() > 0
	}
	return available.Cmp(required) >= 0
}

func (r *Router) noDepositPath(ctx context.Context, res *wallet.Resolution, target string) error {
	if res.EOA == nil {
		return &txerr.NoViablePathError{Reason: fmt.Sprintf("the smart wallet cannot be used for %s and there is no regular wallet", target)}
	}
	native := r.deps.Balances.NativeBalance(ctx, res.EOA.Address)
	return &txerr.NoViablePathError{Reason: fmt.Sprintf("no gasless route for %s and the regular wallet %s holds %s wei of gas, %s needed",
		target, res.EOA.Address.Hex(), native, r.cfg.MinNativeBalance)}
}

func (r *Router) withdrawShortage(res *wallet.Resolution, protocol string, required, eoa, smart *big.Int) error {
	available, holder := eoa, common.Address{}
	if res.EOA != nil {
		holder = res.EOA.Address
	}
	if res.SmartAccount != nil && smart.Cmp(eoa) > 0 {
		available, holder = smart, res.SmartAccount.Address
	}
	if required == nil {
		required = big.NewInt(1)
	}
	return &txerr.InsufficientBalanceError{
		Asset:     protocol + " position",
		Wallet:    holder,
		Required:  required,
		Available: available,
	}
}

func isPaymasterRejection(err error) bool {
	_, ok := txerr.As[*txerr.PaymasterRejectedError](err)
	return ok
}

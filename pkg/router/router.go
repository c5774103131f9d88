// Package router turns user intents into executed transactions: it resolves
// wallets, checks balances, picks the execution path, runs it and records the
// single outcome of every intent.
package router

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/stablezap/stablezap/pkg/balance"
	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/keylock"
	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/metrics"
	"github.com/stablezap/stablezap/pkg/models"
	"github.com/stablezap/stablezap/pkg/protocols"
	"github.com/stablezap/stablezap/pkg/recovery"
	"github.com/stablezap/stablezap/pkg/swap"
	"github.com/stablezap/stablezap/pkg/txerr"
	"github.com/stablezap/stablezap/pkg/wallet"
)

// State is a step of intent processing
type State string

const (
	StateResolving       State = "resolving"
	StateBalanceChecking State = "balance_checking"
	StateRecovering      State = "recovering"
	StatePlanning        State = "planning"
	StateExecuting       State = "executing"
	StateRecording       State = "recording"
	StateDone            State = "done"
)

// Direction of a swap
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// WalletResolver resolves the wallets of a user
type WalletResolver interface {
	Resolve(ctx context.Context, userID string) (*wallet.Resolution, error)
}

// Balances reads fresh balances
type Balances interface {
	Snapshot(ctx context.Context, userID string, res *wallet.Resolution, source balance.Source) balance.Snapshot
	Read(ctx context.Context, userID string, source balance.Source, address common.Address) *big.Int
	NativeBalance(ctx context.Context, address common.Address) *big.Int
}

// Swaps quotes swaps and builds their call lists
type Swaps interface {
	Quote(ctx context.Context, req swap.QuoteRequest) (*models.Quote, error)
	BuildSwapCalls(ctx context.Context, quote *models.Quote, owner common.Address) ([]models.Call, error)
}

// Ledger records executed intents. It is append-only.
type Ledger interface {
	SaveTransaction(ctx context.Context, rec models.TransactionRecord) error
	SavePosition(ctx context.Context, rec models.PositionRecord) error
}

// Recovery captures intents that are short of funds
type Recovery interface {
	Capture(ctx context.Context, intent models.Intent, shortage *big.Int, cc recovery.CaptureContext) error
}

// PriceSource reports the last quoted price of a token
type PriceSource interface {
	LastPrice(token common.Address) (float64, bool)
}

// Config holds the router settings
type Config struct {
	StableToken       common.Address
	StableDecimals    int32
	StableSymbol      string
	IndexTokens       map[string]common.Address
	MinNativeBalance  *big.Int
	GaslessFeeReserve *big.Int // smallest stable units kept back on gasless max amounts
}

// Dependencies are the collaborators of the router
type Dependencies struct {
	Chain    blockchain.ChainClient
	Wallets  WalletResolver
	Balances Balances
	Registry *protocols.Registry
	Swaps    Swaps
	Standard protocols.StandardExecutor
	Gasless  protocols.GaslessExecutor
	Ledger   Ledger
	Recovery Recovery
	Prices   PriceSource // optional
}

// Router executes intents. Intents of one user are serialized.
type Router struct {
	deps   Dependencies
	cfg    Config
	logger logger.Logger
	users  *keylock.Map
}

// New creates a new router
func New(deps Dependencies, cfg Config, log logger.Logger) *Router {
	if cfg.StableSymbol == "" {
		cfg.StableSymbol = "USDC"
	}
	if cfg.GaslessFeeReserve == nil {
		cfg.GaslessFeeReserve = big.NewInt(0)
	}
	if cfg.MinNativeBalance == nil {
		cfg.MinNativeBalance = big.NewInt(0)
	}
	return &Router{deps: deps, cfg: cfg, logger: log, users: keylock.New()}
}

// SetRecovery sets the pending intent manager
func (r *Router) SetRecovery(rec Recovery) {
	r.deps.Recovery = rec
}

// RouteDeposit deposits amount of the stable token into protocol
func (r *Router) RouteDeposit(ctx context.Context, userID, protocol, amount string) (*models.TransactionOutcome, error) {
	return r.Execute(ctx, models.NewIntent(models.KindDeposit, userID, protocol, amount))
}

// RouteWithdraw withdraws amount from protocol. A nil claimRewards claims
// rewards on max withdrawals only.
func (r *Router) RouteWithdraw(ctx context.Context, userID, protocol, amount string, claimRewards *bool) (*models.TransactionOutcome, error) {
	intent := models.NewIntent(models.KindWithdraw, userID, protocol, amount)
	intent.ClaimRewards = claimRewards
	return r.Execute(ctx, intent)
}

// RouteSwap buys or sells an index token against the stable token
func (r *Router) RouteSwap(ctx context.Context, userID string, direction Direction, tokenID, amount string) (*models.TransactionOutcome, error) {
	kind := models.KindSwapBuy
	switch Direction(strings.ToLower(string(direction))) {
	case DirectionBuy:
	case DirectionSell:
		kind = models.KindSwapSell
	default:
		return nil, fmt.Errorf("unknown swap direction %q", direction)
	}
	return r.Execute(ctx, models.NewIntent(kind, userID, tokenID, amount))
}

// Execute runs one intent. Fresh requests and replays both come through here.
// The returned error is the cause of a failed or pending outcome; the outcome
// is always non-nil.
func (r *Router) Execute(ctx context.Context, intent models.Intent) (*models.TransactionOutcome, error) {
	unlock := r.lockUser(intent.UserID)
	defer unlock()

	start := time.Now()
	defer func() {
		metrics.IntentProcessingTime.WithLabelValues(string(intent.Kind)).Observe(time.Since(start).Seconds())
	}()

	r.logger.InfoWithUser(intent.UserID, "Processing %s intent %s: %s on %s", intent.Kind, intent.ID, intent.Amount, intent.Target)

	var run *execution
	switch intent.Kind {
	case models.KindDeposit:
		run = r.deposit(ctx, intent)
	case models.KindWithdraw:
		run = r.withdraw(ctx, intent)
	case models.KindSwapBuy, models.KindSwapSell:
		run = r.swap(ctx, intent)
	default:
		run = r.rejected(intent, fmt.Errorf("unknown intent kind %q", intent.Kind))
	}

	outcome := run.outcome()
	if run.executed {
		r.transition(intent, StateRecording)
		r.record(ctx, intent, run, outcome)
	}
	r.transition(intent, StateDone)

	status := "failure"
	switch {
	case outcome.Pending:
		status = "pending"
	case outcome.Success:
		status = "success"
	}
	metrics.IntentsProcessed.WithLabelValues(string(intent.Kind), outcome.Path, status).Inc()
	if run.err != nil && !outcome.Pending {
		metrics.ExecutionErrors.WithLabelValues(string(intent.Kind), txerr.Classify(run.err)).Inc()
		r.logger.ErrorWithUser(intent.UserID, "Intent %s failed: %v", intent.ID, run.err)
	}
	return outcome, run.err
}

func (r *Router) lockUser(userID string) func() {
	return r.users.Lock(userID)
}

func (r *Router) transition(intent models.Intent, state State) {
	r.logger.DebugWithUser(intent.UserID, "Intent %s -> %s", intent.ID, state)
}

// record writes the single ledger entry of an executed intent. Ledger errors
// are logged and never change the outcome.
func (r *Router) record(ctx context.Context, intent models.Intent, run *execution, outcome *models.TransactionOutcome) {
	if r.deps.Ledger == nil {
		return
	}

	errText := ""
	if run.err != nil {
		errText = txerr.Truncate(run.err.Error(), 500)
	}
	rec := models.TransactionRecord{
		IntentID:   intent.ID,
		UserID:     intent.UserID,
		Kind:       intent.Kind,
		Target:     intent.Target,
		Amount:     run.humanAmount(),
		Path:       outcome.Path,
		Wallet:     run.wallet.Hex(),
		Success:    outcome.Success,
		TxHash:     outcome.TxHash,
		UserOpHash: outcome.UserOpHash,
		GasUsed:    outcome.GasUsed,
		Error:      errText,
		CreatedAt:  time.Now(),
	}
	if err := r.deps.Ledger.SaveTransaction(ctx, rec); err != nil {
		r.logger.ErrorWithUser(intent.UserID, "Failed to record transaction of intent %s: %v", intent.ID, err)
	}

	if !outcome.Success || run.position == "" {
		return
	}
	delta := run.humanAmount()
	if intent.Kind == models.KindWithdraw {
		delta = delta.Neg()
	}
	pos := models.PositionRecord{
		UserID:    intent.UserID,
		Protocol:  run.position,
		Wallet:    run.wallet.Hex(),
		Delta:     delta,
		TxHash:    outcome.TxHash,
		CreatedAt: time.Now(),
	}
	if err := r.deps.Ledger.SavePosition(ctx, pos); err != nil {
		r.logger.ErrorWithUser(intent.UserID, "Failed to record position of intent %s: %v", intent.ID, err)
	}
}

// capture hands a shortfall to recovery. Without a recovery manager the
// shortfall is a plain failure.
func (r *Router) capture(ctx context.Context, intent models.Intent, run *execution, required, available *big.Int, kind models.WalletKind) *execution {
	shortage := new(big.Int).Sub(required, available)
	shortErr := &txerr.InsufficientBalanceError{
		Asset:     r.cfg.StableSymbol,
		Wallet:    run.wallet,
		Required:  required,
		Available: available,
	}
	if r.deps.Recovery == nil {
		run.err = shortErr
		return run
	}

	r.transition(intent, StateRecovering)
	cc := recovery.CaptureContext{
		WalletKind:     kind,
		DepositAddress: run.wallet,
		Token:          r.cfg.StableToken,
		Required:       required,
	}
	if intent.IsSwap() && r.deps.Prices != nil {
		if token, err := r.indexToken(intent.Target); err == nil {
			cc.APYOrPrice, _ = r.deps.Prices.LastPrice(token)
		}
	}
	err := r.deps.Recovery.Capture(ctx, intent, shortage, cc)
	if err != nil {
		r.logger.ErrorWithUser(intent.UserID, "Failed to capture intent %s: %v", intent.ID, err)
		run.err = shortErr
		return run
	}

	run.pending = true
	run.err = shortErr
	run.message = fmt.Sprintf("Your %s wallet %s needs %s more %s to %s %s %s on %s. Deposit within %d minutes and it will complete automatically.",
		walletLabel(kind), run.wallet.Hex(),
		blockchain.FormatAmount(shortage, r.cfg.StableDecimals), r.cfg.StableSymbol,
		actionVerb(intent.Kind), blockchain.FormatAmount(required, r.cfg.StableDecimals), r.cfg.StableSymbol,
		intent.Target, int(models.PendingIntentTTL.Minutes()))
	return run
}

func (r *Router) rejected(intent models.Intent, err error) *execution {
	return &execution{intent: intent, err: err, decimals: r.cfg.StableDecimals, symbol: r.cfg.StableSymbol}
}

func (r *Router) hasNativeGas(ctx context.Context, res *wallet.Resolution) bool {
	if res.EOA == nil {
		return false
	}
	return r.deps.Balances.NativeBalance(ctx, res.EOA.Address).Cmp(r.cfg.MinNativeBalance) >= 0
}

// maxAmount is the whole balance, less the fee reserve on the gasless path
func (r *Router) maxAmount(available *big.Int, gasless bool) *big.Int {
	amount := new(big.Int).Set(available)
	if gasless {
		amount.Sub(amount, r.cfg.GaslessFeeReserve)
	}
	if amount.Sign() < 0 {
		return big.NewInt(0)
	}
	return amount
}

// indexToken looks up a swap token by id
func (r *Router) indexToken(id string) (common.Address, error) {
	token, ok := r.cfg.IndexTokens[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		known := make([]string, 0, len(r.cfg.IndexTokens))
		for name := range r.cfg.IndexTokens {
			known = append(known, name)
		}
		sort.Strings(known)
		return common.Address{}, &txerr.UnsupportedProtocolError{Protocol: id, Known: known}
	}
	return token, nil
}

// execution accumulates the state of one intent run
type execution struct {
	intent   models.Intent
	amount   *big.Int
	decimals int32
	symbol   string
	gasless  bool
	wallet   common.Address
	position string // protocol name for position records

	executed bool
	pending  bool
	result   *models.ExecutionResult
	err      error
	message  string
}

func (e *execution) path() string {
	if e.gasless {
		return "gasless"
	}
	return "standard"
}

func (e *execution) humanAmount() decimal.Decimal {
	return blockchain.FromBaseUnits(e.amount, e.decimals)
}

func (e *execution) displayAmount() string {
	if e.amount == nil {
		return e.intent.Amount + " " + e.symbol
	}
	return blockchain.FormatAmount(e.amount, e.decimals) + " " + e.symbol
}

func (e *execution) outcome() *models.TransactionOutcome {
	out := &models.TransactionOutcome{
		IntentID: e.intent.ID,
		UserID:   e.intent.UserID,
		Kind:     e.intent.Kind,
		Target:   e.intent.Target,
		Amount:   e.intent.Amount,
		Path:     e.path(),
		Pending:  e.pending,
		Error:    e.err,
	}
	if e.amount != nil {
		out.Amount = e.humanAmount().String()
	}

	switch {
	case e.pending:
		out.Message = e.message
	case e.err == nil && e.result != nil:
		out.Success = true
		out.TxHash = e.result.TxHash
		out.UserOpHash = e.result.UserOpHash
		out.GasUsed = e.result.GasUsed
		out.Message = fmt.Sprintf("%s %s on %s. Transaction: %s",
			pastTense(e.intent.Kind), e.displayAmount(), e.intent.Target, e.result.TxHash)
	default:
		out.TxHash, out.UserOpHash = failedHashes(e.err)
		out.Message = txerr.UserMessage(actionVerb(e.intent.Kind), e.displayAmount(), e.intent.Target, e.err)
	}
	return out
}

// failedHashes returns the hash of a transaction that reached the chain and,
// for an unconfirmed user operation, its operation hash
func failedHashes(err error) (txHash, userOpHash string) {
	if revert, ok := txerr.As[*txerr.OnChainRevertError](err); ok {
		return revert.TxHash, ""
	}
	if timeout, ok := txerr.As[*txerr.ExecutionTimeoutError](err); ok {
		if timeout.UserOp {
			return "", timeout.Hash
		}
		return timeout.Hash, ""
	}
	return "", ""
}

func actionVerb(kind models.IntentKind) string {
	switch kind {
	case models.KindDeposit:
		return "deposit"
	case models.KindWithdraw:
		return "withdraw"
	case models.KindSwapBuy:
		return "buy with"
	case models.KindSwapSell:
		return "sell"
	}
	return string(kind)
}

func pastTense(kind models.IntentKind) string {
	switch kind {
	case models.KindDeposit:
		return "Deposited"
	case models.KindWithdraw:
		return "Withdrew"
	case models.KindSwapBuy:
		return "Swapped"
	case models.KindSwapSell:
		return "Sold"
	}
	return "Executed"
}

func walletLabel(kind models.WalletKind) string {
	if kind == models.WalletSmartAccount {
		return "smart"
	}
	return "regular"
}

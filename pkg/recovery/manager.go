// Package recovery keeps intents that failed for lack of funds and replays
// them once the missing deposit arrives.
package recovery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stablezap/stablezap/pkg/balance"
	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/keylock"
	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/metrics"
	"github.com/stablezap/stablezap/pkg/models"
)

// DefaultSweepInterval is how often expired records are purged
const DefaultSweepInterval = 30 * time.Second

// Store persists at most one pending intent per user
type Store interface {
	// Save stores p, replacing any record of the same user. ttl bounds the
	// lifetime of the stored copy.
	Save(ctx context.Context, p *models.PendingIntent, ttl time.Duration) error
	// Get returns nil without error when the user has no record
	Get(ctx context.Context, userID string) (*models.PendingIntent, error)
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context) ([]*models.PendingIntent, error)
}

// Monitor watches a deposit address for incoming funds
type Monitor interface {
	StartMonitoring(ctx context.Context, userID string, address common.Address, window time.Duration, token common.Address) error
}

// Replayer executes an intent with fresh validation
type Replayer interface {
	Execute(ctx context.Context, intent models.Intent) (*models.TransactionOutcome, error)
}

// BalanceReader reads a single fresh balance
type BalanceReader interface {
	Read(ctx context.Context, userID string, source balance.Source, address common.Address) *big.Int
}

// CaptureContext describes where the missing funds must arrive
type CaptureContext struct {
	WalletKind     models.WalletKind
	DepositAddress common.Address
	Token          common.Address
	Required       *big.Int
	APYOrPrice     float64
}

// Result is the outcome of matching a deposit against a pending intent
type Result string

const (
	// ResultCompleted means the intent was cleared and replayed
	ResultCompleted Result = "completed"
	// ResultPartial means funds are still short; the record stays alive
	ResultPartial Result = "partial"
	// ResultNone means the user had no live pending intent
	ResultNone Result = "none"
)

// Resolution is returned by ResolveOnDeposit
type Resolution struct {
	Result    Result
	Pending   *models.PendingIntent
	Remaining *big.Int // set on partial
	Outcome   *models.TransactionOutcome
}

// Manager captures and resolves pending intents. Every read-modify-write of
// a user's record holds that user's lock; replays run after it is released.
type Manager struct {
	store    Store
	monitor  Monitor
	balances BalanceReader
	chain    blockchain.ChainClient
	replayer Replayer
	ttl      time.Duration
	now      func() time.Time
	users    *keylock.Map
	logger   logger.Logger
}

// NewManager creates a new recovery manager
func NewManager(store Store, monitor Monitor, balances BalanceReader, chain blockchain.ChainClient, log logger.Logger) *Manager {
	return &Manager{
		store:    store,
		monitor:  monitor,
		balances: balances,
		chain:    chain,
		ttl:      models.PendingIntentTTL,
		now:      time.Now,
		users:    keylock.New(),
		logger:   log,
	}
}

// SetReplayer sets the component that replays completed intents
func (m *Manager) SetReplayer(r Replayer) {
	m.replayer = r
}

// SetClock replaces the time source
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Capture stores intent as the user's pending intent, superseding any
// previous one, and arms the deposit monitor for the TTL window.
func (m *Manager) Capture(ctx context.Context, intent models.Intent, shortage *big.Int, cc CaptureContext) error {
	unlock := m.users.Lock(intent.UserID)
	defer unlock()

	now := m.now()
	p := &models.PendingIntent{
		Intent:              intent,
		Required:            new(big.Int).Set(cc.Required),
		Shortage:            new(big.Int).Set(shortage),
		WalletKind:          cc.WalletKind,
		DepositAddress:      cc.DepositAddress,
		Token:               cc.Token,
		APYOrPriceAtCapture: cc.APYOrPrice,
		CapturedAt:          now,
		ExpiresAt:           now.Add(m.ttl),
	}

	if err := m.store.Save(ctx, p, m.ttl); err != nil {
		return fmt.Errorf("failed to save pending intent: %w", err)
	}
	m.logger.NoticeWithUser(intent.UserID, "Captured %s of %s on %s, short by %s until %s",
		intent.Kind, intent.Amount, intent.Target, shortage, p.ExpiresAt.Format(time.RFC3339))

	if m.monitor != nil {
		if err := m.monitor.StartMonitoring(ctx, intent.UserID, cc.DepositAddress, m.ttl, cc.Token); err != nil {
			m.logger.ErrorWithUser(intent.UserID, "Failed to start deposit monitor: %v", err)
		}
	}
	return nil
}

// Get returns the live pending intent of userID. Expired records are
// dropped and reported as absent.
func (m *Manager) Get(ctx context.Context, userID string) (*models.PendingIntent, error) {
	unlock := m.users.Lock(userID)
	defer unlock()
	return m.get(ctx, userID)
}

func (m *Manager) get(ctx context.Context, userID string) (*models.PendingIntent, error) {
	p, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	if p.Expired(m.now()) {
		m.logger.DebugWithUser(userID, "Dropping expired pending intent %s", p.Intent.ID)
		if err := m.store.Delete(ctx, userID); err != nil {
			m.logger.ErrorWithUser(userID, "Failed to delete expired pending intent: %v", err)
		}
		return nil, nil
	}
	return p, nil
}

// Cancel removes the pending intent of userID
func (m *Manager) Cancel(ctx context.Context, userID string) error {
	unlock := m.users.Lock(userID)
	defer unlock()
	return m.store.Delete(ctx, userID)
}

// ResolveOnDeposit matches a deposit against the user's pending intent. The
// balance of the captured wallet is re-read; the deposited amount is only
// informational.
func (m *Manager) ResolveOnDeposit(ctx context.Context, userID string, deposited *big.Int) (*Resolution, error) {
	res, err := m.settle(ctx, userID, deposited)
	if err != nil || res.Result != ResultCompleted || m.replayer == nil {
		return res, err
	}

	p := res.Pending
	m.logger.InfoWithUser(userID, "Funds arrived, replaying %s of %s on %s", p.Intent.Kind, p.Intent.Amount, p.Intent.Target)
	outcome, err := m.replayer.Execute(ctx, p.Intent.Retry())
	res.Outcome = outcome
	return res, err
}

// settle updates or clears the record under the user's lock
func (m *Manager) settle(ctx context.Context, userID string, deposited *big.Int) (*Resolution, error) {
	unlock := m.users.Lock(userID)
	defer unlock()

	p, err := m.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		metrics.PendingResolutions.WithLabelValues(string(ResultNone)).Inc()
		return &Resolution{Result: ResultNone}, nil
	}

	source := blockchain.ERC20Source{Client: m.chain, Token: p.Token}
	fresh := m.balances.Read(ctx, userID, source, p.DepositAddress)

	if fresh.Cmp(p.Required) < 0 {
		p.Shortage = new(big.Int).Sub(p.Required, fresh)
		if err := m.store.Save(ctx, p, p.Remaining(m.now())); err != nil {
			return nil, fmt.Errorf("failed to update pending intent: %w", err)
		}
		m.logger.InfoWithUser(userID, "Deposit of %s is not enough for %s on %s, still short by %s",
			deposited, p.Intent.Amount, p.Intent.Target, p.Shortage)
		metrics.PendingResolutions.WithLabelValues(string(ResultPartial)).Inc()
		return &Resolution{Result: ResultPartial, Pending: p, Remaining: new(big.Int).Set(p.Shortage)}, nil
	}

	if err := m.store.Delete(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to clear pending intent: %w", err)
	}
	metrics.PendingResolutions.WithLabelValues(string(ResultCompleted)).Inc()
	return &Resolution{Result: ResultCompleted, Pending: p}, nil
}

// HandleDeposit is the deposit monitor callback
func (m *Manager) HandleDeposit(ctx context.Context, userID string, deposited *big.Int) {
	res, err := m.ResolveOnDeposit(ctx, userID, deposited)
	if err != nil {
		m.logger.ErrorWithUser(userID, "Failed to resolve deposit: %v", err)
		return
	}
	if res.Outcome != nil {
		m.logger.InfoWithUser(userID, "Replay finished: %s", res.Outcome.Message)
	}
}

// Sweep drops expired records and refreshes the pending gauge
func (m *Manager) Sweep(ctx context.Context) error {
	pending, err := m.store.List(ctx)
	if err != nil {
		return err
	}

	now := m.now()
	live := 0
	for _, p := range pending {
		if !p.Expired(now) {
			live++
			continue
		}
		if m.sweepOne(ctx, p.Intent.UserID) {
			live++
		}
	}
	metrics.PendingIntents.Set(float64(live))
	return nil
}

// sweepOne re-reads the record under the user's lock so a capture made after
// the listing is kept. It reports whether a live record remains.
func (m *Manager) sweepOne(ctx context.Context, userID string) bool {
	unlock := m.users.Lock(userID)
	defer unlock()

	p, err := m.store.Get(ctx, userID)
	if err != nil {
		m.logger.ErrorWithUser(userID, "Failed to read pending intent: %v", err)
		return false
	}
	if p == nil {
		return false
	}
	if !p.Expired(m.now()) {
		return true
	}
	if err := m.store.Delete(ctx, userID); err != nil {
		m.logger.ErrorWithUser(userID, "Failed to delete expired pending intent: %v", err)
		return false
	}
	m.logger.DebugWithUser(userID, "Swept expired pending intent %s", p.Intent.ID)
	return false
}

// Run sweeps expired records every interval until ctx is cancelled
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Pending intent sweeper stopped")
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.Error("Pending intent sweep failed: %v", err)
			}
		}
	}
}

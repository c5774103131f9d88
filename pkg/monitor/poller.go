// Package monitor watches deposit addresses for incoming token transfers.
package monitor

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/logger"
)

// DepositHandler is invoked with the observed increase of a watched balance
type DepositHandler func(ctx context.Context, userID string, deposited *big.Int)

type watch struct {
	id     uint64
	cancel context.CancelFunc
}

// Poller polls token balances. A user has at most one live watch; starting a
// new one replaces the previous watch.
type Poller struct {
	client   blockchain.ChainClient
	interval time.Duration
	handler  DepositHandler
	logger   logger.Logger

	mu      sync.Mutex
	base    context.Context
	watches map[string]watch
	nextID  uint64
	wg      sync.WaitGroup
}

// NewPoller creates a poller checking every interval
func NewPoller(client blockchain.ChainClient, interval time.Duration, log logger.Logger) *Poller {
	return &Poller{
		client:   client,
		interval: interval,
		logger:   log,
		base:     context.Background(),
		watches:  make(map[string]watch),
	}
}

// SetHandler registers the deposit callback
func (p *Poller) SetHandler(handler DepositHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

// Start binds watches to ctx; they all stop when it is cancelled
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = ctx
}

// StartMonitoring watches the token balance of address for window. ctx only
// bounds the initial balance read; the watch itself outlives the caller.
func (p *Poller) StartMonitoring(ctx context.Context, userID string, address common.Address, window time.Duration, token common.Address) error {
	initial, err := blockchain.TokenBalance(ctx, p.client, token, address)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if old, ok := p.watches[userID]; ok {
		old.cancel()
	}
	watchCtx, cancel := context.WithTimeout(p.base, window)
	p.nextID++
	w := watch{id: p.nextID, cancel: cancel}
	p.watches[userID] = w
	p.mu.Unlock()

	p.logger.DebugWithUser(userID, "Watching %s for %s deposits (window %s, balance %s)", address.Hex(), token.Hex(), window, initial)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(userID, w)
		p.poll(watchCtx, userID, address, token, initial)
	}()
	return nil
}

// Watching reports whether userID has a live watch
func (p *Poller) Watching(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.watches[userID]
	return ok
}

// Stop cancels every watch and waits for the pollers to exit
func (p *Poller) Stop() {
	p.mu.Lock()
	for _, w := range p.watches {
		w.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) poll(ctx context.Context, userID string, address, token common.Address, last *big.Int) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.DebugWithUser(userID, "Deposit watch on %s ended", address.Hex())
			return
		case <-ticker.C:
		}

		current, err := blockchain.TokenBalance(ctx, p.client, token, address)
		if err != nil {
			p.logger.DebugWithUser(userID, "Balance poll of %s failed: %v", address.Hex(), err)
			continue
		}
		if current.Cmp(last) <= 0 {
			last = current
			continue
		}

		deposited := new(big.Int).Sub(current, last)
		last = current
		p.logger.InfoWithUser(userID, "Observed deposit of %s to %s", deposited, address.Hex())

		// The handler may replace this watch, so it runs on the poller's context
		p.mu.Lock()
		handler, base := p.handler, p.base
		p.mu.Unlock()
		if handler != nil {
			handler(base, userID, deposited)
		}
	}
}

func (p *Poller) release(userID string, w watch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.watches[userID]; ok && current.id == w.id {
		delete(p.watches, userID)
	}
	w.cancel()
}

package blockchain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stablezap/stablezap/pkg/logger"
)

// TransactionStatus represents the status of a transaction
type TransactionStatus int

const (
	// TxPending indicates transaction is pending
	TxPending TransactionStatus = iota
	// TxConfirmed indicates transaction is confirmed
	TxConfirmed
	// TxFailed indicates transaction has failed
	TxFailed
	// TxTimedOut indicates transaction has timed out
	TxTimedOut
)

// nonceResyncInterval forces a refresh from the node after this long
const nonceResyncInterval = 5 * time.Minute

// NonceSource returns the pending nonce of an account
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// TrackedTransaction tracks details about a submitted transaction
type TrackedTransaction struct {
	Hash      common.Hash
	Nonce     uint64
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    TransactionStatus
}

// NonceManager allocates nonces per sending account. Many users share one
// node, but each EOA has its own sequence.
type NonceManager struct {
	accounts  map[common.Address]*accountNonceData
	mu        sync.RWMutex
	txTimeout time.Duration
	logger    logger.Logger
}

// accountNonceData holds nonce data for a specific account
type accountNonceData struct {
	currentNonce uint64
	pendingTxs   map[uint64]*TrackedTransaction
	lastSync     time.Time
	mu           sync.Mutex
}

// NewNonceManager creates a new nonce manager
func NewNonceManager(log logger.Logger) *NonceManager {
	return &NonceManager{
		accounts:  make(map[common.Address]*accountNonceData),
		txTimeout: 5 * time.Minute,
		logger:    log,
	}
}

// SetTransactionTimeout sets the timeout for transactions
func (nm *NonceManager) SetTransactionTimeout(timeout time.Duration) {
	nm.txTimeout = timeout
}

// account returns the data of address, initializing it on first use
func (nm *NonceManager) account(address common.Address) *accountNonceData {
	nm.mu.RLock()
	data, exists := nm.accounts[address]
	nm.mu.RUnlock()
	if exists {
		return data
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	if data, exists = nm.accounts[address]; exists {
		return data
	}
	data = &accountNonceData{pendingTxs: make(map[uint64]*TrackedTransaction)}
	nm.accounts[address] = data
	return data
}

// GetNonce reserves and returns the next available nonce
func (nm *NonceManager) GetNonce(ctx context.Context, client NonceSource, address common.Address) (uint64, error) {
	data := nm.account(address)

	data.mu.Lock()
	defer data.mu.Unlock()

	// Refresh when never synced or stale
	if data.lastSync.IsZero() || time.Since(data.lastSync) > nonceResyncInterval {
		nonce, err := client.PendingNonceAt(ctx, address)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %v", err)
		}

		// If our tracked nonce is behind, update it
		if nonce > data.currentNonce {
			nm.logger.Debug("Updating nonce for %s: %d -> %d", address.Hex(), data.currentNonce, nonce)
			data.currentNonce = nonce
		}
		data.lastSync = time.Now()
	}

	nonce := data.currentNonce
	data.currentNonce++
	return nonce, nil
}

// TrackTransaction records a new transaction
func (nm *NonceManager) TrackTransaction(address common.Address, txHash common.Hash, nonce uint64) {
	data := nm.account(address)

	data.mu.Lock()
	defer data.mu.Unlock()

	now := time.Now()
	data.pendingTxs[nonce] = &TrackedTransaction{
		Hash:      txHash,
		Nonce:     nonce,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    TxPending,
	}
	nm.logger.Debug("Tracking transaction for %s with nonce %d: %s", address.Hex(), nonce, txHash.Hex())
}

// MarkTransactionConfirmed marks a transaction as mined, whatever its status
func (nm *NonceManager) MarkTransactionConfirmed(address common.Address, nonce uint64) bool {
	data := nm.account(address)

	data.mu.Lock()
	defer data.mu.Unlock()

	tx, exists := data.pendingTxs[nonce]
	if !exists {
		nm.logger.Notice("No pending transaction found for %s, nonce %d", address.Hex(), nonce)
		return false
	}

	tx.Status = TxConfirmed
	tx.UpdatedAt = time.Now()
	delete(data.pendingTxs, nonce)
	return true
}

// MarkTransactionFailed releases the nonce of a transaction that never reached the pool.
// It returns true when the nonce will be reused.
func (nm *NonceManager) MarkTransactionFailed(address common.Address, nonce uint64) bool {
	data := nm.account(address)

	data.mu.Lock()
	defer data.mu.Unlock()

	if tx, exists := data.pendingTxs[nonce]; exists {
		tx.Status = TxFailed
		tx.UpdatedAt = time.Now()
	}

	// A nonce can only be reused if it is the last one allocated and nothing above it is in flight
	reusable := nonce+1 == data.currentNonce && !hasPendingAbove(data, nonce)
	delete(data.pendingTxs, nonce)
	if reusable {
		data.currentNonce = nonce
		nm.logger.Debug("Reusing nonce %d for %s after transaction failure", nonce, address.Hex())
		return true
	}

	// Force a resync on next allocation so the gap is repaired from the node
	data.lastSync = time.Time{}
	return false
}

// FindTimeoutTransactions returns the nonces of transactions pending for longer than the timeout
func (nm *NonceManager) FindTimeoutTransactions(address common.Address) []uint64 {
	data := nm.account(address)

	data.mu.Lock()
	defer data.mu.Unlock()

	now := time.Now()
	var timedOut []uint64
	for nonce, tx := range data.pendingTxs {
		if tx.Status == TxPending && now.Sub(tx.CreatedAt) > nm.txTimeout {
			tx.Status = TxTimedOut
			tx.UpdatedAt = now
			nm.logger.Notice("Transaction timed out for %s, nonce %d: %s", address.Hex(), nonce, tx.Hash.Hex())
			timedOut = append(timedOut, nonce)
		}
	}
	return timedOut
}

// SyncWithBlockchain synchronizes nonce state with the blockchain
func (nm *NonceManager) SyncWithBlockchain(ctx context.Context, client NonceSource, address common.Address) error {
	data := nm.account(address)

	data.mu.Lock()
	defer data.mu.Unlock()

	nonce, err := client.PendingNonceAt(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to get pending nonce: %v", err)
	}

	if nonce > data.currentNonce {
		nm.logger.Debug("Updating nonce for %s: %d -> %d", address.Hex(), data.currentNonce, nonce)
		data.currentNonce = nonce
	}
	data.lastSync = time.Now()
	return nil
}

// PendingCounts returns the number of in-flight transactions per account
func (nm *NonceManager) PendingCounts() map[string]int {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	counts := make(map[string]int, len(nm.accounts))
	for address, data := range nm.accounts {
		data.mu.Lock()
		counts[address.Hex()] = len(data.pendingTxs)
		data.mu.Unlock()
	}
	return counts
}

func hasPendingAbove(data *accountNonceData, nonce uint64) bool {
	for pending := range data.pendingTxs {
		if pending > nonce {
			return true
		}
	}
	return false
}

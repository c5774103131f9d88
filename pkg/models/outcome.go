package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionOutcome is the single result of an executed intent
type TransactionOutcome struct {
	IntentID   string
	UserID     string
	Kind       IntentKind
	Target     string
	Amount     string
	Path       string
	Success    bool
	Pending    bool // captured for recovery, nothing was executed
	TxHash     string
	UserOpHash string // gasless path only; set even before a transaction hash is known
	GasUsed    uint64
	Error      error
	Message    string
}

// TransactionRecord is the ledger row for an executed intent
type TransactionRecord struct {
	IntentID   string
	UserID     string
	Kind       IntentKind
	Target     string
	Amount     decimal.Decimal
	Path       string
	Wallet     string
	Success    bool
	TxHash     string
	UserOpHash string
	GasUsed    uint64
	Error      string
	CreatedAt  time.Time
}

// PositionRecord is the ledger row describing a position change
type PositionRecord struct {
	UserID    string
	Protocol  string
	Wallet    string
	Delta     decimal.Decimal // positive on deposit, negative on withdraw
	TxHash    string
	CreatedAt time.Time
}

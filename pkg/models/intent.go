package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// IntentKind identifies the action a user requested
type IntentKind string

const (
	// KindDeposit moves stablecoins into a lending protocol
	KindDeposit IntentKind = "deposit"
	// KindWithdraw moves funds out of a lending protocol
	KindWithdraw IntentKind = "withdraw"
	// KindSwapBuy buys an index token with stablecoins
	KindSwapBuy IntentKind = "swapBuy"
	// KindSwapSell sells an index token for stablecoins
	KindSwapSell IntentKind = "swapSell"
)

// AmountMax is the literal used to request the whole available balance
const AmountMax = "max"

// Intent represents one user-initiated action
type Intent struct {
	ID           string     `json:"id"`
	Kind         IntentKind `json:"kind"`
	UserID       string     `json:"user_id"`
	Target       string     `json:"target"` // protocol name or index token id
	Amount       string     `json:"amount"`
	ClaimRewards *bool      `json:"claim_rewards,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewIntent creates an intent with a fresh identifier
func NewIntent(kind IntentKind, userID, target, amount string) Intent {
	return Intent{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    userID,
		Target:    target,
		Amount:    strings.TrimSpace(amount),
		CreatedAt: time.Now(),
	}
}

// IsMax reports whether the intent asks for the whole balance
func (i Intent) IsMax() bool {
	return strings.EqualFold(i.Amount, AmountMax)
}

// IsSwap reports whether the intent goes through the swap engine
func (i Intent) IsSwap() bool {
	return i.Kind == KindSwapBuy || i.Kind == KindSwapSell
}

// Retry returns a copy of the intent with a new identifier, keeping its parameters
func (i Intent) Retry() Intent {
	retry := i
	retry.ID = uuid.NewString()
	retry.CreatedAt = time.Now()
	return retry
}

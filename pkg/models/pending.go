package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PendingIntentTTL is the lifetime of a captured intent
const PendingIntentTTL = 5 * time.Minute

// PendingIntent is an intent that failed for lack of funds and waits for a deposit
type PendingIntent struct {
	Intent              Intent         `json:"intent"`
	Required            *big.Int       `json:"required"` // amount of Token the intent needs, smallest units
	Shortage            *big.Int       `json:"shortage"`
	WalletKind          WalletKind     `json:"wallet_kind"`
	DepositAddress      common.Address `json:"deposit_address"`
	Token               common.Address `json:"token"`
	APYOrPriceAtCapture float64        `json:"apy_or_price_at_capture"`
	CapturedAt          time.Time      `json:"captured_at"`
	ExpiresAt           time.Time      `json:"expires_at"`
}

// Expired reports whether the record is no longer readable at now
func (p *PendingIntent) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Remaining returns the time left before expiry
func (p *PendingIntent) Remaining(now time.Time) time.Duration {
	if p.Expired(now) {
		return 0
	}
	return p.ExpiresAt.Sub(now)
}

package blockchain

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stablezap/stablezap/pkg/txerr"
)

// ToBaseUnits converts a human amount into the token's smallest unit, truncating extra precision
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts smallest units into a human amount
func FromBaseUnits(value *big.Int, decimals int32) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -decimals)
}

// ParseAmount parses a positive decimal amount string into smallest units
func ParseAmount(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, &txerr.InvalidAmountError{Amount: amount, Reason: "not a number"}
	}
	if !d.IsPositive() {
		return nil, &txerr.InvalidAmountError{Amount: amount, Reason: "must be greater than 0"}
	}
	units := ToBaseUnits(d, decimals)
	if units.Sign() == 0 {
		return nil, &txerr.InvalidAmountError{Amount: amount, Reason: "below token precision"}
	}
	return units, nil
}

// FormatAmount renders smallest units as a human amount
func FormatAmount(value *big.Int, decimals int32) string {
	return FromBaseUnits(value, decimals).String()
}

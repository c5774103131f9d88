package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapTransaction is the aggregator-built transaction, used verbatim
type SwapTransaction struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Quote is a single-use DEX aggregator quote
type Quote struct {
	PathID         string
	InputToken     common.Address
	OutputToken    common.Address
	InAmount       *big.Int
	OutAmounts     []*big.Int
	PriceImpactPct float64
	GasEstimate    float64
	Transaction    SwapTransaction
}

// OutAmount returns the first output amount or zero
func (q *Quote) OutAmount() *big.Int {
	if q == nil || len(q.OutAmounts) == 0 || q.OutAmounts[0] == nil {
		return big.NewInt(0)
	}
	return q.OutAmounts[0]
}

package userop

import "math/big"

// GasEstimate is the bundler's gas estimate for a user operation
type GasEstimate struct {
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int
}

// GasPadder adjusts a bundler estimate before sponsorship
type GasPadder func(GasEstimate) GasEstimate

// PadGasEstimate doubles the verification limit and adds 25% to the call
// limit and 20% to pre-verification gas.
func PadGasEstimate(est GasEstimate) GasEstimate {
	return GasEstimate{
		PreVerificationGas:   scale(est.PreVerificationGas, 120),
		VerificationGasLimit: scale(est.VerificationGasLimit, 200),
		CallGasLimit:         scale(est.CallGasLimit, 125),
	}
}

func scale(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(safeBig(v), big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}

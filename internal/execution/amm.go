package execution

import "math/big"

const bpsDenominator = 10000

// CalcAmountOut prices a swap against a constant-product pool:
//
//	out = in*(10000-feeBps)*reserveOut / (reserveIn*10000 + in*(10000-feeBps))
//
// All arithmetic is integer with floor division, matching what the pair
// contract itself computes. Returns zero for degenerate inputs.
func CalcAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps int64) *big.Int {
	if amountIn == nil || reserveIn == nil || reserveOut == nil {
		return big.NewInt(0)
	}
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}
	if feeBps < 0 || feeBps >= bpsDenominator {
		return big.NewInt(0)
	}

	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(bpsDenominator-feeBps))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(bpsDenominator))
	denominator.Add(denominator, inWithFee)
	return numerator.Div(numerator, denominator)
}

// MinOut applies the slippage cap to an expected output:
// expected*(10000-slippageBps)/10000, floor division.
func MinOut(expected *big.Int, slippageBps int64) *big.Int {
	if expected == nil || expected.Sign() <= 0 || slippageBps < 0 || slippageBps >= bpsDenominator {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(expected, big.NewInt(bpsDenominator-slippageBps))
	return out.Div(out, big.NewInt(bpsDenominator))
}

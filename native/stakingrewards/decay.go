package stakingrewards

import (
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// LambdaNumerator / LambdaDenominator is the decay rate per second,
	// roughly 1/70,000,000.
	LambdaNumerator   = 142857142857143
	lambdaDenomDigits = 22

	// ExpDecayHorizon is the time in seconds after which an exponential decay
	// program has released all but a negligible fraction of its budget.
	ExpDecayHorizon uint64 = 355 * 365 * 86400 / 10
)

var (
	// DecayScale is the fixed-point unit of DecayFactor.
	DecayScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(36), nil)

	// LambdaDenominator is 10^22.
	LambdaDenominator = new(big.Int).Exp(big.NewInt(10), big.NewInt(lambdaDenomDigits), nil)

	lambdaNum      = big.NewInt(LambdaNumerator)
	workPrecision  = new(big.Int).Exp(big.NewInt(10), big.NewInt(60), nil)
	maxDecayFactor = new(big.Int).Sub(DecayScale, big.NewInt(1))
	maxDecayExpArg = new(big.Int).Mul(big.NewInt(100), LambdaDenominator)
	decayScaleWork = new(big.Int).Mul(DecayScale, workPrecision)
	decayScaleUint = uint256.MustFromBig(DecayScale)
)

// DecayFactor returns 1 - e^(-λt) scaled by DecayScale. The result lies in
// [0, DecayScale) for every t and is computed with integer arithmetic only.
func DecayFactor(t uint64) *big.Int {
	if t == 0 {
		return new(big.Int)
	}
	// λt = num / LambdaDenominator
	num := new(big.Int).Mul(lambdaNum, new(big.Int).SetUint64(t))
	if num.Cmp(maxDecayExpArg) > 0 {
		return new(big.Int).Set(maxDecayFactor)
	}
	exp := expScaled(num, LambdaDenominator)
	// e^(-x) rounded up so that the factor stays below one.
	negExp, rem := new(big.Int).QuoRem(decayScaleWork, exp, new(big.Int))
	if rem.Sign() != 0 {
		negExp.Add(negExp, big.NewInt(1))
	}
	if negExp.Cmp(DecayScale) > 0 {
		negExp.Set(DecayScale)
	}
	return negExp.Sub(DecayScale, negExp)
}

// expScaled returns e^(num/den) scaled by workPrecision. The argument is halved
// until it is at most 1/2, the Taylor series is summed until its terms vanish
// and the result is squared back up.
func expScaled(num, den *big.Int) *big.Int {
	halvings := uint(0)
	scaledDen := new(big.Int).Set(den)
	twiceNum := new(big.Int).Lsh(num, 1)
	for twiceNum.Cmp(scaledDen) > 0 {
		scaledDen.Lsh(scaledDen, 1)
		halvings++
	}
	x := new(big.Int).Mul(num, workPrecision)
	x.Quo(x, scaledDen)

	sum := new(big.Int).Set(workPrecision)
	term := new(big.Int).Set(workPrecision)
	divisor := new(big.Int)
	for i := int64(1); ; i++ {
		term.Mul(term, x)
		divisor.Mul(workPrecision, big.NewInt(i))
		term.Quo(term, divisor)
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}
	for ; halvings > 0; halvings-- {
		sum.Mul(sum, sum)
		sum.Quo(sum, workPrecision)
	}
	return sum
}

// ExpDecayAmount returns the cumulative amount of total released after t
// seconds: floor(total × DecayFactor(t) / DecayScale).
func ExpDecayAmount(total *uint256.Int, t uint64) *uint256.Int {
	if total == nil || total.IsZero() || t == 0 {
		return new(uint256.Int)
	}
	factor := uint256.MustFromBig(DecayFactor(t))
	amount, overflow := new(uint256.Int).MulDivOverflow(total, factor, decayScaleUint)
	if overflow {
		// unreachable: factor < DecayScale keeps the result below total
		return new(uint256.Int).Set(total)
	}
	return amount
}

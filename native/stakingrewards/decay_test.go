package stakingrewards

import (
	"math"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func factorFloat(f *big.Int) float64 {
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(f), new(big.Float).SetInt(DecayScale)).Float64()
	return out
}

func TestDecayFactorMatchesExp(t *testing.T) {
	lambda := float64(LambdaNumerator) / 1e22
	samples := []uint64{
		1, 2, 59, 3600, 86400, 7 * 86400, 30 * 86400, 365 * 86400,
		5 * 365 * 86400, ExpDecayHorizon / 2, ExpDecayHorizon, 2 * ExpDecayHorizon,
	}
	for _, sec := range samples {
		got := factorFloat(DecayFactor(sec))
		want := -math.Expm1(-lambda * float64(sec))
		if rel := math.Abs(got-want) / want; rel > 2e-7 {
			t.Fatalf("t=%d: factor %.12e want %.12e (rel err %.3e)", sec, got, want, rel)
		}
	}
}

func TestDecayFactorBounds(t *testing.T) {
	if DecayFactor(0).Sign() != 0 {
		t.Fatalf("factor at zero must be zero")
	}
	prev := new(big.Int)
	for _, sec := range []uint64{1, 1000, 1_000_000, 1_000_000_000, 10_000_000_000, math.MaxUint64} {
		f := DecayFactor(sec)
		if f.Cmp(DecayScale) >= 0 {
			t.Fatalf("t=%d: factor %s reached scale", sec, f)
		}
		if f.Cmp(prev) < 0 {
			t.Fatalf("t=%d: factor decreased", sec)
		}
		prev = f
	}
	max := DecayFactor(math.MaxUint64)
	if new(big.Int).Sub(DecayScale, max).Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected saturated factor, got %s", max)
	}
}

func TestDecayFactorDeterministic(t *testing.T) {
	for _, sec := range []uint64{17, 123456789, ExpDecayHorizon} {
		if DecayFactor(sec).Cmp(DecayFactor(sec)) != 0 {
			t.Fatalf("t=%d: repeated evaluation differs", sec)
		}
	}
}

func TestExpDecayAmountReachesTotalAtHorizon(t *testing.T) {
	total := new(uint256.Int).Mul(uint256.NewInt(90000), uint256.NewInt(1_000_000_000_000_000_000))
	released := ExpDecayAmount(total, ExpDecayHorizon)
	if released.Gt(total) {
		t.Fatalf("released %s exceeds total %s", released, total)
	}
	missing := new(big.Float).SetInt(new(uint256.Int).Sub(total, released).ToBig())
	rel, _ := new(big.Float).Quo(missing, new(big.Float).SetInt(total.ToBig())).Float64()
	if rel > 2e-7 {
		t.Fatalf("relative shortfall %.3e after horizon", rel)
	}
	if !ExpDecayAmount(total, 0).IsZero() {
		t.Fatalf("nothing may be released at zero elapsed time")
	}
}

package stakingrewards

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Curve computes how much of a program's budget becomes releasable at now,
// given what was already released at PrevDistributionTimestamp. The returned
// time elapsed is measured from the program start and clamped to the
// program's end.
type Curve interface {
	Released(p *Program, now uint64) (amount *uint256.Int, timeElapsed uint64)
}

// CurveFor returns the curve implementation for kind.
func CurveFor(kind DistributionType) (Curve, error) {
	switch kind {
	case Flat:
		return FlatCurve{}, nil
	case ExponentialDecay:
		return ExponentialDecayCurve{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedDistributionType, uint8(kind))
	}
}

// FlatCurve releases the remaining budget proportionally to the fraction of
// the not yet distributed window that has passed.
type FlatCurve struct{}

// Released implements Curve.
func (FlatCurve) Released(p *Program, now uint64) (*uint256.Int, uint64) {
	if p == nil || now < p.StartTime {
		return new(uint256.Int), 0
	}
	var duration uint64
	if p.EndTime > p.StartTime {
		duration = p.EndTime - p.StartTime
	}
	elapsed := now - p.StartTime
	if elapsed > duration {
		elapsed = duration
	}
	prevElapsed := previousElapsed(p)
	if elapsed <= prevElapsed || duration <= prevElapsed {
		return new(uint256.Int), elapsed
	}
	remaining := cloneAmount(p.RemainingRewards)
	amount, overflow := new(uint256.Int).MulDivOverflow(
		remaining,
		uint256.NewInt(elapsed-prevElapsed),
		uint256.NewInt(duration-prevElapsed),
	)
	if overflow {
		amount = remaining
	}
	return capAtRemaining(amount, remaining), elapsed
}

// ExponentialDecayCurve releases the difference of the cumulative decay
// amounts between the previous distribution and now.
type ExponentialDecayCurve struct{}

// Released implements Curve.
func (ExponentialDecayCurve) Released(p *Program, now uint64) (*uint256.Int, uint64) {
	if p == nil || now < p.StartTime {
		return new(uint256.Int), 0
	}
	elapsed := now - p.StartTime
	prevElapsed := previousElapsed(p)
	if p.EndTime != 0 {
		var limit uint64
		if p.EndTime > p.StartTime {
			limit = p.EndTime - p.StartTime
		}
		if elapsed > limit {
			elapsed = limit
		}
		if prevElapsed > limit {
			prevElapsed = limit
		}
	}
	if elapsed <= prevElapsed {
		return new(uint256.Int), elapsed
	}
	total := cloneAmount(p.TotalRewards)
	current := ExpDecayAmount(total, elapsed)
	previous := ExpDecayAmount(total, prevElapsed)
	if current.Cmp(previous) <= 0 {
		return new(uint256.Int), elapsed
	}
	amount := new(uint256.Int).Sub(current, previous)
	return capAtRemaining(amount, cloneAmount(p.RemainingRewards)), elapsed
}

func previousElapsed(p *Program) uint64 {
	if p.PrevDistributionTimestamp <= p.StartTime {
		return 0
	}
	return p.PrevDistributionTimestamp - p.StartTime
}

func capAtRemaining(amount, remaining *uint256.Int) *uint256.Int {
	if amount.Cmp(remaining) > 0 {
		return new(uint256.Int).Set(remaining)
	}
	return amount
}

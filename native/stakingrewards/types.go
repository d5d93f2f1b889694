package stakingrewards

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DistributionType selects the release curve of a program.
type DistributionType uint8

const (
	// Flat releases the budget linearly between start and end.
	Flat DistributionType = 0
	// ExponentialDecay releases 1 - e^(-λt) of the budget after t seconds.
	ExponentialDecay DistributionType = 1
)

func (d DistributionType) String() string {
	switch d {
	case Flat:
		return "flat"
	case ExponentialDecay:
		return "exponential_decay"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

// Valid reports whether the type names a supported curve.
func (d DistributionType) Valid() bool {
	return d == Flat || d == ExponentialDecay
}

// ParseDistributionType accepts the names produced by String as well as the
// short forms "exp" and "decay".
func ParseDistributionType(s string) (DistributionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flat", "0":
		return Flat, nil
	case "exponential_decay", "exponential-decay", "exp", "decay", "1":
		return ExponentialDecay, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDistributionType, s)
	}
}

// Program is the rewards program attached to a single pool.
type Program struct {
	Pool                      common.Address
	PoolShare                 common.Address
	RewardsVault              common.Address
	DistributionType          DistributionType
	TotalRewards              *uint256.Int
	RemainingRewards          *uint256.Int
	StartTime                 uint64
	EndTime                   uint64
	PrevDistributionTimestamp uint64
	IsEnabled                 bool
}

// Copy returns a deep copy of the program.
func (p *Program) Copy() *Program {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalRewards = cloneAmount(p.TotalRewards)
	clone.RemainingRewards = cloneAmount(p.RemainingRewards)
	return &clone
}

// Distribution describes a single successful ProcessRewards call.
type Distribution struct {
	Pool             common.Address
	RewardsAmount    *uint256.Int
	PoolTokenAmount  *uint256.Int
	TimeElapsed      uint64
	RemainingRewards *uint256.Int
	Timestamp        uint64
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// programRecord is the persisted form of a Program.
type programRecord struct {
	Pool                      common.Address
	PoolShare                 common.Address
	RewardsVault              common.Address
	DistributionType          uint8
	TotalRewards              *big.Int
	RemainingRewards          *big.Int
	StartTime                 uint64
	EndTime                   uint64
	PrevDistributionTimestamp uint64
	IsEnabled                 bool
}

func newProgramRecord(p *Program) *programRecord {
	return &programRecord{
		Pool:                      p.Pool,
		PoolShare:                 p.PoolShare,
		RewardsVault:              p.RewardsVault,
		DistributionType:          uint8(p.DistributionType),
		TotalRewards:              cloneAmount(p.TotalRewards).ToBig(),
		RemainingRewards:          cloneAmount(p.RemainingRewards).ToBig(),
		StartTime:                 p.StartTime,
		EndTime:                   p.EndTime,
		PrevDistributionTimestamp: p.PrevDistributionTimestamp,
		IsEnabled:                 p.IsEnabled,
	}
}

func (r *programRecord) program() (*Program, error) {
	total, overflow := uint256.FromBig(bigOrZero(r.TotalRewards))
	if overflow {
		return nil, fmt.Errorf("stakingrewards: stored total rewards overflow")
	}
	remaining, overflow := uint256.FromBig(bigOrZero(r.RemainingRewards))
	if overflow {
		return nil, fmt.Errorf("stakingrewards: stored remaining rewards overflow")
	}
	return &Program{
		Pool:                      r.Pool,
		PoolShare:                 r.PoolShare,
		RewardsVault:              r.RewardsVault,
		DistributionType:          DistributionType(r.DistributionType),
		TotalRewards:              total,
		RemainingRewards:          remaining,
		StartTime:                 r.StartTime,
		EndTime:                   r.EndTime,
		PrevDistributionTimestamp: r.PrevDistributionTimestamp,
		IsEnabled:                 r.IsEnabled,
	}, nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

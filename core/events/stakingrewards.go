package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"poolrewards/core/types"
)

const (
	// TypeProgramCreated is emitted when a rewards program is created or
	// re-created for a pool.
	TypeProgramCreated = "stakingrewards.program.created"
	// TypeProgramTerminated is emitted when an active program is stopped early.
	TypeProgramTerminated = "stakingrewards.program.terminated"
	// TypeProgramEnabled is emitted when a program's enabled flag changes.
	TypeProgramEnabled = "stakingrewards.program.enabled"
	// TypeRewardsDistributed is emitted when rewards are released by burning
	// vault shares.
	TypeRewardsDistributed = "stakingrewards.rewards.distributed"
)

// distributionTypeName mirrors the registry's DistributionType values. The
// registry imports this package so the names are kept here as plain strings.
func distributionTypeName(kind uint8) string {
	switch kind {
	case 0:
		return "flat"
	case 1:
		return "exponential_decay"
	default:
		return "unknown(" + strconv.FormatUint(uint64(kind), 10) + ")"
	}
}

// ProgramCreated captures the parameters of a newly created program.
type ProgramCreated struct {
	Pool             common.Address
	RewardsVault     common.Address
	TotalRewards     *uint256.Int
	DistributionType uint8
	StartTime        uint64
	EndTime          uint64
}

// EventType implements the Event interface.
func (ProgramCreated) EventType() string { return TypeProgramCreated }

// Event converts the creation to the generic event payload.
func (e ProgramCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeProgramCreated,
		Attributes: map[string]string{
			"pool":              formatAddress(e.Pool),
			"rewards_vault":     formatAddress(e.RewardsVault),
			"total_rewards":     formatAmount(e.TotalRewards),
			"distribution_type": distributionTypeName(e.DistributionType),
			"start_time":        formatUint(e.StartTime),
			"end_time":          formatUint(e.EndTime),
		},
	}
}

// ProgramTerminated records the early stop of a program together with the
// rewards that were still unreleased at that moment.
type ProgramTerminated struct {
	Pool             common.Address
	EndTime          uint64
	RemainingRewards *uint256.Int
}

// EventType implements the Event interface.
func (ProgramTerminated) EventType() string { return TypeProgramTerminated }

// Event converts the termination to the generic event payload.
func (e ProgramTerminated) Event() *types.Event {
	return &types.Event{
		Type: TypeProgramTerminated,
		Attributes: map[string]string{
			"pool":              formatAddress(e.Pool),
			"end_time":          formatUint(e.EndTime),
			"remaining_rewards": formatAmount(e.RemainingRewards),
		},
	}
}

// ProgramEnabled records a change of the enabled flag.
type ProgramEnabled struct {
	Pool             common.Address
	Status           bool
	RemainingRewards *uint256.Int
}

// EventType implements the Event interface.
func (ProgramEnabled) EventType() string { return TypeProgramEnabled }

// Event converts the flag change to the generic event payload.
func (e ProgramEnabled) Event() *types.Event {
	return &types.Event{
		Type: TypeProgramEnabled,
		Attributes: map[string]string{
			"pool":              formatAddress(e.Pool),
			"status":            strconv.FormatBool(e.Status),
			"remaining_rewards": formatAmount(e.RemainingRewards),
		},
	}
}

// RewardsDistributed records a single release.
type RewardsDistributed struct {
	Pool             common.Address
	RewardsAmount    *uint256.Int
	PoolTokenAmount  *uint256.Int
	TimeElapsed      uint64
	RemainingRewards *uint256.Int
}

// EventType implements the Event interface.
func (RewardsDistributed) EventType() string { return TypeRewardsDistributed }

// Event converts the distribution to the generic event payload.
func (e RewardsDistributed) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardsDistributed,
		Attributes: map[string]string{
			"pool":              formatAddress(e.Pool),
			"rewards_amount":    formatAmount(e.RewardsAmount),
			"pool_token_amount": formatAmount(e.PoolTokenAmount),
			"time_elapsed":      formatUint(e.TimeElapsed),
			"remaining_rewards": formatAmount(e.RemainingRewards),
		},
	}
}

package stakingrewards

import "poolrewards/core/events"

func newProgramCreatedEvent(p *Program) events.ProgramCreated {
	return events.ProgramCreated{
		Pool:             p.Pool,
		RewardsVault:     p.RewardsVault,
		TotalRewards:     cloneAmount(p.TotalRewards),
		DistributionType: uint8(p.DistributionType),
		StartTime:        p.StartTime,
		EndTime:          p.EndTime,
	}
}

func newRewardsDistributedEvent(d *Distribution) events.RewardsDistributed {
	return events.RewardsDistributed{
		Pool:             d.Pool,
		RewardsAmount:    cloneAmount(d.RewardsAmount),
		PoolTokenAmount:  cloneAmount(d.PoolTokenAmount),
		TimeElapsed:      d.TimeElapsed,
		RemainingRewards: cloneAmount(d.RemainingRewards),
	}
}

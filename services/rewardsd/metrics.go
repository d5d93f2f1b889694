package rewardsd

import (
	"math/big"

	"github.com/holiman/uint256"

	"poolrewards/core/events"
	"poolrewards/observability"
)

// metricsEmitter mirrors registry lifecycle events into Prometheus.
// Distributions are recorded by their callers, which see the full result.
type metricsEmitter struct {
	metrics *observability.StakingRewardsMetrics
}

func newMetricsEmitter() *metricsEmitter {
	return &metricsEmitter{metrics: observability.StakingRewards()}
}

// Emit implements events.Emitter.
func (m *metricsEmitter) Emit(e events.Event) {
	m.metrics.RecordEvent(e.EventType())
	switch evt := e.(type) {
	case events.ProgramCreated:
		m.metrics.SetRemaining(evt.Pool.Hex(), toBig(evt.TotalRewards))
	case events.ProgramTerminated:
		m.metrics.SetRemaining(evt.Pool.Hex(), new(big.Int))
	}
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

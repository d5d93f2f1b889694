package rewardsd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"poolrewards/core/events"
	"poolrewards/native/stakingrewards"
)

func TestSchedulerTickReleasesDueRewards(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.provisioner().Apply(testBootstrap()))
	sched := NewScheduler(h.registry, operator, time.Minute, nil)

	h.clock.advance(5 * 24 * time.Hour)
	out := sched.Tick(context.Background())
	require.Len(t, out, 1)
	require.Equal(t, "5000", out[0].RewardsAmount.Dec())
	require.Equal(t, "5000", out[0].RemainingRewards.Dec())
	require.Equal(t, uint64(5*86400), out[0].TimeElapsed)
	require.False(t, out[0].PoolTokenAmount.IsZero())

	require.Empty(t, sched.Tick(context.Background()), "same timestamp must not release again")

	h.clock.advance(30 * 24 * time.Hour)
	out = sched.Tick(context.Background())
	require.Len(t, out, 1)
	require.Equal(t, "5000", out[0].RewardsAmount.Dec())
	require.True(t, out[0].RemainingRewards.IsZero())

	require.Empty(t, sched.Tick(context.Background()), "exhausted programs are skipped")

	entries, err := h.journal.List(context.Background(), JournalFilter{Type: events.TypeRewardsDistributed})
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

type stubDistributor struct {
	programs []*stakingrewards.Program
	failures map[common.Address]error
	calls    []common.Address
}

func (s *stubDistributor) Programs() []*stakingrewards.Program { return s.programs }

func (s *stubDistributor) IsProgramActive(common.Address) bool { return true }

func (s *stubDistributor) ProcessRewards(_ common.Address, pool common.Address) (*stakingrewards.Distribution, error) {
	s.calls = append(s.calls, pool)
	if err := s.failures[pool]; err != nil {
		return nil, err
	}
	return &stakingrewards.Distribution{
		Pool:             pool,
		RewardsAmount:    uint256.NewInt(1),
		PoolTokenAmount:  uint256.NewInt(1),
		RemainingRewards: uint256.NewInt(0),
	}, nil
}

func TestSchedulerContinuesPastFailures(t *testing.T) {
	disabled := common.HexToAddress("0x00000000000000000000000000000000000000a3")
	stub := &stubDistributor{
		programs: []*stakingrewards.Program{
			{Pool: tokenA, IsEnabled: true, RemainingRewards: uint256.NewInt(10)},
			{Pool: disabled, IsEnabled: false, RemainingRewards: uint256.NewInt(10)},
			{Pool: tokenB, IsEnabled: true, RemainingRewards: uint256.NewInt(10)},
		},
		failures: map[common.Address]error{tokenA: errors.New("boom")},
	}
	sched := NewScheduler(stub, operator, time.Minute, nil)
	out := sched.Tick(context.Background())
	require.Len(t, out, 1)
	require.Equal(t, tokenB, out[0].Pool)
	require.Equal(t, []common.Address{tokenA, tokenB}, stub.calls)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	stub := &stubDistributor{}
	sched := NewScheduler(stub, operator, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sched.Run(ctx), context.Canceled)
}

func TestErrorReason(t *testing.T) {
	require.Equal(t, "access_denied", errorReason(stakingrewards.ErrAccessDenied))
	require.Equal(t, "inactive", errorReason(stakingrewards.ErrProgramInactive))
	require.Equal(t, "internal", errorReason(errors.New("disk")))
}

func TestMetricsEmitterTracksRemaining(t *testing.T) {
	m := newMetricsEmitter()
	pool := common.HexToAddress("0x00000000000000000000000000000000000000a9")
	m.Emit(events.ProgramCreated{Pool: pool, TotalRewards: uint256.NewInt(42)})
	require.Equal(t, float64(42), testutil.ToFloat64(m.metrics.Remaining().WithLabelValues(pool.Hex())))
	m.Emit(events.ProgramTerminated{Pool: pool})
	require.Zero(t, testutil.ToFloat64(m.metrics.Remaining().WithLabelValues(pool.Hex())))
}

package rewardsd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"poolrewards/native/stakingrewards"
	"poolrewards/observability"
	telemetry "poolrewards/observability/otel"
)

type distributor interface {
	Programs() []*stakingrewards.Program
	IsProgramActive(pool common.Address) bool
	ProcessRewards(caller, pool common.Address) (*stakingrewards.Distribution, error)
}

// Scheduler periodically releases rewards for every enabled program.
type Scheduler struct {
	registry distributor
	operator common.Address
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.StakingRewardsMetrics
	tracer   trace.Tracer
}

// NewScheduler constructs a scheduler acting as operator.
func NewScheduler(registry distributor, operator common.Address, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		registry: registry,
		operator: operator,
		interval: interval,
		logger:   logger,
		metrics:  observability.StakingRewards(),
		tracer:   telemetry.Tracer("poolrewards/rewardsd/scheduler"),
	}
}

// Run ticks until ctx is cancelled. The first pass runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick processes every enabled program with unreleased rewards once and
// returns the successful distributions. A failing program is logged and
// retried on the next tick.
func (s *Scheduler) Tick(ctx context.Context) []*stakingrewards.Distribution {
	started := time.Now()
	_, span := s.tracer.Start(ctx, "rewardsd.tick")
	defer span.End()

	var (
		out    []*stakingrewards.Distribution
		active int
		failed int
	)
	for _, program := range s.registry.Programs() {
		if s.registry.IsProgramActive(program.Pool) {
			active++
		}
		if !program.IsEnabled || program.RemainingRewards == nil || program.RemainingRewards.IsZero() {
			continue
		}
		pool := program.Pool.Hex()
		dist, err := s.registry.ProcessRewards(s.operator, program.Pool)
		if err != nil {
			failed++
			s.metrics.RecordProcessError(pool, errorReason(err))
			s.logger.Error("process rewards failed", slog.String("pool", pool), slog.Any("error", err))
			continue
		}
		if dist == nil {
			continue
		}
		s.metrics.RecordDistribution(pool, dist.RewardsAmount.ToBig(), dist.PoolTokenAmount.ToBig(), dist.RemainingRewards.ToBig())
		s.logger.Info("rewards distributed",
			slog.String("pool", pool),
			slog.String("amount", dist.RewardsAmount.Dec()),
			slog.String("shares", dist.PoolTokenAmount.Dec()),
			slog.Uint64("time_elapsed", dist.TimeElapsed),
			slog.String("remaining", dist.RemainingRewards.Dec()))
		out = append(out, dist)
	}
	s.metrics.SetActivePrograms(active)
	s.metrics.ObserveTick(time.Since(started))
	span.SetAttributes(
		attribute.Int("distributions", len(out)),
		attribute.Int("failures", failed),
	)
	if failed > 0 {
		span.SetStatus(codes.Error, "some programs failed")
	}
	return out
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, stakingrewards.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, stakingrewards.ErrProgramInactive):
		return "inactive"
	case errors.Is(err, stakingrewards.ErrUnsupportedDistributionType):
		return "unsupported_type"
	default:
		return "internal"
	}
}

package stakingrewards

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"poolrewards/core/events"
)

// Registry manages the lifecycle of rewards programs, one per pool.
type Registry struct {
	mu      sync.Mutex
	st      registryState
	pools   PoolAccounting
	access  AccessControl
	emitter events.Emitter
	now     func() time.Time
}

// NewRegistry creates a registry backed by the provided state manager, pool
// accounting and access control.
func NewRegistry(st registryState, pools PoolAccounting, access AccessControl) *Registry {
	return &Registry{
		st:      st,
		pools:   pools,
		access:  access,
		emitter: events.NoopEmitter{},
		now:     time.Now,
	}
}

// SetEmitter configures the event emitter used to broadcast registry updates.
// Passing nil resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetClock overrides the time source. Passing nil restores time.Now.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now == nil {
		r.now = time.Now
		return
	}
	r.now = now
}

func (r *Registry) timestamp() uint64 {
	ts := r.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// atomically runs fn inside a state snapshot. The snapshot is reverted when fn
// fails and committed otherwise; events are emitted after the commit.
func (r *Registry) atomically(fn func() ([]events.Event, error)) error {
	snap := r.st.Snapshot()
	emitted, err := fn()
	if err != nil {
		r.st.RevertToSnapshot(snap)
		return err
	}
	if err := r.st.Commit(); err != nil {
		r.st.RevertToSnapshot(snap)
		return err
	}
	for _, evt := range emitted {
		r.emitter.Emit(evt)
	}
	return nil
}

func (r *Registry) authorize(caller common.Address) error {
	if r.access == nil || !r.access.IsAdmin(caller) {
		return ErrAccessDenied
	}
	return nil
}

func (r *Registry) load(pool common.Address) (*Program, bool, error) {
	record := new(programRecord)
	found, err := r.st.KVGet(programKey(pool), record)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	program, err := record.program()
	if err != nil {
		return nil, false, err
	}
	return program, true, nil
}

func (r *Registry) store(p *Program) error {
	if err := r.st.KVPut(programKey(p.Pool), newProgramRecord(p)); err != nil {
		return err
	}
	return r.st.KVAppend(programIndexKey, p.Pool.Bytes())
}

func isActive(p *Program, now uint64) bool {
	if p == nil || !p.IsEnabled || now < p.StartTime {
		return false
	}
	switch p.DistributionType {
	case Flat:
		return now < p.EndTime
	case ExponentialDecay:
		return p.EndTime == 0 || now < p.EndTime
	default:
		return false
	}
}

// CreateProgram registers a new program for pool funded by the shares held in
// vault. An existing inactive program for the pool is replaced.
func (r *Registry) CreateProgram(caller, pool, vault common.Address, totalRewards *uint256.Int, kind DistributionType, startTime, endTime uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.atomically(func() ([]events.Event, error) {
		if err := r.authorize(caller); err != nil {
			return nil, err
		}
		if pool == (common.Address{}) || vault == (common.Address{}) {
			return nil, ErrInvalidAddress
		}
		if totalRewards == nil || totalRewards.IsZero() {
			return nil, fmt.Errorf("%w: total rewards must be positive", ErrInvalidParam)
		}
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedDistributionType, uint8(kind))
		}
		now := r.timestamp()
		existing, found, err := r.load(pool)
		if err != nil {
			return nil, err
		}
		if found && isActive(existing, now) {
			return nil, ErrProgramAlreadyActive
		}
		whitelisted, err := r.pools.IsWhitelisted(pool)
		if err != nil {
			return nil, err
		}
		if !whitelisted {
			return nil, ErrNotWhitelisted
		}
		if err := validateSchedule(kind, startTime, endTime, now); err != nil {
			return nil, err
		}
		share, err := r.pools.PoolShare(pool)
		if err != nil {
			return nil, err
		}
		if share == (common.Address{}) {
			return nil, fmt.Errorf("%w: pool has no share class", ErrInvalidAddress)
		}
		funds, err := r.vaultUnderlying(pool, share, vault)
		if err != nil {
			return nil, err
		}
		if funds.Lt(totalRewards) {
			return nil, fmt.Errorf("%w: vault holds %s, need %s", ErrInsufficientFunds, funds.Dec(), totalRewards.Dec())
		}
		program := &Program{
			Pool:             pool,
			PoolShare:        share,
			RewardsVault:     vault,
			DistributionType: kind,
			TotalRewards:     new(uint256.Int).Set(totalRewards),
			RemainingRewards: new(uint256.Int).Set(totalRewards),
			StartTime:        startTime,
			EndTime:          endTime,
			IsEnabled:        true,
		}
		if err := r.store(program); err != nil {
			return nil, err
		}
		return []events.Event{newProgramCreatedEvent(program)}, nil
	})
}

func validateSchedule(kind DistributionType, start, end, now uint64) error {
	if start < now {
		return fmt.Errorf("%w: start time %d is in the past", ErrInvalidParam, start)
	}
	switch kind {
	case Flat:
		if end == 0 || start >= end {
			return fmt.Errorf("%w: end time must be after start time", ErrInvalidParam)
		}
	case ExponentialDecay:
		if end != 0 && end <= start {
			return fmt.Errorf("%w: end time must be zero or after start time", ErrInvalidParam)
		}
	}
	return nil
}

func (r *Registry) vaultUnderlying(pool, share, vault common.Address) (*uint256.Int, error) {
	staked, err := r.pools.PoolLiquidity(pool)
	if err != nil {
		return nil, err
	}
	supply, err := r.pools.ShareSupply(share)
	if err != nil {
		return nil, err
	}
	balance, err := r.pools.ShareBalanceOf(share, vault)
	if err != nil {
		return nil, err
	}
	return SharesToUnderlying(balance, staked, supply), nil
}

// TerminateProgram stops an active program immediately. The unreleased budget
// is reported in the event and nothing further is distributed.
func (r *Registry) TerminateProgram(caller, pool common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.atomically(func() ([]events.Event, error) {
		if err := r.authorize(caller); err != nil {
			return nil, err
		}
		now := r.timestamp()
		program, found, err := r.load(pool)
		if err != nil {
			return nil, err
		}
		if !found || !isActive(program, now) {
			return nil, ErrProgramInactive
		}
		evt := events.ProgramTerminated{
			Pool:             pool,
			EndTime:          now,
			RemainingRewards: cloneAmount(program.RemainingRewards),
		}
		program.EndTime = now
		program.RemainingRewards = new(uint256.Int)
		if err := r.store(program); err != nil {
			return nil, err
		}
		return []events.Event{evt}, nil
	})
}

// EnableProgram sets the enabled flag of an existing program. Setting the
// current value is a no-op and emits nothing.
func (r *Registry) EnableProgram(caller, pool common.Address, status bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.atomically(func() ([]events.Event, error) {
		if err := r.authorize(caller); err != nil {
			return nil, err
		}
		program, found, err := r.load(pool)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: program not found", ErrProgramInactive)
		}
		if program.IsEnabled == status {
			return nil, nil
		}
		program.IsEnabled = status
		if err := r.store(program); err != nil {
			return nil, err
		}
		return []events.Event{events.ProgramEnabled{
			Pool:             pool,
			Status:           status,
			RemainingRewards: cloneAmount(program.RemainingRewards),
		}}, nil
	})
}

// DisableProgram is EnableProgram(caller, pool, false).
func (r *Registry) DisableProgram(caller, pool common.Address) error {
	return r.EnableProgram(caller, pool, false)
}

// IsProgramActive reports whether the pool has an enabled program whose
// release window contains the current time.
func (r *Registry) IsProgramActive(pool common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	program, found, err := r.load(pool)
	if err != nil || !found {
		return false
	}
	return isActive(program, r.timestamp())
}

// ProcessRewards releases whatever the program's curve allows at the current
// time by burning the equivalent pool shares from the rewards vault. Calls
// that release nothing return a nil distribution and leave state untouched.
func (r *Registry) ProcessRewards(caller, pool common.Address) (*Distribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var dist *Distribution
	err := r.atomically(func() ([]events.Event, error) {
		if err := r.authorize(caller); err != nil {
			return nil, err
		}
		program, found, err := r.load(pool)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: program not found", ErrProgramInactive)
		}
		if !program.IsEnabled || program.RemainingRewards.IsZero() {
			return nil, nil
		}
		curve, err := CurveFor(program.DistributionType)
		if err != nil {
			return nil, err
		}
		now := r.timestamp()
		amount, elapsed := curve.Released(program, now)
		if amount.IsZero() {
			return nil, nil
		}
		staked, err := r.pools.PoolLiquidity(pool)
		if err != nil {
			return nil, err
		}
		supply, err := r.pools.ShareSupply(program.PoolShare)
		if err != nil {
			return nil, err
		}
		vaultShares, err := r.pools.ShareBalanceOf(program.PoolShare, program.RewardsVault)
		if err != nil {
			return nil, err
		}
		shares := SharesToBurn(amount, staked, supply, vaultShares)
		if shares.IsZero() {
			return nil, nil
		}
		if err := r.pools.BurnShares(program.PoolShare, program.RewardsVault, shares); err != nil {
			return nil, fmt.Errorf("burn vault shares: %w", err)
		}
		program.RemainingRewards = new(uint256.Int).Sub(program.RemainingRewards, amount)
		program.PrevDistributionTimestamp = now
		if err := r.store(program); err != nil {
			return nil, err
		}
		dist = &Distribution{
			Pool:             pool,
			RewardsAmount:    amount,
			PoolTokenAmount:  shares,
			TimeElapsed:      elapsed,
			RemainingRewards: cloneAmount(program.RemainingRewards),
			Timestamp:        now,
		}
		return []events.Event{newRewardsDistributedEvent(dist)}, nil
	})
	if err != nil {
		return nil, err
	}
	return dist, nil
}

// Program returns a copy of the program registered for pool.
func (r *Registry) Program(pool common.Address) (*Program, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	program, found, err := r.load(pool)
	if err != nil || !found {
		return nil, false
	}
	return program, true
}

// Programs returns every program in creation order.
func (r *Registry) Programs() []*Program {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pools [][]byte
	if err := r.st.KVGetList(programIndexKey, &pools); err != nil {
		return nil
	}
	out := make([]*Program, 0, len(pools))
	for _, raw := range pools {
		program, found, err := r.load(common.BytesToAddress(raw))
		if err != nil || !found {
			continue
		}
		out = append(out, program)
	}
	return out
}

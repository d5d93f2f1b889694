package stakingrewards_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"poolrewards/core/events"
	"poolrewards/core/state"
	"poolrewards/native/stakingrewards"
	"poolrewards/state/pool"
	"poolrewards/state/roles"
	"poolrewards/storage"
)

const day = 86400

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	provider = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	vault    = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	tokenA   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	shareA   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	tokenB   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	shareB   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) {
	c.events = append(c.events, e)
}

type fakeClock struct {
	now int64
}

func (c *fakeClock) Now() time.Time { return time.Unix(c.now, 0) }

func (c *fakeClock) set(ts uint64) { c.now = int64(ts) }

type fixture struct {
	registry *stakingrewards.Registry
	manager  *state.Manager
	ledger   *pool.Ledger
	emitter  *capturingEmitter
	clock    *fakeClock
}

const genesis = 1_700_000_000

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)
	ledger := pool.NewLedger(manager)
	authority := roles.NewAuthority(manager)
	if err := authority.Grant(admin); err != nil {
		t.Fatalf("grant admin: %v", err)
	}
	if err := ledger.RegisterVault(vault); err != nil {
		t.Fatalf("register vault: %v", err)
	}
	f := &fixture{
		manager: manager,
		ledger:  ledger,
		emitter: &capturingEmitter{},
		clock:   &fakeClock{now: genesis},
	}
	f.addPool(t, tokenA, shareA, true)
	if err := manager.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	f.registry = stakingrewards.NewRegistry(manager, ledger, authority)
	f.registry.SetEmitter(f.emitter)
	f.registry.SetClock(f.clock.Now)
	return f
}

// addPool registers a pool with 100000 units staked by the provider and
// 100000 units staked by the vault.
func (f *fixture) addPool(t *testing.T, token, share common.Address, whitelisted bool) {
	t.Helper()
	if err := f.ledger.RegisterPool(token, share); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	if err := f.ledger.SetWhitelisted(token, whitelisted); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if _, err := f.ledger.Deposit(provider, token, units(100000)); err != nil {
		t.Fatalf("provider deposit: %v", err)
	}
	if _, err := f.ledger.Deposit(vault, token, units(100000)); err != nil {
		t.Fatalf("vault deposit: %v", err)
	}
}

func (f *fixture) create(t *testing.T, token common.Address, total *uint256.Int, kind stakingrewards.DistributionType, start, end uint64) {
	t.Helper()
	if err := f.registry.CreateProgram(admin, token, vault, total, kind, start, end); err != nil {
		t.Fatalf("create program: %v", err)
	}
}

func (f *fixture) process(t *testing.T, token common.Address, at uint64) *stakingrewards.Distribution {
	t.Helper()
	f.clock.set(at)
	dist, err := f.registry.ProcessRewards(admin, token)
	if err != nil {
		t.Fatalf("process rewards at %d: %v", at, err)
	}
	return dist
}

func (f *fixture) remaining(t *testing.T, token common.Address) *uint256.Int {
	t.Helper()
	program, ok := f.registry.Program(token)
	if !ok {
		t.Fatalf("program for %s not found", token.Hex())
	}
	return program.RemainingRewards
}

func TestCreateProgramValidation(t *testing.T) {
	f := newFixture(t)
	f.addPool(t, tokenB, shareB, false)
	start := uint64(genesis + day)
	flat := stakingrewards.Flat
	cases := []struct {
		name   string
		caller common.Address
		pool   common.Address
		vault  common.Address
		total  *uint256.Int
		kind   stakingrewards.DistributionType
		start  uint64
		end    uint64
		want   error
	}{
		{"access checked first", stranger, common.Address{}, vault, units(1), flat, start, start + day, stakingrewards.ErrAccessDenied},
		{"zero pool", admin, common.Address{}, vault, units(1), flat, start, start + day, stakingrewards.ErrInvalidAddress},
		{"zero vault", admin, tokenA, common.Address{}, units(1), flat, start, start + day, stakingrewards.ErrInvalidAddress},
		{"zero total", admin, tokenA, vault, new(uint256.Int), flat, start, start + day, stakingrewards.ErrInvalidParam},
		{"unknown kind", admin, tokenA, vault, units(1), stakingrewards.DistributionType(5), start, start + day, stakingrewards.ErrUnsupportedDistributionType},
		{"not whitelisted", admin, tokenB, vault, units(1), flat, start, start + day, stakingrewards.ErrNotWhitelisted},
		{"start in the past", admin, tokenA, vault, units(1), flat, genesis - 1, start + day, stakingrewards.ErrInvalidParam},
		{"flat without end", admin, tokenA, vault, units(1), flat, start, 0, stakingrewards.ErrInvalidParam},
		{"flat end before start", admin, tokenA, vault, units(1), flat, start, start, stakingrewards.ErrInvalidParam},
		{"decay end before start", admin, tokenA, vault, units(1), stakingrewards.ExponentialDecay, start, start - 1, stakingrewards.ErrInvalidParam},
		{"vault underfunded", admin, tokenA, vault, units(100001), flat, start, start + day, stakingrewards.ErrInsufficientFunds},
	}
	for _, tc := range cases {
		err := f.registry.CreateProgram(tc.caller, tc.pool, tc.vault, tc.total, tc.kind, tc.start, tc.end)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if len(f.emitter.events) != 0 {
		t.Fatalf("failed creations must not emit events, got %d", len(f.emitter.events))
	}
	if len(f.registry.Programs()) != 0 {
		t.Fatalf("failed creations must not store programs")
	}

	f.create(t, tokenA, units(1000), flat, start, start+day)
	program, ok := f.registry.Program(tokenA)
	if !ok {
		t.Fatalf("program not stored")
	}
	if program.PoolShare != shareA || !program.IsEnabled || program.PrevDistributionTimestamp != 0 {
		t.Fatalf("unexpected program %+v", program)
	}
	if !program.RemainingRewards.Eq(units(1000)) {
		t.Fatalf("remaining must start at total, got %s", program.RemainingRewards)
	}
	created, ok := f.emitter.events[0].(events.ProgramCreated)
	if !ok || created.Pool != tokenA || created.RewardsVault != vault || created.StartTime != start || created.EndTime != start+day {
		t.Fatalf("unexpected creation event %+v", f.emitter.events[0])
	}
}

func TestFlatScenario(t *testing.T) {
	f := newFixture(t)
	start := uint64(genesis)
	end := start + 10*day
	f.create(t, tokenA, uint256.NewInt(10), stakingrewards.Flat, start, end)

	if dist := f.process(t, tokenA, start); dist != nil {
		t.Fatalf("expected nothing at start, got %+v", dist)
	}
	dist := f.process(t, tokenA, end)
	if dist == nil || dist.RewardsAmount.Uint64() != 10 {
		t.Fatalf("expected 10 released at end, got %+v", dist)
	}
	if dist.TimeElapsed != 10*day || !dist.RemainingRewards.IsZero() {
		t.Fatalf("unexpected distribution %+v", dist)
	}
	if dist.PoolTokenAmount.IsZero() {
		t.Fatalf("expected shares burned")
	}
	if again := f.process(t, tokenA, end+day); again != nil {
		t.Fatalf("exhausted program released %+v", again)
	}

	last, ok := f.emitter.events[len(f.emitter.events)-1].(events.RewardsDistributed)
	if !ok || last.RewardsAmount.Uint64() != 10 || last.TimeElapsed != 10*day {
		t.Fatalf("unexpected final event %+v", f.emitter.events[len(f.emitter.events)-1])
	}
	if len(f.emitter.events) != 2 {
		t.Fatalf("expected created and distributed events only, got %d", len(f.emitter.events))
	}
}

func TestFlatDistributesTotalAcrossIrregularCalls(t *testing.T) {
	total := units(777)
	start := uint64(genesis + 10)
	end := start + 30*day

	stepped := newFixture(t)
	stepped.create(t, tokenA, total, stakingrewards.Flat, start, end)
	sum := new(uint256.Int)
	for _, offset := range []uint64{1, 17, 3 * day, 3*day + 1, 11*day + 5, 29 * day, 30 * day, 40 * day} {
		if dist := stepped.process(t, tokenA, start+offset); dist != nil {
			sum.Add(sum, dist.RewardsAmount)
		}
	}
	if !sum.Eq(total) {
		t.Fatalf("distributed %s, want %s", sum, total)
	}
	if !stepped.remaining(t, tokenA).IsZero() {
		t.Fatalf("expected exhausted program")
	}

	single := newFixture(t)
	single.create(t, tokenA, total, stakingrewards.Flat, start, end)
	dist := single.process(t, tokenA, end)
	if dist == nil || !dist.RewardsAmount.Eq(total) {
		t.Fatalf("single call released %+v", dist)
	}
	if !single.remaining(t, tokenA).Eq(stepped.remaining(t, tokenA)) {
		t.Fatalf("cadence changed the outcome")
	}
}

func TestProcessRewardsIdempotentAtSameTimestamp(t *testing.T) {
	f := newFixture(t)
	start := uint64(genesis)
	f.create(t, tokenA, units(100), stakingrewards.Flat, start, start+10*day)

	first := f.process(t, tokenA, start+day)
	if first == nil {
		t.Fatalf("expected a distribution")
	}
	before := f.remaining(t, tokenA)
	emitted := len(f.emitter.events)
	if second := f.process(t, tokenA, start+day); second != nil {
		t.Fatalf("second call released %+v", second)
	}
	if len(f.emitter.events) != emitted {
		t.Fatalf("second call emitted an event")
	}
	if !f.remaining(t, tokenA).Eq(before) {
		t.Fatalf("second call changed state")
	}
}

func TestProcessRewardsRealizesValueForHolders(t *testing.T) {
	f := newFixture(t)
	start := uint64(genesis)
	f.create(t, tokenA, units(500), stakingrewards.Flat, start, start+day)

	before, err := f.ledger.Underlying(tokenA, provider)
	if err != nil {
		t.Fatalf("underlying: %v", err)
	}
	dist := f.process(t, tokenA, start+day)
	if dist == nil {
		t.Fatalf("expected a distribution")
	}
	after, err := f.ledger.Underlying(tokenA, provider)
	if err != nil {
		t.Fatalf("underlying: %v", err)
	}
	gain := new(uint256.Int).Sub(after, before)
	diff := new(uint256.Int)
	if gain.Gt(dist.RewardsAmount) {
		diff.Sub(gain, dist.RewardsAmount)
	} else {
		diff.Sub(dist.RewardsAmount, gain)
	}
	if diff.Gt(uint256.NewInt(10)) {
		t.Fatalf("holder gained %s for %s released", gain, dist.RewardsAmount)
	}
	vaultShares, err := f.ledger.ShareBalanceOf(shareA, vault)
	if err != nil {
		t.Fatalf("vault balance: %v", err)
	}
	if !new(uint256.Int).Add(vaultShares, dist.PoolTokenAmount).Eq(units(100000)) {
		t.Fatalf("burned shares not taken from the vault")
	}
}

func TestIsProgramActiveWindow(t *testing.T) {
	f := newFixture(t)
	start := uint64(genesis + day)
	end := start + day
	f.create(t, tokenA, units(1), stakingrewards.Flat, start, end)

	for _, tc := range []struct {
		at   uint64
		want bool
	}{{start - 1, false}, {start, true}, {end - 1, true}, {end, false}} {
		f.clock.set(tc.at)
		if got := f.registry.IsProgramActive(tokenA); got != tc.want {
			t.Fatalf("at %d: active=%v want %v", tc.at, got, tc.want)
		}
	}
	f.clock.set(start)
	if err := f.registry.DisableProgram(admin, tokenA); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if f.registry.IsProgramActive(tokenA) {
		t.Fatalf("disabled program reported active")
	}
	if f.registry.IsProgramActive(tokenB) {
		t.Fatalf("absent program reported active")
	}
}

func TestEnableProgramTransitions(t *testing.T) {
	f := newFixture(t)
	start := uint64(genesis)
	f.create(t, tokenA, units(10), stakingrewards.Flat, start, start+day)
	base := len(f.emitter.events)

	if err := f.registry.EnableProgram(admin, tokenA, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if len(f.emitter.events) != base {
		t.Fatalf("enabling an enabled program emitted an event")
	}
	if err := f.registry.DisableProgram(admin, tokenA); err != nil {
		t.Fatalf("disable: %v", err)
	}
	evt, ok := f.emitter.events[len(f.emitter.events)-1].(events.ProgramEnabled)
	if !ok || evt.Status || !evt.RemainingRewards.Eq(units(10)) {
		t.Fatalf("unexpected event %+v", f.emitter.events[len(f.emitter.events)-1])
	}
	if err := f.registry.DisableProgram(admin, tokenA); err != nil {
		t.Fatalf("disable again: %v", err)
	}
	if len(f.emitter.events) != base+1 {
		t.Fatalf("disabling a disabled program emitted an event")
	}
	if dist := f.process(t, tokenA, start+day); dist != nil {
		t.Fatalf("disabled program released %+v", dist)
	}

	if err := f.registry.EnableProgram(stranger, tokenA, true); !errors.Is(err, stakingrewards.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if err := f.registry.EnableProgram(admin, tokenB, true); !errors.Is(err, stakingrewards.ErrProgramInactive) {
		t.Fatalf("expected ErrProgramInactive for absent program, got %v", err)
	}
	if _, err := f.registry.ProcessRewards(admin, tokenB); !errors.Is(err, stakingrewards.ErrProgramInactive) {
		t.Fatalf("expected ErrProgramInactive for absent program, got %v", err)
	}
	if _, err := f.registry.ProcessRewards(stranger, tokenA); !errors.Is(err, stakingrewards.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestTerminateAndRecreate(t *testing.T) {
	f := newFixture(t)
	f.addPool(t, tokenB, shareB, true)
	start := uint64(genesis)
	end := start + 10*day
	f.create(t, tokenA, units(100), stakingrewards.Flat, start, end)
	f.create(t, tokenB, units(100), stakingrewards.ExponentialDecay, start, 0)

	if err := f.registry.CreateProgram(admin, tokenA, vault, units(1), stakingrewards.Flat, start, end); !errors.Is(err, stakingrewards.ErrProgramAlreadyActive) {
		t.Fatalf("expected ErrProgramAlreadyActive, got %v", err)
	}

	f.clock.set(start + day)
	if err := f.registry.TerminateProgram(stranger, tokenA); !errors.Is(err, stakingrewards.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if err := f.registry.TerminateProgram(admin, tokenA); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	evt, ok := f.emitter.events[len(f.emitter.events)-1].(events.ProgramTerminated)
	if !ok || evt.EndTime != start+day || !evt.RemainingRewards.Eq(units(100)) {
		t.Fatalf("unexpected termination event %+v", f.emitter.events[len(f.emitter.events)-1])
	}
	if !f.remaining(t, tokenA).IsZero() {
		t.Fatalf("terminated program kept remaining rewards")
	}
	if f.registry.IsProgramActive(tokenA) {
		t.Fatalf("terminated program reported active")
	}
	if err := f.registry.TerminateProgram(admin, tokenA); !errors.Is(err, stakingrewards.ErrProgramInactive) {
		t.Fatalf("expected ErrProgramInactive, got %v", err)
	}
	if dist := f.process(t, tokenA, start+5*day); dist != nil {
		t.Fatalf("terminated program released %+v", dist)
	}

	f.create(t, tokenA, units(50), stakingrewards.Flat, start+5*day, start+6*day)
	programs := f.registry.Programs()
	if len(programs) != 2 || programs[0].Pool != tokenA || programs[1].Pool != tokenB {
		t.Fatalf("unexpected program order %+v", programs)
	}
	if !programs[0].TotalRewards.Eq(units(50)) {
		t.Fatalf("re-created program not replaced")
	}
}

func TestExponentialDecayScenario(t *testing.T) {
	total := units(90000)
	start := uint64(genesis)

	single := newFixture(t)
	single.create(t, tokenA, total, stakingrewards.ExponentialDecay, start, 0)
	if !single.registry.IsProgramActive(tokenA) {
		t.Fatalf("decay program without end must be active")
	}
	dist := single.process(t, tokenA, start+stakingrewards.ExpDecayHorizon)
	if dist == nil {
		t.Fatalf("expected a distribution")
	}
	shortfall := new(uint256.Int).Sub(total, dist.RewardsAmount)
	// 2e-7 of 90000 units
	limit := new(uint256.Int).Div(total, uint256.NewInt(5_000_000))
	if shortfall.Gt(limit) {
		t.Fatalf("released %s of %s after horizon", dist.RewardsAmount, total)
	}

	stepped := newFixture(t)
	stepped.create(t, tokenA, total, stakingrewards.ExponentialDecay, start, 0)
	const year = 365 * day
	for ts := start + year/3; ts < start+stakingrewards.ExpDecayHorizon; ts += year {
		stepped.process(t, tokenA, ts)
	}
	stepped.process(t, tokenA, start+stakingrewards.ExpDecayHorizon)
	if !stepped.remaining(t, tokenA).Eq(single.remaining(t, tokenA)) {
		t.Fatalf("stepped remaining %s, single %s", stepped.remaining(t, tokenA), single.remaining(t, tokenA))
	}
}

func TestProcessRewardsRevertsOnBurnFailure(t *testing.T) {
	f := newFixture(t)
	start := uint64(genesis)
	f.create(t, tokenA, units(10), stakingrewards.Flat, start, start+day)

	// drain the vault after creation so the burn cannot be covered
	if err := f.ledger.Transfer(shareA, vault, provider, units(100000)); err != nil {
		t.Fatalf("drain vault: %v", err)
	}
	emitted := len(f.emitter.events)
	f.clock.set(start + day)
	if _, err := f.registry.ProcessRewards(admin, tokenA); !errors.Is(err, pool.ErrInsufficientBalance) {
		t.Fatalf("expected burn failure, got %v", err)
	}
	if !f.remaining(t, tokenA).Eq(units(10)) {
		t.Fatalf("failed distribution changed the program")
	}
	program, _ := f.registry.Program(tokenA)
	if program.PrevDistributionTimestamp != 0 {
		t.Fatalf("failed distribution moved the timestamp")
	}
	if len(f.emitter.events) != emitted {
		t.Fatalf("failed distribution emitted an event")
	}
}

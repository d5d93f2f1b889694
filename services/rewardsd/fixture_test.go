package rewardsd

import (
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"poolrewards/core/events"
	"poolrewards/core/state"
	"poolrewards/native/stakingrewards"
	"poolrewards/state/pool"
	"poolrewards/state/roles"
	"poolrewards/storage"
)

const genesis = 1_700_000_000

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	provider = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	vault    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	tokenA   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	shareA   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	tokenB   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	shareB   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type testClock struct {
	now int64
}

func (c *testClock) Now() time.Time { return time.Unix(c.now, 0) }

func (c *testClock) advance(d time.Duration) { c.now += int64(d / time.Second) }

type harness struct {
	manager  *state.Manager
	pools    *pool.Ledger
	registry *stakingrewards.Registry
	clock    *testClock
	journal  *Journal
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)
	pools := pool.NewLedger(manager)
	authority := roles.NewAuthority(manager)
	require.NoError(t, authority.Grant(operator))
	require.NoError(t, manager.Commit())

	journal := newTestJournal(t)
	clock := &testClock{now: genesis}
	journal.now = clock.Now

	registry := stakingrewards.NewRegistry(manager, pools, authority)
	registry.SetClock(clock.Now)
	registry.SetEmitter(events.Multi{journal, newMetricsEmitter()})
	return &harness{manager: manager, pools: pools, registry: registry, clock: clock, journal: journal}
}

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	journal, err := OpenJournal(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func (h *harness) provisioner() *Provisioner {
	return &Provisioner{
		State:    h.manager,
		Pools:    h.pools,
		Registry: h.registry,
		Operator: operator,
		Now:      h.clock.Now,
	}
}

// testBootstrap stakes 100000 units from the provider and the vault in
// tokenA and funds a ten day flat program of 10000 units.
func testBootstrap() *Bootstrap {
	return &Bootstrap{
		Vaults: []string{vault.Hex()},
		Pools: []PoolSpec{{
			Token:       tokenA.Hex(),
			Share:       shareA.Hex(),
			Whitelisted: true,
			Deposits: []DepositSpec{
				{Provider: provider.Hex(), Amount: "100_000"},
				{Provider: vault.Hex(), Amount: "100_000"},
			},
		}},
		Programs: []ProgramSpec{{
			Name:         "program:a1",
			Pool:         tokenA.Hex(),
			Vault:        vault.Hex(),
			TotalRewards: "10000",
			Type:         "flat",
			End:          10 * 86400,
		}},
	}
}

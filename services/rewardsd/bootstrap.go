package rewardsd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"poolrewards/deploy/ledger"
	"poolrewards/native/stakingrewards"
	"poolrewards/state/pool"
)

// Bootstrap describes the pools, vaults and programs provisioned at startup.
type Bootstrap struct {
	Vaults   []string      `json:"vaults" toml:"vaults"`
	Pools    []PoolSpec    `json:"pools" toml:"pools"`
	Programs []ProgramSpec `json:"programs" toml:"programs"`
}

// PoolSpec registers a pool and seeds its liquidity.
type PoolSpec struct {
	Token       string         `json:"token" toml:"token"`
	Share       string         `json:"share" toml:"share"`
	Whitelisted bool           `json:"whitelisted" toml:"whitelisted"`
	Deposits    []DepositSpec  `json:"deposits" toml:"deposits"`
	Transfers   []TransferSpec `json:"transfers" toml:"transfers"`
}

// DepositSpec stakes amount of the pool token on behalf of provider.
type DepositSpec struct {
	Provider string `json:"provider" toml:"provider"`
	Amount   string `json:"amount" toml:"amount"`
}

// TransferSpec moves pool shares between holders after the deposits, usually
// to fund a rewards vault.
type TransferSpec struct {
	From   string `json:"from" toml:"from"`
	To     string `json:"to" toml:"to"`
	Amount string `json:"amount" toml:"amount"`
}

// ProgramSpec creates a rewards program. A zero start means now, in which
// case a non-zero end is a duration in seconds.
type ProgramSpec struct {
	Name         string `json:"name" toml:"name"`
	Pool         string `json:"pool" toml:"pool"`
	Vault        string `json:"vault" toml:"vault"`
	TotalRewards string `json:"totalRewards" toml:"totalRewards"`
	Type         string `json:"type" toml:"type"`
	Start        uint64 `json:"start" toml:"start"`
	End          uint64 `json:"end" toml:"end"`
}

// LoadBootstrap parses a TOML or JSON bootstrap file. Unknown fields are
// rejected.
func LoadBootstrap(path string) (*Bootstrap, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("bootstrap path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap: %w", err)
	}
	var parsed Bootstrap
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&parsed); err != nil {
			return nil, fmt.Errorf("decode bootstrap json: %w", err)
		}
	case ".toml", ".tml":
		meta, err := toml.DecodeReader(bytes.NewReader(data), &parsed)
		if err != nil {
			return nil, fmt.Errorf("decode bootstrap toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown bootstrap fields %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported bootstrap format %q", ext)
	}
	return &parsed, nil
}

type bootstrapState interface {
	Commit() error
}

// Provisioner applies a Bootstrap against the pool ledger and the registry.
// Applying the same bootstrap twice is a no-op.
type Provisioner struct {
	State    bootstrapState
	Pools    *pool.Ledger
	Registry *stakingrewards.Registry
	Ledger   *ledger.Ledger
	Operator common.Address
	Logger   *slog.Logger
	Now      func() time.Time
}

// Apply provisions vaults, pools and programs. Pools that already exist are
// left untouched, including their deposits, and programs are only created
// for pools without one.
func (p *Provisioner) Apply(b *Bootstrap) error {
	if b == nil {
		return nil
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	for _, raw := range b.Vaults {
		vault, err := parseAddress("vault", raw)
		if err != nil {
			return err
		}
		if err := p.Pools.RegisterVault(vault); err != nil {
			return fmt.Errorf("register vault %s: %w", vault.Hex(), err)
		}
	}

	for i, spec := range b.Pools {
		if err := p.applyPool(i, spec, logger); err != nil {
			return err
		}
	}
	if err := p.State.Commit(); err != nil {
		return fmt.Errorf("commit pools: %w", err)
	}

	for i, spec := range b.Programs {
		if err := p.applyProgram(i, spec, uint64(now().Unix()), logger); err != nil {
			return err
		}
	}
	if p.Ledger != nil {
		if err := p.Ledger.MarkMigrated(now()); err != nil {
			return fmt.Errorf("record bootstrap state: %w", err)
		}
	}
	return nil
}

func (p *Provisioner) applyPool(index int, spec PoolSpec, logger *slog.Logger) error {
	token, err := parseAddress(fmt.Sprintf("pools[%d].token", index), spec.Token)
	if err != nil {
		return err
	}
	share, err := parseAddress(fmt.Sprintf("pools[%d].share", index), spec.Share)
	if err != nil {
		return err
	}
	existing, err := p.Pools.PoolShare(token)
	if err != nil {
		return err
	}
	if existing != (common.Address{}) {
		logger.Info("pool already provisioned", slog.String("pool", token.Hex()))
		return nil
	}
	if err := p.Pools.RegisterPool(token, share); err != nil {
		return fmt.Errorf("register pool %s: %w", token.Hex(), err)
	}
	if err := p.Pools.SetWhitelisted(token, spec.Whitelisted); err != nil {
		return err
	}
	for j, dep := range spec.Deposits {
		provider, err := parseAddress(fmt.Sprintf("pools[%d].deposits[%d].provider", index, j), dep.Provider)
		if err != nil {
			return err
		}
		amount, err := parseAmount(dep.Amount)
		if err != nil {
			return fmt.Errorf("pools[%d].deposits[%d].amount: %w", index, j, err)
		}
		if _, err := p.Pools.Deposit(provider, token, amount); err != nil {
			return fmt.Errorf("deposit into %s: %w", token.Hex(), err)
		}
	}
	for j, tr := range spec.Transfers {
		from, err := parseAddress(fmt.Sprintf("pools[%d].transfers[%d].from", index, j), tr.From)
		if err != nil {
			return err
		}
		to, err := parseAddress(fmt.Sprintf("pools[%d].transfers[%d].to", index, j), tr.To)
		if err != nil {
			return err
		}
		amount, err := parseAmount(tr.Amount)
		if err != nil {
			return fmt.Errorf("pools[%d].transfers[%d].amount: %w", index, j, err)
		}
		if err := p.Pools.Transfer(share, from, to, amount); err != nil {
			return fmt.Errorf("transfer %s shares: %w", token.Hex(), err)
		}
	}
	p.record(token.Hex(), ledger.Record{Name: "pool:" + token.Hex(), Address: token.Hex(), Kind: "pool", Metadata: map[string]string{"share": share.Hex()}}, logger)
	logger.Info("pool provisioned", slog.String("pool", token.Hex()), slog.Int("deposits", len(spec.Deposits)))
	return nil
}

func (p *Provisioner) applyProgram(index int, spec ProgramSpec, now uint64, logger *slog.Logger) error {
	poolAddr, err := parseAddress(fmt.Sprintf("programs[%d].pool", index), spec.Pool)
	if err != nil {
		return err
	}
	vault, err := parseAddress(fmt.Sprintf("programs[%d].vault", index), spec.Vault)
	if err != nil {
		return err
	}
	total, err := parseAmount(spec.TotalRewards)
	if err != nil {
		return fmt.Errorf("programs[%d].totalRewards: %w", index, err)
	}
	kind, err := stakingrewards.ParseDistributionType(spec.Type)
	if err != nil {
		return fmt.Errorf("programs[%d].type: %w", index, err)
	}
	if _, exists := p.Registry.Program(poolAddr); exists {
		logger.Info("program already provisioned", slog.String("pool", poolAddr.Hex()))
		return nil
	}
	start, end := spec.Start, spec.End
	if start == 0 {
		start = now
		if end != 0 {
			end += start
		}
	}
	if err := p.Registry.CreateProgram(p.Operator, poolAddr, vault, total, kind, start, end); err != nil {
		return fmt.Errorf("create program for %s: %w", poolAddr.Hex(), err)
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = "program:" + poolAddr.Hex()
	}
	p.record(name, ledger.Record{
		Name:       name,
		Address:    poolAddr.Hex(),
		Kind:       kind.String(),
		DeployedAt: int64(start),
		Metadata:   map[string]string{"vault": vault.Hex(), "totalRewards": total.Dec()},
	}, logger)
	logger.Info("program provisioned", slog.String("pool", poolAddr.Hex()), slog.String("type", kind.String()))
	return nil
}

func (p *Provisioner) record(name string, rec ledger.Record, logger *slog.Logger) {
	if p.Ledger == nil {
		return
	}
	if _, err := p.Ledger.Write(rec); err != nil {
		logger.Warn("deployment ledger write failed", slog.String("name", name), slog.Any("error", err))
	}
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return amount, nil
}

package pool

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	poolPrefix    = []byte("pool/meta/")
	sharePrefix   = []byte("pool/share/")
	balancePrefix = []byte("pool/balance/")
	vaultPrefix   = []byte("pool/vault/")
	poolIndexKey  = []byte("pool/index")
)

func joinKey(prefix []byte, parts ...common.Address) []byte {
	buf := make([]byte, 0, len(prefix)+len(parts)*common.AddressLength)
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part.Bytes()...)
	}
	return buf
}

type poolRecord struct {
	Token       common.Address
	Share       common.Address
	Whitelisted bool
	Liquidity   *big.Int
}

type shareRecord struct {
	Pool   common.Address
	Supply *big.Int
}

// Ledger keeps the staked balance of every pool together with the supply and
// holder balances of its share class. It implements the pool accounting the
// rewards registry depends on.
type Ledger struct {
	mu sync.Mutex
	st ledgerState
}

// NewLedger returns a ledger persisting into st.
func NewLedger(st ledgerState) *Ledger {
	return &Ledger{st: st}
}

func (l *Ledger) pool(token common.Address) (*poolRecord, bool, error) {
	rec := new(poolRecord)
	found, err := l.st.KVGet(joinKey(poolPrefix, token), rec)
	if err != nil || !found {
		return nil, false, err
	}
	if rec.Liquidity == nil {
		rec.Liquidity = new(big.Int)
	}
	return rec, true, nil
}

func (l *Ledger) share(id common.Address) (*shareRecord, bool, error) {
	rec := new(shareRecord)
	found, err := l.st.KVGet(joinKey(sharePrefix, id), rec)
	if err != nil || !found {
		return nil, false, err
	}
	if rec.Supply == nil {
		rec.Supply = new(big.Int)
	}
	return rec, true, nil
}

func (l *Ledger) balance(id, holder common.Address) (*big.Int, error) {
	out := new(big.Int)
	if _, err := l.st.KVGet(joinKey(balancePrefix, id, holder), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) putBalance(id, holder common.Address, value *big.Int) error {
	return l.st.KVPut(joinKey(balancePrefix, id, holder), value)
}

// RegisterPool creates an empty, non-whitelisted pool for token whose shares
// are tracked under shareID.
func (l *Ledger) RegisterPool(token, shareID common.Address) error {
	if token == (common.Address{}) || shareID == (common.Address{}) {
		return ErrInvalidAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, found, err := l.pool(token); err != nil {
		return err
	} else if found {
		return fmt.Errorf("%w: %s", ErrPoolExists, token.Hex())
	}
	if _, found, err := l.share(shareID); err != nil {
		return err
	} else if found {
		return fmt.Errorf("%w: %s", ErrShareInUse, shareID.Hex())
	}
	if err := l.st.KVPut(joinKey(poolPrefix, token), &poolRecord{Token: token, Share: shareID, Liquidity: new(big.Int)}); err != nil {
		return err
	}
	if err := l.st.KVPut(joinKey(sharePrefix, shareID), &shareRecord{Pool: token, Supply: new(big.Int)}); err != nil {
		return err
	}
	return l.st.KVAppend(poolIndexKey, token.Bytes())
}

// Pools lists registered pool tokens in registration order.
func (l *Ledger) Pools() ([]common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var raw [][]byte
	if err := l.st.KVGetList(poolIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, item := range raw {
		out = append(out, common.BytesToAddress(item))
	}
	return out, nil
}

// SetWhitelisted toggles whether rewards programs may be created for token.
func (l *Ledger) SetWhitelisted(token common.Address, whitelisted bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, found, err := l.pool(token)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, token.Hex())
	}
	rec.Whitelisted = whitelisted
	return l.st.KVPut(joinKey(poolPrefix, token), rec)
}

// IsWhitelisted reports false for unknown pools.
func (l *Ledger) IsWhitelisted(token common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, found, err := l.pool(token)
	if err != nil || !found {
		return false, err
	}
	return rec.Whitelisted, nil
}

// PoolShare returns the share class of token or the zero address.
func (l *Ledger) PoolShare(token common.Address) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, found, err := l.pool(token)
	if err != nil || !found {
		return common.Address{}, err
	}
	return rec.Share, nil
}

// RegisterVault marks holder as a rewards vault whose shares may be burned.
func (l *Ledger) RegisterVault(holder common.Address) error {
	if holder == (common.Address{}) {
		return ErrInvalidAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.KVPut(joinKey(vaultPrefix, holder), true)
}

// IsVault reports whether holder was registered with RegisterVault.
func (l *Ledger) IsVault(holder common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isVault(holder)
}

func (l *Ledger) isVault(holder common.Address) (bool, error) {
	var flag bool
	found, err := l.st.KVGet(joinKey(vaultPrefix, holder), &flag)
	if err != nil {
		return false, err
	}
	return found && flag, nil
}

// Deposit adds amount of token to the pool's staked balance and mints shares
// to provider at the current rate, 1:1 when the pool is empty. It returns the
// minted shares.
func (l *Ledger) Deposit(provider, token common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if provider == (common.Address{}) {
		return nil, ErrInvalidAddress
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	poolRec, found, err := l.pool(token)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, token.Hex())
	}
	shareRec, found, err := l.share(poolRec.Share)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrShareNotFound, poolRec.Share.Hex())
	}

	value := amount.ToBig()
	minted := new(big.Int).Set(value)
	if shareRec.Supply.Sign() > 0 && poolRec.Liquidity.Sign() > 0 {
		minted.Mul(value, shareRec.Supply)
		minted.Quo(minted, poolRec.Liquidity)
	}
	if minted.Sign() == 0 {
		return nil, fmt.Errorf("%w: deposit too small to mint shares", ErrInvalidAmount)
	}
	out, overflow := uint256.FromBig(minted)
	if overflow {
		return nil, fmt.Errorf("%w: share supply overflow", ErrInvalidAmount)
	}

	bal, err := l.balance(poolRec.Share, provider)
	if err != nil {
		return nil, err
	}
	poolRec.Liquidity.Add(poolRec.Liquidity, value)
	shareRec.Supply.Add(shareRec.Supply, minted)
	bal.Add(bal, minted)
	if err := l.st.KVPut(joinKey(poolPrefix, token), poolRec); err != nil {
		return nil, err
	}
	if err := l.st.KVPut(joinKey(sharePrefix, poolRec.Share), shareRec); err != nil {
		return nil, err
	}
	if err := l.putBalance(poolRec.Share, provider, bal); err != nil {
		return nil, err
	}
	return out, nil
}

// Transfer moves shares between holders.
func (l *Ledger) Transfer(shareID, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrInvalidAddress
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, found, err := l.share(shareID); err != nil {
		return err
	} else if !found {
		return fmt.Errorf("%w: %s", ErrShareNotFound, shareID.Hex())
	}
	value := amount.ToBig()
	fromBal, err := l.balance(shareID, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(value) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, value)
	}
	if from == to {
		return nil
	}
	toBal, err := l.balance(shareID, to)
	if err != nil {
		return err
	}
	fromBal.Sub(fromBal, value)
	toBal.Add(toBal, value)
	if err := l.putBalance(shareID, from, fromBal); err != nil {
		return err
	}
	return l.putBalance(shareID, to, toBal)
}

// PoolLiquidity returns the staked balance of token; zero for unknown pools.
func (l *Ledger) PoolLiquidity(token common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, found, err := l.pool(token)
	if err != nil {
		return nil, err
	}
	if !found {
		return new(uint256.Int), nil
	}
	return toUint256(rec.Liquidity)
}

// ShareSupply returns the total supply of a share class.
func (l *Ledger) ShareSupply(shareID common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, found, err := l.share(shareID)
	if err != nil {
		return nil, err
	}
	if !found {
		return new(uint256.Int), nil
	}
	return toUint256(rec.Supply)
}

// ShareBalanceOf returns the shares held by holder.
func (l *Ledger) ShareBalanceOf(shareID, holder common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, err := l.balance(shareID, holder)
	if err != nil {
		return nil, err
	}
	return toUint256(bal)
}

// BurnShares destroys amount shares held by a registered vault. The pool's
// staked balance is unchanged so every other holder's shares gain value.
func (l *Ledger) BurnShares(shareID, holder common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	vault, err := l.isVault(holder)
	if err != nil {
		return err
	}
	if !vault {
		return fmt.Errorf("%w: %s", ErrNotVault, holder.Hex())
	}
	shareRec, found, err := l.share(shareID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrShareNotFound, shareID.Hex())
	}
	value := amount.ToBig()
	bal, err := l.balance(shareID, holder)
	if err != nil {
		return err
	}
	if bal.Cmp(value) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, value)
	}
	bal.Sub(bal, value)
	shareRec.Supply.Sub(shareRec.Supply, value)
	if err := l.putBalance(shareID, holder, bal); err != nil {
		return err
	}
	return l.st.KVPut(joinKey(sharePrefix, shareID), shareRec)
}

// Underlying values holder's shares of token in the reserve token, rounding
// down.
func (l *Ledger) Underlying(token, holder common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	poolRec, found, err := l.pool(token)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, token.Hex())
	}
	shareRec, found, err := l.share(poolRec.Share)
	if err != nil {
		return nil, err
	}
	if !found || shareRec.Supply.Sign() == 0 {
		return new(uint256.Int), nil
	}
	bal, err := l.balance(poolRec.Share, holder)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(bal, poolRec.Liquidity)
	value.Quo(value, shareRec.Supply)
	return toUint256(value)
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("pool: stored value %s overflows 256 bits", v)
	}
	return out, nil
}

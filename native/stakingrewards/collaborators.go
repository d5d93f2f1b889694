package stakingrewards

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolAccounting exposes the pool balances the registry needs. Pools are
// identified by their reserve token, share classes by their share token.
type PoolAccounting interface {
	IsWhitelisted(pool common.Address) (bool, error)
	// PoolShare returns the zero address when the pool has no share class.
	PoolShare(pool common.Address) (common.Address, error)
	// PoolLiquidity returns the staked balance of the pool.
	PoolLiquidity(pool common.Address) (*uint256.Int, error)
	ShareSupply(share common.Address) (*uint256.Int, error)
	ShareBalanceOf(share, holder common.Address) (*uint256.Int, error)
	BurnShares(share, holder common.Address, amount *uint256.Int) error
}

// AccessControl answers whether a caller holds the rewards admin capability.
type AccessControl interface {
	IsAdmin(caller common.Address) bool
}

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Snapshot() int
	RevertToSnapshot(id int)
	Commit() error
}

package pool

import "errors"

var (
	ErrInvalidAddress      = errors.New("pool: invalid address")
	ErrInvalidAmount       = errors.New("pool: invalid amount")
	ErrPoolExists          = errors.New("pool: pool already registered")
	ErrPoolNotFound        = errors.New("pool: pool not found")
	ErrShareInUse          = errors.New("pool: share token already bound to a pool")
	ErrShareNotFound       = errors.New("pool: share class not found")
	ErrInsufficientBalance = errors.New("pool: insufficient share balance")
	ErrNotVault            = errors.New("pool: holder is not a registered vault")
)

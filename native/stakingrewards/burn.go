package stakingrewards

import (
	"math/big"

	"github.com/holiman/uint256"
)

var maxUint256 = new(uint256.Int).SetAllOne()

// SharesToBurn returns the number of pool shares that must be burned from the
// vault so that the holders of the remaining shares gain amount of the
// underlying token:
//
//	v = amount × supply
//	shares = v × supply / (v + staked × (supply − vaultShares))
//
// Intermediates are unbounded and the result saturates at 2^256 − 1.
func SharesToBurn(amount, stakedBalance, shareSupply, vaultShares *uint256.Int) *uint256.Int {
	if amount == nil || shareSupply == nil || amount.IsZero() || shareSupply.IsZero() {
		return new(uint256.Int)
	}
	supply := shareSupply.ToBig()
	v := new(big.Int).Mul(amount.ToBig(), supply)

	outside := new(big.Int).Set(supply)
	if vaultShares != nil {
		outside.Sub(outside, vaultShares.ToBig())
	}
	if outside.Sign() < 0 {
		outside.SetInt64(0)
	}
	denom := new(big.Int).Set(v)
	if stakedBalance != nil {
		denom.Add(denom, new(big.Int).Mul(stakedBalance.ToBig(), outside))
	}

	shares := new(big.Int).Mul(v, supply)
	shares.Quo(shares, denom)
	out, overflow := uint256.FromBig(shares)
	if overflow {
		return new(uint256.Int).Set(maxUint256)
	}
	return out
}

// SharesToUnderlying values shares of a pool in its reserve token.
func SharesToUnderlying(shares, stakedBalance, shareSupply *uint256.Int) *uint256.Int {
	if shares == nil || stakedBalance == nil || shareSupply == nil || shareSupply.IsZero() {
		return new(uint256.Int)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(shares, stakedBalance, shareSupply)
	if overflow {
		return new(uint256.Int).Set(maxUint256)
	}
	return out
}

package roles

import (
	"github.com/ethereum/go-ethereum/common"
)

// RoleStakingRewardsAdmin grants program lifecycle and distribution rights.
const RoleStakingRewardsAdmin = "ROLE_STAKING_REWARDS_ADMIN"

type roleState interface {
	SetRole(role string, addr []byte) error
	RemoveRole(role string, addr []byte) error
	HasRole(role string, addr []byte) bool
	RoleMembers(role string) ([][]byte, error)
}

// Authority answers admin checks from the role sets kept in state.
type Authority struct {
	st   roleState
	role string
}

// NewAuthority returns an Authority for RoleStakingRewardsAdmin.
func NewAuthority(st roleState) *Authority {
	return &Authority{st: st, role: RoleStakingRewardsAdmin}
}

// IsAdmin reports whether caller holds the admin role. The zero address never
// does.
func (a *Authority) IsAdmin(caller common.Address) bool {
	if a == nil || caller == (common.Address{}) {
		return false
	}
	return a.st.HasRole(a.role, caller.Bytes())
}

// Grant adds addr to the admin role.
func (a *Authority) Grant(addr common.Address) error {
	return a.st.SetRole(a.role, addr.Bytes())
}

// Revoke removes addr from the admin role.
func (a *Authority) Revoke(addr common.Address) error {
	return a.st.RemoveRole(a.role, addr.Bytes())
}

// Admins lists the current role members.
func (a *Authority) Admins() ([]common.Address, error) {
	members, err := a.st.RoleMembers(a.role)
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(members))
	for _, member := range members {
		out = append(out, common.BytesToAddress(member))
	}
	return out, nil
}

package roles

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"poolrewards/core/state"
	"poolrewards/storage"
)

func TestAuthorityGrantRevoke(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	auth := NewAuthority(state.NewManager(db))
	admin := common.HexToAddress("0x00000000000000000000000000000000000000ad")

	if auth.IsAdmin(admin) {
		t.Fatalf("unexpected admin before grant")
	}
	if err := auth.Grant(admin); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !auth.IsAdmin(admin) {
		t.Fatalf("expected admin after grant")
	}
	if auth.IsAdmin(common.Address{}) {
		t.Fatalf("zero address must not be admin")
	}
	admins, err := auth.Admins()
	if err != nil || len(admins) != 1 || admins[0] != admin {
		t.Fatalf("unexpected admins %v err=%v", admins, err)
	}
	if err := auth.Revoke(admin); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if auth.IsAdmin(admin) {
		t.Fatalf("expected admin revoked")
	}
}

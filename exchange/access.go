package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/vultisig/dca-exchange/internal/types"
)

// AccessControl decides which callers may run privileged operations.
type AccessControl interface {
	IsOwner(caller common.Address) bool
}

type OwnerAccess struct {
	Owner common.Address
}

func NewOwnerAccess(owner common.Address) *OwnerAccess {
	return &OwnerAccess{Owner: owner}
}

func (a *OwnerAccess) IsOwner(caller common.Address) bool {
	return caller == a.Owner
}

func requireOwner(access AccessControl, caller common.Address) error {
	if !access.IsOwner(caller) {
		return types.Unauthorized("caller is not the owner")
	}
	return nil
}

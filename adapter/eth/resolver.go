package eth

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vultisig/dca-exchange/exchange"
	"github.com/vultisig/dca-exchange/internal/types"
)

// Resolver binds pair addresses to contracts reached through one client.
// Lending pools are cached per provider so the pool lookup happens once.
type Resolver struct {
	client *Client

	mu    sync.Mutex
	pools map[common.Address]*LendingPool
}

var _ exchange.Resolver = (*Resolver)(nil)

func NewResolver(client *Client) *Resolver {
	return &Resolver{
		client: client,
		pools:  make(map[common.Address]*LendingPool),
	}
}

func (r *Resolver) Oracle(addr common.Address) (exchange.PriceOracle, error) {
	if addr == (common.Address{}) {
		return nil, types.InvalidArgument("oracle address is zero")
	}
	return &Oracle{client: r.client, address: addr}, nil
}

func (r *Resolver) LendingPool(provider common.Address) (exchange.LendingPool, error) {
	if provider == (common.Address{}) {
		return nil, types.InvalidArgument("lending pool provider is zero")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[provider]; ok {
		return p, nil
	}
	p := &LendingPool{client: r.client, provider: provider}
	r.pools[provider] = p
	return p, nil
}

func (r *Resolver) SwapRouter(addr common.Address) (exchange.SwapRouter, error) {
	if addr == (common.Address{}) {
		return nil, types.InvalidArgument("swap router address is zero")
	}
	return &SwapRouter{client: r.client, address: addr}, nil
}

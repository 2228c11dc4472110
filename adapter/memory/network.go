package memory

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vultisig/dca-exchange/exchange"
	"github.com/vultisig/dca-exchange/internal/types"
)

// Network resolves pair addresses to in-memory collaborators. Lending pools
// are registered under their provider address.
type Network struct {
	mu      sync.RWMutex
	Ledger  *Ledger
	Clock   clock.Clock
	oracles map[common.Address]*Oracle
	pools   map[common.Address]*LendingPool
	routers map[common.Address]*SwapRouter
}

var _ exchange.Resolver = (*Network)(nil)

func NewNetwork(custody common.Address, clk clock.Clock) *Network {
	if clk == nil {
		clk = clock.New()
	}
	return &Network{
		Ledger:  NewLedger(custody),
		Clock:   clk,
		oracles: make(map[common.Address]*Oracle),
		pools:   make(map[common.Address]*LendingPool),
		routers: make(map[common.Address]*SwapRouter),
	}
}

// NewOracle registers and returns an oracle at addr.
func (n *Network) NewOracle(addr common.Address) *Oracle {
	n.mu.Lock()
	defer n.mu.Unlock()
	o := NewOracle()
	n.oracles[addr] = o
	return o
}

// NewLendingPool registers a pool reachable through provider whose funds
// sit on address.
func (n *Network) NewLendingPool(provider, address common.Address) *LendingPool {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := NewLendingPool(n.Ledger, address)
	n.pools[provider] = p
	return p
}

func (n *Network) NewSwapRouter(addr common.Address) *SwapRouter {
	n.mu.Lock()
	defer n.mu.Unlock()
	r := NewSwapRouter(n.Ledger, addr, n.Clock)
	n.routers[addr] = r
	return r
}

func (n *Network) Oracle(addr common.Address) (exchange.PriceOracle, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	o, ok := n.oracles[addr]
	if !ok {
		return nil, fmt.Errorf("oracle %s: %w", addr.Hex(), types.ErrNotFound)
	}
	return o, nil
}

func (n *Network) LendingPool(provider common.Address) (exchange.LendingPool, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.pools[provider]
	if !ok {
		return nil, fmt.Errorf("lending pool provider %s: %w", provider.Hex(), types.ErrNotFound)
	}
	return p, nil
}

func (n *Network) SwapRouter(addr common.Address) (exchange.SwapRouter, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	r, ok := n.routers[addr]
	if !ok {
		return nil, fmt.Errorf("swap router %s: %w", addr.Hex(), types.ErrNotFound)
	}
	return r, nil
}

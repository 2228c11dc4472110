package eth

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vultisig/dca-exchange/exchange"
	"github.com/vultisig/dca-exchange/internal/types"
)

// LendingPool talks to an Aave v3 pool found through its addresses provider.
// The pool address is looked up on first use.
type LendingPool struct {
	client   *Client
	provider common.Address

	mu   sync.Mutex
	pool common.Address
}

var _ exchange.LendingPool = (*LendingPool)(nil)

func (p *LendingPool) poolAddress(ctx context.Context) (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != (common.Address{}) {
		return p.pool, nil
	}
	out, err := p.client.call(ctx, addressesProviderContract, p.provider, "getPool")
	if err != nil {
		return common.Address{}, err
	}
	pool, err := outputAddress(out, 0)
	if err != nil {
		return common.Address{}, err
	}
	if pool == (common.Address{}) {
		return common.Address{}, fmt.Errorf("provider %s has no pool", p.provider.Hex())
	}
	p.pool = pool
	return pool, nil
}

// Supply approves the pool and supplies amount from the client account.
func (p *LendingPool) Supply(ctx context.Context, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) error {
	pool, err := p.poolAddress(ctx)
	if err != nil {
		return err
	}
	if err := p.client.approve(ctx, asset, pool, amount); err != nil {
		return err
	}
	_, err = p.client.transact(ctx, lendingPoolContract, pool, "supply", asset, toBig(amount), onBehalfOf, uint16(0))
	return err
}

// Withdraw returns what to actually received, read from its balance change.
func (p *LendingPool) Withdraw(ctx context.Context, asset common.Address, amount *uint256.Int, to common.Address) (*uint256.Int, error) {
	pool, err := p.poolAddress(ctx)
	if err != nil {
		return nil, err
	}
	before, err := p.client.balanceOf(ctx, asset, to)
	if err != nil {
		return nil, err
	}
	if _, err := p.client.transact(ctx, lendingPoolContract, pool, "withdraw", asset, toBig(amount), to); err != nil {
		return nil, err
	}
	after, err := p.client.balanceOf(ctx, asset, to)
	if err != nil {
		return nil, err
	}
	if after.Lt(before) {
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).Sub(after, before), nil
}

func (p *LendingPool) GetReserveData(ctx context.Context, asset common.Address) (exchange.ReserveData, error) {
	pool, err := p.poolAddress(ctx)
	if err != nil {
		return exchange.ReserveData{}, err
	}
	out, err := p.client.call(ctx, lendingPoolContract, pool, "getReserveData", asset)
	if err != nil {
		return exchange.ReserveData{}, err
	}
	aToken, err := outputAddress(out, reserveATokenIndex)
	if err != nil {
		return exchange.ReserveData{}, err
	}
	return exchange.ReserveData{ATokenAddress: aToken}, nil
}

func (p *LendingPool) Borrow(ctx context.Context, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) error {
	return types.NewError(types.ErrUnsupportedOperation, "borrow is not supported")
}

func (p *LendingPool) Repay(ctx context.Context, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) (*uint256.Int, error) {
	return nil, types.NewError(types.ErrUnsupportedOperation, "repay is not supported")
}

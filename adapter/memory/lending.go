package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vultisig/dca-exchange/exchange"
	"github.com/vultisig/dca-exchange/internal/types"
)

// LendingPool is an Aave-like pool without interest. Supplying an asset
// moves it to the pool account and mints the same amount of its aToken.
type LendingPool struct {
	mu        sync.Mutex
	ledger    *Ledger
	address   common.Address
	reserves  map[common.Address]common.Address
	supplyErr error
}

var _ exchange.LendingPool = (*LendingPool)(nil)

func NewLendingPool(ledger *Ledger, address common.Address) *LendingPool {
	return &LendingPool{
		ledger:   ledger,
		address:  address,
		reserves: make(map[common.Address]common.Address),
	}
}

func (p *LendingPool) Address() common.Address {
	return p.address
}

// ListReserve makes asset suppliable, tracked by aToken.
func (p *LendingPool) ListReserve(asset, aToken common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserves[asset] = aToken
}

// SetSupplyError makes Supply fail with err until cleared with nil.
func (p *LendingPool) SetSupplyError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.supplyErr = err
}

func (p *LendingPool) aToken(asset common.Address) (common.Address, error) {
	aToken, ok := p.reserves[asset]
	if !ok {
		return common.Address{}, fmt.Errorf("reserve %s is not listed", asset.Hex())
	}
	return aToken, nil
}

// Supply pulls amount from onBehalfOf and mints aTokens to it.
func (p *LendingPool) Supply(ctx context.Context, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.supplyErr != nil {
		return p.supplyErr
	}
	aToken, err := p.aToken(asset)
	if err != nil {
		return err
	}
	p.ledger.mu.Lock()
	defer p.ledger.mu.Unlock()
	if err := p.ledger.transfer(asset, onBehalfOf, p.address, amount); err != nil {
		return err
	}
	bal := p.ledger.balance(aToken, onBehalfOf)
	bal.Add(bal, amount)
	return nil
}

// Withdraw burns aTokens of to and sends back the underlying asset.
func (p *LendingPool) Withdraw(ctx context.Context, asset common.Address, amount *uint256.Int, to common.Address) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	aToken, err := p.aToken(asset)
	if err != nil {
		return nil, err
	}
	p.ledger.mu.Lock()
	defer p.ledger.mu.Unlock()
	if err := p.ledger.burn(aToken, to, amount); err != nil {
		return nil, err
	}
	if err := p.ledger.transfer(asset, p.address, to, amount); err != nil {
		return nil, err
	}
	return amount.Clone(), nil
}

// GetReserveData returns a zero aToken for assets the pool does not list.
func (p *LendingPool) GetReserveData(ctx context.Context, asset common.Address) (exchange.ReserveData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return exchange.ReserveData{ATokenAddress: p.reserves[asset]}, nil
}

func (p *LendingPool) Borrow(ctx context.Context, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) error {
	return types.NewError(types.ErrUnsupportedOperation, "borrow is not supported")
}

func (p *LendingPool) Repay(ctx context.Context, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) (*uint256.Int, error) {
	return nil, types.NewError(types.ErrUnsupportedOperation, "repay is not supported")
}

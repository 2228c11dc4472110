package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vultisig/dca-exchange/exchange"
	"github.com/vultisig/dca-exchange/internal/types"
)

var (
	ErrTooLittleReceived = errors.New("too little received")
	ErrDeadlinePassed    = errors.New("transaction too old")
)

type pool struct {
	tokenA common.Address
	tokenB common.Address
	scale  *uint256.Int
	oracle exchange.PriceOracle
}

// SwapRouter fills single-hop exact-input swaps at the oracle price minus
// the pool fee. Input is pulled from the recipient; output is paid from the
// router account, which has to be funded up front.
type SwapRouter struct {
	mu      sync.Mutex
	ledger  *Ledger
	address common.Address
	clock   clock.Clock
	pools   map[[2]common.Address]*pool
	calls   int
	err     error
}

var _ exchange.SwapRouter = (*SwapRouter)(nil)

func NewSwapRouter(ledger *Ledger, address common.Address, clk clock.Clock) *SwapRouter {
	if clk == nil {
		clk = clock.New()
	}
	return &SwapRouter{
		ledger:  ledger,
		address: address,
		clock:   clk,
		pools:   make(map[[2]common.Address]*pool),
	}
}

func (r *SwapRouter) Address() common.Address {
	return r.address
}

// AddPool quotes tokenA/tokenB with oracle, whose price is tokenB per tokenA
// scaled by 10^decimals.
func (r *SwapRouter) AddPool(tokenA, tokenB common.Address, decimals uint8, oracle exchange.PriceOracle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &pool{
		tokenA: tokenA,
		tokenB: tokenB,
		scale:  new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))),
		oracle: oracle,
	}
	r.pools[[2]common.Address{tokenA, tokenB}] = p
	r.pools[[2]common.Address{tokenB, tokenA}] = p
}

// SetError makes every following swap fail with err until cleared with nil.
func (r *SwapRouter) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Calls is the number of swap attempts so far.
func (r *SwapRouter) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *SwapRouter) ExactInputSingle(ctx context.Context, params exchange.ExactInputSingleParams) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if params.Deadline != 0 && uint64(r.clock.Now().Unix()) > params.Deadline {
		return nil, ErrDeadlinePassed
	}
	p, ok := r.pools[[2]common.Address{params.TokenIn, params.TokenOut}]
	if !ok {
		return nil, fmt.Errorf("no pool for %s/%s", params.TokenIn.Hex(), params.TokenOut.Hex())
	}
	price, err := p.oracle.LatestPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("quote failed: %w", err)
	}
	if price.IsZero() {
		return nil, fmt.Errorf("pool %s/%s has no price", p.tokenA.Hex(), p.tokenB.Hex())
	}

	quote := new(uint256.Int)
	if params.TokenIn == p.tokenA {
		quote.MulDivOverflow(params.AmountIn, price, p.scale)
	} else {
		quote.MulDivOverflow(params.AmountIn, p.scale, price)
	}
	million := uint256.NewInt(1_000_000)
	out := new(uint256.Int)
	out.MulDivOverflow(quote, new(uint256.Int).Sub(million, uint256.NewInt(uint64(params.Fee))), million)
	if params.AmountOutMinimum != nil && out.Lt(params.AmountOutMinimum) {
		return nil, ErrTooLittleReceived
	}

	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	if r.ledger.balance(params.TokenOut, r.address).Lt(out) {
		return nil, fmt.Errorf("router liquidity of %s: %w", params.TokenOut.Hex(), types.ErrInsufficientBalance)
	}
	if err := r.ledger.transfer(params.TokenIn, params.Recipient, r.address, params.AmountIn); err != nil {
		return nil, err
	}
	if err := r.ledger.transfer(params.TokenOut, r.address, params.Recipient, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SwapRouter) ExactInput(ctx context.Context, params exchange.ExactInputParams) (*uint256.Int, error) {
	return nil, types.NewError(types.ErrUnsupportedOperation, "multi-hop swaps are not supported")
}

func (r *SwapRouter) ExactOutputSingle(ctx context.Context, params exchange.ExactOutputSingleParams) (*uint256.Int, error) {
	return nil, types.NewError(types.ErrUnsupportedOperation, "exact output swaps are not supported")
}

func (r *SwapRouter) ExactOutput(ctx context.Context, params exchange.ExactOutputParams) (*uint256.Int, error) {
	return nil, types.NewError(types.ErrUnsupportedOperation, "exact output swaps are not supported")
}

func (r *SwapRouter) UniswapV3SwapCallback(ctx context.Context, amount0Delta, amount1Delta *big.Int, data []byte) error {
	return types.NewError(types.ErrUnsupportedOperation, "swap callback is not supported")
}

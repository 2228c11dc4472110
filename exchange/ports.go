package exchange

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Custody moves ERC-20 style balances between accounts.
type Custody interface {
	TransferIn(ctx context.Context, token, from common.Address, amount *uint256.Int) error
	TransferOut(ctx context.Context, token, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, token, owner common.Address) (*uint256.Int, error)
}

// PriceOracle returns the latest price scaled by the pair decimal number.
// Zero means no price was pushed yet.
type PriceOracle interface {
	LatestPrice(ctx context.Context) (*uint256.Int, error)
}

type ReserveData struct {
	ATokenAddress common.Address
}

type LendingPool interface {
	Supply(ctx context.Context, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) error
	Withdraw(ctx context.Context, asset common.Address, amount *uint256.Int, to common.Address) (*uint256.Int, error)
	GetReserveData(ctx context.Context, asset common.Address) (ReserveData, error)
	Borrow(ctx context.Context, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) error
	Repay(ctx context.Context, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) (*uint256.Int, error)
}

type ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               uint32
	Recipient         common.Address
	Deadline          uint64
	AmountIn          *uint256.Int
	AmountOutMinimum  *uint256.Int
	SqrtPriceLimitX96 *uint256.Int
}

type ExactInputParams struct {
	Path             []byte
	Recipient        common.Address
	Deadline         uint64
	AmountIn         *uint256.Int
	AmountOutMinimum *uint256.Int
}

type ExactOutputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               uint32
	Recipient         common.Address
	Deadline          uint64
	AmountOut         *uint256.Int
	AmountInMaximum   *uint256.Int
	SqrtPriceLimitX96 *uint256.Int
}

type ExactOutputParams struct {
	Path            []byte
	Recipient       common.Address
	Deadline        uint64
	AmountOut       *uint256.Int
	AmountInMaximum *uint256.Int
}

// SwapRouter is the Uniswap v3 style router surface.
type SwapRouter interface {
	ExactInputSingle(ctx context.Context, params ExactInputSingleParams) (*uint256.Int, error)
	ExactInput(ctx context.Context, params ExactInputParams) (*uint256.Int, error)
	ExactOutputSingle(ctx context.Context, params ExactOutputSingleParams) (*uint256.Int, error)
	ExactOutput(ctx context.Context, params ExactOutputParams) (*uint256.Int, error)
	UniswapV3SwapCallback(ctx context.Context, amount0Delta, amount1Delta *big.Int, data []byte) error
}

// Resolver turns the addresses stored on a pair into capabilities.
type Resolver interface {
	Oracle(addr common.Address) (PriceOracle, error)
	LendingPool(provider common.Address) (LendingPool, error)
	SwapRouter(addr common.Address) (SwapRouter, error)
}

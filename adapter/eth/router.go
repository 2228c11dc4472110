package eth

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vultisig/dca-exchange/exchange"
	"github.com/vultisig/dca-exchange/internal/types"
)

// SwapRouter sends single pool swaps to a Uniswap v3 router.
type SwapRouter struct {
	client  *Client
	address common.Address
}

var _ exchange.SwapRouter = (*SwapRouter)(nil)

// exactInputSingleArgs mirrors the router's ExactInputSingleParams tuple.
type exactInputSingleArgs struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

func newExactInputSingleArgs(params exchange.ExactInputSingleParams) exactInputSingleArgs {
	return exactInputSingleArgs{
		TokenIn:           params.TokenIn,
		TokenOut:          params.TokenOut,
		Fee:               new(big.Int).SetUint64(uint64(params.Fee)),
		Recipient:         params.Recipient,
		Deadline:          new(big.Int).SetUint64(params.Deadline),
		AmountIn:          toBig(params.AmountIn),
		AmountOutMinimum:  toBig(params.AmountOutMinimum),
		SqrtPriceLimitX96: toBig(params.SqrtPriceLimitX96),
	}
}

// ExactInputSingle approves the router for AmountIn and swaps. The output is
// read from the recipient balance change.
func (r *SwapRouter) ExactInputSingle(ctx context.Context, params exchange.ExactInputSingleParams) (*uint256.Int, error) {
	before, err := r.client.balanceOf(ctx, params.TokenOut, params.Recipient)
	if err != nil {
		return nil, err
	}
	if err := r.client.approve(ctx, params.TokenIn, r.address, params.AmountIn); err != nil {
		return nil, err
	}
	if _, err := r.client.transact(ctx, swapRouterContract, r.address, "exactInputSingle", newExactInputSingleArgs(params)); err != nil {
		return nil, err
	}
	after, err := r.client.balanceOf(ctx, params.TokenOut, params.Recipient)
	if err != nil {
		return nil, err
	}
	if after.Lt(before) {
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).Sub(after, before), nil
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

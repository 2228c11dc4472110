package eth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vultisig/dca-exchange/exchange"
)

// Custody moves ERC20 tokens in and out of the client account. TransferIn
// needs an allowance from the depositor.
type Custody struct {
	client *Client
}

var _ exchange.Custody = (*Custody)(nil)

func NewCustody(client *Client) *Custody {
	return &Custody{client: client}
}

func (c *Custody) TransferIn(ctx context.Context, token, from common.Address, amount *uint256.Int) error {
	_, err := c.client.transact(ctx, erc20Contract, token, "transferFrom", from, c.client.Address(), toBig(amount))
	return err
}

func (c *Custody) TransferOut(ctx context.Context, token, to common.Address, amount *uint256.Int) error {
	_, err := c.client.transact(ctx, erc20Contract, token, "transfer", to, toBig(amount))
	return err
}

func (c *Custody) BalanceOf(ctx context.Context, token, owner common.Address) (*uint256.Int, error) {
	return c.client.balanceOf(ctx, token, owner)
}

func (c *Client) balanceOf(ctx context.Context, token, owner common.Address) (*uint256.Int, error) {
	out, err := c.call(ctx, erc20Contract, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return outputBig(out, 0)
}

func (c *Client) approve(ctx context.Context, token, spender common.Address, amount *uint256.Int) error {
	_, err := c.transact(ctx, erc20Contract, token, "approve", spender, toBig(amount))
	return err
}

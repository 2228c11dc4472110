package eth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vultisig/dca-exchange/exchange"
)

// Oracle reads latestPrice() from a price feed contract.
type Oracle struct {
	client  *Client
	address common.Address
}

var _ exchange.PriceOracle = (*Oracle)(nil)

func (o *Oracle) LatestPrice(ctx context.Context) (*uint256.Int, error) {
	out, err := o.client.call(ctx, oracleContract, o.address, "latestPrice")
	if err != nil {
		return nil, err
	}
	return outputBig(out, 0)
}

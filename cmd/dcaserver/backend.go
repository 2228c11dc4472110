package main

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/dca-exchange/adapter/eth"
	"github.com/vultisig/dca-exchange/adapter/memory"
	"github.com/vultisig/dca-exchange/config"
	"github.com/vultisig/dca-exchange/exchange"
)

// memoryOptions seeds the in-memory network used for local runs.
type memoryOptions struct {
	Oracles []struct {
		Address string `mapstructure:"address"`
		Price   string `mapstructure:"price"`
	} `mapstructure:"oracles"`
	Pools []struct {
		Provider string            `mapstructure:"provider"`
		Address  string            `mapstructure:"address"`
		Reserves map[string]string `mapstructure:"reserves"`
	} `mapstructure:"pools"`
	Routers []struct {
		Address string `mapstructure:"address"`
		Pools   []struct {
			TokenA   string `mapstructure:"token_a"`
			TokenB   string `mapstructure:"token_b"`
			Decimals uint8  `mapstructure:"decimals"`
			Oracle   string `mapstructure:"oracle"`
		} `mapstructure:"pools"`
	} `mapstructure:"routers"`
	Balances []struct {
		Token  string `mapstructure:"token"`
		Owner  string `mapstructure:"owner"`
		Amount string `mapstructure:"amount"`
	} `mapstructure:"balances"`
}

type backend struct {
	address  common.Address
	custody  exchange.Custody
	resolver exchange.Resolver
	close    func()
}

func newBackend(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *logrus.Logger) (*backend, error) {
	switch cfg.Backend.Type {
	case config.BackendEth:
		var opts eth.Options
		if err := cfg.Backend.DecodeOptions(&opts); err != nil {
			return nil, err
		}
		client, err := eth.Dial(ctx, opts, logger)
		if err != nil {
			return nil, err
		}
		address := client.Address()
		if configured := common.HexToAddress(cfg.Exchange.Address); configured != (common.Address{}) && configured != address {
			client.Close()
			return nil, fmt.Errorf("exchange.address %s does not match the signing key %s", configured.Hex(), address.Hex())
		}
		return &backend{
			address:  address,
			custody:  eth.NewCustody(client),
			resolver: eth.NewResolver(client),
			close:    client.Close,
		}, nil
	case config.BackendMemory:
		var opts memoryOptions
		if err := cfg.Backend.DecodeOptions(&opts); err != nil {
			return nil, err
		}
		address := common.HexToAddress(cfg.Exchange.Address)
		network := memory.NewNetwork(address, clk)
		if err := seedNetwork(network, opts); err != nil {
			return nil, err
		}
		logger.WithField("custody", address.Hex()).Warn("using the in-memory backend, balances are lost on restart")
		return &backend{
			address:  address,
			custody:  network.Ledger,
			resolver: network,
			close:    func() {},
		}, nil
	default:
		return nil, fmt.Errorf("backend type %q is not supported", cfg.Backend.Type)
	}
}

func seedNetwork(network *memory.Network, opts memoryOptions) error {
	oracles := make(map[common.Address]*memory.Oracle)
	for _, o := range opts.Oracles {
		addr := common.HexToAddress(o.Address)
		oracle := network.NewOracle(addr)
		if o.Price != "" {
			price, err := uint256.FromDecimal(o.Price)
			if err != nil {
				return fmt.Errorf("oracle %s price: %w", o.Address, err)
			}
			oracle.SetPrice(price)
		}
		oracles[addr] = oracle
	}
	for _, p := range opts.Pools {
		pool := network.NewLendingPool(common.HexToAddress(p.Provider), common.HexToAddress(p.Address))
		for asset, aToken := range p.Reserves {
			pool.ListReserve(common.HexToAddress(asset), common.HexToAddress(aToken))
		}
	}
	for _, r := range opts.Routers {
		router := network.NewSwapRouter(common.HexToAddress(r.Address))
		for _, pool := range r.Pools {
			oracle, ok := oracles[common.HexToAddress(pool.Oracle)]
			if !ok {
				return fmt.Errorf("router %s pool uses unknown oracle %s", r.Address, pool.Oracle)
			}
			router.AddPool(common.HexToAddress(pool.TokenA), common.HexToAddress(pool.TokenB), pool.Decimals, oracle)
		}
	}
	for _, b := range opts.Balances {
		amount, err := uint256.FromDecimal(b.Amount)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", b.Owner, err)
		}
		network.Ledger.Mint(common.HexToAddress(b.Token), common.HexToAddress(b.Owner), amount)
	}
	return nil
}

package exchange_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/dca-exchange/adapter/memory"
	"github.com/vultisig/dca-exchange/exchange"
	"github.com/vultisig/dca-exchange/internal/types"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	custody  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	tokenA   = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokenB   = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	aTokenA  = common.HexToAddress("0x000000000000000000000000000000000000caaa")
	oracle   = common.HexToAddress("0x0000000000000000000000000000000000000f04")
	provider = common.HexToAddress("0x0000000000000000000000000000000000000f01")
	poolAddr = common.HexToAddress("0x0000000000000000000000000000000000000f02")
	router   = common.HexToAddress("0x0000000000000000000000000000000000000f03")
)

type recorder struct {
	events []types.Event
}

func (r *recorder) Publish(events ...types.Event) {
	r.events = append(r.events, events...)
}

func (r *recorder) names() []string {
	names := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		names = append(names, ev.EventName())
	}
	return names
}

func (r *recorder) last() types.Event {
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func (r *recorder) reset() {
	r.events = nil
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	clock  *clock.Mock
	net    *memory.Network
	oracle *memory.Oracle
	pool   *memory.LendingPool
	router *memory.SwapRouter
	sink   *recorder
	ex     *exchange.Exchange
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	net := memory.NewNetwork(custody, clk)
	o := net.NewOracle(oracle)
	lp := net.NewLendingPool(provider, poolAddr)
	lp.ListReserve(tokenA, aTokenA)
	r := net.NewSwapRouter(router)
	r.AddPool(tokenA, tokenB, 8, o)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	sink := &recorder{}
	opts := exchange.DefaultOptions()
	opts.Address = custody
	ex, err := exchange.New(opts, exchange.NewOwnerAccess(owner), net.Ledger, net, sink, clk, logger)
	require.NoError(t, err)

	return &harness{
		t:      t,
		ctx:    context.Background(),
		clock:  clk,
		net:    net,
		oracle: o,
		pool:   lp,
		router: r,
		sink:   sink,
		ex:     ex,
	}
}

func pairParams() types.TokenPairParams {
	return types.TokenPairParams{
		TokenA:              tokenA,
		TokenB:              tokenB,
		SegmentSize:         uint256.NewInt(2_500_000_000),
		DecimalNumber:       8,
		PriceOracle:         oracle,
		LendingPoolProvider: provider,
		SwapRouter:          router,
	}
}

func (h *harness) addPair(params types.TokenPairParams) common.Hash {
	h.t.Helper()
	id, err := h.ex.AddTokenPair(h.ctx, owner, params)
	require.NoError(h.t, err)
	return id
}

func (h *harness) fund(user, token common.Address, amount uint64) {
	h.net.Ledger.Mint(token, user, uint256.NewInt(amount))
}

func (h *harness) deposit(user common.Address, pairID common.Hash, t types.Token, amount uint64) {
	h.t.Helper()
	token := tokenA
	if t == types.TokenB {
		token = tokenB
	}
	h.fund(user, token, amount)
	var err error
	if t == types.TokenA {
		err = h.ex.DepositTokenA(h.ctx, user, pairID, uint256.NewInt(amount))
	} else {
		err = h.ex.DepositTokenB(h.ctx, user, pairID, uint256.NewInt(amount))
	}
	require.NoError(h.t, err)
}

func (h *harness) addConfig(user common.Address, params types.DCAConfigParams) common.Hash {
	h.t.Helper()
	id, err := h.ex.AddDCAConfig(h.ctx, user, params)
	require.NoError(h.t, err)
	return id
}

func (h *harness) balances(pairID common.Hash, user common.Address) (uint64, uint64) {
	h.t.Helper()
	a, b, err := h.ex.GetTokenBalances(pairID, user)
	require.NoError(h.t, err)
	return a.Uint64(), b.Uint64()
}

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

package exchange_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/dca-exchange/internal/types"
)

func TestDepositWithdraw(t *testing.T) {
	h := newHarness(t)
	id := h.addPair(pairParams())

	h.deposit(alice, id, types.TokenA, 1000)
	h.deposit(alice, id, types.TokenB, 500)

	a, b := h.balances(id, alice)
	assert.Equal(t, uint64(1000), a)
	assert.Equal(t, uint64(500), b)
	assert.Equal(t, []string{types.EventTokenPairAdded, types.EventTokenDeposit, types.EventTokenDeposit}, h.sink.names())

	// A is listed on the lending pool, B is not
	ra, rb, err := h.ex.GetReserves(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ra.Idle.Uint64())
	assert.Equal(t, uint64(1000), ra.Supplied.Uint64())
	assert.Equal(t, uint64(500), rb.Idle.Uint64())
	assert.Equal(t, uint64(0), rb.Supplied.Uint64())
	assert.Equal(t, uint64(1000), h.net.Ledger.Balance(aTokenA, custody).Uint64())
	assert.Equal(t, uint64(500), h.net.Ledger.Balance(tokenB, custody).Uint64())

	require.NoError(t, h.ex.WithdrawTokenA(h.ctx, alice, id, u(400)))
	require.NoError(t, h.ex.WithdrawTokenB(h.ctx, alice, id, u(500)))
	a, b = h.balances(id, alice)
	assert.Equal(t, uint64(600), a)
	assert.Equal(t, uint64(0), b)
	assert.Equal(t, uint64(400), h.net.Ledger.Balance(tokenA, alice).Uint64())
	assert.Equal(t, uint64(500), h.net.Ledger.Balance(tokenB, alice).Uint64())

	withdrawal, ok := h.sink.last().(*types.TokenWithdrawal)
	require.True(t, ok)
	assert.Equal(t, tokenB, withdrawal.Token)
	assert.Equal(t, uint64(500), withdrawal.Amount.Uint64())
}

func TestDepositWithdrawErrors(t *testing.T) {
	h := newHarness(t)
	id := h.addPair(pairParams())
	h.deposit(alice, id, types.TokenB, 100)
	h.sink.reset()

	err := h.ex.DepositTokenA(h.ctx, alice, common.HexToHash("0x02"), u(1))
	assert.ErrorIs(t, err, types.ErrNotFound)

	err = h.ex.DepositTokenA(h.ctx, alice, id, u(0))
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	assert.Equal(t, "amount must be greater than 0", err.Error())

	err = h.ex.WithdrawTokenB(h.ctx, alice, id, u(0))
	assert.Equal(t, "amount must be greater than 0", err.Error())

	err = h.ex.WithdrawTokenB(h.ctx, alice, id, u(101))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)
	assert.Equal(t, "insufficient balance", err.Error())

	err = h.ex.WithdrawTokenA(h.ctx, bob, id, u(1))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	// not enough tokens on the wallet
	err = h.ex.DepositTokenA(h.ctx, bob, id, u(1))
	assert.True(t, errors.Is(err, types.ErrInsufficientBalance))

	_, _, err = h.ex.GetTokenBalances(common.HexToHash("0x02"), alice)
	assert.ErrorIs(t, err, types.ErrNotFound)

	assert.Empty(t, h.sink.events)
	_, b := h.balances(id, alice)
	assert.Equal(t, uint64(100), b)
}

func TestDepositRefundedWhenSupplyFails(t *testing.T) {
	h := newHarness(t)
	id := h.addPair(pairParams())
	h.sink.reset()
	h.pool.SetSupplyError(errors.New("pool paused"))

	h.fund(alice, tokenA, 1000)
	err := h.ex.DepositTokenA(h.ctx, alice, id, u(1000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool paused")

	assert.Equal(t, uint64(1000), h.net.Ledger.Balance(tokenA, alice).Uint64())
	a, _ := h.balances(id, alice)
	assert.Equal(t, uint64(0), a)
	ra, _, err := h.ex.GetReserves(id)
	require.NoError(t, err)
	assert.True(t, ra.Total().IsZero())
	assert.Empty(t, h.sink.events)
}

func TestLendingPositionReopened(t *testing.T) {
	h := newHarness(t)
	id := h.addPair(pairParams())

	h.deposit(alice, id, types.TokenA, 300)
	require.NoError(t, h.ex.WithdrawTokenA(h.ctx, alice, id, u(300)))

	ra, _, err := h.ex.GetReserves(id)
	require.NoError(t, err)
	assert.True(t, ra.Drained)
	pair, err := h.ex.GetTokenPair(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pair.IndexBalanceTokenA)

	h.deposit(bob, id, types.TokenA, 50)
	ra, _, err = h.ex.GetReserves(id)
	require.NoError(t, err)
	assert.False(t, ra.Drained)
	assert.Equal(t, uint64(50), ra.Supplied.Uint64())
	pair, err = h.ex.GetTokenPair(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pair.IndexBalanceTokenA)
	assert.Equal(t, uint64(1), pair.IndexBalanceTokenB)
}

package exchange_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/dca-exchange/internal/types"
)

func TestAddDCAConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *types.DCAConfigParams)
		message string
	}{
		{"min equals max", func(p *types.DCAConfigParams) { p.Max = p.Min }, "min must be lower than max"},
		{"min above max", func(p *types.DCAConfigParams) { p.Min, p.Max = p.Max, p.Min }, "min must be lower than max"},
		{"zero amount", func(p *types.DCAConfigParams) { p.Amount = u(0) }, "amount must be greater than 0"},
		{"zero scaling factor", func(p *types.DCAConfigParams) { p.ScalingFactor = 0 }, "scaling factor must be greater than 0"},
		{"bad bucket", func(p *types.DCAConfigParams) { p.DelayBucket = 3 }, "invalid delay bucket"},
		{"band too wide", func(p *types.DCAConfigParams) {
			p.Min = u(0)
			p.Max = u(2_500_000_000 * 101)
		}, "too many segments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id := h.addPair(pairParams())
			h.sink.reset()
			params := bandConfig(id, true)
			tt.mutate(&params)
			_, err := h.ex.AddDCAConfig(h.ctx, alice, params)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrDCAConfig)
			assert.Equal(t, tt.message, err.Error())
			assert.Empty(t, h.sink.events)
		})
	}

	t.Run("unknown pair", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ex.AddDCAConfig(h.ctx, alice, bandConfig(common.HexToHash("0x03"), true))
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("exactly at the segment limit", func(t *testing.T) {
		h := newHarness(t)
		id := h.addPair(pairParams())
		params := bandConfig(id, true)
		params.Min = u(0)
		params.Max = u(2_500_000_000 * 100)
		h.addConfig(alice, params)
	})
}

func TestAddDCAConfig(t *testing.T) {
	h := newHarness(t)
	id := h.addPair(pairParams())
	h.sink.reset()

	first := h.addConfig(alice, bandConfig(id, true))
	second := h.addConfig(alice, bandConfig(id, true))
	assert.NotEqual(t, first, second)

	cfg, err := h.ex.GetDCAConfig(first)
	require.NoError(t, err)
	assert.Equal(t, alice, cfg.Creator)
	assert.Equal(t, id, cfg.PairID)
	assert.Equal(t, h.clock.Now().UTC(), cfg.CreationDate)
	assert.True(t, cfg.LastExecutionTime.IsZero())

	require.Len(t, h.sink.events, 2)
	created, ok := h.sink.events[0].(*types.DCAConfigCreation)
	require.True(t, ok)
	assert.Equal(t, first, created.ConfigID)
	assert.Equal(t, alice, created.Creator)

	_, err = h.ex.GetDCAConfig(common.HexToHash("0x04"))
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, "No DCA config found with given id", err.Error())
}

func TestAddDCAConfigOnBehalfOf(t *testing.T) {
	h := newHarness(t)
	id := h.addPair(pairParams())

	params := bandConfig(id, false)
	params.OnBehalfOf = bob
	_, err := h.ex.AddDCAConfig(h.ctx, alice, params)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	cfgID := h.addConfig(owner, params)
	cfg, err := h.ex.GetDCAConfig(cfgID)
	require.NoError(t, err)
	assert.Equal(t, bob, cfg.Creator)

	// a user may name themselves
	params.OnBehalfOf = alice
	cfgID = h.addConfig(alice, params)
	cfg, err = h.ex.GetDCAConfig(cfgID)
	require.NoError(t, err)
	assert.Equal(t, alice, cfg.Creator)
}

func TestDeleteDCAConfig(t *testing.T) {
	h := newHarness(t)
	id := h.addPair(pairParams())
	mine := h.addConfig(alice, bandConfig(id, true))
	other := h.addConfig(bob, bandConfig(id, false))
	h.sink.reset()

	err := h.ex.DeleteDCAConfig(h.ctx, bob, mine)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.Equal(t, "caller is not the config creator or the owner", err.Error())

	require.NoError(t, h.ex.DeleteDCAConfig(h.ctx, alice, mine))
	deleted, ok := h.sink.last().(*types.DCAConfigDeletion)
	require.True(t, ok)
	assert.True(t, deleted.WasCreator)
	assert.Equal(t, alice, deleted.Caller)

	require.NoError(t, h.ex.DeleteDCAConfig(h.ctx, owner, other))
	deleted, ok = h.sink.last().(*types.DCAConfigDeletion)
	require.True(t, ok)
	assert.False(t, deleted.WasCreator)

	err = h.ex.DeleteDCAConfig(h.ctx, alice, mine)
	assert.ErrorIs(t, err, types.ErrNotFound)

	// no segment keeps a reference to the deleted configs
	for price := uint64(97_500_000_000); price <= 162_500_000_000; price += 2_500_000_000 {
		for _, bucket := range types.DelayBuckets {
			entries, err := h.ex.GetSegmentEntries(id, u(price), bucket, 0)
			require.NoError(t, err)
			assert.Empty(t, entries)
		}
	}
	assert.Empty(t, h.ex.Snapshot().Configs)
}

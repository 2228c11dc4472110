package events

import (
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/dca-exchange/internal/types"
)

var (
	pairID = common.HexToHash("0xabc")
	tokenA = common.HexToAddress("0xa")
	tokenB = common.HexToAddress("0xb")
	alice  = common.HexToAddress("0xa1")
	t0     = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
)

func config(id string, amount uint64, created time.Time) *types.DCAConfig {
	return &types.DCAConfig{
		ID:            common.HexToHash(id),
		PairID:        pairID,
		Creator:       alice,
		IsSwapAforB:   true,
		Min:           uint256.NewInt(1),
		Max:           uint256.NewInt(10),
		Amount:        uint256.NewInt(amount),
		ScalingFactor: 1,
		CreationDate:  created,
	}
}

func TestLogAppend(t *testing.T) {
	log := NewLog()
	ch, unsubscribe := log.Subscribe(4)

	recs := NewRecords(1, t0,
		&types.TokenPairStatusChanged{PairID: pairID},
		&types.TokenPairStatusChanged{PairID: pairID, Enabled: true},
	)
	require.NoError(t, log.Append(recs...))
	assert.Equal(t, uint64(2), log.LastSeq())
	assert.Equal(t, types.EventTokenPairStatusChanged, (<-ch).Name)
	assert.Equal(t, uint64(2), (<-ch).Seq)

	// gaps are rejected
	err := log.Append(NewRecords(4, t0, &types.TokenPairStatusChanged{})...)
	assert.Error(t, err)

	assert.Len(t, log.Since(0), 2)
	assert.Len(t, log.Since(1), 1)
	assert.Empty(t, log.Since(2))

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, log.Append(NewRecords(3, t0, &types.TokenPairStatusChanged{})...))
}

func TestLogRecord(t *testing.T) {
	log := NewLog()
	require.NoError(t, log.Append(NewRecords(1, t0, &types.TokenPairStatusChanged{PairID: pairID})...))

	recs := log.Record(t0, &types.TokenPairStatusChanged{PairID: pairID}, &types.TokenPairStatusChanged{PairID: pairID})
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[0].Seq)
	assert.Equal(t, uint64(3), recs[1].Seq)
	assert.Equal(t, uint64(3), log.LastSeq())
	assert.Empty(t, log.Record(t0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Record(t0, &types.TokenPairStatusChanged{PairID: pairID})
		}()
	}
	wg.Wait()
	seen := make(map[uint64]bool)
	for _, rec := range log.Since(0) {
		assert.False(t, seen[rec.Seq], "seq %d reused", rec.Seq)
		seen[rec.Seq] = true
	}
	assert.Len(t, seen, 11)
}

func TestProjector(t *testing.T) {
	p := NewProjector(2)
	log := NewLog(p)

	pair := &types.TokenPair{ID: pairID, TokenA: tokenA, TokenB: tokenB, SegmentSize: uint256.NewInt(1)}
	older := config("0x01", 300, t0)
	newer := config("0x02", 100, t0.Add(time.Hour))
	evs := []types.Event{
		&types.TokenPairAdded{Pair: pair},
		&types.TokenDeposit{User: alice, PairID: pairID, Token: tokenA, Amount: uint256.NewInt(1000)},
		&types.TokenWithdrawal{User: alice, PairID: pairID, Token: tokenA, Amount: uint256.NewInt(100)},
		&types.DCAConfigCreation{Creator: alice, PairID: pairID, ConfigID: older.ID, Config: older},
		&types.DCAConfigCreation{Creator: alice, PairID: pairID, ConfigID: newer.ID, Config: newer},
		&types.UserDCAExecutionResult{
			PairID:    pairID,
			User:      alice,
			ConfigID:  older.ID,
			AmountIn:  uint256.NewInt(300),
			AmountOut: uint256.NewInt(600),
			Timestamp: t0.Add(2 * time.Hour),
		},
		&types.PairDCAExecutionResult{PairID: pairID, Processed: 1},
		&types.PairDCAExecutionResult{PairID: pairID, Processed: 2},
		&types.PairDCAExecutionResult{PairID: pairID, Processed: 3},
		&types.TokenPairStatusChanged{PairID: pairID, Enabled: false},
	}
	require.NoError(t, log.Append(NewRecords(1, t0, evs...)...))

	pairs := p.Pairs()
	require.Len(t, pairs, 1)
	assert.False(t, pairs[0].Enabled)

	bal, ok := p.Balance(pairID, alice)
	require.True(t, ok)
	assert.Equal(t, uint64(600), bal.AmountTokenA.Uint64())
	assert.Equal(t, uint64(600), bal.AmountTokenB.Uint64())

	cfg, ok := p.Config(older.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(1), cfg.ExecutionCount)
	assert.Equal(t, t0.Add(2*time.Hour), cfg.LastExecutionTime)

	byDate := p.ConfigsByUser(alice, "")
	require.Len(t, byDate, 2)
	assert.Equal(t, older.ID, byDate[0].ID)
	byAmount := p.ConfigsByUser(alice, "amount")
	assert.Equal(t, newer.ID, byAmount[0].ID)
	byLastRun := p.ConfigsByPair(pairID, "-last_execution_time")
	assert.Equal(t, older.ID, byLastRun[0].ID)

	execs := p.Executions(pairID, 0)
	require.Len(t, execs, 2)
	assert.Equal(t, 3, execs[0].Processed)
	assert.Equal(t, 2, execs[1].Processed)
	assert.Len(t, p.Executions(pairID, 1), 1)

	require.NoError(t, log.Append(NewRecords(11, t0, &types.DCAConfigDeletion{Caller: alice, PairID: pairID, ConfigID: older.ID, WasCreator: true})...))
	_, ok = p.Config(older.ID)
	assert.False(t, ok)
	assert.Len(t, p.ConfigsByUser(alice, ""), 1)
	assert.Len(t, p.ConfigsByPair(pairID, ""), 1)
}

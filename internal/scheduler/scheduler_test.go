package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/dca-exchange/internal/tasks"
	"github.com/vultisig/dca-exchange/internal/types"
)

type staticPairs []*types.TokenPair

func (p staticPairs) TokenPairs() []*types.TokenPair { return p }

type fakeQueue struct {
	tasks []*asynq.Task
	errs  map[common.Hash]error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	var payload tasks.ExecuteDCAPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return nil, err
	}
	if err := q.errs[payload.PairID]; err != nil {
		return nil, err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: payload.PairID.Hex()}, nil
}

func TestEnqueueAll(t *testing.T) {
	enabled := common.HexToHash("0x01")
	disabled := common.HexToHash("0x02")
	duplicate := common.HexToHash("0x03")
	broken := common.HexToHash("0x04")
	pairs := staticPairs{
		{ID: enabled, Enabled: true},
		{ID: disabled, Enabled: false},
		{ID: duplicate, Enabled: true},
		{ID: broken, Enabled: true},
	}
	queue := &fakeQueue{errs: map[common.Hash]error{
		duplicate: asynq.ErrDuplicateTask,
		broken:    errors.New("redis down"),
	}}

	s, err := NewSchedulerService(pairs, nil, queue, "", 0)
	require.NoError(t, err)

	n, err := s.EnqueueAll(context.Background())
	assert.Equal(t, 1, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, tasks.TypeExecuteDCA, queue.tasks[0].Type())

	var payload tasks.ExecuteDCAPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &payload))
	assert.Equal(t, enabled, payload.PairID)
	assert.Nil(t, payload.Cursor)
}

func TestNewSchedulerServiceRejectsBadSpec(t *testing.T) {
	_, err := NewSchedulerService(staticPairs{}, nil, &fakeQueue{}, "not a schedule", 0)
	require.Error(t, err)

	_, err = NewSchedulerService(nil, nil, &fakeQueue{}, "", 0)
	require.Error(t, err)
}

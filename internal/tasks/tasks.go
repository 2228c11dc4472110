package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hibiken/asynq"

	"github.com/vultisig/dca-exchange/internal/types"
)

const (
	QUEUE_NAME = "dca_exchange_queue"

	TypeExecuteDCA = "dca:execute"
)

// Enqueuer is the part of *asynq.Client used to schedule work.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var _ Enqueuer = (*asynq.Client)(nil)

type ExecuteDCAPayload struct {
	PairID common.Hash   `json:"pair_id"`
	Cursor *types.Cursor `json:"cursor,omitempty"`
}

func NewExecuteDCATask(pairID common.Hash, cursor *types.Cursor) (*asynq.Task, error) {
	buf, err := json.Marshal(ExecuteDCAPayload{PairID: pairID, Cursor: cursor})
	if err != nil {
		return nil, fmt.Errorf("json.Marshal failed: %w", err)
	}
	return asynq.NewTask(TypeExecuteDCA, buf), nil
}

// ExecuteDCAOptions are the enqueue options shared by the scheduler and the
// worker continuation.
func ExecuteDCAOptions() []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(2 * time.Minute),
		asynq.Retention(10 * time.Minute),
		asynq.Queue(QUEUE_NAME),
	}
}

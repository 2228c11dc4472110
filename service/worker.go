package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/dca-exchange/internal/tasks"
	"github.com/vultisig/dca-exchange/internal/types"
)

// Executor runs one execution batch of a pair.
type Executor interface {
	ExecuteDCA(ctx context.Context, pairID common.Hash, cursor *types.Cursor) (*types.ExecutionResult, error)
}

type WorkerService struct {
	exchange    Executor
	queueClient tasks.Enqueuer
	sdClient    statsd.ClientInterface
	logger      *logrus.Logger
}

// NewWorker creates a new worker service
func NewWorker(exchange Executor, queueClient tasks.Enqueuer, sdClient statsd.ClientInterface, logger *logrus.Logger) (*WorkerService, error) {
	if exchange == nil {
		return nil, fmt.Errorf("exchange cannot be nil")
	}
	if queueClient == nil {
		return nil, fmt.Errorf("queue client cannot be nil")
	}
	if sdClient == nil {
		sdClient = &statsd.NoOpClient{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WorkerService{
		exchange:    exchange,
		queueClient: queueClient,
		sdClient:    sdClient,
		logger:      logger,
	}, nil
}

func (s *WorkerService) incCounter(name string, tags []string) {
	if err := s.sdClient.Count(name, 1, tags, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}
}

func (s *WorkerService) measureTime(name string, start time.Time, tags []string) {
	if err := s.sdClient.Timing(name, time.Since(start), tags, 1); err != nil {
		s.logger.Errorf("fail to measure time metric, err: %v", err)
	}
}

// HandleExecuteDCA runs one batch and enqueues the next one while the
// segment still holds eligible configs.
func (s *WorkerService) HandleExecuteDCA(ctx context.Context, t *asynq.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var payload tasks.ExecuteDCAPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	tags := []string{"pair:" + payload.PairID.Hex()}
	defer s.measureTime("worker.dca.execute.latency", time.Now(), tags)
	s.incCounter("worker.dca.execute", tags)

	res, err := s.exchange.ExecuteDCA(ctx, payload.PairID, payload.Cursor)
	if err != nil {
		s.incCounter("worker.dca.execute.error", tags)
		var domainErr *types.Error
		if errors.As(err, &domainErr) {
			// rejected preconditions do not heal with retries
			return fmt.Errorf("execute dca failed: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("execute dca failed: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"pair_id":   payload.PairID.Hex(),
		"processed": res.Processed,
		"remaining": res.HasRemainingJobs,
	}).Info("dca batch executed")
	if res.Processed > 0 {
		if err := s.sdClient.Count("worker.dca.execute.configs", int64(res.Processed), tags, 1); err != nil {
			s.logger.Errorf("fail to count metric, err: %v", err)
		}
	}

	if !res.HasRemainingJobs {
		return nil
	}
	next, err := tasks.NewExecuteDCATask(payload.PairID, res.Cursor)
	if err != nil {
		return fmt.Errorf("failed to build continuation: %v: %w", err, asynq.SkipRetry)
	}
	ti, err := s.queueClient.EnqueueContext(ctx, next, tasks.ExecuteDCAOptions()...)
	if err != nil {
		// the batch itself succeeded; the scheduler picks the rest up later
		s.logger.WithError(err).WithField("pair_id", payload.PairID.Hex()).Error("failed to enqueue continuation")
		return nil
	}
	s.logger.Debugf("Enqueued continuation task: %s", ti.ID)
	return nil
}

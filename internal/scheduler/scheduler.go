package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/dca-exchange/internal/tasks"
	"github.com/vultisig/dca-exchange/internal/types"
)

const DefaultSpec = "@every 5m"

// PairLister lists the registered pairs.
type PairLister interface {
	TokenPairs() []*types.TokenPair
}

// SchedulerService enqueues one execution task per enabled pair on a cron
// schedule. Tasks are unique per pair for the tick interval so a slow batch
// chain is not doubled up.
type SchedulerService struct {
	pairs  PairLister
	client tasks.Enqueuer
	logger *logrus.Logger
	cron   *cron.Cron
	spec   string
	unique time.Duration
}

func NewSchedulerService(pairs PairLister, logger *logrus.Logger, client tasks.Enqueuer, spec string, unique time.Duration) (*SchedulerService, error) {
	if pairs == nil {
		return nil, fmt.Errorf("pair lister cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("queue client cannot be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if spec == "" {
		spec = DefaultSpec
	}
	if unique <= 0 {
		unique = 5 * time.Minute
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return &SchedulerService{
		pairs:  pairs,
		client: client,
		logger: logger,
		cron:   cron.New(),
		spec:   spec,
		unique: unique,
	}, nil
}

func (s *SchedulerService) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		n, err := s.EnqueueAll(context.Background())
		if err != nil {
			s.logger.WithError(err).Error("failed to enqueue dca executions")
			return
		}
		s.logger.WithField("enqueued", n).Debug("dca executions scheduled")
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc failed: %w", err)
	}
	s.cron.Start()
	s.logger.WithField("schedule", s.spec).Info("scheduler started")
	return nil
}

// Stop stops the cron and waits for a running tick to finish.
func (s *SchedulerService) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// EnqueueAll enqueues an execution for every enabled pair and returns how
// many tasks were accepted. Pairs that already have a pending task are
// skipped.
func (s *SchedulerService) EnqueueAll(ctx context.Context) (int, error) {
	var (
		count int
		errs  []error
	)
	for _, pair := range s.pairs.TokenPairs() {
		if !pair.Enabled {
			continue
		}
		task, err := tasks.NewExecuteDCATask(pair.ID, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		opts := append(tasks.ExecuteDCAOptions(), asynq.Unique(s.unique))
		if _, err := s.client.EnqueueContext(ctx, task, opts...); err != nil {
			if errors.Is(err, asynq.ErrDuplicateTask) {
				continue
			}
			errs = append(errs, fmt.Errorf("pair %s: %w", pair.ID.Hex(), err))
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}

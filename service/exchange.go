package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/dca-exchange/events"
	"github.com/vultisig/dca-exchange/exchange"
	"github.com/vultisig/dca-exchange/internal/types"
	"github.com/vultisig/dca-exchange/storage"
)

type recordingSink struct {
	events []types.Event
}

func (r *recordingSink) Publish(evs ...types.Event) {
	r.events = append(r.events, evs...)
}

func (r *recordingSink) drain() []types.Event {
	evs := r.events
	r.events = nil
	return evs
}

// ExchangeService runs core calls one at a time and makes their outcome
// durable: every successful mutating call saves the full core state and its
// events in one transaction.
type ExchangeService struct {
	mu      sync.Mutex
	core    *exchange.Exchange
	sink    *recordingSink
	db      storage.DatabaseStorage
	log     *events.Log
	clock   clock.Clock
	logger  *logrus.Logger
	version uint64
	// records appended to the log but not written to the database yet
	pending []events.Record
}

func NewExchangeService(
	opts exchange.Options,
	access exchange.AccessControl,
	custody exchange.Custody,
	resolver exchange.Resolver,
	db storage.DatabaseStorage,
	log *events.Log,
	clk clock.Clock,
	logger *logrus.Logger,
) (*ExchangeService, error) {
	if db == nil {
		return nil, fmt.Errorf("database storage cannot be nil")
	}
	if log == nil {
		return nil, fmt.Errorf("event log cannot be nil")
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	sink := &recordingSink{}
	core, err := exchange.New(opts, access, custody, resolver, sink, clk, logger.WithField("service", "exchange"))
	if err != nil {
		return nil, fmt.Errorf("exchange.New failed: %w", err)
	}
	return &ExchangeService{
		core:   core,
		sink:   sink,
		db:     db,
		log:    log,
		clock:  clk,
		logger: logger,
	}, nil
}

// Load restores the last saved state and replays the saved events into the
// log so that projections catch up.
func (s *ExchangeService) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, version, err := s.db.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load exchange state: %w", err)
	}
	if state != nil {
		if err := s.core.Restore(state); err != nil {
			return fmt.Errorf("failed to restore exchange state: %w", err)
		}
	}
	s.version = version

	records, err := s.db.LoadEvents(ctx, s.log.LastSeq())
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	if err := s.log.Append(records...); err != nil {
		return fmt.Errorf("failed to replay events: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"version": version,
		"events":  len(records),
	}).Info("exchange state loaded")
	return nil
}

// mutate runs fn against the core and persists the result. A call whose
// external effects already happened is never reported as failed because of
// storage: its records stay pending and go out with the next save.
func (s *ExchangeService) mutate(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sink.drain()
	if err := fn(); err != nil {
		s.sink.drain()
		return err
	}
	records := s.log.Record(s.clock.Now().UTC(), s.sink.drain()...)
	s.pending = append(s.pending, records...)
	s.persist(ctx)
	return nil
}

func (s *ExchangeService) persist(ctx context.Context) {
	state := s.core.Snapshot()
	err := s.db.WithTx(ctx, func(ctx context.Context, dbTx pgx.Tx) error {
		if err := s.db.SaveStateTx(ctx, dbTx, state, s.version+1); err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}
		if err := s.db.InsertEventsTx(ctx, dbTx, s.pending); err != nil {
			return fmt.Errorf("failed to save events: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("pending", len(s.pending)).Error("failed to persist exchange state")
		return
	}
	s.version++
	s.pending = nil
}

// Flush retries persisting pending records.
func (s *ExchangeService) Flush(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 {
		s.persist(ctx)
	}
}

// Pending is the number of records not saved yet.
func (s *ExchangeService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *ExchangeService) Log() *events.Log {
	return s.log
}

func (s *ExchangeService) Address() common.Address {
	return s.core.Address()
}

func (s *ExchangeService) AddTokenPair(ctx context.Context, caller common.Address, params types.TokenPairParams) (common.Hash, error) {
	var id common.Hash
	err := s.mutate(ctx, func() (err error) {
		id, err = s.core.AddTokenPair(ctx, caller, params)
		return err
	})
	return id, err
}

func (s *ExchangeService) SetTokenPairEnabled(ctx context.Context, caller common.Address, pairID common.Hash, enabled bool) error {
	return s.mutate(ctx, func() error {
		return s.core.SetTokenPairEnabled(ctx, caller, pairID, enabled)
	})
}

func (s *ExchangeService) Deposit(ctx context.Context, caller common.Address, pairID common.Hash, t types.Token, amount *uint256.Int) error {
	return s.mutate(ctx, func() error {
		if t == types.TokenA {
			return s.core.DepositTokenA(ctx, caller, pairID, amount)
		}
		return s.core.DepositTokenB(ctx, caller, pairID, amount)
	})
}

func (s *ExchangeService) Withdraw(ctx context.Context, caller common.Address, pairID common.Hash, t types.Token, amount *uint256.Int) error {
	return s.mutate(ctx, func() error {
		if t == types.TokenA {
			return s.core.WithdrawTokenA(ctx, caller, pairID, amount)
		}
		return s.core.WithdrawTokenB(ctx, caller, pairID, amount)
	})
}

func (s *ExchangeService) AddDCAConfig(ctx context.Context, caller common.Address, params types.DCAConfigParams) (common.Hash, error) {
	var id common.Hash
	err := s.mutate(ctx, func() (err error) {
		id, err = s.core.AddDCAConfig(ctx, caller, params)
		return err
	})
	return id, err
}

func (s *ExchangeService) DeleteDCAConfig(ctx context.Context, caller common.Address, configID common.Hash) error {
	return s.mutate(ctx, func() error {
		return s.core.DeleteDCAConfig(ctx, caller, configID)
	})
}

func (s *ExchangeService) ExecuteDCA(ctx context.Context, pairID common.Hash, cursor *types.Cursor) (*types.ExecutionResult, error) {
	var res *types.ExecutionResult
	err := s.mutate(ctx, func() (err error) {
		res, err = s.core.ExecuteDCA(ctx, pairID, cursor)
		return err
	})
	return res, err
}

func (s *ExchangeService) SetMaxDCAProcessSegmentPerCall(ctx context.Context, caller common.Address, value uint64) error {
	return s.mutate(ctx, func() error {
		return s.core.SetMaxDCAProcessSegmentPerCall(ctx, caller, value)
	})
}

func (s *ExchangeService) GetTokenPair(pairID common.Hash) (*types.TokenPair, error) {
	return s.core.GetTokenPair(pairID)
}

func (s *ExchangeService) TokenPairs() []*types.TokenPair {
	return s.core.TokenPairs()
}

func (s *ExchangeService) GetTokenBalances(pairID common.Hash, user common.Address) (*uint256.Int, *uint256.Int, error) {
	return s.core.GetTokenBalances(pairID, user)
}

func (s *ExchangeService) GetReserves(pairID common.Hash) (*types.Reserve, *types.Reserve, error) {
	return s.core.GetReserves(pairID)
}

func (s *ExchangeService) GetDCAConfig(configID common.Hash) (*types.DCAConfig, error) {
	return s.core.GetDCAConfig(configID)
}

func (s *ExchangeService) GetSegmentEntries(pairID common.Hash, price *uint256.Int, bucket types.DelayBucket, offset int) ([]types.SegmentEntry, error) {
	return s.core.GetSegmentEntries(pairID, price, bucket, offset)
}

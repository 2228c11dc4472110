// Package exchange is the DCA order book and settlement core. Every exported
// method on Exchange runs under one lock and either applies all of its
// mutations and publishes its events, or returns an error and leaves the
// user-visible state untouched.
package exchange

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/dca-exchange/internal/types"
)

// EventSink receives the events of a call once it has succeeded.
type EventSink interface {
	Publish(events ...types.Event)
}

type Options struct {
	// Address is the custody account the exchange holds funds on.
	Address              common.Address
	MaxSegmentsPerConfig uint64
	MaxConfigsPerCall    uint64
	SlippageBps          uint64
	SwapDeadline         time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxSegmentsPerConfig: 100,
		MaxConfigsPerCall:    20,
		SlippageBps:          100,
		SwapDeadline:         5 * time.Minute,
	}
}

type Exchange struct {
	mu       sync.Mutex
	opts     Options
	access   AccessControl
	custody  Custody
	resolver Resolver
	sink     EventSink
	clock    clock.Clock
	logger   logrus.FieldLogger

	registry *TokenPairRegistry
	ledger   *BalanceLedger
	index    *SegmentIndex
	store    *DCAConfigStore
	engine   *ExecutionEngine
}

func New(opts Options, access AccessControl, custody Custody, resolver Resolver, sink EventSink, clk clock.Clock, logger logrus.FieldLogger) (*Exchange, error) {
	if access == nil {
		return nil, fmt.Errorf("access control cannot be nil")
	}
	if custody == nil {
		return nil, fmt.Errorf("custody cannot be nil")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}
	if opts.MaxSegmentsPerConfig == 0 {
		return nil, fmt.Errorf("max segments per config must be greater than 0")
	}
	if opts.MaxConfigsPerCall == 0 {
		return nil, fmt.Errorf("max configs per call must be greater than 0")
	}
	if opts.SlippageBps > 10_000 {
		return nil, fmt.Errorf("slippage must not exceed 10000 bps")
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Exchange{
		opts:     opts,
		access:   access,
		custody:  custody,
		resolver: resolver,
		sink:     sink,
		clock:    clk,
		logger:   logger,
		registry: newTokenPairRegistry(),
		ledger:   newBalanceLedger(),
		index:    newSegmentIndex(),
		store:    newDCAConfigStore(),
		engine:   &ExecutionEngine{maxConfigsPerCall: opts.MaxConfigsPerCall},
	}, nil
}

func (e *Exchange) Address() common.Address {
	return e.opts.Address
}

func (e *Exchange) publish(events ...types.Event) {
	if e.sink == nil || len(events) == 0 {
		return
	}
	e.sink.Publish(events...)
}

// Snapshot returns a deep copy of the exchange state.
func (e *Exchange) Snapshot() *types.State {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := &types.State{
		Nonce:             e.store.nonce,
		MaxConfigsPerCall: e.engine.maxConfigsPerCall,
	}
	for _, id := range e.registry.order {
		state.Pairs = append(state.Pairs, e.registry.pairs[id].Clone())
	}
	for _, b := range e.ledger.balances {
		state.Balances = append(state.Balances, b.Clone())
	}
	sort.Slice(state.Balances, func(i, j int) bool {
		if c := bytes.Compare(state.Balances[i].PairID[:], state.Balances[j].PairID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(state.Balances[i].User[:], state.Balances[j].User[:]) < 0
	})
	for _, r := range e.ledger.reserves {
		state.Reserves = append(state.Reserves, r.Clone())
	}
	sort.Slice(state.Reserves, func(i, j int) bool {
		if c := bytes.Compare(state.Reserves[i].PairID[:], state.Reserves[j].PairID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(state.Reserves[i].Token[:], state.Reserves[j].Token[:]) < 0
	})
	state.Configs = e.store.ordered()
	return state
}

// Restore replaces the exchange state with a copy of state and rebuilds the
// segment index.
func (e *Exchange) Restore(state *types.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	registry := newTokenPairRegistry()
	for _, p := range state.Pairs {
		if err := registry.add(p.Clone()); err != nil {
			return fmt.Errorf("restore pair %s: %w", p.ID.Hex(), err)
		}
	}
	ledger := newBalanceLedger()
	for _, b := range state.Balances {
		ledger.balances[balanceKey{pair: b.PairID, user: b.User}] = b.Clone()
	}
	for _, r := range state.Reserves {
		ledger.reserves[reserveKey{pair: r.PairID, token: r.Token}] = r.Clone()
	}
	store := newDCAConfigStore()
	index := newSegmentIndex()
	configs := make([]*types.DCAConfig, 0, len(state.Configs))
	for _, c := range state.Configs {
		configs = append(configs, c.Clone())
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Seq < configs[j].Seq })
	for _, c := range configs {
		pair, err := registry.get(c.PairID)
		if err != nil {
			return fmt.Errorf("restore config %s: %w", c.ID.Hex(), err)
		}
		store.put(c)
		index.insert(c, pair.SegmentSize)
	}
	store.nonce = state.Nonce
	maxPerCall := state.MaxConfigsPerCall
	if maxPerCall == 0 {
		maxPerCall = e.opts.MaxConfigsPerCall
	}

	e.registry = registry
	e.ledger = ledger
	e.store = store
	e.index = index
	e.engine = &ExecutionEngine{maxConfigsPerCall: maxPerCall}
	return nil
}

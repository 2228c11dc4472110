package events

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	dcacommon "github.com/vultisig/dca-exchange/common"
	"github.com/vultisig/dca-exchange/internal/types"
)

const defaultExecutionHistory = 100

type balanceKey struct {
	pair common.Hash
	user common.Address
}

// Projector materialises the query side of the exchange from its events.
// It never reads core state.
type Projector struct {
	mu         sync.RWMutex
	history    int
	pairs      map[common.Hash]*types.TokenPair
	pairOrder  []common.Hash
	configs    map[common.Hash]*types.DCAConfig
	byUser     map[common.Address]map[common.Hash]struct{}
	byPair     map[common.Hash]map[common.Hash]struct{}
	balances   map[balanceKey]*types.UserBalance
	executions map[common.Hash][]types.PairDCAExecutionResult
}

var _ Handler = (*Projector)(nil)

// NewProjector keeps the last history execution results per pair.
func NewProjector(history int) *Projector {
	if history <= 0 {
		history = defaultExecutionHistory
	}
	return &Projector{
		history:    history,
		pairs:      make(map[common.Hash]*types.TokenPair),
		configs:    make(map[common.Hash]*types.DCAConfig),
		byUser:     make(map[common.Address]map[common.Hash]struct{}),
		byPair:     make(map[common.Hash]map[common.Hash]struct{}),
		balances:   make(map[balanceKey]*types.UserBalance),
		executions: make(map[common.Hash][]types.PairDCAExecutionResult),
	}
}

func (p *Projector) Apply(rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := rec.Event.(type) {
	case *types.TokenPairAdded:
		if _, ok := p.pairs[ev.Pair.ID]; !ok {
			p.pairOrder = append(p.pairOrder, ev.Pair.ID)
		}
		p.pairs[ev.Pair.ID] = ev.Pair.Clone()
	case *types.TokenPairStatusChanged:
		if pair, ok := p.pairs[ev.PairID]; ok {
			pair.Enabled = ev.Enabled
		}
	case *types.TokenDeposit:
		if amount := p.tokenAmount(ev.PairID, ev.User, ev.Token); amount != nil {
			amount.Add(amount, ev.Amount)
		}
	case *types.TokenWithdrawal:
		if amount := p.tokenAmount(ev.PairID, ev.User, ev.Token); amount != nil {
			amount.Sub(amount, ev.Amount)
		}
	case *types.DCAConfigCreation:
		p.configs[ev.ConfigID] = ev.Config.Clone()
		index(p.byUser, ev.Creator, ev.ConfigID)
		index(p.byPair, ev.PairID, ev.ConfigID)
	case *types.DCAConfigDeletion:
		if cfg, ok := p.configs[ev.ConfigID]; ok {
			delete(p.byUser[cfg.Creator], ev.ConfigID)
		}
		delete(p.byPair[ev.PairID], ev.ConfigID)
		delete(p.configs, ev.ConfigID)
	case *types.UserDCAExecutionResult:
		cfg, ok := p.configs[ev.ConfigID]
		if !ok {
			return
		}
		cfg.LastExecutionTime = ev.Timestamp
		cfg.ExecutionCount++
		bal := p.balance(ev.PairID, ev.User)
		in, out := bal.Amount(cfg.InputToken()), bal.Amount(1-cfg.InputToken())
		in.Sub(in, ev.AmountIn)
		out.Add(out, ev.AmountOut)
	case *types.PairDCAExecutionResult:
		list := append(p.executions[ev.PairID], *ev)
		if len(list) > p.history {
			list = list[len(list)-p.history:]
		}
		p.executions[ev.PairID] = list
	}
}

func index[K comparable](m map[K]map[common.Hash]struct{}, key K, id common.Hash) {
	set, ok := m[key]
	if !ok {
		set = make(map[common.Hash]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func (p *Projector) balance(pair common.Hash, user common.Address) *types.UserBalance {
	key := balanceKey{pair: pair, user: user}
	b, ok := p.balances[key]
	if !ok {
		b = &types.UserBalance{PairID: pair, User: user, AmountTokenA: new(uint256.Int), AmountTokenB: new(uint256.Int)}
		p.balances[key] = b
	}
	return b
}

func (p *Projector) tokenAmount(pairID common.Hash, user, token common.Address) *uint256.Int {
	pair, ok := p.pairs[pairID]
	if !ok {
		return nil
	}
	b := p.balance(pairID, user)
	if token == pair.TokenA {
		return b.AmountTokenA
	}
	return b.AmountTokenB
}

func (p *Projector) Pairs() []*types.TokenPair {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*types.TokenPair, 0, len(p.pairOrder))
	for _, id := range p.pairOrder {
		out = append(out, p.pairs[id].Clone())
	}
	return out
}

func (p *Projector) Config(id common.Hash) (*types.DCAConfig, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.configs[id]
	if !ok {
		return nil, false
	}
	return cfg.Clone(), true
}

// ConfigsByUser lists the configs created by user, ordered by the sort
// expression understood by common.GetSortingCondition.
func (p *Projector) ConfigsByUser(user common.Address, sortBy string) []*types.DCAConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sorted(p.byUser[user], sortBy)
}

func (p *Projector) ConfigsByPair(pairID common.Hash, sortBy string) []*types.DCAConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sorted(p.byPair[pairID], sortBy)
}

func (p *Projector) sorted(ids map[common.Hash]struct{}, sortBy string) []*types.DCAConfig {
	out := make([]*types.DCAConfig, 0, len(ids))
	for id := range ids {
		out = append(out, p.configs[id].Clone())
	}
	column, direction := dcacommon.GetSortingCondition(sortBy)
	less := func(a, b *types.DCAConfig) int {
		switch column {
		case "last_execution_time":
			return a.LastExecutionTime.Compare(b.LastExecutionTime)
		case "amount":
			return a.Amount.Cmp(b.Amount)
		default:
			return a.CreationDate.Compare(b.CreationDate)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := less(out[i], out[j])
		if c == 0 {
			return out[i].Seq < out[j].Seq
		}
		if direction == "DESC" {
			return c > 0
		}
		return c < 0
	})
	return out
}

func (p *Projector) Balance(pairID common.Hash, user common.Address) (*types.UserBalance, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.balances[balanceKey{pair: pairID, user: user}]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// Executions returns up to limit most recent results of the pair, newest
// first.
func (p *Projector) Executions(pairID common.Hash, limit int) []types.PairDCAExecutionResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	list := p.executions[pairID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]types.PairDCAExecutionResult, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out
}

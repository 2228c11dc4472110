package exchange

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	dcacommon "github.com/vultisig/dca-exchange/common"
	"github.com/vultisig/dca-exchange/internal/types"
)

type TokenPairRegistry struct {
	pairs map[common.Hash]*types.TokenPair
	order []common.Hash
}

func newTokenPairRegistry() *TokenPairRegistry {
	return &TokenPairRegistry{pairs: make(map[common.Hash]*types.TokenPair)}
}

func (r *TokenPairRegistry) get(id common.Hash) (*types.TokenPair, error) {
	p, ok := r.pairs[id]
	if !ok {
		return nil, types.NotFound("token pair not found")
	}
	return p, nil
}

func (r *TokenPairRegistry) add(p *types.TokenPair) error {
	if _, ok := r.pairs[p.ID]; ok {
		return types.NewError(types.ErrDuplicatePair, "token pair already exists")
	}
	r.pairs[p.ID] = p
	r.order = append(r.order, p.ID)
	return nil
}

func validateTokenPairParams(params types.TokenPairParams) error {
	switch {
	case dcacommon.IsZeroAddress(params.TokenA):
		return types.InvalidArgument("tokenA must be defined")
	case dcacommon.IsZeroAddress(params.TokenB):
		return types.InvalidArgument("tokenB must be defined")
	case dcacommon.IsZeroAddress(params.PriceOracle):
		return types.InvalidArgument("price oracle must be defined")
	case dcacommon.IsZeroAddress(params.LendingPoolProvider):
		return types.InvalidArgument("lending pool provider must be defined")
	case dcacommon.IsZeroAddress(params.SwapRouter):
		return types.InvalidArgument("swap router must be defined")
	case params.TokenA == params.TokenB:
		return types.InvalidArgument("tokenA and tokenB must differ")
	case params.SegmentSize == nil || params.SegmentSize.IsZero():
		return types.InvalidArgument("segment size must be greater than 0")
	case params.DecimalNumber > types.MaxDecimalNumber:
		return types.InvalidArgument(fmt.Sprintf("decimal number must not exceed %d", types.MaxDecimalNumber))
	}
	return nil
}

// AddTokenPair registers a pair and reads the lending pool reserve data of
// both tokens. Owner only.
func (e *Exchange) AddTokenPair(ctx context.Context, caller common.Address, params types.TokenPairParams) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := requireOwner(e.access, caller); err != nil {
		return common.Hash{}, err
	}
	if err := validateTokenPairParams(params); err != nil {
		return common.Hash{}, err
	}
	id := dcacommon.PairID(params.TokenA, params.TokenB)
	if _, ok := e.registry.pairs[id]; ok {
		return common.Hash{}, types.NewError(types.ErrDuplicatePair, "token pair already exists")
	}

	pool, err := e.resolver.LendingPool(params.LendingPoolProvider)
	if err != nil {
		return common.Hash{}, fmt.Errorf("resolve lending pool failed: %w", err)
	}
	reserveA, err := pool.GetReserveData(ctx, params.TokenA)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get reserve data for tokenA failed: %w", err)
	}
	reserveB, err := pool.GetReserveData(ctx, params.TokenB)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get reserve data for tokenB failed: %w", err)
	}

	fee := params.PoolFee
	if fee == 0 {
		fee = types.DefaultPoolFee
	}
	pair := &types.TokenPair{
		ID:                  id,
		TokenA:              params.TokenA,
		TokenB:              params.TokenB,
		SegmentSize:         params.SegmentSize.Clone(),
		DecimalNumber:       params.DecimalNumber,
		PriceOracle:         params.PriceOracle,
		LendingPoolProvider: params.LendingPoolProvider,
		SwapRouter:          params.SwapRouter,
		PoolFee:             fee,
		Enabled:             true,
		IndexBalanceTokenA:  1,
		IndexBalanceTokenB:  1,
		ATokenA:             reserveA.ATokenAddress,
		ATokenB:             reserveB.ATokenAddress,
		CreatedAt:           e.clock.Now().UTC(),
	}
	if err := e.registry.add(pair); err != nil {
		return common.Hash{}, err
	}
	e.ledger.reserve(id, pair.TokenA)
	e.ledger.reserve(id, pair.TokenB)

	e.logger.WithFields(logrus.Fields{
		"pair_id": id.Hex(),
		"token_a": pair.TokenA.Hex(),
		"token_b": pair.TokenB.Hex(),
	}).Info("token pair added")
	e.publish(&types.TokenPairAdded{Pair: pair.Clone()})
	return id, nil
}

func (e *Exchange) GetTokenPair(pairID common.Hash) (*types.TokenPair, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.registry.get(pairID)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (e *Exchange) TokenPairs() []*types.TokenPair {
	e.mu.Lock()
	defer e.mu.Unlock()

	pairs := make([]*types.TokenPair, 0, len(e.registry.order))
	for _, id := range e.registry.order {
		pairs = append(pairs, e.registry.pairs[id].Clone())
	}
	return pairs
}

func (e *Exchange) SetTokenPairEnabled(ctx context.Context, caller common.Address, pairID common.Hash, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := requireOwner(e.access, caller); err != nil {
		return err
	}
	pair, err := e.registry.get(pairID)
	if err != nil {
		return err
	}
	if pair.Enabled == enabled {
		return nil
	}
	pair.Enabled = enabled
	e.publish(&types.TokenPairStatusChanged{PairID: pairID, Enabled: enabled, Timestamp: e.clock.Now().UTC()})
	return nil
}

func (e *Exchange) enabledPair(pairID common.Hash) (*types.TokenPair, error) {
	pair, err := e.registry.get(pairID)
	if err != nil {
		return nil, err
	}
	if !pair.Enabled {
		return nil, types.InvalidArgument("token pair is disabled")
	}
	return pair, nil
}

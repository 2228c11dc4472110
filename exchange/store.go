package exchange

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	dcacommon "github.com/vultisig/dca-exchange/common"
	"github.com/vultisig/dca-exchange/internal/types"
)

type DCAConfigStore struct {
	configs map[common.Hash]*types.DCAConfig
	nonce   uint64
	seq     uint64
}

func newDCAConfigStore() *DCAConfigStore {
	return &DCAConfigStore{configs: make(map[common.Hash]*types.DCAConfig)}
}

func (s *DCAConfigStore) get(id common.Hash) (*types.DCAConfig, error) {
	cfg, ok := s.configs[id]
	if !ok {
		return nil, types.NotFound("No DCA config found with given id")
	}
	return cfg, nil
}

func (s *DCAConfigStore) put(cfg *types.DCAConfig) {
	s.configs[cfg.ID] = cfg
	if cfg.Seq > s.seq {
		s.seq = cfg.Seq
	}
}

// ordered returns copies of all configs in creation order.
func (s *DCAConfigStore) ordered() []*types.DCAConfig {
	out := make([]*types.DCAConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (e *Exchange) validateDCAConfig(pair *types.TokenPair, params types.DCAConfigParams) error {
	if params.Min == nil || params.Max == nil || !params.Min.Lt(params.Max) {
		return types.DCAConfigError("min must be lower than max")
	}
	if params.Amount == nil || params.Amount.IsZero() {
		return types.DCAConfigError("amount must be greater than 0")
	}
	if params.ScalingFactor == 0 {
		return types.DCAConfigError("scaling factor must be greater than 0")
	}
	if !params.DelayBucket.Valid() {
		return types.DCAConfigError("invalid delay bucket")
	}
	n, ok := SegmentCount(params.Min, params.Max, pair.SegmentSize)
	if !ok || n > e.opts.MaxSegmentsPerConfig {
		return types.DCAConfigError("too many segments")
	}
	return nil
}

// AddDCAConfig stores a config and indexes it in every segment of its band.
// The owner may create a config on behalf of another user.
func (e *Exchange) AddDCAConfig(ctx context.Context, caller common.Address, params types.DCAConfigParams) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pair, err := e.enabledPair(params.PairID)
	if err != nil {
		return common.Hash{}, err
	}
	creator := caller
	if !dcacommon.IsZeroAddress(params.OnBehalfOf) && params.OnBehalfOf != caller {
		if !e.access.IsOwner(caller) {
			return common.Hash{}, types.Unauthorized("only the owner can create a config on behalf of another user")
		}
		creator = params.OnBehalfOf
	}
	if err := e.validateDCAConfig(pair, params); err != nil {
		return common.Hash{}, err
	}

	now := e.clock.Now().UTC()
	e.store.nonce++
	id := dcacommon.ConfigID(creator, pair.ID, e.store.nonce, now.Unix())
	if _, exists := e.store.configs[id]; exists {
		e.store.nonce--
		return common.Hash{}, types.DCAConfigError("config id collision")
	}
	cfg := &types.DCAConfig{
		ID:            id,
		PairID:        pair.ID,
		Creator:       creator,
		IsSwapAforB:   params.IsSwapAforB,
		Min:           params.Min.Clone(),
		Max:           params.Max.Clone(),
		Amount:        params.Amount.Clone(),
		ScalingFactor: params.ScalingFactor,
		DelayBucket:   params.DelayBucket,
		CreationDate:  now,
		Seq:           e.store.seq + 1,
	}
	e.store.put(cfg)
	e.index.insert(cfg, pair.SegmentSize)

	e.logger.WithFields(logrus.Fields{
		"pair_id":   pair.ID.Hex(),
		"config_id": id.Hex(),
		"creator":   creator.Hex(),
		"bucket":    cfg.DelayBucket.String(),
	}).Info("dca config created")
	e.publish(&types.DCAConfigCreation{
		Creator:  creator,
		PairID:   pair.ID,
		ConfigID: id,
		Config:   cfg.Clone(),
	})
	return id, nil
}

// DeleteDCAConfig removes a config. Only its creator or the owner may do it.
func (e *Exchange) DeleteDCAConfig(ctx context.Context, caller common.Address, configID common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.store.get(configID)
	if err != nil {
		return err
	}
	wasCreator := caller == cfg.Creator
	if !wasCreator && !e.access.IsOwner(caller) {
		return types.Unauthorized("caller is not the config creator or the owner")
	}
	pair, err := e.registry.get(cfg.PairID)
	if err != nil {
		return err
	}
	e.index.remove(cfg, pair.SegmentSize)
	delete(e.store.configs, configID)

	e.logger.WithFields(logrus.Fields{
		"pair_id":     cfg.PairID.Hex(),
		"config_id":   configID.Hex(),
		"caller":      caller.Hex(),
		"was_creator": wasCreator,
	}).Info("dca config deleted")
	e.publish(&types.DCAConfigDeletion{
		Caller:     caller,
		PairID:     cfg.PairID,
		ConfigID:   configID,
		WasCreator: wasCreator,
	})
	return nil
}

func (e *Exchange) GetDCAConfig(configID common.Hash) (*types.DCAConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.store.get(configID)
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

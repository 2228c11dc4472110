package exchange

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vultisig/dca-exchange/internal/types"
)

// Multiplier is the fixed-point unit of the scaling ratio.
const Multiplier = 100_000_000

type segmentKey struct {
	pair    common.Hash
	segment uint256.Int
	bucket  types.DelayBucket
}

// SegmentIndex maps (pair, price segment, delay bucket) to the ids of the
// configs covering that segment, in creation order.
type SegmentIndex struct {
	buckets map[segmentKey][]common.Hash
}

func newSegmentIndex() *SegmentIndex {
	return &SegmentIndex{buckets: make(map[segmentKey][]common.Hash)}
}

// SegmentOf returns the lower bound of the segment containing price.
// Segments are half-open: [k*size, (k+1)*size).
func SegmentOf(price, size *uint256.Int) *uint256.Int {
	rem := new(uint256.Int).Mod(price, size)
	return new(uint256.Int).Sub(price, rem)
}

// SegmentCount is the number of segments a [min, max) band touches.
func SegmentCount(min, max, size *uint256.Int) (uint64, bool) {
	start := SegmentOf(min, size)
	span := new(uint256.Int).Sub(max, start)
	n, rem := new(uint256.Int), new(uint256.Int)
	n.DivMod(span, size, rem)
	if !rem.IsZero() {
		n.AddUint64(n, 1)
	}
	if !n.IsUint64() {
		return 0, false
	}
	return n.Uint64(), true
}

// forEachSegment calls fn with every segment lower bound in [min, max).
func forEachSegment(min, max, size *uint256.Int, fn func(segment uint256.Int)) {
	s := SegmentOf(min, size)
	for s.Lt(max) {
		fn(*s)
		if _, overflow := s.AddOverflow(s, size); overflow {
			return
		}
	}
}

func (ix *SegmentIndex) insert(cfg *types.DCAConfig, size *uint256.Int) {
	forEachSegment(cfg.Min, cfg.Max, size, func(segment uint256.Int) {
		key := segmentKey{pair: cfg.PairID, segment: segment, bucket: cfg.DelayBucket}
		ix.buckets[key] = append(ix.buckets[key], cfg.ID)
	})
}

func (ix *SegmentIndex) remove(cfg *types.DCAConfig, size *uint256.Int) {
	forEachSegment(cfg.Min, cfg.Max, size, func(segment uint256.Int) {
		key := segmentKey{pair: cfg.PairID, segment: segment, bucket: cfg.DelayBucket}
		ids := ix.buckets[key]
		kept := ids[:0]
		for _, id := range ids {
			if id != cfg.ID {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(ix.buckets, key)
			return
		}
		ix.buckets[key] = kept
	})
}

func (ix *SegmentIndex) entries(pair common.Hash, segment *uint256.Int, bucket types.DelayBucket) []common.Hash {
	return ix.buckets[segmentKey{pair: pair, segment: *segment, bucket: bucket}]
}

// ScaledAmount is the trade size of cfg at price:
//
//	ratio  = (max-price)*MULT/(max-min)   when selling A for B
//	ratio  = (price-min)*MULT/(max-min)   when selling B for A
//	amount = base*(MULT+(scaling-1)*ratio)/MULT
//
// Every product is taken before its division. price is clamped into the band.
func ScaledAmount(cfg *types.DCAConfig, price *uint256.Int) *uint256.Int {
	p := price
	if p.Lt(cfg.Min) {
		p = cfg.Min
	}
	if p.Gt(cfg.Max) {
		p = cfg.Max
	}
	mult := uint256.NewInt(Multiplier)
	width := new(uint256.Int).Sub(cfg.Max, cfg.Min)

	dist := new(uint256.Int)
	if cfg.IsSwapAforB {
		dist.Sub(cfg.Max, p)
	} else {
		dist.Sub(p, cfg.Min)
	}
	ratio := new(uint256.Int).Mul(dist, mult)
	ratio.Div(ratio, width)

	factor := new(uint256.Int).Mul(uint256.NewInt(cfg.ScalingFactor-1), ratio)
	factor.Add(factor, mult)

	amount, _ := new(uint256.Int).MulDivOverflow(cfg.Amount, factor, mult)
	return amount
}

// GetSegmentEntries lists the configs of the segment containing price whose
// band covers price, starting at raw bucket position offset.
func (e *Exchange) GetSegmentEntries(pairID common.Hash, price *uint256.Int, bucket types.DelayBucket, offset int) ([]types.SegmentEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pair, err := e.registry.get(pairID)
	if err != nil {
		return nil, err
	}
	if !bucket.Valid() {
		return nil, types.InvalidArgument("invalid delay bucket")
	}
	if price == nil {
		return nil, types.InvalidArgument("price must be defined")
	}
	if offset < 0 {
		return nil, types.InvalidArgument("offset must not be negative")
	}

	ids := e.index.entries(pairID, SegmentOf(price, pair.SegmentSize), bucket)
	entries := []types.SegmentEntry{}
	for i := offset; i < len(ids); i++ {
		cfg := e.store.configs[ids[i]]
		if !cfg.Covers(price) {
			continue
		}
		entries = append(entries, types.SegmentEntry{
			ConfigID:    cfg.ID,
			Owner:       cfg.Creator,
			IsSwapAforB: cfg.IsSwapAforB,
			Amount:      ScaledAmount(cfg, price),
			Position:    i,
		})
	}
	return entries, nil
}

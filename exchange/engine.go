package exchange

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/dca-exchange/internal/types"
)

// ExecutionEngine holds the execution knobs. The batch logic lives on
// Exchange because it reads every other component.
type ExecutionEngine struct {
	maxConfigsPerCall uint64
}

type batchItem struct {
	cfg      *types.DCAConfig
	bucket   types.DelayBucket
	offset   int
	amountIn *uint256.Int
	otcIn    *uint256.Int
	swapIn   *uint256.Int
	otcOut   *uint256.Int
	swapOut  *uint256.Int
}

func (it *batchItem) amountOut() *uint256.Int {
	return new(uint256.Int).Add(it.otcOut, it.swapOut)
}

type settlement struct {
	items     []*batchItem
	amountOTC *uint256.Int
	// swapAforB is the router direction; only meaningful when swapIn > 0.
	swapAforB   bool
	swapIn      *uint256.Int
	expectedOut *uint256.Int
	swapItems   []*batchItem
	// deferred configs stay untouched and are picked up by the next call.
	deferred []*batchItem
}

func (e *Exchange) SetMaxDCAProcessSegmentPerCall(ctx context.Context, caller common.Address, value uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := requireOwner(e.access, caller); err != nil {
		return err
	}
	if value == 0 {
		return types.InvalidArgument("value must be greater than 0")
	}
	e.engine.maxConfigsPerCall = value
	return nil
}

func (e *Exchange) MaxDCAProcessSegmentPerCall() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.engine.maxConfigsPerCall
}

// ExecuteDCA runs one capped batch of the segment containing the current
// oracle price. Pass the cursor of the previous result to continue a batch
// that reported remaining jobs.
func (e *Exchange) ExecuteDCA(ctx context.Context, pairID common.Hash, cursor *types.Cursor) (*types.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pair, err := e.enabledPair(pairID)
	if err != nil {
		return nil, err
	}
	if cursor != nil && cursor.PairID != pairID {
		return nil, types.InvalidArgument("cursor belongs to another pair")
	}
	oracle, err := e.resolver.Oracle(pair.PriceOracle)
	if err != nil {
		return nil, fmt.Errorf("resolve price oracle failed: %w", err)
	}
	price, err := oracle.LatestPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("price oracle read failed: %w", err)
	}
	now := e.clock.Now().UTC()
	result := &types.ExecutionResult{
		PairID:     pairID,
		Price:      price.Clone(),
		AmountIn:   new(uint256.Int),
		AmountOut:  new(uint256.Int),
		AmountOTC:  new(uint256.Int),
		AmountSwap: new(uint256.Int),
		Timestamp:  now,
	}
	if price.IsZero() {
		e.publish(pairResultEvent(result))
		return result, nil
	}

	segment := SegmentOf(price, pair.SegmentSize)
	batch, next := e.selectBatch(pair, price, segment, cursor, now)
	plan := planSettlement(pair, price, batch, e.opts.SlippageBps)
	if len(plan.items) == 0 {
		e.publish(pairResultEvent(result))
		return result, nil
	}

	amountOut, err := e.swap(ctx, pair, plan, now)
	if err != nil {
		return nil, err
	}
	distributeSwap(plan, amountOut)

	for _, it := range plan.items {
		in := it.cfg.InputToken()
		if err := e.ledger.debit(pairID, it.cfg.Creator, in, it.amountIn); err != nil {
			// selectBatch reserved the balance under the same lock
			return nil, fmt.Errorf("debit %s: %w", it.cfg.ID.Hex(), err)
		}
		e.ledger.credit(pairID, it.cfg.Creator, 1-in, it.amountOut())
		it.cfg.LastExecutionTime = now
		it.cfg.ExecutionCount++
	}

	result.AmountOTC = plan.amountOTC
	result.SwapAforB = plan.swapAforB
	result.AmountIn = plan.swapIn
	result.AmountOut = amountOut
	result.AmountSwap = toQuote(pair, price, plan.swapIn, plan.swapAforB)
	result.Processed = len(plan.items)
	if next == nil && len(plan.deferred) > 0 {
		first := plan.deferred[0]
		next = &types.Cursor{PairID: pairID, Segment: segment.Clone(), Bucket: first.bucket, Offset: first.offset}
	}
	if next != nil {
		result.HasRemainingJobs = true
		result.Cursor = next
	}

	events := make([]types.Event, 0, len(plan.items)+1)
	for _, it := range plan.items {
		user := types.UserDCAExecutionResult{
			PairID:     pairID,
			User:       it.cfg.Creator,
			ConfigID:   it.cfg.ID,
			AmountIn:   it.amountIn.Clone(),
			AmountOut:  it.amountOut(),
			AmountOTC:  it.otcIn.Clone(),
			AmountSwap: it.swapIn.Clone(),
			Timestamp:  now,
		}
		result.Users = append(result.Users, user)
		events = append(events, &user)
	}
	events = append(events, pairResultEvent(result))

	e.logger.WithFields(logrus.Fields{
		"pair_id":     pairID.Hex(),
		"price":       price.Dec(),
		"processed":   result.Processed,
		"amount_otc":  result.AmountOTC.Dec(),
		"amount_swap": result.AmountSwap.Dec(),
		"remaining":   result.HasRemainingJobs,
		"deferred":    len(plan.deferred),
	}).Info("dca execution")
	e.publish(events...)
	return result, nil
}

func pairResultEvent(r *types.ExecutionResult) *types.PairDCAExecutionResult {
	return &types.PairDCAExecutionResult{
		PairID:           r.PairID,
		Price:            r.Price.Clone(),
		AmountIn:         r.AmountIn.Clone(),
		AmountOut:        r.AmountOut.Clone(),
		AmountOTC:        r.AmountOTC.Clone(),
		AmountSwap:       r.AmountSwap.Clone(),
		SwapAforB:        r.SwapAforB,
		Processed:        r.Processed,
		Timestamp:        r.Timestamp,
		HasRemainingJobs: r.HasRemainingJobs,
	}
}

type reservation struct {
	a, b uint256.Int
}

// selectBatch walks the buckets of segment starting at the cursor, wrapping
// around to the entries before it, and picks eligible configs up to the
// per-call cap. The returned cursor points at the first eligible config that
// did not fit.
func (e *Exchange) selectBatch(pair *types.TokenPair, price, segment *uint256.Int, cursor *types.Cursor, now time.Time) ([]*batchItem, *types.Cursor) {
	startBucket, startOffset := 0, 0
	if cursor != nil && cursor.Segment != nil && cursor.Segment.Eq(segment) && cursor.Bucket.Valid() && cursor.Offset >= 0 {
		startBucket, startOffset = int(cursor.Bucket), cursor.Offset
	}

	limit := int(e.engine.maxConfigsPerCall)
	reserved := make(map[common.Address]*reservation)
	batch := make([]*batchItem, 0)

	// visit returns a cursor when the cap is reached with work left.
	visit := func(bucket types.DelayBucket, from, to int) *types.Cursor {
		ids := e.index.entries(pair.ID, segment, bucket)
		if to > len(ids) {
			to = len(ids)
		}
		for i := from; i < to; i++ {
			cfg := e.store.configs[ids[i]]
			amount, ok := e.eligible(pair, cfg, price, now, reserved)
			if !ok {
				continue
			}
			if len(batch) == limit {
				return &types.Cursor{PairID: pair.ID, Segment: segment.Clone(), Bucket: bucket, Offset: i}
			}
			r := reserved[cfg.Creator]
			if r == nil {
				r = &reservation{}
				reserved[cfg.Creator] = r
			}
			if cfg.IsSwapAforB {
				r.a.Add(&r.a, amount)
			} else {
				r.b.Add(&r.b, amount)
			}
			batch = append(batch, &batchItem{cfg: cfg, bucket: bucket, offset: i, amountIn: amount})
		}
		return nil
	}

	for b := startBucket; b < len(types.DelayBuckets); b++ {
		from := 0
		if b == startBucket {
			from = startOffset
		}
		if next := visit(types.DelayBuckets[b], from, math.MaxInt); next != nil {
			return batch, next
		}
	}
	if startBucket > 0 || startOffset > 0 {
		for b := 0; b <= startBucket; b++ {
			to := math.MaxInt
			if b == startBucket {
				to = startOffset
			}
			if next := visit(types.DelayBuckets[b], 0, to); next != nil {
				return batch, next
			}
		}
	}
	return batch, nil
}

// eligible reports the scaled amount of cfg when it can execute now: the
// price is inside its band, its delay bucket elapsed and its creator holds
// the amount on top of what the batch already reserved.
func (e *Exchange) eligible(pair *types.TokenPair, cfg *types.DCAConfig, price *uint256.Int, now time.Time, reserved map[common.Address]*reservation) (*uint256.Int, bool) {
	if !cfg.Covers(price) {
		return nil, false
	}
	if !cfg.LastExecutionTime.IsZero() && now.Sub(cfg.LastExecutionTime) < cfg.DelayBucket.Interval() {
		return nil, false
	}
	amount := ScaledAmount(cfg, price)
	if amount.IsZero() {
		return nil, false
	}
	in := cfg.InputToken()
	needed := amount.Clone()
	if r := reserved[cfg.Creator]; r != nil {
		if in == types.TokenA {
			needed.Add(needed, &r.a)
		} else {
			needed.Add(needed, &r.b)
		}
	}
	if e.ledger.amount(pair.ID, cfg.Creator, in).Lt(needed) {
		return nil, false
	}
	return amount, true
}

func mulDiv(x, y, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		return new(uint256.Int)
	}
	z, _ := new(uint256.Int).MulDivOverflow(x, y, d)
	return z
}

// toQuote converts an amount of the input token of a swap in the given
// direction into token B units at price.
func toQuote(pair *types.TokenPair, price, amount *uint256.Int, aForB bool) *uint256.Int {
	if !aForB {
		return amount.Clone()
	}
	return mulDiv(amount, price, pair.PriceScale())
}

// allocate splits total across weights pro rata. Shares are rounded down
// and the units left over go to the largest remainders, earlier items first
// on ties, so the shares always add up to total.
func allocate(total *uint256.Int, weights []*uint256.Int) []*uint256.Int {
	shares := make([]*uint256.Int, len(weights))
	sum := new(big.Int)
	for _, w := range weights {
		sum.Add(sum, w.ToBig())
	}
	if sum.Sign() == 0 {
		for i := range shares {
			shares[i] = new(uint256.Int)
		}
		return shares
	}
	t := total.ToBig()
	left := new(big.Int).Set(t)
	rems := make([]*big.Int, len(weights))
	for i, w := range weights {
		q, r := new(big.Int).QuoRem(new(big.Int).Mul(t, w.ToBig()), sum, new(big.Int))
		shares[i] = uint256.MustFromBig(q)
		rems[i] = r
		left.Sub(left, q)
	}
	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return rems[order[x]].Cmp(rems[order[y]]) > 0
	})
	one := uint256.NewInt(1)
	for _, i := range order {
		if left.Sign() <= 0 {
			break
		}
		shares[i].Add(shares[i], one)
		left.Sub(left, big.NewInt(1))
	}
	return shares
}

func inputs(items []*batchItem) []*uint256.Int {
	out := make([]*uint256.Int, len(items))
	for i, it := range items {
		out[i] = it.amountIn
	}
	return out
}

// planSettlement nets the batch. The side with the larger value in token B
// is the excess side: the other side is filled entirely against it at the
// oracle price and the unmatched part of the excess side goes to the router.
// Matched amounts are split with largest remainders so nothing matched is
// lost to per-config rounding. A deficit side worth less than one unit of
// the excess token is deferred to the next call.
func planSettlement(pair *types.TokenPair, price *uint256.Int, batch []*batchItem, slippageBps uint64) *settlement {
	scale := pair.PriceScale()
	var sellA, sellB []*batchItem
	totalA, totalB := new(uint256.Int), new(uint256.Int)
	for _, it := range batch {
		if it.cfg.IsSwapAforB {
			sellA = append(sellA, it)
			totalA.Add(totalA, it.amountIn)
		} else {
			sellB = append(sellB, it)
			totalB.Add(totalB, it.amountIn)
		}
	}
	totalAinB := mulDiv(totalA, price, scale)

	var (
		excess, deficit []*batchItem
		totalDeficit    *uint256.Int
		matched         *uint256.Int
		s               = &settlement{}
	)
	if !totalAinB.Lt(totalB) {
		excess, deficit = sellA, sellB
		totalDeficit = totalB
		matched = mulDiv(totalB, scale, price)
		if matched.Gt(totalA) {
			matched = totalA.Clone()
		}
		s.swapAforB = true
	} else {
		excess, deficit = sellB, sellA
		totalDeficit = totalA
		matched = totalAinB
		s.swapAforB = false
	}
	if matched.IsZero() && len(deficit) > 0 {
		s.deferred = deficit
		deficit = nil
		totalDeficit = new(uint256.Int)
	}
	// amountOTC is the token B that changed hands between the two sides.
	s.amountOTC = new(uint256.Int)
	if len(deficit) > 0 {
		if s.swapAforB {
			s.amountOTC = totalDeficit.Clone()
		} else {
			s.amountOTC = matched.Clone()
		}
	}

	otcIn := allocate(matched, inputs(excess))
	for i, it := range excess {
		it.otcIn = otcIn[i]
		it.swapIn = new(uint256.Int).Sub(it.amountIn, it.otcIn)
	}
	deficitOut := allocate(matched, inputs(deficit))
	for i, it := range deficit {
		it.otcIn = it.amountIn.Clone()
		it.swapIn = new(uint256.Int)
		it.otcOut = deficitOut[i]
		it.swapOut = new(uint256.Int)
	}
	excessWeights := make([]*uint256.Int, len(excess))
	for i, it := range excess {
		excessWeights[i] = it.otcIn
	}
	excessOut := allocate(totalDeficit, excessWeights)
	s.swapIn = new(uint256.Int)
	for i, it := range excess {
		it.otcOut = excessOut[i]
		it.swapOut = new(uint256.Int)
		s.swapIn.Add(s.swapIn, it.swapIn)
		if !it.swapIn.IsZero() {
			s.swapItems = append(s.swapItems, it)
		}
	}
	s.items = append(append(s.items, excess...), deficit...)

	if s.swapAforB {
		s.expectedOut = mulDiv(s.swapIn, price, scale)
	} else {
		s.expectedOut = mulDiv(s.swapIn, scale, price)
	}
	bps := uint256.NewInt(10_000)
	s.expectedOut = mulDiv(s.expectedOut, new(uint256.Int).Sub(bps, uint256.NewInt(slippageBps)), bps)
	return s
}

// swap routes the unmatched part of the batch through the pair router. The
// input is drawn from idle custody first, then the lending pool, and the
// output is supplied back to the lending pool when the token is listed.
func (e *Exchange) swap(ctx context.Context, pair *types.TokenPair, plan *settlement, now time.Time) (*uint256.Int, error) {
	if plan.swapIn.IsZero() {
		return new(uint256.Int), nil
	}
	in, out := types.TokenB, types.TokenA
	if plan.swapAforB {
		in, out = types.TokenA, types.TokenB
	}
	router, err := e.resolver.SwapRouter(pair.SwapRouter)
	if err != nil {
		return nil, fmt.Errorf("resolve swap router failed: %w", err)
	}
	if err := e.ensureIdle(ctx, pair, in, plan.swapIn); err != nil {
		return nil, err
	}
	amountOut, err := router.ExactInputSingle(ctx, ExactInputSingleParams{
		TokenIn:           pair.Token(in),
		TokenOut:          pair.Token(out),
		Fee:               pair.PoolFee,
		Recipient:         e.opts.Address,
		Deadline:          uint64(now.Add(e.opts.SwapDeadline).Unix()),
		AmountIn:          plan.swapIn.Clone(),
		AmountOutMinimum:  plan.expectedOut.Clone(),
		SqrtPriceLimitX96: new(uint256.Int),
	})
	if err != nil {
		return nil, fmt.Errorf("swap failed: %w", err)
	}
	rin := e.ledger.reserve(pair.ID, pair.Token(in))
	rin.Idle.Sub(rin.Idle, plan.swapIn)
	rout := e.ledger.reserve(pair.ID, pair.Token(out))
	rout.Idle.Add(rout.Idle, amountOut)

	if _, err := e.supplyIdle(ctx, pair, out, amountOut); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"pair_id": pair.ID.Hex(),
			"token":   pair.Token(out).Hex(),
			"amount":  amountOut.Dec(),
		}).Warn("swap output kept idle, lending pool supply failed")
	}
	return amountOut, nil
}

func distributeSwap(plan *settlement, amountOut *uint256.Int) {
	weights := make([]*uint256.Int, len(plan.swapItems))
	for i, it := range plan.swapItems {
		weights[i] = it.swapIn
	}
	for i, share := range allocate(amountOut, weights) {
		plan.swapItems[i].swapOut = share
	}
}

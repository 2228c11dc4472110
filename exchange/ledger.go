package exchange

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	dcacommon "github.com/vultisig/dca-exchange/common"
	"github.com/vultisig/dca-exchange/internal/types"
)

type balanceKey struct {
	pair common.Hash
	user common.Address
}

type reserveKey struct {
	pair  common.Hash
	token common.Address
}

// BalanceLedger holds user balances per pair and what the exchange custodies
// for each of them.
type BalanceLedger struct {
	balances map[balanceKey]*types.UserBalance
	reserves map[reserveKey]*types.Reserve
}

func newBalanceLedger() *BalanceLedger {
	return &BalanceLedger{
		balances: make(map[balanceKey]*types.UserBalance),
		reserves: make(map[reserveKey]*types.Reserve),
	}
}

func (l *BalanceLedger) amount(pair common.Hash, user common.Address, t types.Token) *uint256.Int {
	b, ok := l.balances[balanceKey{pair: pair, user: user}]
	if !ok {
		return new(uint256.Int)
	}
	return b.Amount(t)
}

func (l *BalanceLedger) entry(pair common.Hash, user common.Address) *types.UserBalance {
	key := balanceKey{pair: pair, user: user}
	b, ok := l.balances[key]
	if !ok {
		b = &types.UserBalance{
			PairID:       pair,
			User:         user,
			AmountTokenA: new(uint256.Int),
			AmountTokenB: new(uint256.Int),
		}
		l.balances[key] = b
	}
	return b
}

func (l *BalanceLedger) credit(pair common.Hash, user common.Address, t types.Token, amount *uint256.Int) {
	bal := l.entry(pair, user).Amount(t)
	bal.Add(bal, amount)
}

func (l *BalanceLedger) debit(pair common.Hash, user common.Address, t types.Token, amount *uint256.Int) error {
	bal := l.entry(pair, user).Amount(t)
	if bal.Lt(amount) {
		return types.NewError(types.ErrInsufficientBalance, "insufficient balance")
	}
	bal.Sub(bal, amount)
	return nil
}

func (l *BalanceLedger) reserve(pair common.Hash, token common.Address) *types.Reserve {
	key := reserveKey{pair: pair, token: token}
	r, ok := l.reserves[key]
	if !ok {
		r = &types.Reserve{
			PairID:   pair,
			Token:    token,
			Idle:     new(uint256.Int),
			Supplied: new(uint256.Int),
		}
		l.reserves[key] = r
	}
	return r
}

// supplyIdle moves amount of idle reserve into the lending pool when the
// token is listed there. It reports whether the funds were supplied.
func (e *Exchange) supplyIdle(ctx context.Context, pair *types.TokenPair, t types.Token, amount *uint256.Int) (bool, error) {
	if dcacommon.IsZeroAddress(pair.AToken(t)) || amount.IsZero() {
		return false, nil
	}
	pool, err := e.resolver.LendingPool(pair.LendingPoolProvider)
	if err != nil {
		return false, fmt.Errorf("resolve lending pool failed: %w", err)
	}
	token := pair.Token(t)
	if err := pool.Supply(ctx, token, amount, e.opts.Address); err != nil {
		return false, err
	}
	r := e.ledger.reserve(pair.ID, token)
	r.Idle.Sub(r.Idle, amount)
	r.Supplied.Add(r.Supplied, amount)
	if r.Drained {
		r.Drained = false
		if t == types.TokenA {
			pair.IndexBalanceTokenA++
		} else {
			pair.IndexBalanceTokenB++
		}
	}
	return true, nil
}

// ensureIdle makes sure at least amount of the token sits on the custody
// address, withdrawing the shortfall from the lending pool.
func (e *Exchange) ensureIdle(ctx context.Context, pair *types.TokenPair, t types.Token, amount *uint256.Int) error {
	token := pair.Token(t)
	r := e.ledger.reserve(pair.ID, token)
	if !r.Idle.Lt(amount) {
		return nil
	}
	shortfall := new(uint256.Int).Sub(amount, r.Idle)
	if r.Supplied.Lt(shortfall) {
		return fmt.Errorf("reserve of %s holds %s, %s needed", token.Hex(), r.Total().Dec(), amount.Dec())
	}
	pool, err := e.resolver.LendingPool(pair.LendingPoolProvider)
	if err != nil {
		return fmt.Errorf("resolve lending pool failed: %w", err)
	}
	if _, err := pool.Withdraw(ctx, token, shortfall, e.opts.Address); err != nil {
		return fmt.Errorf("lending pool withdraw failed: %w", err)
	}
	r.Supplied.Sub(r.Supplied, shortfall)
	r.Idle.Add(r.Idle, shortfall)
	if r.Supplied.IsZero() {
		r.Drained = true
	}
	return nil
}

func (e *Exchange) DepositTokenA(ctx context.Context, caller common.Address, pairID common.Hash, amount *uint256.Int) error {
	return e.deposit(ctx, caller, pairID, types.TokenA, amount)
}

func (e *Exchange) DepositTokenB(ctx context.Context, caller common.Address, pairID common.Hash, amount *uint256.Int) error {
	return e.deposit(ctx, caller, pairID, types.TokenB, amount)
}

func (e *Exchange) deposit(ctx context.Context, caller common.Address, pairID common.Hash, t types.Token, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pair, err := e.registry.get(pairID)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return types.InvalidArgument("amount must be greater than 0")
	}
	if !pair.Enabled {
		return types.InvalidArgument("token pair is disabled")
	}
	amount = amount.Clone()
	token := pair.Token(t)

	if err := e.custody.TransferIn(ctx, token, caller, amount); err != nil {
		return fmt.Errorf("transfer in failed: %w", err)
	}
	r := e.ledger.reserve(pairID, token)
	r.Idle.Add(r.Idle, amount)
	if _, err := e.supplyIdle(ctx, pair, t, amount); err != nil {
		r.Idle.Sub(r.Idle, amount)
		if rerr := e.custody.TransferOut(ctx, token, caller, amount); rerr != nil {
			e.logger.WithError(rerr).WithFields(logrus.Fields{
				"pair_id": pairID.Hex(),
				"user":    caller.Hex(),
				"amount":  amount.Dec(),
			}).Error("failed to refund deposit after lending pool supply failure")
		}
		return fmt.Errorf("lending pool supply failed: %w", err)
	}
	e.ledger.credit(pairID, caller, t, amount)

	e.logger.WithFields(logrus.Fields{
		"pair_id": pairID.Hex(),
		"user":    caller.Hex(),
		"token":   t.String(),
		"amount":  amount.Dec(),
	}).Debug("deposit")
	e.publish(&types.TokenDeposit{
		User:      caller,
		PairID:    pairID,
		Token:     token,
		Amount:    amount.Clone(),
		Timestamp: e.clock.Now().UTC(),
	})
	return nil
}

func (e *Exchange) WithdrawTokenA(ctx context.Context, caller common.Address, pairID common.Hash, amount *uint256.Int) error {
	return e.withdraw(ctx, caller, pairID, types.TokenA, amount)
}

func (e *Exchange) WithdrawTokenB(ctx context.Context, caller common.Address, pairID common.Hash, amount *uint256.Int) error {
	return e.withdraw(ctx, caller, pairID, types.TokenB, amount)
}

func (e *Exchange) withdraw(ctx context.Context, caller common.Address, pairID common.Hash, t types.Token, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pair, err := e.registry.get(pairID)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return types.InvalidArgument("amount must be greater than 0")
	}
	if e.ledger.amount(pairID, caller, t).Lt(amount) {
		return types.NewError(types.ErrInsufficientBalance, "insufficient balance")
	}
	amount = amount.Clone()
	token := pair.Token(t)

	// A failure after ensureIdle leaves the funds idle in custody, which only
	// changes the reserve split, not any user balance.
	if err := e.ensureIdle(ctx, pair, t, amount); err != nil {
		return err
	}
	if err := e.custody.TransferOut(ctx, token, caller, amount); err != nil {
		return fmt.Errorf("transfer out failed: %w", err)
	}
	r := e.ledger.reserve(pairID, token)
	r.Idle.Sub(r.Idle, amount)
	if err := e.ledger.debit(pairID, caller, t, amount); err != nil {
		return err
	}

	e.logger.WithFields(logrus.Fields{
		"pair_id": pairID.Hex(),
		"user":    caller.Hex(),
		"token":   t.String(),
		"amount":  amount.Dec(),
	}).Debug("withdrawal")
	e.publish(&types.TokenWithdrawal{
		User:      caller,
		PairID:    pairID,
		Token:     token,
		Amount:    amount.Clone(),
		Timestamp: e.clock.Now().UTC(),
	})
	return nil
}

// GetTokenBalances returns the balances of user on the pair.
func (e *Exchange) GetTokenBalances(pairID common.Hash, user common.Address) (*uint256.Int, *uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.registry.get(pairID); err != nil {
		return nil, nil, err
	}
	return e.ledger.amount(pairID, user, types.TokenA).Clone(), e.ledger.amount(pairID, user, types.TokenB).Clone(), nil
}

// GetReserves returns the custody split of token A and token B of the pair.
func (e *Exchange) GetReserves(pairID common.Hash) (*types.Reserve, *types.Reserve, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pair, err := e.registry.get(pairID)
	if err != nil {
		return nil, nil, err
	}
	return e.ledger.reserve(pairID, pair.TokenA).Clone(), e.ledger.reserve(pairID, pair.TokenB).Clone(), nil
}

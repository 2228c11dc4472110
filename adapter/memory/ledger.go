// Package memory holds in-process implementations of the exchange
// collaborators: an ERC-20 style token ledger, a settable price oracle, a
// lending pool and a swap router. They back local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vultisig/dca-exchange/exchange"
	"github.com/vultisig/dca-exchange/internal/types"
)

type holding struct {
	token common.Address
	owner common.Address
}

// Ledger keeps token balances of every account. It implements
// exchange.Custody for the account given to NewLedger.
type Ledger struct {
	mu       sync.Mutex
	custody  common.Address
	balances map[holding]*uint256.Int
}

var _ exchange.Custody = (*Ledger)(nil)

func NewLedger(custody common.Address) *Ledger {
	return &Ledger{
		custody:  custody,
		balances: make(map[holding]*uint256.Int),
	}
}

func (l *Ledger) Custody() common.Address {
	return l.custody
}

// Mint credits amount of token to owner out of thin air.
func (l *Ledger) Mint(token, owner common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balance(token, owner)
	bal.Add(bal, amount)
}

func (l *Ledger) Balance(token, owner common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(token, owner).Clone()
}

func (l *Ledger) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(token, from, to, amount)
}

func (l *Ledger) TransferIn(ctx context.Context, token, from common.Address, amount *uint256.Int) error {
	return l.Transfer(token, from, l.custody, amount)
}

func (l *Ledger) TransferOut(ctx context.Context, token, to common.Address, amount *uint256.Int) error {
	return l.Transfer(token, l.custody, to, amount)
}

func (l *Ledger) BalanceOf(ctx context.Context, token, owner common.Address) (*uint256.Int, error) {
	return l.Balance(token, owner), nil
}

func (l *Ledger) balance(token, owner common.Address) *uint256.Int {
	key := holding{token: token, owner: owner}
	bal, ok := l.balances[key]
	if !ok {
		bal = new(uint256.Int)
		l.balances[key] = bal
	}
	return bal
}

func (l *Ledger) transfer(token, from, to common.Address, amount *uint256.Int) error {
	src := l.balance(token, from)
	if src.Lt(amount) {
		return fmt.Errorf("transfer of %s %s from %s: %w", amount.Dec(), token.Hex(), from.Hex(), types.ErrInsufficientBalance)
	}
	src.Sub(src, amount)
	dst := l.balance(token, to)
	dst.Add(dst, amount)
	return nil
}

func (l *Ledger) burn(token, owner common.Address, amount *uint256.Int) error {
	bal := l.balance(token, owner)
	if bal.Lt(amount) {
		return fmt.Errorf("burn of %s %s from %s: %w", amount.Dec(), token.Hex(), owner.Hex(), types.ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	return nil
}

// Oracle returns whatever price was last set. A zero price means unset.
type Oracle struct {
	mu    sync.RWMutex
	price *uint256.Int
	err   error
}

var _ exchange.PriceOracle = (*Oracle)(nil)

func NewOracle() *Oracle {
	return &Oracle{price: new(uint256.Int)}
}

func (o *Oracle) SetPrice(price *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = price.Clone()
}

// SetError makes every following read fail with err. Pass nil to clear.
func (o *Oracle) SetError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *Oracle) LatestPrice(ctx context.Context) (*uint256.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.err != nil {
		return nil, o.err
	}
	return o.price.Clone(), nil
}

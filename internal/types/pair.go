package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const DefaultPoolFee uint32 = 3000

// Token selects one side of a pair.
type Token int

const (
	TokenA Token = iota
	TokenB
)

func (t Token) String() string {
	if t == TokenA {
		return "A"
	}
	return "B"
}

type TokenPairParams struct {
	TokenA              common.Address
	TokenB              common.Address
	SegmentSize         *uint256.Int
	DecimalNumber       uint8
	PriceOracle         common.Address
	LendingPoolProvider common.Address
	SwapRouter          common.Address
	PoolFee             uint32
}

type TokenPair struct {
	ID                  common.Hash    `json:"id"`
	TokenA              common.Address `json:"token_a"`
	TokenB              common.Address `json:"token_b"`
	SegmentSize         *uint256.Int   `json:"segment_size"`
	DecimalNumber       uint8          `json:"decimal_number"`
	PriceOracle         common.Address `json:"price_oracle"`
	LendingPoolProvider common.Address `json:"lending_pool_provider"`
	SwapRouter          common.Address `json:"swap_router"`
	PoolFee             uint32         `json:"pool_fee"`
	Enabled             bool           `json:"enabled"`
	IndexBalanceTokenA  uint64         `json:"index_balance_token_a"`
	IndexBalanceTokenB  uint64         `json:"index_balance_token_b"`
	ATokenA             common.Address `json:"a_token_a"`
	ATokenB             common.Address `json:"a_token_b"`
	CreatedAt           time.Time      `json:"created_at"`
}

func (p *TokenPair) Token(t Token) common.Address {
	if t == TokenA {
		return p.TokenA
	}
	return p.TokenB
}

func (p *TokenPair) AToken(t Token) common.Address {
	if t == TokenA {
		return p.ATokenA
	}
	return p.ATokenB
}

// MaxDecimalNumber bounds DecimalNumber so PriceScale and every price
// product stay inside 256 bits.
const MaxDecimalNumber = 36

// PriceScale is 10^DecimalNumber, the fixed-point unit of oracle prices.
func (p *TokenPair) PriceScale() *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(p.DecimalNumber)))
}

func (p *TokenPair) Clone() *TokenPair {
	c := *p
	c.SegmentSize = cloneInt(p.SegmentSize)
	return &c
}

type UserBalance struct {
	PairID       common.Hash    `json:"pair_id"`
	User         common.Address `json:"user"`
	AmountTokenA *uint256.Int   `json:"amount_token_a"`
	AmountTokenB *uint256.Int   `json:"amount_token_b"`
}

func (b *UserBalance) Amount(t Token) *uint256.Int {
	if t == TokenA {
		return b.AmountTokenA
	}
	return b.AmountTokenB
}

func (b *UserBalance) Clone() *UserBalance {
	c := *b
	c.AmountTokenA = cloneInt(b.AmountTokenA)
	c.AmountTokenB = cloneInt(b.AmountTokenB)
	return &c
}

// Reserve is what the exchange holds for one token of one pair: Idle sits on
// the custody address, Supplied sits in the lending pool. Drained is set once
// a lending position was fully withdrawn and cleared when it is re-opened.
type Reserve struct {
	PairID   common.Hash    `json:"pair_id"`
	Token    common.Address `json:"token"`
	Idle     *uint256.Int   `json:"idle"`
	Supplied *uint256.Int   `json:"supplied"`
	Drained  bool           `json:"drained"`
}

func (r *Reserve) Total() *uint256.Int {
	return new(uint256.Int).Add(r.Idle, r.Supplied)
}

func (r *Reserve) Clone() *Reserve {
	c := *r
	c.Idle = cloneInt(r.Idle)
	c.Supplied = cloneInt(r.Supplied)
	return &c
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}

package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	EventTokenPairAdded         = "TokenPairAdded"
	EventTokenPairStatusChanged = "TokenPairStatusChanged"
	EventTokenDeposit           = "TokenDeposit"
	EventTokenWithdrawal        = "TokenWithdrawal"
	EventDCAConfigCreation      = "DCAConfigCreation"
	EventDCAConfigDeletion      = "DCAConfigDeletion"
	EventPairDCAExecution       = "PairDCAExecutionResult"
	EventUserDCAExecution       = "UserDCAExecutionResult"
)

// Event is an immutable fact emitted by the exchange after a successful call.
type Event interface {
	EventName() string
}

type TokenPairAdded struct {
	Pair *TokenPair `json:"pair"`
}

type TokenPairStatusChanged struct {
	PairID    common.Hash `json:"pair_id"`
	Enabled   bool        `json:"enabled"`
	Timestamp time.Time   `json:"timestamp"`
}

type TokenDeposit struct {
	User      common.Address `json:"user"`
	PairID    common.Hash    `json:"pair_id"`
	Token     common.Address `json:"token"`
	Amount    *uint256.Int   `json:"amount"`
	Timestamp time.Time      `json:"timestamp"`
}

type TokenWithdrawal struct {
	User      common.Address `json:"user"`
	PairID    common.Hash    `json:"pair_id"`
	Token     common.Address `json:"token"`
	Amount    *uint256.Int   `json:"amount"`
	Timestamp time.Time      `json:"timestamp"`
}

type DCAConfigCreation struct {
	Creator  common.Address `json:"creator"`
	PairID   common.Hash    `json:"pair_id"`
	ConfigID common.Hash    `json:"config_id"`
	Config   *DCAConfig     `json:"config"`
}

type DCAConfigDeletion struct {
	Caller     common.Address `json:"caller"`
	PairID     common.Hash    `json:"pair_id"`
	ConfigID   common.Hash    `json:"config_id"`
	WasCreator bool           `json:"was_creator"`
}

type PairDCAExecutionResult struct {
	PairID           common.Hash  `json:"pair_id"`
	Price            *uint256.Int `json:"price"`
	AmountIn         *uint256.Int `json:"amount_in"`
	AmountOut        *uint256.Int `json:"amount_out"`
	AmountOTC        *uint256.Int `json:"amount_otc"`
	AmountSwap       *uint256.Int `json:"amount_swap"`
	SwapAforB        bool         `json:"swap_a_for_b"`
	Processed        int          `json:"processed"`
	Timestamp        time.Time    `json:"timestamp"`
	HasRemainingJobs bool         `json:"has_remaining_jobs"`
}

type UserDCAExecutionResult struct {
	PairID     common.Hash    `json:"pair_id"`
	User       common.Address `json:"user"`
	ConfigID   common.Hash    `json:"config_id"`
	AmountIn   *uint256.Int   `json:"amount_in"`
	AmountOut  *uint256.Int   `json:"amount_out"`
	AmountOTC  *uint256.Int   `json:"amount_otc"`
	AmountSwap *uint256.Int   `json:"amount_swap"`
	Timestamp  time.Time      `json:"timestamp"`
}

func (TokenPairAdded) EventName() string         { return EventTokenPairAdded }
func (TokenPairStatusChanged) EventName() string { return EventTokenPairStatusChanged }
func (TokenDeposit) EventName() string           { return EventTokenDeposit }
func (TokenWithdrawal) EventName() string        { return EventTokenWithdrawal }
func (DCAConfigCreation) EventName() string      { return EventDCAConfigCreation }
func (DCAConfigDeletion) EventName() string      { return EventDCAConfigDeletion }
func (PairDCAExecutionResult) EventName() string { return EventPairDCAExecution }
func (UserDCAExecutionResult) EventName() string { return EventUserDCAExecution }

// DecodeEvent rebuilds an event from its persisted name and JSON payload.
func DecodeEvent(name string, payload []byte) (Event, error) {
	var ev Event
	switch name {
	case EventTokenPairAdded:
		ev = &TokenPairAdded{}
	case EventTokenPairStatusChanged:
		ev = &TokenPairStatusChanged{}
	case EventTokenDeposit:
		ev = &TokenDeposit{}
	case EventTokenWithdrawal:
		ev = &TokenWithdrawal{}
	case EventDCAConfigCreation:
		ev = &DCAConfigCreation{}
	case EventDCAConfigDeletion:
		ev = &DCAConfigDeletion{}
	case EventPairDCAExecution:
		ev = &PairDCAExecutionResult{}
	case EventUserDCAExecution:
		ev = &UserDCAExecutionResult{}
	default:
		return nil, fmt.Errorf("unknown event: %s", name)
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return ev, nil
}

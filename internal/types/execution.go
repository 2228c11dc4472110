package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ExecutionResult summarises one ExecuteDCA call. Cursor is set only when
// HasRemainingJobs is true.
type ExecutionResult struct {
	PairID           common.Hash              `json:"pair_id"`
	Price            *uint256.Int             `json:"price"`
	AmountIn         *uint256.Int             `json:"amount_in"`
	AmountOut        *uint256.Int             `json:"amount_out"`
	AmountOTC        *uint256.Int             `json:"amount_otc"`
	AmountSwap       *uint256.Int             `json:"amount_swap"`
	SwapAforB        bool                     `json:"swap_a_for_b"`
	Processed        int                      `json:"processed"`
	Timestamp        time.Time                `json:"timestamp"`
	HasRemainingJobs bool                     `json:"has_remaining_jobs"`
	Cursor           *Cursor                  `json:"cursor,omitempty"`
	Users            []UserDCAExecutionResult `json:"users,omitempty"`
}

// State is a detached copy of everything the exchange owns. The segment index
// is not part of it; it is rebuilt from Configs in Seq order.
type State struct {
	Pairs             []*TokenPair   `json:"pairs"`
	Balances          []*UserBalance `json:"balances"`
	Reserves          []*Reserve     `json:"reserves"`
	Configs           []*DCAConfig   `json:"configs"`
	Nonce             uint64         `json:"nonce"`
	MaxConfigsPerCall uint64         `json:"max_configs_per_call"`
}

package types

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DelayBucket is the minimum interval between two executions of a config.
type DelayBucket uint8

const (
	DelayHourly DelayBucket = iota
	DelayDaily
	DelayWeekly
)

var DelayBuckets = []DelayBucket{DelayHourly, DelayDaily, DelayWeekly}

func (b DelayBucket) Valid() bool {
	return b <= DelayWeekly
}

func (b DelayBucket) Interval() time.Duration {
	switch b {
	case DelayHourly:
		return time.Hour
	case DelayDaily:
		return 24 * time.Hour
	case DelayWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

func (b DelayBucket) String() string {
	switch b {
	case DelayHourly:
		return "hourly"
	case DelayDaily:
		return "daily"
	case DelayWeekly:
		return "weekly"
	default:
		return fmt.Sprintf("bucket(%d)", uint8(b))
	}
}

// ParseDelayBucket accepts a bucket name ("hourly", "daily", "weekly") or
// its number.
func ParseDelayBucket(s string) (DelayBucket, error) {
	for _, b := range DelayBuckets {
		if b.String() == s {
			return b, nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil && DelayBucket(n).Valid() {
		return DelayBucket(n), nil
	}
	return 0, InvalidArgument(fmt.Sprintf("unknown delay bucket %q", s))
}

type DCAConfigParams struct {
	PairID        common.Hash
	OnBehalfOf    common.Address
	IsSwapAforB   bool
	Min           *uint256.Int
	Max           *uint256.Int
	Amount        *uint256.Int
	ScalingFactor uint64
	DelayBucket   DelayBucket
}

type DCAConfig struct {
	ID                common.Hash    `json:"id"`
	PairID            common.Hash    `json:"pair_id"`
	Creator           common.Address `json:"creator"`
	IsSwapAforB       bool           `json:"is_swap_a_for_b"`
	Min               *uint256.Int   `json:"min"`
	Max               *uint256.Int   `json:"max"`
	Amount            *uint256.Int   `json:"amount"`
	ScalingFactor     uint64         `json:"scaling_factor"`
	DelayBucket       DelayBucket    `json:"delay_bucket"`
	CreationDate      time.Time      `json:"creation_date"`
	LastExecutionTime time.Time      `json:"last_execution_time"`
	ExecutionCount    uint64         `json:"execution_count"`
	Seq               uint64         `json:"seq"`
}

// InputToken is the side the config sells.
func (c *DCAConfig) InputToken() Token {
	if c.IsSwapAforB {
		return TokenA
	}
	return TokenB
}

// Covers reports whether price lies in [Min, Max).
func (c *DCAConfig) Covers(price *uint256.Int) bool {
	return !price.Lt(c.Min) && price.Lt(c.Max)
}

func (c *DCAConfig) Clone() *DCAConfig {
	cp := *c
	cp.Min = cloneInt(c.Min)
	cp.Max = cloneInt(c.Max)
	cp.Amount = cloneInt(c.Amount)
	return &cp
}

// SegmentEntry is one config of a segment bucket with its amount computed at
// the queried price.
type SegmentEntry struct {
	ConfigID    common.Hash    `json:"config_id"`
	Owner       common.Address `json:"owner"`
	IsSwapAforB bool           `json:"is_swap_a_for_b"`
	Amount      *uint256.Int   `json:"amount"`
	Position    int            `json:"position"`
}

// Cursor marks where a capped execution stopped. It is only a hint: every
// config is re-checked for eligibility when the scan resumes.
type Cursor struct {
	PairID  common.Hash  `json:"pair_id"`
	Segment *uint256.Int `json:"segment"`
	Bucket  DelayBucket  `json:"bucket"`
	Offset  int          `json:"offset"`
}

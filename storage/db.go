package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/vultisig/dca-exchange/events"
	"github.com/vultisig/dca-exchange/internal/types"
)

// ErrVersionConflict means another writer saved the exchange state first.
var ErrVersionConflict = errors.New("exchange state version conflict")

type DatabaseStorage interface {
	Close() error

	// WithTx runs fn inside one transaction, committing when it returns nil.
	WithTx(ctx context.Context, fn func(ctx context.Context, dbTx pgx.Tx) error) error

	// LoadState returns the latest saved state and its version. The state is
	// nil when nothing was saved yet.
	LoadState(ctx context.Context) (*types.State, uint64, error)
	// SaveStateTx stores state as version, which must be one above the saved
	// version, or fails with ErrVersionConflict.
	SaveStateTx(ctx context.Context, dbTx pgx.Tx, state *types.State, version uint64) error

	InsertEventsTx(ctx context.Context, dbTx pgx.Tx, records []events.Record) error
	LoadEvents(ctx context.Context, afterSeq uint64) ([]events.Record, error)
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vultisig/dca-exchange/events"
	"github.com/vultisig/dca-exchange/internal/types"
	"github.com/vultisig/dca-exchange/storage"
)

func (p *PostgresBackend) InsertEventsTx(ctx context.Context, dbTx pgx.Tx, records []events.Record) error {
	if len(records) == 0 {
		return nil
	}
	query := `
	INSERT INTO exchange_events (seq, id, name, payload, created_at)
	VALUES ($1, $2, $3, $4, $5)`

	batch := &pgx.Batch{}
	for _, rec := range records {
		payload, err := rec.Payload()
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", rec.Name, err)
		}
		batch.Queue(query, int64(rec.Seq), rec.ID, rec.Name, payload, rec.Time)
	}
	if err := dbTx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return nil
}

func (p *PostgresBackend) LoadEvents(ctx context.Context, afterSeq uint64) ([]events.Record, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("database pool is nil")
	}

	query := `
	SELECT seq, id, name, payload, created_at
	FROM exchange_events
	WHERE seq > $1
	ORDER BY seq ASC`

	rows, err := p.pool.Query(ctx, query, int64(afterSeq))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []events.Record
	for rows.Next() {
		var (
			rec     events.Record
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &rec.ID, &rec.Name, &payload, &rec.Time); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Seq = uint64(seq)
		rec.Event, err = types.DecodeEvent(rec.Name, payload)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return records, nil
}

func (p *PostgresBackend) LoadState(ctx context.Context) (*types.State, uint64, error) {
	if p.pool == nil {
		return nil, 0, fmt.Errorf("database pool is nil")
	}

	var (
		version int64
		raw     []byte
	)
	err := p.pool.QueryRow(ctx, `SELECT version, state FROM exchange_state WHERE id = 1`).Scan(&version, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get exchange state: %w", err)
	}
	if raw == nil {
		return nil, uint64(version), nil
	}
	var state types.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal exchange state: %w", err)
	}
	return &state, uint64(version), nil
}

func (p *PostgresBackend) SaveStateTx(ctx context.Context, dbTx pgx.Tx, state *types.State, version uint64) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal exchange state: %w", err)
	}

	query := `
	UPDATE exchange_state
	SET version = $1,
	    state = $2,
	    updated_at = NOW()
	WHERE id = 1 AND version = $3`

	tag, err := dbTx.Exec(ctx, query, int64(version), raw, int64(version)-1)
	if err != nil {
		return fmt.Errorf("failed to update exchange state: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return storage.ErrVersionConflict
	}
	return nil
}

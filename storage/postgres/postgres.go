package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/dca-exchange/storage"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

var _ storage.DatabaseStorage = (*PostgresBackend)(nil)

func NewPostgresBackend(ctx context.Context, readonly bool, dsn string) (*PostgresBackend, error) {
	logger := logrus.WithField("service", "postgres").Logger

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	backend := &PostgresBackend{
		pool:   pool,
		logger: logger,
	}
	if !readonly {
		if err := backend.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return backend, nil
}

// Migrate applies the embedded goose migrations.
func (p *PostgresBackend) Migrate(ctx context.Context) error {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return fmt.Errorf("goose.NewProvider failed: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	for _, res := range results {
		p.logger.WithFields(logrus.Fields{
			"version":  res.Source.Version,
			"duration": res.Duration,
		}).Info("migration applied")
	}
	return nil
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresBackend) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PostgresBackend) WithTx(ctx context.Context, fn func(ctx context.Context, dbTx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer p.handleRollback(ctx, tx)

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *PostgresBackend) handleRollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		p.logger.WithError(err).Error("failed to rollback transaction")
	}
}

package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agustinlozano/ur-partner-realtime/internal/room"
)

type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgres connects to postgres and returns a pool wrapper
func NewPostgres(ctx context.Context, url string, maxConns int, log *slog.Logger) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if maxConns > 0 {
		pcfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Migrate applies the embedded postgres schema
func (p *Postgres) Migrate(ctx context.Context) error {
	return RunMigrations(ctx, p, "migrations/postgres", p.log)
}

func (p *Postgres) exec(ctx context.Context, sql string, args ...any) error {
	_, err := p.pool.Exec(ctx, sql, args...)
	return err
}

func (p *Postgres) queryRow(ctx context.Context, sql string, args ...any) rowScanner {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p *Postgres) GetRoom(ctx context.Context, roomID string) (*room.Record, error) {
	return getRoom(ctx, p, postgresDialect, roomID, room.AllFields())
}

func (p *Postgres) GetRoomFields(ctx context.Context, roomID string, fields ...room.Field) (*room.Record, error) {
	return getRoom(ctx, p, postgresDialect, roomID, fields)
}

// UpsertPatch writes the patch in one INSERT ... ON CONFLICT statement
func (p *Postgres) UpsertPatch(ctx context.Context, roomID string, patch room.Patch) error {
	if err := upsertPatch(ctx, p, postgresDialect, roomID, patch); err != nil {
		return err
	}
	p.log.Debug("room.patched", "room", roomID, "fields", len(patch))
	return nil
}

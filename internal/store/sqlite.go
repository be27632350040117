package store

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/agustinlozano/ur-partner-realtime/internal/room"
)

// SQLite is the single-node room store used for local runs and tests
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLite opens (creating if needed) the database file at path
func NewSQLite(ctx context.Context, path string, log *slog.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer at a time; WAL lets readers proceed alongside it
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLite{db: db, log: log}
	if err := RunMigrations(ctx, s, "migrations/sqlite", log); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite.ready", "path", path)
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) exec(ctx context.Context, q string, args ...any) error {
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *SQLite) queryRow(ctx context.Context, q string, args ...any) rowScanner {
	return s.db.QueryRowContext(ctx, q, args...)
}

func (s *SQLite) GetRoom(ctx context.Context, roomID string) (*room.Record, error) {
	return getRoom(ctx, s, sqliteDialect, roomID, room.AllFields())
}

func (s *SQLite) GetRoomFields(ctx context.Context, roomID string, fields ...room.Field) (*room.Record, error) {
	return getRoom(ctx, s, sqliteDialect, roomID, fields)
}

func (s *SQLite) UpsertPatch(ctx context.Context, roomID string, patch room.Patch) error {
	if err := upsertPatch(ctx, s, sqliteDialect, roomID, patch); err != nil {
		return err
	}
	s.log.Debug("room.patched", "room", roomID, "fields", len(patch))
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/teamsignups/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    doc        TEXT    NOT NULL,
    updated_at INTEGER NOT NULL
);
INSERT OR IGNORE INTO snapshots (id, doc, updated_at) VALUES (1, '{"events": []}', 0);
`

// SQLiteStore keeps the snapshot as one JSON row in SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore applies the schema on db and returns a store owning it.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, unavailable("apply sqlite schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ReadAll(ctx context.Context) ([]model.Event, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM snapshots WHERE id = 1`).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []model.Event{}, nil
		}
		return nil, unavailable("read snapshot", err)
	}
	return decodeSnapshot([]byte(doc))
}

func (s *SQLiteStore) WriteAll(ctx context.Context, events []model.Event) error {
	b, err := encodeSnapshot(events)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := upsertSnapshot(ctx, s.db, b); err != nil {
		return unavailable("write snapshot", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, fn UpdateFunc) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var events []model.Event
	var doc string
	switch scanErr := tx.QueryRowContext(ctx, `SELECT doc FROM snapshots WHERE id = 1`).Scan(&doc); {
	case errors.Is(scanErr, sql.ErrNoRows):
		events = []model.Event{}
	case scanErr != nil:
		return unavailable("read snapshot", scanErr)
	default:
		if events, err = decodeSnapshot([]byte(doc)); err != nil {
			return err
		}
	}

	next, err := fn(events)
	if err != nil {
		return err
	}
	b, err := encodeSnapshot(next)
	if err != nil {
		return err
	}
	if err = upsertSnapshot(ctx, tx, b); err != nil {
		return unavailable("write snapshot", err)
	}
	if err = tx.Commit(); err != nil {
		return unavailable("commit transaction", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping sqlite", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSnapshot(ctx context.Context, db execer, doc []byte) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO snapshots (id, doc, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		string(doc), time.Now().UTC().UnixMilli(),
	)
	return err
}

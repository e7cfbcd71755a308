package repository

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/teamsignups/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS signup_snapshots (
    id         SMALLINT    PRIMARY KEY CHECK (id = 1),
    doc        JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
INSERT INTO signup_snapshots (id, doc) VALUES (1, '{"events": []}') ON CONFLICT (id) DO NOTHING;
`

// PostgresStore keeps the snapshot as one JSONB row. Update locks that row
// with SELECT … FOR UPDATE, so read-modify-write cycles are serialized across
// every process sharing the database, not only within this one.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore applies the schema and returns a store using pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, unavailable("apply postgres schema", err)
	}
	return &PostgresStore{db: pool}, nil
}

func (s *PostgresStore) ReadAll(ctx context.Context) ([]model.Event, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT doc FROM signup_snapshots WHERE id = 1`).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []model.Event{}, nil
		}
		return nil, unavailable("read snapshot", err)
	}
	return decodeSnapshot(doc)
}

func (s *PostgresStore) WriteAll(ctx context.Context, events []model.Event) error {
	b, err := encodeSnapshot(events)
	if err != nil {
		return err
	}
	if err := upsertPostgres(ctx, s.db, b); err != nil {
		return unavailable("write snapshot", err)
	}
	return nil
}

// Update performs the read-modify-write inside one transaction holding an
// exclusive row lock on the snapshot. A concurrent Update blocks on the
// SELECT until this one commits or rolls back, and then sees its result.
func (s *PostgresStore) Update(ctx context.Context, fn UpdateFunc) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var events []model.Event
	var doc []byte
	switch scanErr := tx.QueryRow(ctx, `SELECT doc FROM signup_snapshots WHERE id = 1 FOR UPDATE`).Scan(&doc); {
	case errors.Is(scanErr, pgx.ErrNoRows):
		events = []model.Event{}
	case scanErr != nil:
		return unavailable("lock snapshot row", scanErr)
	default:
		if events, err = decodeSnapshot(doc); err != nil {
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
	if err = upsertPostgres(ctx, tx, b); err != nil {
		return unavailable("write snapshot", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return unavailable("commit transaction", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return unavailable("ping postgres", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertPostgres(ctx context.Context, db pgExecer, doc []byte) error {
	_, err := db.Exec(ctx,
		`INSERT INTO signup_snapshots (id, doc, updated_at) VALUES (1, $1::jsonb, now())
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		string(doc),
	)
	return err
}

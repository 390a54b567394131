package dedup

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed durable tier. Schema:
//
//	CREATE TABLE delivery_ledger (
//	    delivery_id TEXT PRIMARY KEY,
//	    reserved_at TIMESTAMPTZ NOT NULL
//	);
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an already-configured pool. The caller owns the
// pool's lifecycle (Close it on shutdown).
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (p *PGStore) InsertIfAbsent(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO delivery_ledger (delivery_id, reserved_at) VALUES ($1, $2)
		 ON CONFLICT (delivery_id) DO NOTHING`,
		id, now.UTC(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PGStore) Compact(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM delivery_ledger WHERE reserved_at < $1`,
		olderThan.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

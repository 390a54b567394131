package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeDB struct {
	mu   sync.Mutex
	rows map[string]time.Time
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[string]time.Time)}
}

func (f *fakeDB) InsertIfAbsent(_ context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rows[id]; exists {
		return false, nil
	}
	f.rows[id] = now
	return true, nil
}

func (f *fakeDB) Compact(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, t := range f.rows {
		if t.Before(olderThan) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestReserveFirstSeenIsNew(t *testing.T) {
	store := New(newTestRedis(t), newFakeDB(), time.Hour)
	status, err := store.Reserve(context.Background(), "delivery-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusNew {
		t.Fatalf("expected StatusNew, got %v", status)
	}
}

func TestReserveSecondSeenIsDuplicate(t *testing.T) {
	store := New(newTestRedis(t), newFakeDB(), time.Hour)
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "delivery-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status, err := store.Reserve(ctx, "delivery-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusDuplicate {
		t.Fatalf("expected StatusDuplicate, got %v", status)
	}
}

func TestReserveFallsThroughToDurableTierWhenCacheDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	db := newFakeDB()
	store := New(client, db, time.Hour)
	ctx := context.Background()

	mr.Close() // simulate the cache being unreachable

	status, err := store.Reserve(ctx, "delivery-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusNew {
		t.Fatalf("expected StatusNew on first durable-tier reservation, got %v", status)
	}

	status, err = store.Reserve(ctx, "delivery-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusDuplicate {
		t.Fatalf("expected StatusDuplicate on durable-tier replay, got %v", status)
	}
}

func TestReserveEmptyIDErrors(t *testing.T) {
	store := New(newTestRedis(t), newFakeDB(), time.Hour)
	if _, err := store.Reserve(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty delivery id")
	}
}

func TestCompactPrunesOlderThanRetention(t *testing.T) {
	db := newFakeDB()
	store := New(newTestRedis(t), db, time.Hour)
	store.now = func() time.Time { return time.Unix(10000, 0) }

	db.rows["old"] = time.Unix(0, 0)
	db.rows["recent"] = time.Unix(9999, 0)

	n, err := store.Compact(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row compacted, got %d", n)
	}
	if _, ok := db.rows["recent"]; !ok {
		t.Fatal("recent row should have survived compaction")
	}
}

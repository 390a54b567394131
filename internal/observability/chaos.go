package observability

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FaultStore persists chaos_faults rows so an armed fault survives a
// worker restart (SPEC_FULL.md §4.12's expansion over the bare spec).
type FaultStore struct {
	pool *pgxpool.Pool
}

// NewFaultStore wraps an already-configured pool.
func NewFaultStore(pool *pgxpool.Pool) *FaultStore {
	return &FaultStore{pool: pool}
}

// Arm enables a named fault point for its next single occurrence.
func (f *FaultStore) Arm(ctx context.Context, name string) error {
	_, err := f.pool.Exec(ctx, `
INSERT INTO chaos_faults (name, enabled, probability, updated_at)
VALUES ($1, true, 1.0, NOW())
ON CONFLICT (name) DO UPDATE SET enabled = true, updated_at = NOW()`, name)
	if err != nil {
		return fmt.Errorf("observability: arm fault %s: %w", name, err)
	}
	return nil
}

// FaultOnce atomically consumes an armed fault at name: the first
// caller after Arm gets true (force a failure), every caller
// afterward — including concurrent ones — gets false. Keyed by fault
// point name rather than delivery id, since the UPDATE...RETURNING
// below is what makes the single-consumption atomic; the delivery id
// the caller is processing only appears in the resulting error for
// drill diagnostics (see workflow usage in cmd/worker).
func (f *FaultStore) FaultOnce(ctx context.Context, name string) (bool, error) {
	row := f.pool.QueryRow(ctx, `
UPDATE chaos_faults SET enabled = false, updated_at = NOW()
WHERE name = $1 AND enabled = true
RETURNING name`, name)
	var got string
	if err := row.Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("observability: fault_once %s: %w", name, err)
	}
	return true, nil
}

// Hook returns a func(name, deliveryID) error the workflow's
// activities wrap their own logic with: if the named fault is armed,
// it returns a transient error identifying the delivery it was forced
// against instead of running the real activity body.
func (f *FaultStore) Hook() func(ctx context.Context, name, deliveryID string) error {
	return func(ctx context.Context, name, deliveryID string) error {
		fire, err := f.FaultOnce(ctx, name)
		if err != nil {
			return err
		}
		if fire {
			return fmt.Errorf("observability: chaos fault %q forced for delivery %s", name, deliveryID)
		}
		return nil
	}
}

// Package graph is the knowledge-graph store (SPEC_FULL.md §4.6): a
// Postgres-backed typed node/edge graph with an upsert API, bounded
// neighbor traversal, and longest-prefix ownership lookup. Grounded on
// other_examples' LitFlow graph repository (jsonb node/edge tables with
// ON CONFLICT upserts and a WITH RECURSIVE lineage query), generalized
// from a paper-citation graph to PRs/commits/symbols/files/owners.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

// Store is the pgx-backed knowledge graph.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an already-configured pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UpsertNode inserts or refreshes a node, keyed on (ntype, nkey).
func (s *Store) UpsertNode(ctx context.Context, node model.KGNode) error {
	data, err := json.Marshal(node.Data)
	if err != nil {
		return fmt.Errorf("graph: marshal node data: %w", err)
	}
	id := nodeID(node.Ntype, node.Nkey)
	_, err = s.pool.Exec(ctx, `
INSERT INTO kg_nodes (id, ntype, nkey, title, data, embedding, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
ON CONFLICT (ntype, nkey) DO UPDATE SET
  title = EXCLUDED.title,
  data = EXCLUDED.data,
  embedding = COALESCE(EXCLUDED.embedding, kg_nodes.embedding),
  updated_at = NOW()`,
		id, node.Ntype, node.Nkey, node.Title, data, embeddingOrNil(node.Embedding))
	if err != nil {
		return fmt.Errorf("graph: upsert node %s: %w", id, err)
	}
	return nil
}

// UpsertEdge inserts or refreshes an edge, keyed on (src, dst, rel).
func (s *Store) UpsertEdge(ctx context.Context, edge model.KGEdge) error {
	data, err := json.Marshal(edge.Data)
	if err != nil {
		return fmt.Errorf("graph: marshal edge data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO kg_edges (src, dst, rel, data, created_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (src, dst, rel) DO UPDATE SET data = EXCLUDED.data`,
		edge.Src, edge.Dst, edge.Rel, data)
	if err != nil {
		return fmt.Errorf("graph: upsert edge %s->%s(%s): %w", edge.Src, edge.Dst, edge.Rel, err)
	}
	return nil
}

// DeleteCascade removes a node and every edge touching it.
func (s *Store) DeleteCascade(ctx context.Context, ntype model.NodeType, nkey string) error {
	id := nodeID(ntype, nkey)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("graph: begin delete_cascade: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM kg_edges WHERE src = $1 OR dst = $1`, id); err != nil {
		return fmt.Errorf("graph: delete edges for %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM kg_nodes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("graph: delete node %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

// VacuumGovernedByEdges deletes every governed_by edge whose rule node
// is not in activeRules — the stale edges a reloaded policy bundle
// leaves behind once it drops a rule. Orphaned rule nodes (no more
// incoming governed_by edges) are deleted too, matching DeleteCascade's
// node-plus-edges semantics.
func (s *Store) VacuumGovernedByEdges(ctx context.Context, activeRules []string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM kg_edges
WHERE rel = $1
  AND dst IN (SELECT id FROM kg_nodes WHERE ntype = $2 AND NOT (nkey = ANY($3)))`,
		model.RelGovernedBy, model.NodePolicy, activeRules)
	if err != nil {
		return 0, fmt.Errorf("graph: vacuum governed_by edges: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `
DELETE FROM kg_nodes
WHERE ntype = $1
  AND NOT (nkey = ANY($2))
  AND id NOT IN (SELECT dst FROM kg_edges WHERE rel = $3)`,
		model.NodePolicy, activeRules, model.RelGovernedBy); err != nil {
		return 0, fmt.Errorf("graph: vacuum orphaned rule nodes: %w", err)
	}

	return tag.RowsAffected(), nil
}

// Neighbors runs a bounded breadth-first traversal outward from
// rootID, never exceeding maxNeighborDepth hops regardless of what
// depth the caller requests.
func (s *Store) Neighbors(ctx context.Context, rootID string, depth int) ([]model.KGNode, []model.KGEdge, error) {
	depth = clampDepth(depth)

	rows, err := s.pool.Query(ctx, `
WITH RECURSIVE walk(id, depth) AS (
  SELECT $1::text, 0
  UNION
  SELECT CASE WHEN e.src = w.id THEN e.dst ELSE e.src END, w.depth + 1
  FROM kg_edges e
  JOIN walk w ON e.src = w.id OR e.dst = w.id
  WHERE w.depth < $2
)
SELECT DISTINCT n.id, n.ntype, n.nkey, n.title, n.data, n.created_at, n.updated_at
FROM walk
JOIN kg_nodes n ON n.id = walk.id`,
		rootID, depth)
	if err != nil {
		return nil, nil, fmt.Errorf("graph: neighbors query for %s: %w", rootID, err)
	}
	defer rows.Close()

	var nodes []model.KGNode
	ids := make([]string, 0)
	for rows.Next() {
		var n model.KGNode
		var data []byte
		if err := rows.Scan(&n.ID, &n.Ntype, &n.Nkey, &n.Title, &data, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("graph: scan neighbor node: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, nil, fmt.Errorf("graph: unmarshal node data for %s: %w", n.ID, err)
			}
		}
		nodes = append(nodes, n)
		ids = append(ids, n.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	edges, err := s.edgesAmong(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

// RecentNodes returns up to limit nodes of the given type whose key
// starts with keyPrefix, newest-updated first — used to drive the repo
// index page off the PR nodes UpdateGraph has already upserted, rather
// than keeping a second history store just for that page.
func (s *Store) RecentNodes(ctx context.Context, ntype model.NodeType, keyPrefix string, limit int) ([]model.KGNode, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, ntype, nkey, title, data, created_at, updated_at
FROM kg_nodes
WHERE ntype = $1 AND nkey LIKE $2 || '%'
ORDER BY updated_at DESC
LIMIT $3`,
		ntype, keyPrefix, limit)
	if err != nil {
		return nil, fmt.Errorf("graph: recent nodes query for %s %s: %w", ntype, keyPrefix, err)
	}
	defer rows.Close()

	var nodes []model.KGNode
	for rows.Next() {
		var n model.KGNode
		var data []byte
		if err := rows.Scan(&n.ID, &n.Ntype, &n.Nkey, &n.Title, &data, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("graph: scan recent node: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("graph: unmarshal node data for %s: %w", n.ID, err)
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *Store) edgesAmong(ctx context.Context, ids []string) ([]model.KGEdge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT src, dst, rel, data, created_at
FROM kg_edges
WHERE src = ANY($1) AND dst = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("graph: edges among nodes: %w", err)
	}
	defer rows.Close()

	var edges []model.KGEdge
	for rows.Next() {
		var e model.KGEdge
		var data []byte
		if err := rows.Scan(&e.Src, &e.Dst, &e.Rel, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("graph: scan edge: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("graph: unmarshal edge data: %w", err)
			}
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// OwnershipLookup resolves the ranked owners of path, preferring the
// longest matching prefix recorded in the owners_index table.
func (s *Store) OwnershipLookup(ctx context.Context, path string) ([]model.OwnerEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT owner, kind, activity_score, last_activity
FROM owners_index
WHERE $1 LIKE path_prefix || '%'
ORDER BY length(path_prefix) DESC, activity_score DESC
LIMIT 5`, path)
	if err != nil {
		return nil, fmt.Errorf("graph: ownership lookup for %s: %w", path, err)
	}
	defer rows.Close()

	var owners []model.OwnerEntry
	for rows.Next() {
		var o model.OwnerEntry
		if err := rows.Scan(&o.Owner, &o.Kind, &o.ActivityScore, &o.LastActivity); err != nil {
			return nil, fmt.Errorf("graph: scan owner entry: %w", err)
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// UpsertOwnerScore adds delta to pathPrefix/owner's running activity
// score, creating the row on first touch. recompute_owners calls this
// once per matched ownership pattern rather than overwriting the score,
// so repeated activity in a path accumulates instead of resetting.
func (s *Store) UpsertOwnerScore(ctx context.Context, pathPrefix, owner string, kind model.OwnerKind, delta float64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO owners_index (path_prefix, owner, kind, activity_score, last_activity)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (path_prefix, owner) DO UPDATE
SET kind = EXCLUDED.kind,
    activity_score = owners_index.activity_score + EXCLUDED.activity_score,
    last_activity = EXCLUDED.last_activity`, pathPrefix, owner, string(kind), delta, at)
	if err != nil {
		return fmt.Errorf("graph: upsert owner score %s/%s: %w", pathPrefix, owner, err)
	}
	return nil
}

// Snapshot returns the full owners_index table as an OwnersIndex, for
// the graph API's /graph/owners endpoint and the owners portal page.
func (s *Store) Snapshot(ctx context.Context) (model.OwnersIndex, error) {
	rows, err := s.pool.Query(ctx, `
SELECT path_prefix, owner, kind, activity_score, last_activity
FROM owners_index
ORDER BY path_prefix, activity_score DESC`)
	if err != nil {
		return model.OwnersIndex{}, fmt.Errorf("graph: snapshot owners index: %w", err)
	}
	defer rows.Close()

	idx := model.OwnersIndex{ByPath: map[string][]model.OwnerEntry{}}
	for rows.Next() {
		var path string
		var entry model.OwnerEntry
		if err := rows.Scan(&path, &entry.Owner, &entry.Kind, &entry.ActivityScore, &entry.LastActivity); err != nil {
			return model.OwnersIndex{}, fmt.Errorf("graph: scan owners index row: %w", err)
		}
		idx.ByPath[path] = append(idx.ByPath[path], entry)
	}
	return idx, rows.Err()
}

func embeddingOrNil(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	return v
}

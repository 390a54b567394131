// Package ownership implements the recompute_owners activity
// (SPEC_FULL.md §4.6's expansion): a declarative path-prefix pattern
// file, parsed with gopkg.in/yaml.v3, drives the owners_index rows that
// back ownership_lookup and the owners portal page. Grounded on the
// teacher's policy.LoadBundle (directory of declarative YAML, parsed
// once and swapped under a mutex) generalized from OPA rule files to
// ownership pattern rows.
package ownership

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
	"github.com/Ava-Prime/gitguard-sub000/internal/portal"
	"github.com/Ava-Prime/gitguard-sub000/internal/workflow"
)

// Pattern is one declarative ownership row: any touched path beginning
// with Pattern is credited to Owner.
type Pattern struct {
	Pattern string         `yaml:"pattern"`
	Owner   string         `yaml:"owner"`
	Kind    model.OwnerKind `yaml:"kind"`
}

type patternFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

// LoadPatterns reads and parses the ownership pattern file at path.
func LoadPatterns(path string) ([]Pattern, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ownership: read %s: %w", path, err)
	}
	var pf patternFile
	if err := yaml.Unmarshal(b, &pf); err != nil {
		return nil, fmt.Errorf("ownership: parse %s: %w", path, err)
	}
	for i, p := range pf.Patterns {
		if p.Pattern == "" || p.Owner == "" {
			return nil, fmt.Errorf("ownership: pattern row %d missing pattern or owner", i)
		}
		if p.Kind == "" {
			pf.Patterns[i].Kind = model.OwnerUser
		}
	}
	return pf.Patterns, nil
}

// GraphWriter is the subset of graph.Store Recomputer needs.
type GraphWriter interface {
	UpsertOwnerScore(ctx context.Context, pathPrefix, owner string, kind model.OwnerKind, delta float64, at time.Time) error
	Snapshot(ctx context.Context) (model.OwnersIndex, error)
}

// activityWeight is how much a single touched file credits its
// matching owner per recompute pass. Kept coarse (spec's OwnersIndex
// only needs a relative ranking, not an absolute unit).
const activityWeight = 1.0

// Recomputer implements workflow.OwnersRecomputer: on each debounced
// recompute_owners call it credits every touched file's longest-
// matching pattern, then republishes the owners.md portal page from
// the refreshed snapshot.
type Recomputer struct {
	Graph GraphWriter
	Sink  portal.Sink
	Now   func() time.Time

	mu       sync.RWMutex
	patterns []Pattern
}

// NewRecomputer builds a Recomputer over an already-loaded pattern set.
func NewRecomputer(graph GraphWriter, sink portal.Sink, patterns []Pattern) *Recomputer {
	return &Recomputer{Graph: graph, Sink: sink, patterns: patterns, Now: time.Now}
}

// SetPatterns swaps the pattern set, e.g. after a config hot-reload.
func (r *Recomputer) SetPatterns(patterns []Pattern) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = patterns
}

// Recompute credits every touched file node against the longest
// matching ownership pattern, then rebuilds and republishes owners.md.
func (r *Recomputer) Recompute(ctx context.Context, touched []workflow.Touched) error {
	r.mu.RLock()
	patterns := r.patterns
	r.mu.RUnlock()

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	at := now()

	for _, t := range touched {
		if t.Ntype != model.NodeFile {
			continue
		}
		p, ok := longestMatch(patterns, t.Nkey)
		if !ok {
			continue
		}
		if err := r.Graph.UpsertOwnerScore(ctx, p.Pattern, p.Owner, p.Kind, activityWeight, at); err != nil {
			return fmt.Errorf("ownership: recompute %s: %w", t.Nkey, err)
		}
	}

	if r.Sink == nil {
		return nil
	}
	idx, err := r.Graph.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("ownership: snapshot after recompute: %w", err)
	}
	page := portal.BuildOwnersIndexPage(idx)
	page.GeneratedAt = at
	if err := r.Sink.Write(ctx, page); err != nil {
		return fmt.Errorf("ownership: publish owners page: %w", err)
	}
	return nil
}

// longestMatch returns the pattern whose Pattern is the longest prefix
// of path, mirroring internal/graph's "LIKE path_prefix || '%'" lookup
// so recompute credits exactly the pattern ownership_lookup will later
// surface for the same path.
func longestMatch(patterns []Pattern, path string) (Pattern, bool) {
	var best Pattern
	found := false
	for _, p := range patterns {
		if !strings.HasPrefix(path, p.Pattern) {
			continue
		}
		if !found || len(p.Pattern) > len(best.Pattern) {
			best = p
			found = true
		}
	}
	return best, found
}

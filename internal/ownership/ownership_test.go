package ownership

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
	"github.com/Ava-Prime/gitguard-sub000/internal/workflow"
)

func TestLoadPatternsParsesAndDefaultsKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "owners.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
patterns:
  - pattern: "internal/policy/"
    owner: "@gitguard/policy-team"
    kind: team
  - pattern: "internal/risk/"
    owner: "ada"
`), 0o644))

	patterns, err := LoadPatterns(path)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, model.OwnerTeam, patterns[0].Kind)
	assert.Equal(t, model.OwnerUser, patterns[1].Kind, "missing kind must default to user")
}

func TestLoadPatternsRejectsIncompleteRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "owners.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
patterns:
  - pattern: "internal/policy/"
`), 0o644))

	_, err := LoadPatterns(path)
	assert.Error(t, err)
}

func TestLongestMatchPrefersMoreSpecificPattern(t *testing.T) {
	patterns := []Pattern{
		{Pattern: "internal/", Owner: "platform", Kind: model.OwnerTeam},
		{Pattern: "internal/policy/", Owner: "@gitguard/policy-team", Kind: model.OwnerTeam},
	}
	p, ok := longestMatch(patterns, "internal/policy/bundle.go")
	require.True(t, ok)
	assert.Equal(t, "@gitguard/policy-team", p.Owner)
}

func TestLongestMatchNoneMatches(t *testing.T) {
	patterns := []Pattern{{Pattern: "internal/policy/", Owner: "x"}}
	_, ok := longestMatch(patterns, "cmd/worker/main.go")
	assert.False(t, ok)
}

type fakeGraphWriter struct {
	scores   map[string]float64
	snapshot model.OwnersIndex
}

func newFakeGraphWriter() *fakeGraphWriter {
	return &fakeGraphWriter{scores: map[string]float64{}, snapshot: model.OwnersIndex{ByPath: map[string][]model.OwnerEntry{}}}
}

func (f *fakeGraphWriter) UpsertOwnerScore(ctx context.Context, pathPrefix, owner string, kind model.OwnerKind, delta float64, at time.Time) error {
	key := pathPrefix + "|" + owner
	f.scores[key] += delta
	f.snapshot.ByPath[pathPrefix] = []model.OwnerEntry{{Owner: owner, Kind: kind, ActivityScore: f.scores[key], LastActivity: at}}
	return nil
}

func (f *fakeGraphWriter) Snapshot(ctx context.Context) (model.OwnersIndex, error) {
	return f.snapshot, nil
}

type fakeSink struct {
	pages []model.PortalPage
}

func (f *fakeSink) Write(ctx context.Context, page model.PortalPage) error {
	f.pages = append(f.pages, page)
	return nil
}

func TestRecomputeCreditsMatchedFilesAndPublishes(t *testing.T) {
	graph := newFakeGraphWriter()
	sink := &fakeSink{}
	r := NewRecomputer(graph, sink, []Pattern{
		{Pattern: "internal/policy/", Owner: "@gitguard/policy-team", Kind: model.OwnerTeam},
	})

	touched := []workflow.Touched{
		{Ntype: model.NodePR, Nkey: "owner/repo#1"},
		{Ntype: model.NodeFile, Nkey: "internal/policy/bundle.go"},
		{Ntype: model.NodeFile, Nkey: "README.md"},
	}

	require.NoError(t, r.Recompute(context.Background(), touched))
	assert.Equal(t, 1.0, graph.scores["internal/policy/|@gitguard/policy-team"])
	require.Len(t, sink.pages, 1)
	assert.Equal(t, model.PageOwners, sink.pages[0].Kind)
}

func TestRecomputeSkipsWithoutSink(t *testing.T) {
	graph := newFakeGraphWriter()
	r := NewRecomputer(graph, nil, []Pattern{{Pattern: "internal/", Owner: "platform"}})

	err := r.Recompute(context.Background(), []workflow.Touched{
		{Ntype: model.NodeFile, Nkey: "internal/x.go"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, graph.scores["internal/|platform"])
}

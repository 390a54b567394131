package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

func TestNewMetricsRegistersAllSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveEvent(ResultOK)
	m.ObserveActivity("score_risk", 0.25)
	m.ObserveGraphAPI("/graph/pr/{n}", 0.01)
	m.SetStreamConsumerPending("worker", 3)
	m.DocFreshSeconds.Observe(42)
	m.ChaosDrillTotal.Inc()
	m.ChaosDrillSuccessTotal.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	names := map[string]bool{}
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	for _, want := range []string{
		"activity_seconds", "doc_fresh_seconds", "events_total",
		"stream_consumer_pending", "graph_api_response_seconds",
		"chaos_drill_total", "chaos_drill_success_total",
	} {
		assert.True(t, names[want], "missing series %s", want)
	}
}

type fakeAlerter struct {
	messages []string
}

func (f *fakeAlerter) Notify(ctx context.Context, message string) error {
	f.messages = append(f.messages, message)
	return nil
}

func TestFreshnessTrackerP99IgnoresExpiredSamples(t *testing.T) {
	tr := NewFreshnessTracker(NewMetrics(prometheus.NewRegistry()), nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.RecordSample(context.Background(), now.Add(-200*time.Second), now)
	assert.InDelta(t, 200.0, tr.P99(), 0.01)

	now = now.Add(freshnessWindow + time.Minute)
	tr.now = func() time.Time { return now }
	tr.RecordSample(context.Background(), now.Add(-5*time.Second), now)

	assert.InDelta(t, 5.0, tr.P99(), 0.01)
}

func TestFreshnessTrackerAlertsOnceAfterSustainedBreach(t *testing.T) {
	alerter := &fakeAlerter{}
	tr := NewFreshnessTracker(NewMetrics(prometheus.NewRegistry()), alerter)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.RecordSample(context.Background(), now.Add(-200*time.Second), now)

	require.NoError(t, tr.Evaluate(context.Background()))
	assert.Empty(t, alerter.messages, "should not alert on first breached sample")

	now = now.Add(freshnessWindow + time.Second)
	tr.now = func() time.Time { return now }
	tr.RecordSample(context.Background(), now.Add(-200*time.Second), now)

	require.NoError(t, tr.Evaluate(context.Background()))
	require.Len(t, alerter.messages, 1)

	require.NoError(t, tr.Evaluate(context.Background()))
	assert.Len(t, alerter.messages, 1, "must not re-alert every tick")
}

func TestFreshnessTrackerResetsOnRecovery(t *testing.T) {
	alerter := &fakeAlerter{}
	tr := NewFreshnessTracker(NewMetrics(prometheus.NewRegistry()), alerter)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.RecordSample(context.Background(), now.Add(-200*time.Second), now)
	require.NoError(t, tr.Evaluate(context.Background()))

	now = now.Add(time.Minute)
	tr.now = func() time.Time { return now }
	tr.RecordSample(context.Background(), now.Add(-5*time.Second), now)
	require.NoError(t, tr.Evaluate(context.Background()))

	now = now.Add(freshnessWindow + time.Second)
	tr.now = func() time.Time { return now }
	tr.RecordSample(context.Background(), now.Add(-200*time.Second), now)
	require.NoError(t, tr.Evaluate(context.Background()))

	assert.Empty(t, alerter.messages, "recovery must restart the sustained-breach clock")
}

type stubGraph struct {
	calls int
	fail  bool
}

func (s *stubGraph) Neighbors(ctx context.Context, rootID string, depth int) ([]model.KGNode, []model.KGEdge, error) {
	s.calls++
	if s.fail {
		return nil, nil, errors.New("boom")
	}
	return []model.KGNode{{Ntype: "pr", Nkey: rootID}}, nil, nil
}

func TestGraphBreakerPassesThroughResults(t *testing.T) {
	g := &stubGraph{}
	b := NewGraphBreaker(g)

	nodes, _, err := b.Neighbors(context.Background(), "pr:owner/repo#1", 2)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "pr:owner/repo#1", nodes[0].Nkey)
}

func TestGraphBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	g := &stubGraph{fail: true}
	b := NewGraphBreaker(g)

	for i := 0; i < 5; i++ {
		_, _, err := b.Neighbors(context.Background(), "pr:owner/repo#1", 2)
		assert.Error(t, err)
	}

	callsBeforeOpen := g.calls
	_, _, err := b.Neighbors(context.Background(), "pr:owner/repo#1", 2)
	assert.Error(t, err)
	assert.Equal(t, callsBeforeOpen, g.calls, "breaker should short-circuit instead of calling inner once open")
}

type stubSink struct {
	calls int
}

func (s *stubSink) Write(ctx context.Context, page model.PortalPage) error {
	s.calls++
	return nil
}

func TestSinkBreakerPassesThrough(t *testing.T) {
	s := &stubSink{}
	b := NewSinkBreaker(s)

	require.NoError(t, b.Write(context.Background(), model.PortalPage{}))
	assert.Equal(t, 1, s.calls)
}

package observability

import (
	"context"
	"sort"
	"sync"
	"time"
)

// freshnessWindow is the trailing window the P99 recording rule and
// alert both evaluate over (spec §4.12's "over 10m").
const freshnessWindow = 10 * time.Minute

// freshnessSLOSeconds is the P99 ceiling the recording rule enforces.
const freshnessSLOSeconds = 180.0

// Alerter delivers one SLO breach notification.
type Alerter interface {
	Notify(ctx context.Context, message string) error
}

// FreshnessTracker maintains the trailing-window sample set behind
// doc_fresh_seconds and decides when the freshness_p99 recording rule
// has been in violation long enough to alert (spec §4.12: "on
// violation for 10m", read as the breach itself persisting across the
// whole window, not a single instant sample).
type FreshnessTracker struct {
	metrics *Metrics
	alerter Alerter

	mu         sync.Mutex
	samples    []freshnessSample
	breachedAt time.Time // zero when not currently breached
	alerted    bool
	now        func() time.Time
}

type freshnessSample struct {
	at      time.Time
	seconds float64
}

// NewFreshnessTracker builds a tracker recording into metrics and
// alerting through alerter. alerter may be nil to disable alerting.
func NewFreshnessTracker(metrics *Metrics, alerter Alerter) *FreshnessTracker {
	return &FreshnessTracker{metrics: metrics, alerter: alerter, now: time.Now}
}

// RecordSample is the workflow's record_slo_sample activity: one
// (received_at, completed_at) pair becomes one doc_fresh_seconds
// observation and one entry in the rolling P99 window.
func (t *FreshnessTracker) RecordSample(ctx context.Context, receivedAt, completedAt time.Time) {
	seconds := completedAt.Sub(receivedAt).Seconds()
	if t.metrics != nil {
		t.metrics.DocFreshSeconds.Observe(seconds)
	}

	t.mu.Lock()
	now := t.clock()
	t.samples = append(t.samples, freshnessSample{at: now, seconds: seconds})
	t.prune(now)
	t.mu.Unlock()
}

func (t *FreshnessTracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *FreshnessTracker) prune(now time.Time) {
	cutoff := now.Add(-freshnessWindow)
	i := 0
	for ; i < len(t.samples); i++ {
		if t.samples[i].at.After(cutoff) {
			break
		}
	}
	t.samples = t.samples[i:]
}

// P99 returns the trailing window's 99th percentile freshness, or 0
// when there are no samples yet.
func (t *FreshnessTracker) P99() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p99Locked()
}

func (t *FreshnessTracker) p99Locked() float64 {
	n := len(t.samples)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	for i, s := range t.samples {
		sorted[i] = s.seconds
	}
	sort.Float64s(sorted)
	idx := int(float64(n)*0.99)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Evaluate runs the recording rule and, if P99 has exceeded
// freshnessSLOSeconds continuously for freshnessWindow, fires
// CodexFreshnessSLOBreached exactly once per sustained breach.
// Intended to be called periodically from cmd/scheduler.
func (t *FreshnessTracker) Evaluate(ctx context.Context) error {
	t.mu.Lock()
	now := t.clock()
	t.prune(now)
	p99 := t.p99Locked()
	breached := p99 > freshnessSLOSeconds

	var fire bool
	switch {
	case !breached:
		t.breachedAt = time.Time{}
		t.alerted = false
	case t.breachedAt.IsZero():
		t.breachedAt = now
	case !t.alerted && now.Sub(t.breachedAt) >= freshnessWindow:
		t.alerted = true
		fire = true
	}
	t.mu.Unlock()

	if fire && t.alerter != nil {
		return t.alerter.Notify(ctx, "CodexFreshnessSLOBreached: freshness_p99 exceeded 180s for 10m")
	}
	return nil
}

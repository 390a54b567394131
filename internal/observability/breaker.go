package observability

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

// breakerSettings builds the same shape for every wrapped dependency:
// trip after 5 consecutive failures, half-open after 30s, per
// jordigilh-kubernaut's go.mod pairing of gobreaker with exactly this
// kind of downstream-call guard.
func breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// GraphReader is the subset of internal/graph.Store GraphBreaker wraps.
type GraphReader interface {
	Neighbors(ctx context.Context, rootID string, depth int) ([]model.KGNode, []model.KGEdge, error)
}

// GraphBreaker wraps a GraphReader so a failing Postgres instance
// fails fast (ErrOpenState) instead of letting every concurrent graph
// API request queue up behind the same timeout.
type GraphBreaker struct {
	inner GraphReader
	cb    *gobreaker.CircuitBreaker[neighborPair]
}

// NewGraphBreaker wraps inner.
func NewGraphBreaker(inner GraphReader) *GraphBreaker {
	return &GraphBreaker{inner: inner, cb: gobreaker.NewCircuitBreaker[neighborPair](breakerSettings("graph_store"))}
}

func (b *GraphBreaker) Neighbors(ctx context.Context, rootID string, depth int) ([]model.KGNode, []model.KGEdge, error) {
	pair, err := b.cb.Execute(func() (neighborPair, error) {
		nodes, edges, err := b.inner.Neighbors(ctx, rootID, depth)
		if err != nil {
			return neighborPair{}, err
		}
		return neighborPair{nodes, edges}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return pair.nodes, pair.edges, nil
}

type neighborPair struct {
	nodes []model.KGNode
	edges []model.KGEdge
}

// SinkWriter is the subset of internal/portal.Sink SinkBreaker wraps.
type SinkWriter interface {
	Write(ctx context.Context, page model.PortalPage) error
}

// SinkBreaker wraps a portal Sink so a stuck filesystem or object
// store doesn't stall every publish_portal activity invocation behind
// the same disk timeout.
type SinkBreaker struct {
	inner SinkWriter
	cb    *gobreaker.CircuitBreaker[struct{}]
}

// NewSinkBreaker wraps inner.
func NewSinkBreaker(inner SinkWriter) *SinkBreaker {
	return &SinkBreaker{inner: inner, cb: gobreaker.NewCircuitBreaker[struct{}](breakerSettings("portal_sink"))}
}

func (b *SinkBreaker) Write(ctx context.Context, page model.PortalPage) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.Write(ctx, page)
	})
	return err
}

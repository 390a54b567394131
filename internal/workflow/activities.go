// Package workflow hosts the GovernEvent Temporal workflow and its
// activities (SPEC_FULL.md §4.8 / spec.md §4.8). Grounded on the
// teacher's agents/manager Temporal stack: activity options with
// temporal.RetryPolicy, workflow.ExecuteActivity call chains, and the
// query/update/signal workflow.NewSelector idiom from
// internal/state/state.go and internal/beam/workflow.go.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/Ava-Prime/gitguard-sub000/internal/dedup"
	"github.com/Ava-Prime/gitguard-sub000/internal/graph"
	"github.com/Ava-Prime/gitguard-sub000/internal/ingest"
	"github.com/Ava-Prime/gitguard-sub000/internal/model"
	"github.com/Ava-Prime/gitguard-sub000/internal/policy"
	"github.com/Ava-Prime/gitguard-sub000/internal/portal"
	"github.com/Ava-Prime/gitguard-sub000/internal/risk"
)

// Activity names, registered with the Temporal worker in cmd/worker.
const (
	ActivityNormalize       = "Normalize"
	ActivityDeriveFacts     = "DeriveFacts"
	ActivityScoreRisk       = "ScoreRisk"
	ActivityEvaluatePolicy  = "EvaluatePolicies"
	ActivityUpdateGraph     = "UpdateGraph"
	ActivityRecomputeOwners = "RecomputeOwners"
	ActivityPublishPortal   = "PublishPortal"
	ActivityRecordSLOSample = "RecordSLOSample"
)

// Touched identifies one knowledge-graph node update_graph produced, for
// recompute_owners and publish_portal to consume.
type Touched struct {
	Ntype model.NodeType
	Nkey  string
}

// NormalizeInput is a raw webhook delivery's minimal shape: the
// workflow receives this rather than the Event itself, because
// normalize(event) is activity 1 — the wire event is untrusted input
// until an activity has produced a typed model.Event from it.
type NormalizeInput struct {
	DeliveryID string
	Kind       model.EventKind
	Payload    map[string]interface{}
	ReceivedAt time.Time
}

// Activities bundles every dependency the eight activity functions
// need. One instance is registered per Temporal worker process.
type Activities struct {
	Dedup   *dedup.Store
	Graph   *graph.Store
	Policy  *policy.Engine
	Weights risk.Weights
	Sink    portal.Sink
	Owners  OwnersRecomputer
	SLO     SLORecorder

	// FreezeTimezone is the IANA zone name deny_weekend_freeze.rego
	// reads its "local time" from (spec §9 S4). Falls back to UTC if
	// empty or unrecognized by time.LoadLocation.
	FreezeTimezone string
}

// OwnersRecomputer rebuilds the owners index for a set of touched path
// prefixes. Implemented by internal/observability's caller wiring in
// cmd/worker; kept as an interface here so the activity has no import
// cycle back onto the portal/graph-api composition root.
type OwnersRecomputer interface {
	Recompute(ctx context.Context, touched []Touched) error
}

// SLORecorder records one (received_at, completed_at) freshness sample.
type SLORecorder interface {
	RecordSample(ctx context.Context, receivedAt, completedAt time.Time)
}

// Normalize is activity 1: normalize(event) -> Event.
func (a *Activities) Normalize(ctx context.Context, in NormalizeInput) (model.Event, error) {
	switch in.Kind {
	case model.EventPullRequest:
		ev, _ := ingest.NormalizePullRequest(in.DeliveryID, in.Payload, in.ReceivedAt)
		return ev, nil
	case model.EventPush:
		ev, _ := ingest.NormalizePush(in.DeliveryID, in.Payload, in.ReceivedAt)
		return ev, nil
	case model.EventRelease:
		ev, _ := ingest.NormalizeRelease(in.DeliveryID, in.Payload, in.ReceivedAt)
		return ev, nil
	default:
		return model.Event{
			DeliveryID: in.DeliveryID,
			Kind:       in.Kind,
			ReceivedAt: in.ReceivedAt,
			CreatedAt:  in.ReceivedAt,
			Payload:    in.Payload,
		}, nil
	}
}

// DeriveFacts is activity 2: derive_facts(event) -> ChangeFacts.
func (a *Activities) DeriveFacts(ctx context.Context, in NormalizeInput) (model.ChangeFacts, error) {
	switch in.Kind {
	case model.EventPullRequest:
		_, facts := ingest.NormalizePullRequest(in.DeliveryID, in.Payload, in.ReceivedAt)
		return facts, nil
	case model.EventPush:
		_, facts := ingest.NormalizePush(in.DeliveryID, in.Payload, in.ReceivedAt)
		return facts, nil
	case model.EventRelease:
		_, facts := ingest.NormalizeRelease(in.DeliveryID, in.Payload, in.ReceivedAt)
		return facts, nil
	default:
		return model.ChangeFacts{}, nil
	}
}

// ScoreRisk is activity 3: score_risk(facts) -> RiskScore.
func (a *Activities) ScoreRisk(ctx context.Context, facts model.ChangeFacts) (model.RiskScore, error) {
	return risk.Score(facts, a.Weights), nil
}

// EvaluatePoliciesInput bundles evaluate_policies(input{event,facts,score,now})'s arguments.
type EvaluatePoliciesInput struct {
	Event      model.Event
	Facts      model.ChangeFacts
	Score      model.RiskScore
	Approvals  int
	Thresholds policy.Thresholds
	Now        time.Time
}

// EvaluatePolicies is activity 4: evaluate_policies(...) -> PolicyDecision.
func (a *Activities) EvaluatePolicies(ctx context.Context, in EvaluatePoliciesInput) (model.PolicyDecision, error) {
	tz := a.FreezeTimezone
	loc, err := time.LoadLocation(tz)
	if err != nil {
		tz = "UTC"
		loc = time.UTC
	}

	decision, err := a.Policy.Evaluate(ctx, policy.Input{
		Action:     in.Event.Action,
		Repo:       in.Event.Repo.String(),
		Actor:      in.Event.Actor,
		Approvals:  in.Approvals,
		Facts:      in.Facts,
		Risk:       in.Score,
		Thresholds: in.Thresholds,
		// Kept in its local zone rather than normalized to UTC:
		// deny_weekend_freeze.rego reads Friday/Monday boundaries in
		// local time (spec §9 S4), and Timezone below tells it which
		// zone that is.
		Now:      in.Now.In(loc).Format(time.RFC3339),
		Timezone: tz,
	})
	if err != nil {
		// A PolicyEvaluationError is reported into the receipts rather
		// than failing the activity (spec §4.8's failure semantics
		// table lists a policy load/eval failure as retryable, not
		// fatal, so the caller decides retry vs. warn from here).
		return model.PolicyDecision{
			Allow:  false,
			Denies: []model.DenyReason{{Rule: "policy_engine", Msg: err.Error()}},
		}, err
	}
	return decision, nil
}

// UpdateGraphInput bundles update_graph(event, facts, score, decision)'s arguments.
type UpdateGraphInput struct {
	Event    model.Event
	Facts    model.ChangeFacts
	Score    model.RiskScore
	Decision model.PolicyDecision
}

// UpdateGraph is activity 5: update_graph(...) -> touched nodes.
func (a *Activities) UpdateGraph(ctx context.Context, in UpdateGraphInput) ([]Touched, error) {
	prKey := in.Event.Repo.String() + "#" + itoaPR(in.Event.PRNumber)
	prNode := model.KGNode{
		Ntype: model.NodePR,
		Nkey:  prKey,
		Title: in.Event.Title,
		Data: map[string]interface{}{
			"action": in.Event.Action,
			"facts":  in.Facts,
			"risk":   in.Score,
			"allow":  in.Decision.Allow,
			"actor":  in.Event.Actor,
		},
	}
	if err := a.Graph.UpsertNode(ctx, prNode); err != nil {
		return nil, wrapGraphErr(err)
	}
	touched := []Touched{{Ntype: model.NodePR, Nkey: prKey}}

	for _, f := range in.Facts.FilesTouched {
		fileNode := model.KGNode{Ntype: model.NodeFile, Nkey: f, Title: f}
		if err := a.Graph.UpsertNode(ctx, fileNode); err != nil {
			return nil, wrapGraphErr(err)
		}
		if err := a.Graph.UpsertEdge(ctx, model.KGEdge{
			Src: nodeIDFor(prNode), Dst: nodeIDFor(fileNode), Rel: model.RelTouches,
		}); err != nil {
			return nil, wrapGraphErr(err)
		}
		touched = append(touched, Touched{Ntype: model.NodeFile, Nkey: f})
	}

	for _, r := range in.Decision.Receipts {
		if !r.Fired {
			continue
		}
		ruleNode := model.KGNode{Ntype: model.NodePolicy, Nkey: r.RuleName, Title: r.RuleName}
		if err := a.Graph.UpsertNode(ctx, ruleNode); err != nil {
			return nil, wrapGraphErr(err)
		}
		if err := a.Graph.UpsertEdge(ctx, model.KGEdge{
			Src: nodeIDFor(prNode), Dst: nodeIDFor(ruleNode), Rel: model.RelGovernedBy,
		}); err != nil {
			return nil, wrapGraphErr(err)
		}
		touched = append(touched, Touched{Ntype: model.NodePolicy, Nkey: r.RuleName})
	}
	return touched, nil
}

// wrapGraphErr marks a model.ErrGraphConsistency as Temporal
// non-retryable, per spec §4.8's failure table: a graph constraint
// violation is dead-lettered, never retried into the same corruption.
func wrapGraphErr(err error) error {
	var kindErr *model.KindError
	if errors.As(err, &kindErr) && kindErr.Kind == model.ErrGraphConsistency {
		return temporal.NewNonRetryableApplicationError(kindErr.Error(), string(model.ErrGraphConsistency), kindErr)
	}
	return err
}

// RecomputeOwners is activity 6: recompute_owners(touched), debounced by
// the caller (see workflow.go's debounce timer) so many UpdateGraph
// calls within OWNERS_DEBOUNCE collapse into one recompute.
func (a *Activities) RecomputeOwners(ctx context.Context, touched []Touched) error {
	if a.Owners == nil {
		return nil
	}
	return a.Owners.Recompute(ctx, touched)
}

// PublishPortalInput bundles publish_portal(event, decision, touched)'s arguments.
type PublishPortalInput struct {
	Event    model.Event
	Facts    model.ChangeFacts
	Score    model.RiskScore
	Decision model.PolicyDecision
	Touched  []Touched
}

// PublishPortal is activity 7: publish_portal(...) -> PortalPage set.
func (a *Activities) PublishPortal(ctx context.Context, in PublishPortalInput) ([]model.PortalPage, error) {
	var nodes []model.KGNode
	var edges []model.KGEdge
	if a.Graph != nil {
		prKey := in.Event.Repo.String() + "#" + itoaPR(in.Event.PRNumber)
		rootID := strings.ToLower(string(model.NodePR)) + ":" + prKey
		if n, e, err := a.Graph.Neighbors(ctx, rootID, 2); err == nil {
			nodes, edges = n, e
		}
	}

	page := portal.BuildPRDigest(in.Event, in.Facts, in.Score, in.Decision, nodes, edges)
	if err := a.Sink.Write(ctx, page); err != nil {
		return nil, err
	}
	pages := []model.PortalPage{page}

	if indexPage, ok := a.buildRepoIndex(ctx, in.Event); ok {
		if err := a.Sink.Write(ctx, indexPage); err != nil {
			return nil, err
		}
		pages = append(pages, indexPage)
	}
	return pages, nil
}

// buildRepoIndex refreshes the repo's recent-activity page off the PR
// nodes UpdateGraph has already upserted, rather than keeping a second
// history store. A query failure here doesn't fail the publish: the PR
// digest already shipped, and the index just misses one refresh.
func (a *Activities) buildRepoIndex(ctx context.Context, event model.Event) (model.PortalPage, bool) {
	if a.Graph == nil {
		return model.PortalPage{}, false
	}
	repo := event.Repo.String()
	recent, err := a.Graph.RecentNodes(ctx, model.NodePR, repo+"#", maxRepoIndexNodes)
	if err != nil {
		return model.PortalPage{}, false
	}

	entries := make([]portal.RepoIndexEntry, 0, len(recent))
	for _, n := range recent {
		num := 0
		fmt.Sscanf(strings.TrimPrefix(n.Nkey, repo+"#"), "%d", &num)
		allow, _ := n.Data["allow"].(bool)
		actor, _ := n.Data["actor"].(string)
		entries = append(entries, portal.RepoIndexEntry{
			Repo:        repo,
			PRNumber:    num,
			Title:       n.Title,
			Actor:       actor,
			Allow:       allow,
			GeneratedAt: n.UpdatedAt.Format(time.RFC3339),
			DigestKey:   fmt.Sprintf("%s-%d", repo, num),
		})
	}
	return portal.BuildRepoIndexPage(repo, entries), true
}

const maxRepoIndexNodes = 50

// RecordSLOSample is activity 8: record_slo_sample(received_at, publish_completed_at).
func (a *Activities) RecordSLOSample(ctx context.Context, receivedAt, completedAt time.Time) error {
	if a.SLO != nil {
		a.SLO.RecordSample(ctx, receivedAt, completedAt)
	}
	return nil
}

// nodeIDFor mirrors internal/graph's unexported nodeID key shape so
// edges reference the same id the store will upsert the node under.
func nodeIDFor(n model.KGNode) string {
	return strings.ToLower(string(n.Ntype)) + ":" + n.Nkey
}

func itoaPR(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

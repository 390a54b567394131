package workflow

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
	"github.com/Ava-Prime/gitguard-sub000/internal/policy"
)

// SignalNextEvent is the signal name used by SignalWithStartWorkflow:
// every delivery for a given WorkflowKey is sent here rather than
// starting a new workflow execution, so same-key deliveries serialize
// through one running GovernEvent instance (Testable Property 7).
const SignalNextEvent = "next_event"

// ownersDebounce is OWNERS_DEBOUNCE from spec §4.8: recompute_owners
// coalesces every touched-node batch that arrives within this window
// into a single activity call.
const ownersDebounce = 10 * time.Second

// historyRotationThreshold bounds how many events one workflow
// execution processes before continuing as new, keeping its event
// history from growing unbounded for a hot (repo, pr) key.
const historyRotationThreshold = 200

var defaultActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 30 * time.Second,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    5,
	},
}

var publishPortalActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 120 * time.Second,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    5,
	},
}

// GovernEventParams is GovernEvent's workflow input: the first event to
// process plus the static policy thresholds threaded through every
// evaluate_policies call this execution makes.
type GovernEventParams struct {
	First      *NormalizeInput
	Thresholds policy.Thresholds
}

// GovernEvent runs spec.md §4.8's eight activities, in order, once per
// admitted delivery, and keeps draining SignalNextEvent for the
// lifetime of its (repo, pr|tag) key so later deliveries for the same
// key replay against a warm, serialized workflow instance instead of
// racing a freshly started one.
func GovernEvent(ctx workflow.Context, params GovernEventParams) error {
	logger := workflow.GetLogger(ctx)
	sigCh := workflow.GetSignalChannel(ctx, SignalNextEvent)

	var pending []NormalizeInput
	if params.First != nil {
		pending = append(pending, *params.First)
	}
	processed := 0
	var pendingOwners []Touched

	for {
		for len(pending) > 0 {
			in := pending[0]
			pending = pending[1:]

			touched, err := processEvent(ctx, in, params.Thresholds)
			if err != nil {
				if isFatal(err) {
					deadLetter(ctx, in, err)
					continue
				}
				logger.Warn("event processing failed, continuing", "delivery_id", in.DeliveryID, "error", err)
				continue
			}
			pendingOwners = append(pendingOwners, touched...)
			processed++
		}

		selector := workflow.NewSelector(ctx)
		gotSignal := false

		selector.AddReceive(sigCh, func(c workflow.ReceiveChannel, _ bool) {
			var next NormalizeInput
			c.Receive(ctx, &next)
			pending = append(pending, next)
			gotSignal = true
		})

		if len(pendingOwners) > 0 {
			timerCtx, cancelTimer := workflow.WithCancel(ctx)
			timer := workflow.NewTimer(timerCtx, ownersDebounce)
			selector.AddFuture(timer, func(workflow.Future) {
				batch := pendingOwners
				pendingOwners = nil
				actCtx := workflow.WithActivityOptions(ctx, defaultActivityOptions)
				_ = workflow.ExecuteActivity(actCtx, ActivityRecomputeOwners, batch).Get(actCtx, nil)
				cancelTimer()
			})
		}

		selector.Select(ctx)

		if processed >= historyRotationThreshold && len(pending) == 0 && len(pendingOwners) == 0 {
			return workflow.NewContinueAsNewError(ctx, GovernEvent, GovernEventParams{
				Thresholds: params.Thresholds,
			})
		}
		if !gotSignal && len(pending) == 0 && len(pendingOwners) == 0 {
			return nil
		}
	}
}

func processEvent(ctx workflow.Context, in NormalizeInput, thresholds policy.Thresholds) ([]Touched, error) {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions)

	var event model.Event
	if err := workflow.ExecuteActivity(ctx, ActivityNormalize, in).Get(ctx, &event); err != nil {
		return nil, err
	}

	var facts model.ChangeFacts
	if err := workflow.ExecuteActivity(ctx, ActivityDeriveFacts, in).Get(ctx, &facts); err != nil {
		return nil, err
	}

	var score model.RiskScore
	if err := workflow.ExecuteActivity(ctx, ActivityScoreRisk, facts).Get(ctx, &score); err != nil {
		return nil, err
	}

	var decision model.PolicyDecision
	evalErr := workflow.ExecuteActivity(ctx, ActivityEvaluatePolicy, EvaluatePoliciesInput{
		Event:      event,
		Facts:      facts,
		Score:      score,
		Approvals:  event.Approvals,
		Thresholds: thresholds,
		Now:        workflow.Now(ctx),
	}).Get(ctx, &decision)
	if evalErr != nil {
		// PolicyEvaluationError: reported into the receipts, workflow
		// continues rather than failing the whole event.
		decision.Allow = false
		decision.Denies = append(decision.Denies, model.DenyReason{Rule: "policy_engine", Msg: evalErr.Error()})
	}

	var touched []Touched
	if err := workflow.ExecuteActivity(ctx, ActivityUpdateGraph, UpdateGraphInput{
		Event: event, Facts: facts, Score: score, Decision: decision,
	}).Get(ctx, &touched); err != nil {
		return nil, err
	}

	publishCtx := workflow.WithActivityOptions(ctx, publishPortalActivityOptions)
	var pages []model.PortalPage
	if err := workflow.ExecuteActivity(publishCtx, ActivityPublishPortal, PublishPortalInput{
		Event: event, Facts: facts, Score: score, Decision: decision, Touched: touched,
	}).Get(publishCtx, &pages); err != nil {
		return nil, err
	}

	completedAt := workflow.Now(ctx)
	_ = workflow.ExecuteActivity(ctx, ActivityRecordSLOSample, event.ReceivedAt, completedAt).Get(ctx, nil)

	return touched, nil
}

// isFatal reports whether err belongs to spec §4.8's dead-letter
// bucket (malformed event past normalization, graph constraint
// violation) rather than its retry-then-continue bucket.
func isFatal(err error) bool {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.NonRetryable()
	}
	return false
}

func deadLetter(ctx workflow.Context, in NormalizeInput, cause error) {
	logger := workflow.GetLogger(ctx)
	logger.Error("event routed to dead letter", "delivery_id", in.DeliveryID, "error", cause)
	// The stream consumer (internal/stream) owns republishing to
	// gh.dlq.* on NonRetryable application errors surfaced from
	// activities; this workflow only needs to stop retrying the event
	// and record why.
}

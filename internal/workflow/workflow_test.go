package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
	"github.com/Ava-Prime/gitguard-sub000/internal/policy"
)

type workflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *workflowSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
}

func (s *workflowSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(workflowSuite))
}

func normalizeInput() NormalizeInput {
	return NormalizeInput{
		DeliveryID: "d-1",
		Kind:       model.EventPullRequest,
		Payload:    map[string]interface{}{"number": float64(7)},
		ReceivedAt: time.Now(),
	}
}

// TestGovernEventRunsAllEightActivitiesThenReturns mocks every activity
// a single event needs and checks GovernEvent completes once the signal
// channel goes quiet, matching the "drain then exit" half of the
// workflow's for-loop (spec §4.8's eight-activity sequence).
func (s *workflowSuite) TestGovernEventRunsAllEightActivitiesThenReturns() {
	in := normalizeInput()
	event := model.Event{DeliveryID: in.DeliveryID, Kind: in.Kind, PRNumber: 7, ReceivedAt: in.ReceivedAt}
	facts := model.ChangeFacts{ChangeType: model.ChangeFeat, SizeCategory: model.SizeS}
	score := model.RiskScore{Value: 0.1, Breakdown: map[string]float64{}}
	decision := model.PolicyDecision{Allow: true}
	touched := []Touched{{Ntype: model.NodePR, Nkey: "acme/widgets#7"}}

	s.env.OnActivity(ActivityNormalize, mock.Anything, in).Return(event, nil)
	s.env.OnActivity(ActivityDeriveFacts, mock.Anything, in).Return(facts, nil)
	s.env.OnActivity(ActivityScoreRisk, mock.Anything, facts).Return(score, nil)
	s.env.OnActivity(ActivityEvaluatePolicy, mock.Anything, mock.AnythingOfType("EvaluatePoliciesInput")).Return(decision, nil)
	s.env.OnActivity(ActivityUpdateGraph, mock.Anything, mock.AnythingOfType("UpdateGraphInput")).Return(touched, nil)
	s.env.OnActivity(ActivityPublishPortal, mock.Anything, mock.AnythingOfType("PublishPortalInput")).
		Return([]model.PortalPage{{Kind: model.PagePR, Key: "acme-widgets-7"}}, nil)
	s.env.OnActivity(ActivityRecordSLOSample, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity(ActivityRecomputeOwners, mock.Anything, mock.Anything).Return(nil)

	s.env.ExecuteWorkflow(GovernEvent, GovernEventParams{First: &in, Thresholds: policy.Thresholds{}})

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

// TestGovernEventDrainsSignaledEvents checks a second delivery arriving
// via SignalNextEvent while the workflow is running gets processed
// through the same eight-activity chain before the workflow exits —
// the same-key serialization spec §4.8 requires.
func (s *workflowSuite) TestGovernEventDrainsSignaledEvents() {
	first := normalizeInput()
	second := normalizeInput()
	second.DeliveryID = "d-2"

	event := model.Event{Kind: model.EventPullRequest, PRNumber: 7}
	facts := model.ChangeFacts{}
	score := model.RiskScore{Breakdown: map[string]float64{}}
	decision := model.PolicyDecision{Allow: true}

	touched := []Touched{{Ntype: model.NodePR, Nkey: "acme/widgets#7"}}

	s.env.OnActivity(ActivityNormalize, mock.Anything, mock.Anything).Return(event, nil).Times(2)
	s.env.OnActivity(ActivityDeriveFacts, mock.Anything, mock.Anything).Return(facts, nil).Times(2)
	s.env.OnActivity(ActivityScoreRisk, mock.Anything, mock.Anything).Return(score, nil).Times(2)
	s.env.OnActivity(ActivityEvaluatePolicy, mock.Anything, mock.Anything).Return(decision, nil).Times(2)
	s.env.OnActivity(ActivityUpdateGraph, mock.Anything, mock.Anything).Return(touched, nil).Times(2)
	s.env.OnActivity(ActivityPublishPortal, mock.Anything, mock.Anything).Return([]model.PortalPage{}, nil).Times(2)
	s.env.OnActivity(ActivityRecordSLOSample, mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(2)
	s.env.OnActivity(ActivityRecomputeOwners, mock.Anything, mock.Anything).Return(nil)

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalNextEvent, second)
	}, time.Millisecond)

	s.env.ExecuteWorkflow(GovernEvent, GovernEventParams{First: &first, Thresholds: policy.Thresholds{}})

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func TestIsFatalDistinguishesNonRetryableApplicationErrors(t *testing.T) {
	if isFatal(nil) {
		t.Fatal("nil error must not be fatal")
	}
	if isFatal(context.DeadlineExceeded) {
		t.Fatal("a plain error must not be treated as fatal")
	}
}

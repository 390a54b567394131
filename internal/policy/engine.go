package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

// Input is the document every rule is evaluated against. Field names
// mirror spec §4.5's canonical input shape, widened with the risk score
// and change facts that feed into policy per the orchestrator's
// evaluate_policies step.
type Input struct {
	Action     string                 `json:"action"`
	Repo       string                 `json:"repo"`
	Actor      string                 `json:"actor"`
	PR         map[string]interface{} `json:"pr,omitempty"`
	Push       map[string]interface{} `json:"push,omitempty"`
	Tag        string                 `json:"tag,omitempty"`
	Approvals  int                    `json:"approvals"`
	Facts      model.ChangeFacts      `json:"facts"`
	Risk       model.RiskScore        `json:"risk"`
	Thresholds Thresholds             `json:"thresholds"`
	Now        string                 `json:"now"`      // RFC3339, supplied by the caller so evaluation stays deterministic
	Timezone   string                 `json:"timezone"` // IANA zone name Now's offset was formatted in; rules needing local wall-clock (e.g. deny_weekend_freeze) pass this to time.weekday/time.clock rather than assuming UTC
}

// Thresholds carries the spec §6 tunables a rule may read.
type Thresholds struct {
	RequireReview      float64 `json:"require_review"`
	Block              float64 `json:"block"`
	AutoMerge          float64 `json:"auto_merge"`
	RequiredApprovals  int     `json:"required_approvals"`
}

// Engine evaluates an Input against the currently active Bundle.
type Engine struct {
	bundle *Bundle
}

// NewEngine builds an Engine pinned to an initial bundle. Use Swap to
// install a reloaded bundle (internal/policy/reload.go does this from an
// fsnotify watch).
func NewEngine(b *Bundle) *Engine {
	return &Engine{bundle: b}
}

// Swap atomically replaces the active bundle.
func (e *Engine) Swap(b *Bundle) {
	e.bundle = b
}

// RuleNames lists the currently loaded rules, for callers that need to
// distinguish a rule the bundle still carries from one a prior reload
// dropped (the maintenance vacuum's stale-governed_by-edge check).
func (e *Engine) RuleNames() []string {
	names := make([]string, len(e.bundle.Rules))
	for i, r := range e.bundle.Rules {
		names[i] = r.Name
	}
	return names
}

// Evaluate runs every rule in the active bundle against input and folds
// the results into a PolicyDecision: Allow is true iff at least one
// allow rule fired and no deny rule fired, per model.PolicyDecision's
// invariant.
func (e *Engine) Evaluate(ctx context.Context, input Input) (model.PolicyDecision, error) {
	raw, err := toInputDoc(input)
	if err != nil {
		return model.PolicyDecision{}, fmt.Errorf("policy: marshal input: %w", err)
	}

	decision := model.PolicyDecision{}
	anyAllowFired := false

	for _, rule := range e.bundle.Rules {
		fired, msg, evalErr := evalRule(ctx, rule, raw)
		receipt := model.Receipt{
			RuleName:      rule.Name,
			SourceSnippet: rule.Source,
			InputsUsed:    rule.InputsUsed,
			Fired:         fired,
		}
		if evalErr != nil {
			receipt.Fired = true
			msg = fmt.Sprintf("rule_error: %v", evalErr)
			decision.Denies = append(decision.Denies, model.DenyReason{Rule: rule.Name, Msg: msg})
			decision.Receipts = append(decision.Receipts, receipt)
			continue
		}
		decision.Receipts = append(decision.Receipts, receipt)
		if !fired {
			continue
		}
		switch rule.Kind {
		case KindAllow:
			anyAllowFired = true
		case KindDeny:
			decision.Denies = append(decision.Denies, model.DenyReason{Rule: rule.Name, Msg: msg})
		}
	}

	decision.Allow = anyAllowFired && len(decision.Denies) == 0
	return decision, nil
}

func evalRule(ctx context.Context, rule Rule, inputDoc map[string]interface{}) (fired bool, msg string, err error) {
	query := fmt.Sprintf("data.%s", rule.Package)
	r := rego.New(
		rego.Query(query),
		rego.Module(rule.Name+".rego", rule.Source),
		rego.Input(inputDoc),
	)
	rs, err := r.Eval(ctx)
	if err != nil {
		return false, "", err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, "", nil
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return false, "", nil
	}
	fired, _ = obj["fired"].(bool)
	msg, _ = obj["msg"].(string)
	if msg == "" {
		msg = rule.Name
	}
	return fired, msg, nil
}

func toInputDoc(input Input) (map[string]interface{}, error) {
	b, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

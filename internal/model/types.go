// Package model holds the entities shared across GitGuard's components:
// the normalized event record, derived change facts, risk scores, policy
// decisions, knowledge-graph nodes/edges, the owners index, and portal
// pages. None of these types own I/O; persistence lives in the owning
// component package (dedup, graph, portal).
package model

import "time"

// EventKind enumerates the Git-host event kinds GitGuard normalizes.
type EventKind string

const (
	EventPullRequest EventKind = "pull_request"
	EventPush        EventKind = "push"
	EventReview      EventKind = "review"
	EventCheckRun    EventKind = "check_run"
	EventRelease     EventKind = "release"
	EventPing        EventKind = "ping"
)

// ChangeType is the conventional-commit derived classification of a change.
type ChangeType string

const (
	ChangeDocs     ChangeType = "docs"
	ChangeChore    ChangeType = "chore"
	ChangeFix      ChangeType = "fix"
	ChangeFeat     ChangeType = "feat"
	ChangeRefactor ChangeType = "refactor"
)

// SizeCategory buckets a change by lines touched.
type SizeCategory string

const (
	SizeXS SizeCategory = "XS"
	SizeS  SizeCategory = "S"
	SizeM  SizeCategory = "M"
	SizeL  SizeCategory = "L"
	SizeXL SizeCategory = "XL"
)

// RepoRef identifies a repository on the Git host.
type RepoRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (r RepoRef) String() string {
	if r.Owner == "" {
		return r.Name
	}
	return r.Owner + "/" + r.Name
}

// DeliveryRecord is the dedup ledger row for one webhook delivery attempt.
// Invariant: inserting an existing id returns "seen"; the record is never
// mutated afterward.
type DeliveryRecord struct {
	DeliveryID string    `json:"delivery_id"`
	ReceivedAt time.Time `json:"received_at"`
	EventKind  string    `json:"event_kind"`
	RawDigest  string    `json:"raw_digest"`
}

// Event is the normalized, immutable-once-admitted internal event record.
type Event struct {
	DeliveryID string                 `json:"delivery_id"`
	Kind       EventKind              `json:"kind"`
	Action     string                 `json:"action"`
	Repo       RepoRef                `json:"repo"`
	Actor      string                 `json:"actor"`
	CreatedAt  time.Time              `json:"created_at"`
	ReceivedAt time.Time              `json:"received_at"`
	PRNumber   int                    `json:"pr_number,omitempty"`
	Tag        string                 `json:"tag,omitempty"`
	Title      string                 `json:"title,omitempty"`
	Approvals  int                    `json:"approvals,omitempty"`
	Payload    map[string]interface{} `json:"payload"`
}

// WorkflowKey returns the serialization key for the orchestrator: events
// for the same (repo, pr_number) or (repo, release_tag) run strictly in
// stream order; events for different keys run independently.
func (e Event) WorkflowKey() string {
	switch {
	case e.PRNumber > 0:
		return e.Repo.String() + "#pr-" + itoa(e.PRNumber)
	case e.Tag != "":
		return e.Repo.String() + "#tag-" + e.Tag
	default:
		return e.Repo.String() + "#" + string(e.Kind)
	}
}

func itoa(n int) string {
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

// ChangeFacts is the derived, numeric/boolean summary of a change.
type ChangeFacts struct {
	LinesChanged     int          `json:"lines_changed"`
	FilesTouched     []string     `json:"files_touched"`
	CoverageDelta    float64      `json:"coverage_delta"`
	PerfDelta        float64      `json:"perf_delta"`
	ChangeType       ChangeType   `json:"change_type"`
	SecurityFlags    bool         `json:"security_flags"`
	RubricFailures   []int        `json:"rubric_failures"`
	NewTests         bool         `json:"new_tests"`
	SizeCategory     SizeCategory `json:"size_category"`
	Truncated        bool         `json:"truncated"`
}

// RiskScore is the transparent, weighted numeric risk model's output.
// Invariant: Value == clamp(sum(Breakdown), 0, 1) rounded to 3 decimals.
type RiskScore struct {
	Value     float64            `json:"value"`
	Breakdown map[string]float64 `json:"breakdown"`
}

// DenyReason is one fired deny rule.
type DenyReason struct {
	Rule string `json:"rule"`
	Msg  string `json:"msg"`
}

// Receipt documents one rule's evaluation, win or lose.
type Receipt struct {
	RuleName      string   `json:"rule_name"`
	SourceSnippet string   `json:"source_snippet"`
	InputsUsed    []string `json:"inputs_used"`
	Fired         bool     `json:"fired"`
}

// PolicyDecision is the policy engine's output. Invariant: Allow ==
// (no deny fires AND at least one allow rule fires).
type PolicyDecision struct {
	Allow    bool         `json:"allow"`
	Denies   []DenyReason `json:"denies"`
	Receipts []Receipt    `json:"receipts"`
}

// NodeType enumerates knowledge-graph node kinds.
type NodeType string

const (
	NodePR      NodeType = "PR"
	NodeCommit  NodeType = "Commit"
	NodeSymbol  NodeType = "Symbol"
	NodeFile    NodeType = "File"
	NodeADR     NodeType = "ADR"
	NodePolicy  NodeType = "Policy"
	NodeIncident NodeType = "Incident"
	NodeOwner   NodeType = "Owner"
	NodeRelease NodeType = "Release"
)

// EdgeRel enumerates knowledge-graph edge relationships.
type EdgeRel string

const (
	RelDefines     EdgeRel = "defines"
	RelTouches     EdgeRel = "touches"
	RelTestedBy    EdgeRel = "tested_by"
	RelGovernedBy  EdgeRel = "governed_by"
	RelImplements  EdgeRel = "implements"
	RelAffectsPerf EdgeRel = "affects_perf"
	RelCaused      EdgeRel = "caused"
	RelMitigatedBy EdgeRel = "mitigated_by"
	RelOwns        EdgeRel = "owns"
	RelAuthored    EdgeRel = "authored"
)

// KGNode is a typed knowledge-graph node. Uniqueness: (Ntype, Nkey).
type KGNode struct {
	ID        string                 `json:"id"`
	Ntype     NodeType               `json:"ntype"`
	Nkey      string                 `json:"nkey"`
	Title     string                 `json:"title"`
	Data      map[string]interface{} `json:"data"`
	Embedding []float32              `json:"embedding,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// KGEdge is a typed knowledge-graph edge. Uniqueness: (Src, Dst, Rel).
type KGEdge struct {
	Src       string                 `json:"src"`
	Dst       string                 `json:"dst"`
	Rel       EdgeRel                `json:"rel"`
	Data      map[string]interface{} `json:"data"`
	CreatedAt time.Time              `json:"created_at"`
}

// OwnerKind distinguishes team ownership from individual ownership.
type OwnerKind string

const (
	OwnerTeam OwnerKind = "team"
	OwnerUser OwnerKind = "user"
)

// OwnerEntry is one ranked owner for a path prefix.
type OwnerEntry struct {
	Owner         string    `json:"owner"`
	Kind          OwnerKind `json:"kind"`
	ActivityScore float64   `json:"activity_score"`
	LastActivity  time.Time `json:"last_activity"`
}

// OwnersIndex maps a path prefix to its ranked owners.
type OwnersIndex struct {
	ByPath map[string][]OwnerEntry `json:"by_path"`
}

// PageKind enumerates portal page kinds.
type PageKind string

const (
	PagePR     PageKind = "pr"
	PageOwners PageKind = "owners"
	PageIndex  PageKind = "index"
)

// PortalPage is a regenerated-never-edited page the publisher emits.
type PortalPage struct {
	Kind           PageKind          `json:"kind"`
	Key            string            `json:"key"`
	BodyMarkdown   string            `json:"body_markdown"`
	Attachments    map[string][]byte `json:"-"`
	GeneratedAt    time.Time         `json:"generated_at"`
	FreshnessSample string           `json:"freshness_sample_id"`
}

// Package ingest normalizes a raw Git-host webhook payload into a
// model.Event and derives model.ChangeFacts from it, per SPEC_FULL.md
// §4.3. Host-specific field extraction lives in the per-kind functions
// below; callers (internal/ingress/hosts) are responsible for deciding
// which host adapter to invoke and for HMAC verification upstream of
// this package.
package ingest

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

// MaxPayloadFields caps how many of the raw payload's top-level keys are
// retained on Event.Payload once a change is marked truncated; past this
// size the payload is kept for audit but the body text inside it is not
// considered by any downstream fact projection.
const maxBodyRunes = 20000

var securityPathRe = regexp.MustCompile(`(?i)(auth|session|token|secret|crypto|password|permission|acl|rbac)`)

var conventionalCommitRe = regexp.MustCompile(`^(feat|fix|docs|chore|refactor)(\([^)]*\))?!?:\s`)

// NormalizePullRequest builds an Event + ChangeFacts pair from a GitHub
// "pull_request" webhook payload.
func NormalizePullRequest(deliveryID string, payload map[string]interface{}, receivedAt time.Time) (model.Event, model.ChangeFacts) {
	action, _ := payload["action"].(string)
	pr, _ := payload["pull_request"].(map[string]interface{})

	ev := model.Event{
		DeliveryID: deliveryID,
		Kind:       model.EventPullRequest,
		Action:     action,
		Repo:       repoRef(payload),
		Actor:      actorLogin(payload),
		ReceivedAt: receivedAt,
		CreatedAt:  receivedAt,
		PRNumber:   intField(payload, "number"),
		Title:      stringField(pr, "title"),
		Payload:    payload,
	}

	files := stringSliceField(pr, "changed_files_list")
	lines := intField(pr, "additions") + intField(pr, "deletions")
	body := stringField(pr, "body")
	ev.Approvals = approvalCount(pr)

	facts := model.ChangeFacts{
		LinesChanged:  lines,
		FilesTouched:  files,
		ChangeType:    classifyChangeType(ev.Title, body),
		SecurityFlags: anyPathMatches(files, securityPathRe) || securityPathRe.MatchString(ev.Title),
		NewTests:      touchesTestFile(files),
		SizeCategory:  sizeCategory(lines),
		Truncated:     len([]rune(body)) > maxBodyRunes,
	}
	return ev, facts
}

// NormalizePush builds an Event + ChangeFacts pair from a GitHub "push"
// webhook payload.
func NormalizePush(deliveryID string, payload map[string]interface{}, receivedAt time.Time) (model.Event, model.ChangeFacts) {
	ev := model.Event{
		DeliveryID: deliveryID,
		Kind:       model.EventPush,
		Action:     "push",
		Repo:       repoRef(payload),
		Actor:      actorLogin(payload),
		ReceivedAt: receivedAt,
		CreatedAt:  receivedAt,
		Payload:    payload,
	}

	commits, _ := payload["commits"].([]interface{})
	var files []string
	var messages []string
	lines := 0
	for _, c := range commits {
		commit, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		messages = append(messages, stringField(commit, "message"))
		files = append(files, stringSliceField(commit, "added")...)
		files = append(files, stringSliceField(commit, "modified")...)
		files = append(files, stringSliceField(commit, "removed")...)
		lines += len(stringSliceField(commit, "added")) + len(stringSliceField(commit, "modified")) + len(stringSliceField(commit, "removed"))
	}

	facts := model.ChangeFacts{
		LinesChanged:  lines,
		FilesTouched:  dedupeStrings(files),
		ChangeType:    classifyChangeType(strings.Join(messages, "\n"), ""),
		SecurityFlags: anyPathMatches(files, securityPathRe),
		NewTests:      touchesTestFile(files),
		SizeCategory:  sizeCategory(lines),
	}
	return ev, facts
}

// NormalizeRelease builds an Event + ChangeFacts pair from a GitHub
// "release" webhook payload.
func NormalizeRelease(deliveryID string, payload map[string]interface{}, receivedAt time.Time) (model.Event, model.ChangeFacts) {
	action, _ := payload["action"].(string)
	release, _ := payload["release"].(map[string]interface{})

	ev := model.Event{
		DeliveryID: deliveryID,
		Kind:       model.EventRelease,
		Action:     action,
		Repo:       repoRef(payload),
		Actor:      actorLogin(payload),
		ReceivedAt: receivedAt,
		CreatedAt:  receivedAt,
		Tag:        stringField(release, "tag_name"),
		Title:      stringField(release, "name"),
		Payload:    payload,
	}
	return ev, model.ChangeFacts{ChangeType: model.ChangeChore, SizeCategory: model.SizeXS}
}

func classifyChangeType(title, body string) model.ChangeType {
	subject := strings.TrimSpace(strings.ToLower(title))
	if m := conventionalCommitRe.FindStringSubmatch(subject); m != nil {
		switch m[1] {
		case "feat":
			return model.ChangeFeat
		case "fix":
			return model.ChangeFix
		case "docs":
			return model.ChangeDocs
		case "chore":
			return model.ChangeChore
		case "refactor":
			return model.ChangeRefactor
		}
	}
	combined := subject + " " + strings.ToLower(body)
	switch {
	case strings.Contains(combined, "fix") || strings.Contains(combined, "bug"):
		return model.ChangeFix
	case strings.Contains(combined, "doc"):
		return model.ChangeDocs
	case strings.Contains(combined, "refactor"):
		return model.ChangeRefactor
	case strings.Contains(combined, "chore"):
		return model.ChangeChore
	default:
		return model.ChangeFeat
	}
}

func sizeCategory(lines int) model.SizeCategory {
	switch {
	case lines < 20:
		return model.SizeXS
	case lines < 80:
		return model.SizeS
	case lines < 250:
		return model.SizeM
	case lines < 800:
		return model.SizeL
	default:
		return model.SizeXL
	}
}

func touchesTestFile(files []string) bool {
	for _, f := range files {
		lower := strings.ToLower(f)
		if strings.Contains(lower, "_test.") || strings.Contains(lower, "/test/") || strings.Contains(lower, "/tests/") {
			return true
		}
	}
	return false
}

func anyPathMatches(files []string, re *regexp.Regexp) bool {
	for _, f := range files {
		if re.MatchString(f) {
			return true
		}
	}
	return false
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// DeriveWorkflowKey extracts just enough of a raw payload (repo, PR
// number, release tag) to compute model.Event.WorkflowKey() before the
// full Normalize activity has run. The orchestrator's caller needs this
// key up front to route a delivery to the right GovernEvent workflow
// execution via SignalWithStartWorkflow, which happens outside the
// workflow itself.
func DeriveWorkflowKey(kind model.EventKind, payload map[string]interface{}) string {
	ev := model.Event{Repo: repoRef(payload)}
	switch kind {
	case model.EventPullRequest, model.EventReview, model.EventCheckRun:
		ev.PRNumber = intField(payload, "number")
		if ev.PRNumber == 0 {
			if pr, ok := payload["pull_request"].(map[string]interface{}); ok {
				ev.PRNumber = intField(pr, "number")
			}
		}
	case model.EventRelease:
		release, _ := payload["release"].(map[string]interface{})
		ev.Tag = stringField(release, "tag_name")
	}
	return ev.WorkflowKey()
}

// approvalCount reads a pull request's approved-review tally if the
// webhook's host adapter supplied one. GitHub's own "pull_request"
// payload carries no such aggregate — an approval is only ever
// reported one review at a time, on a separate "pull_request_review"
// delivery, which this package does not yet fold into a running
// per-PR count (would need a persistent counter keyed by PR, not a
// field read out of one payload). Non-GitHub adapters that do report
// an aggregate under "approved_review_count" are honored here so the
// field isn't dead once such an adapter exists.
func approvalCount(pr map[string]interface{}) int {
	return intField(pr, "approved_review_count")
}

func repoRef(payload map[string]interface{}) model.RepoRef {
	repo, _ := payload["repository"].(map[string]interface{})
	fullName := stringField(repo, "full_name")
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) == 2 {
		return model.RepoRef{Owner: parts[0], Name: parts[1]}
	}
	return model.RepoRef{Name: stringField(repo, "name")}
}

func actorLogin(payload map[string]interface{}) string {
	if sender, ok := payload["sender"].(map[string]interface{}); ok {
		if login := stringField(sender, "login"); login != "" {
			return login
		}
	}
	return ""
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]interface{}, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case int:
		return v
	default:
		return 0
	}
}

func stringSliceField(m map[string]interface{}, key string) []string {
	if m == nil {
		return nil
	}
	raw, _ := m[key].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

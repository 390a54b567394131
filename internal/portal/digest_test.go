package portal

import (
	"strings"
	"testing"
	"time"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

func sampleEvent() model.Event {
	return model.Event{
		DeliveryID: "d1",
		Kind:       model.EventPullRequest,
		Action:     "opened",
		Repo:       model.RepoRef{Owner: "acme", Name: "widgets"},
		PRNumber:   42,
		Title:      "Add widget cache",
		Actor:      "ada",
		ReceivedAt: time.Now(),
	}
}

func TestBuildPRDigestRendersAllSections(t *testing.T) {
	event := sampleEvent()
	facts := model.ChangeFacts{
		ChangeType:   model.ChangeFeat,
		SizeCategory: model.SizeM,
		LinesChanged: 120,
		FilesTouched: []string{"b.go", "a.go"},
	}
	score := model.RiskScore{
		Value:     0.42,
		Breakdown: map[string]float64{"type_risk": 0.1, "size_risk": 0.2},
	}
	decision := model.PolicyDecision{
		Allow: false,
		Denies: []model.DenyReason{
			{Rule: "deny_security", Msg: "touches secrets"},
		},
		Receipts: []model.Receipt{
			{RuleName: "deny_security", Fired: true, InputsUsed: []string{"facts.files_touched"}, SourceSnippet: "fired if {...}"},
		},
	}

	page := BuildPRDigest(event, facts, score, decision, nil, nil)

	if page.Kind != model.PagePR {
		t.Fatalf("kind = %v, want PagePR", page.Kind)
	}
	body := page.BodyMarkdown
	for _, want := range []string{
		"PR #42", "Add widget cache", "## Changed files", "`a.go`", "`b.go`",
		"## Governance", "⛔ **Blocked**", "deny_security", "## Policy receipts",
		"## Risk breakdown", "type_risk", "## Graph", "```mermaid",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("digest missing %q\n---\n%s", want, body)
		}
	}
}

func TestBuildPRDigestFallsBackWithoutGraphNeighbors(t *testing.T) {
	event := sampleEvent()
	page := BuildPRDigest(event, model.ChangeFacts{}, model.RiskScore{}, model.PolicyDecision{Allow: true}, nil, nil)
	if !strings.Contains(page.BodyMarkdown, "graph TD") {
		t.Fatalf("expected placeholder mermaid graph, got:\n%s", page.BodyMarkdown)
	}
	if !strings.Contains(page.BodyMarkdown, "✅ **Allowed**") {
		t.Fatalf("expected allowed governance line, got:\n%s", page.BodyMarkdown)
	}
}

func TestWriteChangedFilesTruncatesAtCap(t *testing.T) {
	files := make([]string, maxDigestFiles+5)
	for i := range files {
		files[i] = string(rune('a'+i%26)) + ".go"
	}
	var b strings.Builder
	writeChangedFiles(&b, files)
	if !strings.Contains(b.String(), "...and 5 more") {
		t.Fatalf("expected truncation marker, got:\n%s", b.String())
	}
}

package ingest

import (
	"testing"
	"time"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

func TestNormalizePullRequestDocsOnly(t *testing.T) {
	payload := map[string]interface{}{
		"action": "opened",
		"number": float64(42),
		"repository": map[string]interface{}{
			"full_name": "acme/widgets",
		},
		"sender": map[string]interface{}{"login": "octocat"},
		"pull_request": map[string]interface{}{
			"title":               "docs: clarify install steps",
			"body":                "Just a README tweak.",
			"additions":           float64(20),
			"deletions":           float64(5),
			"changed_files_list":  []interface{}{"README.md"},
		},
	}
	ev, facts := NormalizePullRequest("delivery-1", payload, time.Now())

	if ev.Kind != model.EventPullRequest || ev.PRNumber != 42 || ev.Repo.String() != "acme/widgets" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if facts.ChangeType != model.ChangeDocs {
		t.Fatalf("expected docs change type, got %v", facts.ChangeType)
	}
	if facts.SizeCategory != model.SizeS {
		t.Fatalf("expected size S for 25 lines, got %v", facts.SizeCategory)
	}
	if facts.SecurityFlags {
		t.Fatal("expected no security flag for a docs-only change")
	}
}

func TestNormalizePullRequestSecurityPath(t *testing.T) {
	payload := map[string]interface{}{
		"action": "synchronize",
		"number": float64(7),
		"repository": map[string]interface{}{
			"full_name": "acme/widgets",
		},
		"pull_request": map[string]interface{}{
			"title":              "fix: tighten session validation",
			"additions":          float64(100),
			"deletions":          float64(50),
			"changed_files_list": []interface{}{"internal/auth/session.go"},
		},
	}
	_, facts := NormalizePullRequest("delivery-2", payload, time.Now())
	if !facts.SecurityFlags {
		t.Fatal("expected security flag for a path under internal/auth")
	}
	if facts.ChangeType != model.ChangeFix {
		t.Fatalf("expected fix change type, got %v", facts.ChangeType)
	}
}

func TestNormalizePushAggregatesCommits(t *testing.T) {
	payload := map[string]interface{}{
		"repository": map[string]interface{}{"full_name": "acme/widgets"},
		"sender":     map[string]interface{}{"login": "octocat"},
		"commits": []interface{}{
			map[string]interface{}{
				"message":  "feat: add export endpoint",
				"added":    []interface{}{"internal/api/export.go"},
				"modified": []interface{}{"internal/api/export_test.go"},
			},
			map[string]interface{}{
				"message":  "chore: tidy imports",
				"modified": []interface{}{"internal/api/export.go"},
			},
		},
	}
	ev, facts := NormalizePush("delivery-3", payload, time.Now())
	if ev.Kind != model.EventPush {
		t.Fatalf("expected push kind, got %v", ev.Kind)
	}
	if len(facts.FilesTouched) != 2 {
		t.Fatalf("expected 2 deduped files, got %v", facts.FilesTouched)
	}
	if !facts.NewTests {
		t.Fatal("expected new_tests true: a _test.go file was touched")
	}
}

func TestNormalizeReleaseIsLowRiskChore(t *testing.T) {
	payload := map[string]interface{}{
		"action":     "published",
		"repository": map[string]interface{}{"full_name": "acme/widgets"},
		"release":    map[string]interface{}{"tag_name": "v1.2.0", "name": "v1.2.0"},
	}
	ev, facts := NormalizeRelease("delivery-4", payload, time.Now())
	if ev.Tag != "v1.2.0" {
		t.Fatalf("expected tag v1.2.0, got %q", ev.Tag)
	}
	if facts.ChangeType != model.ChangeChore {
		t.Fatalf("expected chore change type, got %v", facts.ChangeType)
	}
}

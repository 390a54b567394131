package hosts

import (
	"testing"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

func TestGitHubParsePullRequest(t *testing.T) {
	body := []byte(`{
		"action": "opened",
		"pull_request": {"id": 123, "title": "Add widget cache"},
		"repository": {"full_name": "acme/widgets"}
	}`)
	kind, action, deliveryID, err := GitHub{}.Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != model.EventPullRequest {
		t.Fatalf("kind = %v, want pull_request", kind)
	}
	if action != "opened" {
		t.Fatalf("action = %q, want opened", action)
	}
	if deliveryID != "acme/widgets:pull_request:123" {
		t.Fatalf("deliveryID = %q", deliveryID)
	}
}

func TestGitHubParsePush(t *testing.T) {
	body := []byte(`{"commits": [{"message": "fix: x"}], "after": "abc123", "repository": {"full_name": "acme/widgets"}}`)
	kind, action, deliveryID, err := GitHub{}.Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != model.EventPush || action != "push" {
		t.Fatalf("kind/action = %v/%v, want push/push", kind, action)
	}
	if deliveryID != "acme/widgets:push:abc123" {
		t.Fatalf("deliveryID = %q", deliveryID)
	}
}

func TestGitHubParseRelease(t *testing.T) {
	body := []byte(`{"action": "published", "release": {"id": 99, "tag_name": "v1.2.3"}, "repository": {"full_name": "acme/widgets"}}`)
	kind, action, _, err := GitHub{}.Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != model.EventRelease || action != "published" {
		t.Fatalf("kind/action = %v/%v, want release/published", kind, action)
	}
}

func TestGitHubParseUnrecognizedShapeErrors(t *testing.T) {
	_, _, _, err := GitHub{}.Parse([]byte(`{"foo":"bar"}`))
	if err == nil {
		t.Fatal("expected an error for an unrecognized payload shape")
	}
}

func TestGitHubParseMalformedBodyErrors(t *testing.T) {
	_, _, _, err := GitHub{}.Parse([]byte(`not json`))
	if err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestNewRegistryKeysByName(t *testing.T) {
	reg := NewRegistry(GitHub{})
	if _, ok := reg["github"]; !ok {
		t.Fatalf("expected registry to contain %q, got %+v", "github", reg)
	}
}

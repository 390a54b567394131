package portal

import (
	"strings"
	"testing"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

func TestBuildRepoIndexPageOrdersNewestFirst(t *testing.T) {
	entries := []RepoIndexEntry{
		{Repo: "acme/widgets", PRNumber: 1, Title: "first", Actor: "ada", Allow: true, GeneratedAt: "2026-01-01T00:00:00Z", DigestKey: "acme/widgets-1"},
		{Repo: "acme/widgets", PRNumber: 2, Title: "second", Actor: "bea", Allow: false, GeneratedAt: "2026-02-01T00:00:00Z", DigestKey: "acme/widgets-2"},
	}

	page := BuildRepoIndexPage("acme/widgets", entries)

	if page.Kind != model.PageIndex {
		t.Fatalf("kind = %v, want PageIndex", page.Kind)
	}
	body := page.BodyMarkdown
	secondIdx := strings.Index(body, "#2")
	firstIdx := strings.Index(body, "#1")
	if secondIdx == -1 || firstIdx == -1 || secondIdx > firstIdx {
		t.Fatalf("expected #2 (newest) before #1, got:\n%s", body)
	}
	if !strings.Contains(body, "⛔") || !strings.Contains(body, "✅") {
		t.Fatalf("expected both governance markers, got:\n%s", body)
	}
}

func TestBuildRepoIndexPageTruncatesAtCap(t *testing.T) {
	entries := make([]RepoIndexEntry, maxIndexEntries+3)
	for i := range entries {
		entries[i] = RepoIndexEntry{
			Repo:        "acme/widgets",
			PRNumber:    i + 1,
			Title:       "pr",
			GeneratedAt: "2026-01-01T00:00:00Z",
			DigestKey:   "acme/widgets-1",
		}
	}

	page := BuildRepoIndexPage("acme/widgets", entries)
	if !strings.Contains(page.BodyMarkdown, "...and 3 more") {
		t.Fatalf("expected truncation marker, got:\n%s", page.BodyMarkdown)
	}
}

package portal

import (
	"strings"
	"testing"
	"time"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

func TestRenderMermaidOrdersDeterministically(t *testing.T) {
	nodes := []model.KGNode{
		{ID: "file:b.go", Ntype: model.NodeFile, Nkey: "b.go", Title: "b.go"},
		{ID: "pr:acme/widgets#42", Ntype: model.NodePR, Nkey: "acme/widgets#42", Title: "Add widget cache"},
		{ID: "file:a.go", Ntype: model.NodeFile, Nkey: "a.go", Title: "a.go"},
	}
	edges := []model.KGEdge{
		{Src: "pr:acme/widgets#42", Dst: "file:b.go", Rel: model.RelTouches},
		{Src: "pr:acme/widgets#42", Dst: "file:a.go", Rel: model.RelTouches},
	}

	out := RenderMermaid(nodes, edges)
	first := strings.Index(out, "file_a_go")
	second := strings.Index(out, "file_b_go")
	third := strings.Index(out, "pr_acme_widgets_42")
	if first < 0 || second < 0 || third < 0 {
		t.Fatalf("expected sanitized node ids present, got:\n%s", out)
	}
	if !(first < second && second < third) {
		t.Fatalf("expected (ntype,nkey) ascending order File,File,PR, got:\n%s", out)
	}
}

func TestRenderMermaidTruncatesAtCap(t *testing.T) {
	nodes := make([]model.KGNode, maxMermaidNodes+3)
	for i := range nodes {
		nodes[i] = model.KGNode{ID: string(rune('a' + i)), Ntype: model.NodeFile, Nkey: string(rune('a' + i))}
	}
	out := RenderMermaid(nodes, nil)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// 1 header line + maxMermaidNodes node lines
	if len(lines) != maxMermaidNodes+1 {
		t.Fatalf("expected %d lines, got %d:\n%s", maxMermaidNodes+1, len(lines), out)
	}
}

func TestRenderMermaidDropsEdgesToTruncatedNodes(t *testing.T) {
	nodes := []model.KGNode{
		{ID: "pr:1", Ntype: model.NodePR, Nkey: "1"},
	}
	edges := []model.KGEdge{
		{Src: "pr:1", Dst: "file:missing", Rel: model.RelTouches},
	}
	out := RenderMermaid(nodes, edges)
	if strings.Contains(out, "-->") {
		t.Fatalf("expected no edges rendered when dst is not in the kept node set, got:\n%s", out)
	}
}

func TestBuildOwnersIndexPageOrdersByPath(t *testing.T) {
	idx := model.OwnersIndex{
		ByPath: map[string][]model.OwnerEntry{
			"internal/graph": {{Owner: "team-graph", Kind: model.OwnerTeam, ActivityScore: 0.9, LastActivity: time.Now()}},
			"cmd/worker":     {{Owner: "ada", Kind: model.OwnerUser, ActivityScore: 0.4, LastActivity: time.Now()}},
		},
	}
	page := BuildOwnersIndexPage(idx)
	if page.Kind != model.PageOwners {
		t.Fatalf("kind = %v, want PageOwners", page.Kind)
	}
	body := page.BodyMarkdown
	cmdIdx := strings.Index(body, "cmd/worker")
	graphIdx := strings.Index(body, "internal/graph")
	if cmdIdx < 0 || graphIdx < 0 || cmdIdx > graphIdx {
		t.Fatalf("expected cmd/worker before internal/graph (lexical path order), got:\n%s", body)
	}
}

func TestBuildRepoIndexPageNewestFirst(t *testing.T) {
	entries := []RepoIndexEntry{
		{Repo: "acme/widgets", PRNumber: 1, Title: "old", GeneratedAt: "2026-01-01T00:00:00Z", DigestKey: "acme-widgets-1"},
		{Repo: "acme/widgets", PRNumber: 2, Title: "new", GeneratedAt: "2026-06-01T00:00:00Z", DigestKey: "acme-widgets-2", Allow: true},
	}
	page := BuildRepoIndexPage("acme/widgets", entries)
	newIdx := strings.Index(page.BodyMarkdown, "new")
	oldIdx := strings.Index(page.BodyMarkdown, "old")
	if newIdx < 0 || oldIdx < 0 || newIdx > oldIdx {
		t.Fatalf("expected newest entry first, got:\n%s", page.BodyMarkdown)
	}
}

package portal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

// BuildPRDigest assembles the PR digest page (spec §4.9): summary,
// changed files, governance, policy receipts, risk breakdown, and a
// Mermaid graph, in that order. Grounded on the teacher's
// cmd/manager/digest.go — sort-then-render with strings.Builder,
// a hard per-section display cap, and a "..." continuation marker.
//
// nodes/edges is the PR node's BFS neighborhood from C6 (up to 20
// nodes); pass nil for either when the graph query failed so the rest
// of the digest can still ship.
func BuildPRDigest(event model.Event, facts model.ChangeFacts, score model.RiskScore, decision model.PolicyDecision, nodes []model.KGNode, edges []model.KGEdge) model.PortalPage {
	var b strings.Builder

	fmt.Fprintf(&b, "# PR #%d — %s\n\n", event.PRNumber, event.Title)
	fmt.Fprintf(&b, "**Repo:** %s  \n", event.Repo.String())
	fmt.Fprintf(&b, "**Actor:** %s  \n", event.Actor)
	fmt.Fprintf(&b, "**Action:** %s  \n", event.Action)
	fmt.Fprintf(&b, "**Change type:** %s  \n", facts.ChangeType)
	fmt.Fprintf(&b, "**Size:** %s (%d lines)  \n\n", facts.SizeCategory, facts.LinesChanged)

	b.WriteString("## Changed files\n\n")
	writeChangedFiles(&b, facts.FilesTouched)

	b.WriteString("\n## Governance\n\n")
	writeGovernance(&b, decision)

	b.WriteString("\n## Policy receipts\n\n")
	writeReceipts(&b, decision.Receipts)

	b.WriteString("\n## Risk breakdown\n\n")
	writeRiskBreakdown(&b, score)

	b.WriteString("\n## Graph\n\n")
	b.WriteString("```mermaid\n")
	if len(nodes) > 0 {
		b.WriteString(RenderMermaid(nodes, edges))
	} else {
		fmt.Fprintf(&b, "graph TD\n  %s[%q]\n", mermaidID(model.NodePR, prKey(event)), event.Title)
	}
	b.WriteString("```\n")

	return model.PortalPage{
		Kind:         model.PagePR,
		Key:          fmt.Sprintf("%s-%d", sanitizeKey(event.Repo.String()), event.PRNumber),
		BodyMarkdown: b.String(),
	}
}

const maxDigestFiles = 20

func writeChangedFiles(b *strings.Builder, files []string) {
	if len(files) == 0 {
		b.WriteString("_no files recorded_\n")
		return
	}
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	for i, f := range sorted {
		if i >= maxDigestFiles {
			fmt.Fprintf(b, "- ...and %d more\n", len(sorted)-maxDigestFiles)
			break
		}
		fmt.Fprintf(b, "- `%s`\n", f)
	}
}

func writeGovernance(b *strings.Builder, decision model.PolicyDecision) {
	if decision.Allow {
		b.WriteString("✅ **Allowed**\n")
	} else {
		b.WriteString("⛔ **Blocked**\n")
	}
	if len(decision.Denies) == 0 {
		return
	}
	b.WriteString("\nReasons:\n")
	for _, d := range decision.Denies {
		fmt.Fprintf(b, "- `%s`: %s\n", d.Rule, d.Msg)
	}
}

func writeReceipts(b *strings.Builder, receipts []model.Receipt) {
	sorted := append([]model.Receipt(nil), receipts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RuleName < sorted[j].RuleName })
	for _, r := range sorted {
		status := "did not fire"
		if r.Fired {
			status = "fired"
		}
		fmt.Fprintf(b, "<details><summary><code>%s</code> — %s</summary>\n\n", r.RuleName, status)
		fmt.Fprintf(b, "inputs used: `%s`\n\n", strings.Join(r.InputsUsed, ", "))
		b.WriteString("```rego\n")
		b.WriteString(r.SourceSnippet)
		b.WriteString("```\n\n</details>\n\n")
	}
}

var riskFactorOrder = []string{
	"type_risk", "size_risk", "churn_risk", "coverage_risk",
	"perf_risk", "security_risk", "rubric_risk", "test_bonus",
}

func writeRiskBreakdown(b *strings.Builder, score model.RiskScore) {
	fmt.Fprintf(b, "**Total:** %.3f\n\n", score.Value)
	b.WriteString("| factor | value |\n|---|---|\n")
	for _, name := range riskFactorOrder {
		if v, ok := score.Breakdown[name]; ok {
			fmt.Fprintf(b, "| %s | %.3f |\n", name, v)
		}
	}
}

func prKey(event model.Event) string {
	return event.Repo.String() + "#" + fmt.Sprintf("%d", event.PRNumber)
}

func mermaidID(ntype model.NodeType, nkey string) string {
	return sanitizeKey(strings.ToLower(string(ntype)) + "_" + nkey)
}

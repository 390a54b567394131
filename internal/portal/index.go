package portal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

// maxIndexEntries caps the repo index at its most recent entries,
// matching BuildPRDigest's maxDigestFiles-style display cap rather
// than growing the page unbounded.
const maxIndexEntries = 50

// RepoIndexEntry is one row the repo index links back to a PR digest.
type RepoIndexEntry struct {
	Repo        string
	PRNumber    int
	Title       string
	Actor       string
	Allow       bool
	GeneratedAt string
	DigestKey   string
}

// BuildRepoIndexPage renders the repo index (spec §4.9): the most
// recent PR digests, newest first.
func BuildRepoIndexPage(repo string, entries []RepoIndexEntry) model.PortalPage {
	sorted := append([]RepoIndexEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GeneratedAt > sorted[j].GeneratedAt })

	var b strings.Builder
	fmt.Fprintf(&b, "# %s — recent activity\n\n", repo)
	b.WriteString("| PR | title | actor | governance | generated |\n|---|---|---|---|---|\n")
	for i, e := range sorted {
		if i >= maxIndexEntries {
			fmt.Fprintf(&b, "\n_...and %d more_\n", len(sorted)-maxIndexEntries)
			break
		}
		status := "⛔"
		if e.Allow {
			status = "✅"
		}
		fmt.Fprintf(&b, "| [#%d](pr/%s.md) | %s | %s | %s | %s |\n",
			e.PRNumber, sanitizeKey(e.DigestKey), e.Title, e.Actor, status, e.GeneratedAt)
	}

	return model.PortalPage{
		Kind:         model.PageIndex,
		Key:          sanitizeKey(repo),
		BodyMarkdown: b.String(),
	}
}

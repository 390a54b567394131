package portal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

// BuildOwnersIndexPage renders the owners index page (spec §4.9): a
// table of path prefixes ordered by path, each with its ranked owners,
// activity heat, and last-activity timestamp.
func BuildOwnersIndexPage(idx model.OwnersIndex) model.PortalPage {
	paths := make([]string, 0, len(idx.ByPath))
	for p := range idx.ByPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	b.WriteString("# Owners index\n\n")
	b.WriteString("| path | owner | kind | activity | last active |\n|---|---|---|---|---|\n")
	for _, path := range paths {
		entries := append([]model.OwnerEntry(nil), idx.ByPath[path]...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].ActivityScore > entries[j].ActivityScore })
		for _, e := range entries {
			fmt.Fprintf(&b, "| `%s` | %s | %s | %.2f | %s |\n",
				path, e.Owner, e.Kind, e.ActivityScore, e.LastActivity.UTC().Format("2006-01-02"))
		}
	}

	return model.PortalPage{
		Kind:         model.PageOwners,
		Key:          "owners",
		BodyMarkdown: b.String(),
	}
}

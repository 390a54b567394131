// Package portal assembles and publishes the three portal page kinds
// from SPEC_FULL.md §4.9: PR digests, the owners index, and the repo
// index. Every rendered body passes through internal/redact before it
// reaches a Sink, matching C1's "applied last" placement.
package portal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
	"github.com/Ava-Prime/gitguard-sub000/internal/redact"
)

// Sink is where a rendered PortalPage ends up. A real object-storage
// sink is out of scope (binary artifact persistence is a stated
// Non-goal); these two implementations are the contract the rest of
// the pipeline is built against.
type Sink interface {
	Write(ctx context.Context, page model.PortalPage) error
}

// FileSink writes each page as a markdown file under a local root,
// keyed by kind/key — the default sink, and the one integration tests
// use.
type FileSink struct {
	Root     string
	redactor *redact.Redactor
}

// NewFileSink builds a FileSink rooted at root.
func NewFileSink(root string) *FileSink {
	return &FileSink{Root: root, redactor: redact.New()}
}

func (f *FileSink) Write(ctx context.Context, page model.PortalPage) error {
	path := filepath.Join(f.Root, string(page.Kind), sanitizeKey(page.Key)+".md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("portal: mkdir for %s: %w", path, err)
	}
	body := f.redactor.Redact(page.BodyMarkdown)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("portal: write %s: %w", path, err)
	}
	for name, data := range page.Attachments {
		attachPath := filepath.Join(f.Root, string(page.Kind), sanitizeKey(page.Key)+"."+name)
		if err := os.WriteFile(attachPath, data, 0o644); err != nil {
			return fmt.Errorf("portal: write attachment %s: %w", attachPath, err)
		}
	}
	return nil
}

// Compact removes PR digest pages last written before olderThan,
// bounding the digest directory's growth the same way dedup.Store's
// Compact bounds the ledger. Owners-index and repo-index pages are
// single files per repo and never accumulate, so only PagePR is pruned.
func (f *FileSink) Compact(ctx context.Context, olderThan time.Time) (int, error) {
	dir := filepath.Join(f.Root, string(model.PagePR))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("portal: read digest dir %s: %w", dir, err)
	}

	removed := 0
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		default:
		}
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(olderThan) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("portal: remove stale digest %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// DiscardSink accepts every write without touching disk, for chaos
// drills that want to exercise the pipeline's CPU/alloc path without a
// filesystem dependency.
type DiscardSink struct{}

func (DiscardSink) Write(context.Context, model.PortalPage) error { return nil }

func sanitizeKey(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

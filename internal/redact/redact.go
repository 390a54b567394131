// Package redact scrubs secrets out of any outbound text. It is applied
// last, after every other rendering step, and is idempotent:
// redact(redact(x)) == redact(x) for all strings.
package redact

import (
	"math"
	"regexp"
	"strings"
)

// Pattern is one secret-shaped regex and its replacement token.
type Pattern struct {
	Name        string
	Regexp      *regexp.Regexp
	Replacement string
}

var defaultPatterns = []Pattern{
	{
		Name:        "aws_access_key_id",
		Regexp:      regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		Replacement: "‹AWS_KEY_REDACTED›",
	},
	{
		Name:        "github_pat",
		Regexp:      regexp.MustCompile(`ghp_[0-9A-Za-z]{36,40}`),
		Replacement: "‹GH_TOKEN_REDACTED›",
	},
	{
		Name:        "ssh_public_key",
		Regexp:      regexp.MustCompile(`(ssh-(rsa|ed25519))\s+[A-Za-z0-9/+]+={0,3}`),
		Replacement: "‹SSH_KEY_REDACTED›",
	},
}

// configLineRe matches a "key: value" or "key = value" shaped line, the
// definition SPEC_FULL.md gives to an otherwise-vague "config-file-like
// context" for the high-entropy scanner.
var configLineRe = regexp.MustCompile(`^\s*[\w.\-]+\s*[:=]\s*(\S+)\s*$`)

const (
	minEntropyRunLength = 16
	minEntropyBits      = 4.5
)

// Redactor holds an immutable snapshot of the active pattern set. A
// process-wide instance is swapped atomically on config reload, matching
// the policy bundle's copy-on-reload convention.
type Redactor struct {
	patterns []Pattern
}

// New builds a Redactor from the default pattern set plus any extras
// supplied by configuration.
func New(extra ...Pattern) *Redactor {
	patterns := make([]Pattern, 0, len(defaultPatterns)+len(extra))
	patterns = append(patterns, defaultPatterns...)
	patterns = append(patterns, extra...)
	return &Redactor{patterns: patterns}
}

// Redact scrubs every known secret shape out of s. Safe to call twice:
// a placeholder never matches another pattern, and a high-entropy run
// that has already been replaced no longer looks high-entropy.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	out := s
	for _, p := range r.patterns {
		out = p.Regexp.ReplaceAllString(out, p.Replacement)
	}
	return redactHighEntropyLines(out)
}

func redactHighEntropyLines(s string) string {
	lines := strings.Split(s, "\n")
	changed := false
	for i, line := range lines {
		m := configLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := m[1]
		if looksLikeEntropyRun(value) {
			lines[i] = strings.Replace(line, value, "‹HIGH_ENTROPY_REDACTED›", 1)
			changed = true
		}
	}
	if !changed {
		return s
	}
	return strings.Join(lines, "\n")
}

func looksLikeEntropyRun(s string) bool {
	if len(s) < minEntropyRunLength {
		return false
	}
	if strings.Contains(s, "REDACTED") {
		return false
	}
	return shannonEntropy(s) > minEntropyBits
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int, len(s))
	for _, r := range s {
		counts[r]++
	}
	n := float64(len(s))
	var entropy float64
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

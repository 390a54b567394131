// Package policy evaluates a bundle of declarative Rego rules against a
// change, per SPEC_FULL.md §4.5. Each rule lives in its own file under a
// bundle directory, compiled into its own `gitguard.rules.<name>`
// package so it can be queried and receipted independently.
//
// A rule file's inputs_used set is declared, not inferred: Rego's input
// document compiles to an immutable AST term, so there is no Go map to
// interpose reads on the way a hand-rolled recording wrapper would. The
// declaration lives in a small header comment block, e.g.:
//
//	# gitguard:rule
//	# name: deny_security
//	# kind: deny
//	# inputs: facts.security_flags, risk.value
//	package gitguard.rules.deny_security
//
// This is the "rule author declares its reads" option SPEC_FULL.md's
// Design Notes call out as sufficient for the inputs_used soundness
// property: every field the declaration lists must actually be read by
// the rule body, so the reported set is never an undercount.
package policy

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RuleKind distinguishes an allow rule from a deny rule. A bundle must
// fire at least one allow rule and zero deny rules for the decision to
// be Allow==true.
type RuleKind string

const (
	KindAllow RuleKind = "allow"
	KindDeny  RuleKind = "deny"
)

// Rule is one loaded Rego module plus its declared metadata.
type Rule struct {
	Name       string
	Kind       RuleKind
	Package    string
	Source     string
	InputsUsed []string
}

// Bundle is an immutable, loaded set of rules. A fresh Bundle is built
// on every reload; callers swap the active pointer atomically.
type Bundle struct {
	Rules   []Rule
	Version string
}

const headerMarker = "# gitguard:rule"

// LoadBundle reads every *.rego file directly under dir and parses its
// declaration header. version is an opaque label (a content hash or
// timestamp) recorded on receipts so the portal can show which bundle
// produced a decision.
func LoadBundle(dir, version string) (*Bundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var rules []Rule
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		rule, err := loadRuleFile(path)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return &Bundle{Rules: rules, Version: version}, nil
}

func loadRuleFile(path string) (Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return Rule{}, err
	}
	defer f.Close()

	var (
		name, pkg string
		kind      RuleKind
		inputs    []string
		body      strings.Builder
		inHeader  bool
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == headerMarker:
			inHeader = true
		case inHeader && strings.HasPrefix(trimmed, "# name:"):
			name = strings.TrimSpace(strings.TrimPrefix(trimmed, "# name:"))
		case inHeader && strings.HasPrefix(trimmed, "# kind:"):
			kind = RuleKind(strings.TrimSpace(strings.TrimPrefix(trimmed, "# kind:")))
		case inHeader && strings.HasPrefix(trimmed, "# inputs:"):
			raw := strings.TrimSpace(strings.TrimPrefix(trimmed, "# inputs:"))
			for _, field := range strings.Split(raw, ",") {
				if f := strings.TrimSpace(field); f != "" {
					inputs = append(inputs, f)
				}
			}
		case strings.HasPrefix(trimmed, "package "):
			pkg = strings.TrimSpace(strings.TrimPrefix(trimmed, "package "))
			inHeader = false
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return Rule{}, err
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".rego")
	}
	if kind == "" {
		kind = KindDeny
	}

	return Rule{
		Name:       name,
		Kind:       kind,
		Package:    pkg,
		Source:     body.String(),
		InputsUsed: inputs,
	}, nil
}

// Package matcher provides include/exclude path filtering for directory crawls.
package matcher

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is a single compiled pattern. The source pattern is retained for
// diagnostics; rule order inside a set is preserved for the same reason,
// though eligibility never depends on it.
type Rule struct {
	Pattern string
	re      *regexp.Regexp
}

// RuleSet evaluates a path against ordered include and exclude patterns.
//
// A path is eligible iff it matches at least one include pattern (vacuously
// true when the include list is empty) and matches no exclude pattern.
// Exclude patterns always take precedence. Patterns are evaluated as
// regular-expression searches: a match anywhere in the path string fires
// the rule.
type RuleSet struct {
	includes []Rule
	excludes []Rule
}

// Compile builds a RuleSet from raw regex strings. All patterns are
// compiled once here; an invalid pattern is a configuration error that
// aborts before any traversal starts.
func Compile(includes, excludes []string) (*RuleSet, error) {
	rs := &RuleSet{}

	for _, p := range includes {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", p, err)
		}
		rs.includes = append(rs.includes, Rule{Pattern: p, re: re})
	}

	for _, p := range excludes {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		rs.excludes = append(rs.excludes, Rule{Pattern: p, re: re})
	}

	return rs, nil
}

// Matches reports whether path is eligible under the rule set.
// Evaluation is pure: the same path always yields the same answer.
func (rs *RuleSet) Matches(path string) bool {
	// Excludes are always evaluated and always win.
	for _, r := range rs.excludes {
		if r.re.MatchString(path) {
			return false
		}
	}

	if len(rs.includes) == 0 {
		return true
	}
	for _, r := range rs.includes {
		if r.re.MatchString(path) {
			return true
		}
	}
	return false
}

// Includes returns the source include patterns in their original order.
func (rs *RuleSet) Includes() []string { return patterns(rs.includes) }

// Excludes returns the source exclude patterns in their original order.
func (rs *RuleSet) Excludes() []string { return patterns(rs.excludes) }

func patterns(rules []Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Pattern
	}
	return out
}

// HiddenDir reports whether a directory name carries the hidden marker
// and should be pruned from traversal. This is a traversal-level check
// on the directory name only, independent of the file-level rules, so
// pruning costs O(1) per directory rather than O(files) under it.
func HiddenDir(name, marker string) bool {
	if marker == "" {
		marker = "."
	}
	return strings.HasPrefix(name, marker)
}

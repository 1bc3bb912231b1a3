// ABOUTME: Permission rules of the form kind or kind(pattern) matched against tool kinds and paths
// ABOUTME: Patterns support a /** suffix for whole subtrees, a trailing *, and filepath.Match globs

package permission

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mauromedda/acp-engine-go/internal/acp"
)

// Action represents a permission decision.
type Action int

const (
	ActionNone  Action = iota // No matching rule
	ActionAllow               // Explicitly allowed
	ActionDeny                // Explicitly denied
	ActionAsk                 // Requires user confirmation
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionDeny:
		return "deny"
	case ActionAsk:
		return "ask"
	}
	return "none"
}

// Rule matches a tool kind ("*" for any) and optionally a path pattern.
type Rule struct {
	Kind    string
	Pattern string
	Action  Action
}

func (r Rule) String() string {
	if r.Pattern == "" {
		return r.Kind
	}
	return r.Kind + "(" + r.Pattern + ")"
}

var knownKinds = map[string]bool{
	"*":                     true,
	string(acp.ToolRead):    true,
	string(acp.ToolEdit):    true,
	string(acp.ToolSearch):  true,
	string(acp.ToolExecute): true,
	string(acp.ToolOther):   true,
}

// ParseRule parses "kind" or "kind(pattern)".
func ParseRule(s string, action Action) (Rule, error) {
	s = strings.TrimSpace(s)
	rule := Rule{Action: action}
	if idx := strings.IndexByte(s, '('); idx > 0 {
		if !strings.HasSuffix(s, ")") {
			return Rule{}, fmt.Errorf("rule %q: missing closing parenthesis", s)
		}
		rule.Kind = strings.ToLower(strings.TrimSpace(s[:idx]))
		rule.Pattern = strings.TrimSpace(s[idx+1 : len(s)-1])
	} else {
		rule.Kind = strings.ToLower(s)
	}
	if !knownKinds[rule.Kind] {
		return Rule{}, fmt.Errorf("rule %q: unknown tool kind %q", s, rule.Kind)
	}
	if rule.Pattern != "" {
		if _, err := filepath.Match(rule.Pattern, ""); err != nil {
			return Rule{}, fmt.Errorf("rule %q: %w", s, err)
		}
	}
	return rule, nil
}

// matches reports whether r applies to kind and targets. A rule with a
// pattern needs at least one target, and every target must match.
func (r Rule) matches(kind acp.ToolKind, targets []string) bool {
	if r.Kind != "*" && r.Kind != string(kind) {
		return false
	}
	if r.Pattern == "" {
		return true
	}
	if len(targets) == 0 {
		return false
	}
	for _, t := range targets {
		if !matchPattern(r.Pattern, t) {
			return false
		}
	}
	return true
}

func matchPattern(pattern, target string) bool {
	target = filepath.Clean(target)
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		prefix = filepath.Clean(prefix)
		return target == prefix || strings.HasPrefix(target, prefix+string(filepath.Separator))
	}
	if matched, _ := filepath.Match(pattern, target); matched {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok && !strings.ContainsAny(prefix, "*?[") {
		return strings.HasPrefix(target, prefix)
	}
	return pattern == target
}

// evaluateRules applies deny rules before allow rules.
func evaluateRules(rules []Rule, kind acp.ToolKind, targets []string) Action {
	for _, r := range rules {
		if r.Action == ActionDeny && r.matches(kind, targets) {
			return ActionDeny
		}
	}
	for _, r := range rules {
		if r.Action == ActionAllow && r.matches(kind, targets) {
			return ActionAllow
		}
	}
	return ActionNone
}

// ABOUTME: Permission policy answering the agent's session/request_permission calls
// ABOUTME: normal, yolo, and plan modes plus allow/deny rules; falls through to an interactive asker

package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mauromedda/acp-engine-go/internal/acp"
	"github.com/mauromedda/acp-engine-go/internal/log"
)

// Mode determines the permission checking behavior.
type Mode int

const (
	ModeNormal Mode = iota // Ask before edits and commands
	ModeYolo               // Allow everything not denied by a rule
	ModePlan               // Read-only: refuse edits and commands
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeYolo:
		return "yolo"
	case ModePlan:
		return "plan"
	default:
		return "unknown"
	}
}

// ParseMode maps a mode name onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return ModeNormal, nil
	case "yolo":
		return ModeYolo, nil
	case "plan":
		return ModePlan, nil
	}
	return ModeNormal, fmt.Errorf("unknown permission mode %q", s)
}

// readOnly lists the tool kinds that never need confirmation.
var readOnly = map[acp.ToolKind]bool{
	acp.ToolRead:   true,
	acp.ToolSearch: true,
}

// Policy decides permission requests. It implements acp.PermissionDecider.
// Requests no mode or rule settles go to the asker; with no asker they are
// denied.
type Policy struct {
	mu      sync.RWMutex
	mode    Mode
	rules   []Rule
	session []Rule // added by "always" answers, dropped by Reset
	ask     acp.PermissionDecider
	log     *log.Logger
}

// New returns a policy. ask may be nil.
func New(mode Mode, ask acp.PermissionDecider) *Policy {
	return &Policy{mode: mode, ask: ask, log: log.New("permission")}
}

// NewFromRules builds a policy from rule strings such as "read" or
// "edit(/notes/**)".
func NewFromRules(mode Mode, allow, deny []string, ask acp.PermissionDecider) (*Policy, error) {
	p := New(mode, ask)
	if err := p.SetRules(allow, deny); err != nil {
		return nil, err
	}
	return p, nil
}

// SetMode updates the permission mode.
func (p *Policy) SetMode(mode Mode) {
	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()
}

// Mode returns the current permission mode.
func (p *Policy) Mode() Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// SetRules replaces the configured rules. On a parse error the old rules
// stay in effect.
func (p *Policy) SetRules(allow, deny []string) error {
	rules := make([]Rule, 0, len(allow)+len(deny))
	for _, s := range deny {
		r, err := ParseRule(s, ActionDeny)
		if err != nil {
			return err
		}
		rules = append(rules, r)
	}
	for _, s := range allow {
		r, err := ParseRule(s, ActionAllow)
		if err != nil {
			return err
		}
		rules = append(rules, r)
	}
	p.mu.Lock()
	p.rules = rules
	p.mu.Unlock()
	return nil
}

// Reset forgets the rules remembered from "always" answers.
func (p *Policy) Reset() {
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
}

// Evaluate returns what the policy decides for req without asking anyone.
// ActionAsk means the asker must settle it.
func (p *Policy) Evaluate(req acp.PermissionRequest) Action {
	p.mu.RLock()
	defer p.mu.RUnlock()

	targets := targetsOf(req)
	rules := append(append([]Rule(nil), p.rules...), p.session...)
	if a := evaluateRules(rules, req.Kind, targets); a == ActionDeny {
		return ActionDeny
	} else if a == ActionAllow && p.mode != ModePlan {
		return ActionAllow
	}

	switch p.mode {
	case ModePlan:
		if readOnly[req.Kind] {
			return ActionAllow
		}
		return ActionDeny
	case ModeYolo:
		return ActionAllow
	}
	if readOnly[req.Kind] {
		return ActionAllow
	}
	return ActionAsk
}

// DecidePermission implements acp.PermissionDecider.
func (p *Policy) DecidePermission(ctx context.Context, req acp.PermissionRequest) (string, error) {
	switch p.Evaluate(req) {
	case ActionAllow:
		p.log.Debug("allow %s %s", req.Kind, req.ToolCallID)
		return preferOnce(req), nil
	case ActionDeny:
		p.log.Info("deny %s %s (%s mode)", req.Kind, req.ToolCallID, p.Mode())
		return req.DefaultDeny(), nil
	}

	if p.ask == nil {
		p.log.Warn("no interactive approval available for %s; denying", req.ToolCallID)
		return req.DefaultDeny(), nil
	}
	choice, err := p.ask.DecidePermission(ctx, req)
	if err != nil {
		return "", fmt.Errorf("asking for permission: %w", err)
	}
	p.remember(req, choice)
	return choice, nil
}

// remember turns an allow_always or reject_always answer into a session rule
// for the same tool kind and paths.
func (p *Policy) remember(req acp.PermissionRequest, choice string) {
	opt, ok := req.Option(choice)
	if !ok || !strings.HasSuffix(opt.Kind, "_always") {
		return
	}
	action := ActionAllow
	if opt.IsReject() {
		action = ActionDeny
	}
	targets := targetsOf(req)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(targets) == 0 {
		p.session = append(p.session, Rule{Kind: string(req.Kind), Action: action})
		return
	}
	for _, t := range targets {
		p.session = append(p.session, Rule{Kind: string(req.Kind), Pattern: t, Action: action})
	}
}

// preferOnce picks an allow_once option when offered so an automatic
// approval never widens into a standing grant on the agent side.
func preferOnce(req acp.PermissionRequest) string {
	for _, o := range req.Options {
		if o.Kind == "allow_once" {
			return o.OptionID
		}
	}
	return req.DefaultAllow()
}

func targetsOf(req acp.PermissionRequest) []string {
	targets := append([]string(nil), req.Locations...)
	if req.Diff != nil && req.Diff.Path != "" {
		seen := false
		for _, t := range targets {
			if t == req.Diff.Path {
				seen = true
				break
			}
		}
		if !seen {
			targets = append(targets, req.Diff.Path)
		}
	}
	return targets
}

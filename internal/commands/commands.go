// ABOUTME: Slash command registry and dispatch for the chat host
// ABOUTME: Provides help, status, mode, plan, forget, pending, accept, discard, undo, export, reload, exit

package commands

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mauromedda/acp-engine-go/internal/diff"
	"github.com/mauromedda/acp-engine-go/internal/workspace"
)

// Command represents a slash command.
type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Execute     func(ctx *Context, args string) (string, error)
}

// Context provides access to chat state for commands. Every callback is
// nilable; its commands report "not available" when it is nil.
type Context struct {
	Version   string
	CWD       string
	Agent     string
	SessionID func() string

	GetMode func() string
	SetMode func(string) error
	Forget  func()

	Pending func() []workspace.PendingWrite
	Accept  func(path string) error
	Discard func(path string) error
	Undo    func(n int) ([]string, error)

	ExportTranscript func(path string) error
	ReloadFn         func() (string, error)
	ExitFn           func()
}

// Registry holds all registered slash commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]string
}

// NewRegistry creates a registry with all core commands registered.
func NewRegistry() *Registry {
	r := &Registry{commands: make(map[string]*Command), aliases: make(map[string]string)}
	r.registerCoreCommands()
	return r
}

// Register adds cmd, replacing any command or alias with the same name.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	for _, a := range cmd.Aliases {
		r.aliases[a] = cmd.Name
	}
}

// Get returns a command by name or alias.
// The second return value indicates whether the name was found.
func (r *Registry) Get(name string) (*Command, bool) {
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	cmd, ok := r.commands[name]
	return cmd, ok
}

// List returns all commands sorted by name for deterministic output.
func (r *Registry) List() []*Command {
	result := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Dispatch parses a "/command args" input, looks up the command, and executes it.
// Returns the command output or an error if the command is not found.
func (r *Registry) Dispatch(ctx *Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if !IsCommand(input) {
		return "", fmt.Errorf("not a command: %q", input)
	}

	name, args, _ := strings.Cut(input[1:], " ")
	cmd, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown command: /%s", name)
	}
	return cmd.Execute(ctx, strings.TrimSpace(args))
}

// IsCommand returns true if input starts with '/'.
func IsCommand(input string) bool {
	return len(input) > 0 && input[0] == '/'
}

// registerCoreCommands adds all built-in slash commands to the registry.
func (r *Registry) registerCoreCommands() {
	core := []*Command{
		{
			Name:        "help",
			Aliases:     []string{"?"},
			Description: "Show available commands",
			Execute: func(_ *Context, _ string) (string, error) {
				var b strings.Builder
				b.WriteString("Available commands:\n")
				for _, cmd := range r.List() {
					name := "/" + cmd.Name
					if cmd.Usage != "" {
						name += " " + cmd.Usage
					}
					fmt.Fprintf(&b, "  %-22s %s\n", name, cmd.Description)
				}
				return strings.TrimSuffix(b.String(), "\n"), nil
			},
		},
		{
			Name:        "status",
			Description: "Show session status",
			Execute: func(ctx *Context, _ string) (string, error) {
				session := "(none)"
				if ctx.SessionID != nil && ctx.SessionID() != "" {
					session = ctx.SessionID()
				}
				mode := "(unknown)"
				if ctx.GetMode != nil {
					mode = ctx.GetMode()
				}
				pending := 0
				if ctx.Pending != nil {
					pending = len(ctx.Pending())
				}
				return fmt.Sprintf(
					"Session: %s\nAgent:   %s\nMode:    %s\nCWD:     %s\nPending: %d\nVersion: %s",
					session, ctx.Agent, mode, ctx.CWD, pending, ctx.Version,
				), nil
			},
		},
		{
			Name:        "mode",
			Usage:       "[normal|yolo|plan]",
			Description: "Show or change the permission mode",
			Execute: func(ctx *Context, args string) (string, error) {
				if ctx.GetMode == nil || ctx.SetMode == nil {
					return "Permission mode not available.", nil
				}
				if args == "" {
					return fmt.Sprintf("Permission mode: %s", ctx.GetMode()), nil
				}
				if err := ctx.SetMode(args); err != nil {
					return "", err
				}
				return fmt.Sprintf("Permission mode: %s", ctx.GetMode()), nil
			},
		},
		{
			Name:        "plan",
			Description: "Toggle plan mode",
			Execute: func(ctx *Context, _ string) (string, error) {
				if ctx.GetMode == nil || ctx.SetMode == nil {
					return "Plan mode not available.", nil
				}
				next := "plan"
				if ctx.GetMode() == "plan" {
					next = "normal"
				}
				if err := ctx.SetMode(next); err != nil {
					return "", err
				}
				return fmt.Sprintf("Switched to %s mode.", ctx.GetMode()), nil
			},
		},
		{
			Name:        "forget",
			Description: "Drop permissions remembered from \"always\" answers",
			Execute: func(ctx *Context, _ string) (string, error) {
				if ctx.Forget == nil {
					return "Forget not available.", nil
				}
				ctx.Forget()
				return "Forgot remembered permissions.", nil
			},
		},
		{
			Name:        "pending",
			Description: "List writes held for review",
			Execute: func(ctx *Context, _ string) (string, error) {
				if ctx.Pending == nil {
					return "Review not available.", nil
				}
				pending := ctx.Pending()
				if len(pending) == 0 {
					return "No writes held for review.", nil
				}
				var b strings.Builder
				b.WriteString("Held for review:\n")
				for _, p := range pending {
					state := "modified"
					if !p.Exists {
						state = "new"
					}
					fmt.Fprintf(&b, "  %s  %s  %s\n", p.Path, diff.Count(p.Previous, p.Content), state)
				}
				return strings.TrimSuffix(b.String(), "\n"), nil
			},
		},
		{
			Name:        "accept",
			Usage:       "<path|all>",
			Description: "Apply held writes",
			Execute: func(ctx *Context, args string) (string, error) {
				return review(ctx, ctx.Accept, args, "Applied", "/accept")
			},
		},
		{
			Name:        "discard",
			Usage:       "<path|all>",
			Description: "Drop held writes",
			Execute: func(ctx *Context, args string) (string, error) {
				return review(ctx, ctx.Discard, args, "Discarded", "/discard")
			},
		},
		{
			Name:        "undo",
			Usage:       "[n]",
			Description: "Revert the last n applied writes",
			Execute: func(ctx *Context, args string) (string, error) {
				if ctx.Undo == nil {
					return "Undo not available.", nil
				}
				n := 1
				if args != "" {
					v, err := strconv.Atoi(args)
					if err != nil || v < 1 {
						return "Usage: /undo [n]", nil
					}
					n = v
				}
				summary, err := ctx.Undo(n)
				out := workspace.FormatSummary(summary)
				if err != nil {
					return out, fmt.Errorf("undo stopped: %w", err)
				}
				return out, nil
			},
		},
		{
			Name:        "export",
			Usage:       "<path>",
			Description: "Export the transcript to a .md or .html file",
			Execute: func(ctx *Context, args string) (string, error) {
				if ctx.ExportTranscript == nil {
					return "Export not available (start with -transcript).", nil
				}
				if args == "" {
					return "Usage: /export <path>", nil
				}
				if err := ctx.ExportTranscript(args); err != nil {
					return "", fmt.Errorf("export transcript: %w", err)
				}
				return fmt.Sprintf("Exported to %s.", args), nil
			},
		},
		{
			Name:        "reload",
			Description: "Reload settings files",
			Execute: func(ctx *Context, _ string) (string, error) {
				if ctx.ReloadFn == nil {
					return "Reload not available.", nil
				}
				return ctx.ReloadFn()
			},
		},
		{
			Name:        "exit",
			Aliases:     []string{"quit", "q"},
			Description: "End the chat",
			Execute: func(ctx *Context, _ string) (string, error) {
				if ctx.ExitFn == nil {
					return "Exit not available.", nil
				}
				ctx.ExitFn()
				return "", nil
			},
		},
	}
	for _, cmd := range core {
		r.Register(cmd)
	}
}

// review applies fn to one held path, or to every held path for "all".
func review(ctx *Context, fn func(string) error, args, verb, usage string) (string, error) {
	if fn == nil || ctx.Pending == nil {
		return "Review not available.", nil
	}
	if args == "" {
		return fmt.Sprintf("Usage: %s <path|all>", usage), nil
	}
	paths := []string{args}
	if args == "all" {
		paths = paths[:0]
		for _, p := range ctx.Pending() {
			paths = append(paths, p.Path)
		}
		if len(paths) == 0 {
			return "No writes held for review.", nil
		}
	}
	var lines []string
	var errs []string
	for _, path := range paths {
		if err := fn(path); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		lines = append(lines, verb+" "+path)
	}
	out := strings.Join(lines, "\n")
	if len(errs) > 0 {
		return out, errors.New(strings.Join(errs, "; "))
	}
	return out, nil
}

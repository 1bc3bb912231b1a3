// ABOUTME: Tests for the chat loop, slash commands, interrupt handling, and settings assembly
// ABOUTME: Drives the loop with a fake session and a string-backed console

package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/mauromedda/acp-engine-go/internal/acp"
	"github.com/mauromedda/acp-engine-go/internal/host"
	"github.com/mauromedda/acp-engine-go/internal/permission"
	"github.com/mauromedda/acp-engine-go/internal/workspace"
)

type fakeSession struct {
	mu        sync.Mutex
	prompts   []string
	cancels   int
	state     acp.State
	promptErr error
}

func (f *fakeSession) PromptText(_ context.Context, text string) (*acp.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, text)
	return &acp.Turn{Prompt: text, StopReason: "end_turn"}, f.promptErr
}

func (f *fakeSession) Cancel(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeSession) State() acp.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) SessionID() string { return "sess-1" }

type testChat struct {
	*chat
	fake   *fakeSession
	out    *bytes.Buffer
	root   string
	policy *permission.Policy
	ws     *workspace.Workspace
}

func newTestChat(t *testing.T, input string, review bool) *testChat {
	t.Helper()
	dir := t.TempDir()
	roots, err := permission.NewRoots(dir)
	if err != nil {
		t.Fatal(err)
	}
	ws, err := workspace.New(workspace.Options{Roots: roots, Review: review})
	if err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	sess := &fakeSession{state: acp.StateSessionActive}
	policy := permission.New(permission.ModeNormal, nil)
	c := newChat(sess,
		host.NewConsole(strings.NewReader(input), out),
		host.NewPrinter(out, host.PrinterOptions{Palette: host.NewPalette(true)}),
		policy, ws)
	return &testChat{chat: c, fake: sess, out: out, root: roots.Dirs()[0], policy: policy, ws: ws}
}

func TestChat_RunSendsPrompts(t *testing.T) {
	t.Parallel()

	c := newTestChat(t, "hello\n\n  second prompt  \n", false)
	if err := c.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.Join(c.fake.prompts, "|"); got != "hello|second prompt" {
		t.Errorf("prompts = %q", got)
	}
}

func TestChat_QuitStopsReading(t *testing.T) {
	t.Parallel()

	c := newTestChat(t, "/quit\nnever sent\n", false)
	if err := c.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(c.fake.prompts) != 0 {
		t.Errorf("prompts after /quit: %v", c.fake.prompts)
	}
}

func TestChat_LostSessionEndsRun(t *testing.T) {
	t.Parallel()

	c := newTestChat(t, "one\ntwo\n", false)
	c.fake.promptErr = acp.ErrNotReady
	err := c.run(context.Background())
	if !errors.Is(err, acp.ErrNotReady) {
		t.Fatalf("run err = %v, want ErrNotReady", err)
	}
	if len(c.fake.prompts) != 1 {
		t.Errorf("prompts = %v, want only the first", c.fake.prompts)
	}
}

func TestChat_TurnErrorsKeepGoing(t *testing.T) {
	t.Parallel()

	c := newTestChat(t, "one\ntwo\n", false)
	c.fake.promptErr = &acp.RemoteError{Method: acp.MethodSessionPrompt, Code: -32000, Message: "overloaded"}
	if err := c.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(c.fake.prompts) != 2 {
		t.Errorf("prompts = %v", c.fake.prompts)
	}
}

func TestChat_ModeCommand(t *testing.T) {
	t.Parallel()

	c := newTestChat(t, "", false)
	c.command("/mode plan")
	if c.policy.Mode() != permission.ModePlan {
		t.Errorf("mode = %s, want plan", c.policy.Mode())
	}
	c.command("/mode bogus")
	if c.policy.Mode() != permission.ModePlan {
		t.Error("an invalid mode must not change the policy")
	}
	c.command("/mode")
	if !strings.Contains(c.out.String(), "Permission mode: plan") {
		t.Errorf("output = %q", c.out.String())
	}
	c.command("/nope")
	if !strings.Contains(c.out.String(), "unknown command: /nope") {
		t.Errorf("output = %q", c.out.String())
	}
}

func TestChat_ReviewCommands(t *testing.T) {
	t.Parallel()

	c := newTestChat(t, "", true)
	ctx := context.Background()
	a := filepath.Join(c.root, "a.md")
	b := filepath.Join(c.root, "b.md")
	if err := c.ws.WriteTextFile(ctx, a, "alpha\n"); err != nil {
		t.Fatal(err)
	}
	if err := c.ws.WriteTextFile(ctx, b, "beta\n"); err != nil {
		t.Fatal(err)
	}

	c.command("/pending")
	if !strings.Contains(c.out.String(), "Held for review:\n  "+a+"  +1 -0  new") {
		t.Errorf("pending output = %q", c.out.String())
	}

	c.command("/discard " + b)
	c.command("/accept all")
	if data, err := os.ReadFile(a); err != nil || string(data) != "alpha\n" {
		t.Errorf("accepted file = %q, %v", data, err)
	}
	if _, err := os.Stat(b); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("discarded file exists: %v", err)
	}
	if len(c.ws.Pending()) != 0 {
		t.Errorf("pending = %v", c.ws.Pending())
	}

	c.out.Reset()
	c.command("/accept " + b)
	if !strings.Contains(c.out.String(), "no pending write") {
		t.Errorf("output = %q", c.out.String())
	}
}

func TestChat_Interrupt(t *testing.T) {
	t.Parallel()

	c := newTestChat(t, "", false)
	ctx := context.Background()

	if c.interrupt(ctx, os.Interrupt) {
		t.Error("Ctrl-C while idle should end the chat")
	}

	c.fake.state = acp.StatePromptInFlight
	if !c.interrupt(ctx, os.Interrupt) || c.fake.cancels != 1 {
		t.Errorf("first Ctrl-C in a turn should cancel it (cancels=%d)", c.fake.cancels)
	}
	if c.interrupt(ctx, os.Interrupt) {
		t.Error("second Ctrl-C in the same turn should end the chat")
	}

	// A new turn resets the count.
	c.fake.promptErr = nil
	if err := c.turn(ctx, "again"); err != nil {
		t.Fatal(err)
	}
	if !c.interrupt(ctx, os.Interrupt) {
		t.Error("first Ctrl-C of a new turn should cancel it")
	}
	if c.interrupt(ctx, syscall.SIGTERM) {
		t.Error("SIGTERM should end the chat")
	}
}

func TestChat_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()
	c := newTestChat(t, "", false)
	c.console = host.NewConsole(pr, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.run(ctx); err != nil {
		t.Errorf("run after cancel = %v, want nil", err)
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("acp-chat", flag.ContinueOnError)
	args, err := parseFlags(fs, []string{"-agent", "my-agent acp --fast", "-mode", "yolo", "-review", "fix", "the", "bug"})
	if err != nil {
		t.Fatal(err)
	}
	cmd, cmdArgs, ok := args.agentCommand()
	if !ok || cmd != "my-agent" || strings.Join(cmdArgs, ",") != "acp,--fast" {
		t.Errorf("agentCommand = %q %v %v", cmd, cmdArgs, ok)
	}
	if args.mode != "yolo" || !args.review || args.prompt != "fix the bug" {
		t.Errorf("args = %+v", args)
	}

	if _, _, ok := (cliArgs{agent: "  "}).agentCommand(); ok {
		t.Error("blank --agent should not override the command")
	}
}

func TestBuildSettings(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	project := t.TempDir()
	agents := filepath.Join(project, ".acp-engine", "agents")
	if err := os.MkdirAll(agents, 0o755); err != nil {
		t.Fatal(err)
	}
	settings := `{
		// project settings
		"agent": {"command": "kiro-cli", "args": ["acp"]},
		"permissions": {"mode": "plan", "allow": ["read"]},
	}`
	if err := os.WriteFile(filepath.Join(project, ".acp-engine", "settings.json"), []byte(settings), 0o644); err != nil {
		t.Fatal(err)
	}
	profile := "---\nname: reviewer\ncommand: review-agent\nargs: [\"acp\", \"--strict\"]\n---\nReviews diffs.\n"
	if err := os.WriteFile(filepath.Join(agents, "reviewer.md"), []byte(profile), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := buildSettings(cliArgs{profile: "reviewer", mode: "yolo", transcript: true}, project)
	if err != nil {
		t.Fatalf("buildSettings: %v", err)
	}
	if s.Agent.Command != "review-agent" || strings.Join(s.Agent.Args, " ") != "acp --strict" || s.Agent.Profile != "reviewer" {
		t.Errorf("agent = %+v", s.Agent)
	}
	if s.Permissions.Mode != "yolo" || !s.Transcripts {
		t.Errorf("overrides not applied: %+v", s)
	}

	s, err = buildSettings(cliArgs{profile: "unknown-to-us", agent: "other acp"}, project)
	if err != nil {
		t.Fatal(err)
	}
	if s.Agent.Profile != "unknown-to-us" || s.Agent.Command != "other" {
		t.Errorf("agent = %+v", s.Agent)
	}
	cfg := engineConfig(s, project)
	if cfg.Profile != "unknown-to-us" || cfg.WorkDir != project || cfg.HandshakeTimeout <= 0 {
		t.Errorf("engine config = %+v", cfg)
	}

	if _, err := buildSettings(cliArgs{mode: "reckless"}, project); err == nil {
		t.Error("an unknown mode should fail validation")
	}
}

func TestResolveCWD(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	got, err := resolveCWD(dir)
	if err != nil || got != dir {
		t.Errorf("resolveCWD = %q, %v", got, err)
	}
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := resolveCWD(file); err == nil {
		t.Error("a file is not a working directory")
	}
}

func TestExportTranscript(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "s1.jsonl")
	lines := `{"v":1,"type":"session_start","ts":"2026-01-02T03:04:05Z","data":{"id":"s1","cwd":"/w","agent":"kiro-cli"}}
{"v":1,"type":"prompt","ts":"2026-01-02T03:04:06Z","turn":"t1","data":{"text":"hi"}}
{"v":1,"type":"turn_end","ts":"2026-01-02T03:04:07Z","turn":"t1","data":{"text":"hello","stop_reason":"end_turn","tool_calls":0}}
`
	if err := os.WriteFile(path, []byte(lines), 0o600); err != nil {
		t.Fatal(err)
	}

	var md bytes.Buffer
	if err := exportTranscript(&md, path, "md"); err != nil {
		t.Fatalf("export md: %v", err)
	}
	if !strings.Contains(md.String(), "# Session s1") || !strings.Contains(md.String(), "## Assistant\n\nhello\n") {
		t.Errorf("markdown = %q", md.String())
	}

	var html bytes.Buffer
	if err := exportTranscript(&html, path, "HTML"); err != nil || !strings.Contains(html.String(), "<html") {
		t.Errorf("export html: %v", err)
	}

	if err := exportTranscript(&bytes.Buffer{}, path, "pdf"); err == nil {
		t.Error("unknown format should fail")
	}

	dest := filepath.Join(filepath.Dir(path), "out.html")
	if err := exportToFile(path, dest); err != nil {
		t.Fatalf("exportToFile: %v", err)
	}
	if data, _ := os.ReadFile(dest); !strings.Contains(string(data), "<html") {
		t.Errorf("exported file is not HTML: %.80q", data)
	}
}

func TestChat_UndoCommand(t *testing.T) {
	t.Parallel()

	c := newTestChat(t, "", false)
	path := filepath.Join(c.root, "notes.md")
	if err := c.ws.WriteTextFile(context.Background(), path, "agent text\n"); err != nil {
		t.Fatal(err)
	}
	c.command("/undo x")
	if !strings.Contains(c.out.String(), "Usage: /undo [n]") {
		t.Errorf("output = %q", c.out.String())
	}
	c.command("/undo")
	if !strings.Contains(c.out.String(), "Undone:\n  removed "+path) {
		t.Errorf("output = %q", c.out.String())
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file still exists: %v", err)
	}
	c.command("/undo 3")
	if !strings.Contains(c.out.String(), "Nothing to undo.") {
		t.Errorf("output = %q", c.out.String())
	}
}

func TestChat_StatusAndExportUnavailable(t *testing.T) {
	t.Parallel()

	c := newTestChat(t, "", false)
	c.command("/status")
	if !strings.Contains(c.out.String(), "Session: sess-1") || !strings.Contains(c.out.String(), "Mode:    normal") {
		t.Errorf("status output = %q", c.out.String())
	}
	c.command("/export notes.md")
	if !strings.Contains(c.out.String(), "Export not available") {
		t.Errorf("output = %q", c.out.String())
	}
}

// ABOUTME: Tests for transcript folding and the HTML and Markdown exporters
// ABOUTME: Builds records by hand and checks the rendered documents

package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mauromedda/acp-engine-go/internal/acp"
	"github.com/mauromedda/acp-engine-go/internal/transcript"
)

func rec(t *testing.T, typ transcript.RecordType, turn string, data any) transcript.Record {
	t.Helper()
	r := transcript.Record{Version: transcript.Version, Type: typ, TurnID: turn}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatal(err)
		}
		r.Data = raw
	}
	return r
}

func sampleRecords(t *testing.T) []transcript.Record {
	return []transcript.Record{
		rec(t, transcript.RecordSessionStart, "", transcript.SessionStartData{ID: "sess-1", CWD: "/work/notes", Agent: "kiro-cli", Profile: "writer"}),
		rec(t, transcript.RecordPrompt, "t1", transcript.PromptData{Text: "Summarize <todo.md>"}),
		rec(t, transcript.RecordPlan, "t1", transcript.PlanData{Entries: []acp.PlanEntry{
			{Content: "read the file", Status: "completed"},
			{Content: "write summary", Status: "pending"},
		}}),
		rec(t, transcript.RecordToolCall, "t1", transcript.ToolCallData{ID: "c1", Title: "Read todo.md", Kind: "read", Status: "pending", Locations: []string{"/work/notes/todo.md"}}),
		rec(t, transcript.RecordToolUpdate, "t1", transcript.ToolCallData{ID: "c1", Title: "Read todo.md", Kind: "read", Status: "completed", Previous: "pending"}),
		{Version: 1, Type: transcript.RecordToolUpdate, TurnID: "t1", Data: json.RawMessage(`"garbage"`)},
		rec(t, transcript.RecordTurnEnd, "t1", transcript.TurnEndData{Text: "Two items.\nBoth open.", Thought: "short file", StopReason: "end_turn", ToolCalls: 1}),
		rec(t, transcript.RecordPrompt, "t2", transcript.PromptData{Text: "And now?"}),
		rec(t, transcript.RecordTurnEnd, "t2", transcript.TurnEndData{StopReason: "", Error: "acp: session/prompt timed out"}),
		rec(t, transcript.RecordSessionEnd, "", nil),
	}
}

func TestFold(t *testing.T) {
	t.Parallel()

	s := Fold(sampleRecords(t))
	if s.Start.ID != "sess-1" || !s.Ended {
		t.Errorf("start = %+v ended=%v", s.Start, s.Ended)
	}
	var roles []string
	for _, e := range s.Entries {
		roles = append(roles, string(e.Role))
	}
	want := "user,plan,tool,assistant,user,assistant"
	if got := strings.Join(roles, ","); got != want {
		t.Fatalf("roles = %s, want %s", got, want)
	}
	tool := s.Entries[2]
	if tool.Tool.Status != "completed" || tool.Failed() {
		t.Errorf("tool entry = %+v", tool)
	}
	if len(tool.Tool.Locations) != 1 || tool.Tool.Locations[0] != "/work/notes/todo.md" || tool.Tool.Previous != "pending" {
		t.Errorf("update dropped fields of the call: %+v", tool.Tool)
	}
	if !s.Entries[5].Failed() {
		t.Error("a turn with an error is failed")
	}
}

func TestFold_UpdateWithoutCall(t *testing.T) {
	t.Parallel()

	s := Fold([]transcript.Record{
		rec(t, transcript.RecordToolUpdate, "t1", transcript.ToolCallData{ID: "c9", Kind: "edit", Status: "failed"}),
	})
	if len(s.Entries) != 1 || !s.Entries[0].Failed() {
		t.Errorf("entries = %+v", s.Entries)
	}
}

func TestFold_UpdateOverridesCarriedFields(t *testing.T) {
	t.Parallel()

	s := Fold([]transcript.Record{
		rec(t, transcript.RecordToolCall, "t1", transcript.ToolCallData{ID: "c1", Title: "Edit", Kind: "edit", Status: "pending", Locations: []string{"/a.md"}}),
		rec(t, transcript.RecordToolUpdate, "t1", transcript.ToolCallData{ID: "c1", Title: "Edit b.md", Status: "in_progress", Locations: []string{"/b.md"}}),
		rec(t, transcript.RecordToolUpdate, "t1", transcript.ToolCallData{ID: "c1", Status: "completed"}),
	})
	if len(s.Entries) != 1 {
		t.Fatalf("entries = %+v", s.Entries)
	}
	got := s.Entries[0].Tool
	if got.Title != "Edit b.md" || got.Kind != "edit" || got.Status != "completed" || len(got.Locations) != 1 || got.Locations[0] != "/b.md" {
		t.Errorf("merged tool = %+v", got)
	}
}

func TestHTML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := HTML(sampleRecords(t), &buf); err != nil {
		t.Fatalf("HTML: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"<html",
		"Session sess-1",
		"agent: kiro-cli (writer)",
		"Summarize &lt;todo.md&gt;",
		"[read] Read todo.md",
		"completed",
		"/work/notes/todo.md",
		"✓ read the file",
		"Two items.<br>\nBoth open.",
		"<summary>Thinking</summary>",
		"error: acp: session/prompt timed out",
		`class="message assistant failed"`,
		"#1e1e2e",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(out, "<todo.md>") {
		t.Error("prompt text must be escaped")
	}
}

func TestHTML_Empty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := HTML(nil, &buf); err != nil {
		t.Fatalf("HTML: %v", err)
	}
	if !strings.Contains(buf.String(), "<html") {
		t.Error("expected valid HTML even with no records")
	}
}

func TestMarkdown(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Markdown(sampleRecords(t), &buf); err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	want := "# Session sess-1\n\n" +
		"- Agent: kiro-cli (writer)\n" +
		"- Directory: `/work/notes`\n" +
		"\n## User\n\nSummarize <todo.md>\n" +
		"\n**Plan**\n\n- [x] read the file\n- [ ] write summary\n" +
		"\n- `read` Read todo.md: completed\n" +
		"\n## Assistant\n\n> short file\n\nTwo items.\nBoth open.\n" +
		"\n## User\n\nAnd now?\n" +
		"\n## Assistant\n\n\n_error: acp: session/prompt timed out_\n"
	if buf.String() != want {
		t.Errorf("Markdown =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestStopLabel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{"": "", "end_turn": "", "max_tokens": "max tokens", "cancelled": "cancelled"} {
		if got := stopLabel(in); got != want {
			t.Errorf("stopLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

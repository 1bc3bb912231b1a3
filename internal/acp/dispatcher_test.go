// ABOUTME: Tests for session/update handling: text accumulation, tool-call lifecycle, plans, session filtering
// ABOUTME: Includes a seeded random walk asserting tool-call status never moves backwards

package acp

import (
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/mauromedda/acp-engine-go/pkg/jsonvalue"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

func newTestDispatcher(sessionID string) (*Dispatcher, *eventLog) {
	events := &eventLog{}
	d := NewDispatcher(events.Publish, nil, nil)
	d.SetSession(sessionID)
	d.BeginTurn("turn-1")
	return d, events
}

func update(t *testing.T, src string) jsonvalue.Value {
	t.Helper()
	v, err := jsonvalue.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse(%s): %v", src, err)
	}
	return v
}

func TestDispatcher_TextChunksInOrder(t *testing.T) {
	t.Parallel()

	d, events := newTestDispatcher("abc123")
	d.Handle(update(t, `{"update":{"sessionUpdate":"agent_message_chunk","content":{"text":"Hel"}}}`))
	d.Handle(update(t, `{"sessionId":"abc123","update":{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"lo"}}}`))
	d.Handle(update(t, `{"update":{"sessionUpdate":"agent_message_chunk","content":{"type":"image","data":"..."}}}`))
	d.Handle(update(t, `{"update":{"sessionUpdate":"agent_message_chunk","content":{"text":""}}}`))

	got := events.snapshot()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %#v", len(got), got)
	}
	for i, want := range []string{"Hel", "lo"} {
		ev, ok := got[i].(EvTextChunk)
		if !ok || ev.Text != want || ev.SessionID != "abc123" || ev.TurnID != "turn-1" {
			t.Errorf("event %d = %#v, want text %q", i, got[i], want)
		}
	}

	text, _ := d.EndTurn()
	if text != "Hello" {
		t.Errorf("EndTurn text = %q, want Hello", text)
	}
	if text, _ := d.EndTurn(); text != "" {
		t.Errorf("second EndTurn text = %q, want empty", text)
	}
}

func TestDispatcher_ForeignSessionDropped(t *testing.T) {
	t.Parallel()

	d, events := newTestDispatcher("abc123")
	d.Handle(update(t, `{"sessionId":"other","update":{"sessionUpdate":"agent_message_chunk","content":{"text":"x"}}}`))
	d.Handle(update(t, `{"sessionId":"other","update":{"sessionUpdate":"tool_call","toolCallId":"t1"}}`))

	if got := events.snapshot(); len(got) != 0 {
		t.Errorf("events = %#v, want none", got)
	}
	if text, calls := d.EndTurn(); text != "" || len(calls) != 0 {
		t.Errorf("state leaked from foreign session: %q %v", text, calls)
	}
}

func TestDispatcher_ThoughtAndPlan(t *testing.T) {
	t.Parallel()

	d, events := newTestDispatcher("s")
	d.Handle(update(t, `{"update":{"sessionUpdate":"agent_thought_chunk","content":{"type":"text","text":"thinking"}}}`))
	d.Handle(update(t, `{"update":{"sessionUpdate":"plan","entries":[
		{"content":"read notes","priority":"high","status":"completed"},
		{"content":"draft outline","priority":"medium","status":"pending"}]}}`))
	d.Handle(update(t, `{"update":{"sessionUpdate":"available_commands_update"}}`))

	got := events.snapshot()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if th, ok := got[0].(EvThoughtChunk); !ok || th.Text != "thinking" {
		t.Errorf("event 0 = %#v", got[0])
	}
	plan, ok := got[1].(EvPlan)
	if !ok || len(plan.Entries) != 2 {
		t.Fatalf("event 1 = %#v", got[1])
	}
	if plan.Entries[1] != (PlanEntry{Content: "draft outline", Priority: "medium", Status: "pending"}) {
		t.Errorf("plan entry = %+v", plan.Entries[1])
	}
	if text, _ := d.EndTurn(); text != "" {
		t.Errorf("thoughts leaked into turn text: %q", text)
	}
}

func TestDispatcher_ToolCallLifecycle(t *testing.T) {
	t.Parallel()

	d, events := newTestDispatcher("s")
	d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call","toolCallId":"t1","title":"Read notes.md","kind":"read","status":"pending","locations":[{"path":"/n/notes.md"}]}}`))
	d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call_update","toolCallId":"t1","status":"in_progress"}}`))
	d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call_update","toolCallId":"t1","status":"pending"}}`))
	d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call_update","toolCallId":"t1","status":"completed","title":"Read notes.md (42 lines)"}}`))
	d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call_update","toolCallId":"t1","status":"failed"}}`))

	got := events.snapshot()
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3: %#v", len(got), got)
	}
	created, ok := got[0].(EvToolCall)
	if !ok || created.Call.Kind != ToolRead || created.Call.Status != StatusPending {
		t.Errorf("create event = %#v", got[0])
	}
	if !slices.Equal(created.Call.Locations, []string{"/n/notes.md"}) {
		t.Errorf("locations = %v", created.Call.Locations)
	}
	if up, ok := got[1].(EvToolCallUpdated); !ok || up.Previous != StatusPending || up.Call.Status != StatusInProgress {
		t.Errorf("first update = %#v", got[1])
	}
	done, ok := got[2].(EvToolCallUpdated)
	if !ok || done.Call.Status != StatusCompleted || done.Call.Title != "Read notes.md (42 lines)" {
		t.Errorf("completion = %#v", got[2])
	}

	rec, ok := d.Lookup("t1")
	if !ok || rec.Status != StatusCompleted {
		t.Errorf("Lookup = %+v, %v", rec, ok)
	}
}

func TestDispatcher_ToolCallEdgeCases(t *testing.T) {
	t.Parallel()

	d, events := newTestDispatcher("s")
	d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call_update","toolCallId":"ghost","status":"completed"}}`))
	d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call","title":"no id"}}`))
	d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call","toolCallId":"t1","status":"completed","kind":"teleport"}}`))
	d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call","toolCallId":"t1","title":"dup"}}`))
	d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call","toolCallId":"t2","status":"in_progress","kind":"execute"}}`))

	got := events.snapshot()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %#v", len(got), got)
	}
	calls := d.ToolCalls()
	if len(calls) != 2 || calls[0].ID != "t1" || calls[1].ID != "t2" {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Status != StatusPending || calls[0].Kind != ToolOther || calls[0].Title != "" {
		t.Errorf("t1 = %+v, want pending/other with original title", calls[0])
	}
	if calls[1].Status != StatusInProgress || calls[1].Kind != ToolExecute {
		t.Errorf("t2 = %+v", calls[1])
	}
}

func TestDispatcher_SnapshotsAreIndependent(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher("s")
	d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call","toolCallId":"t1","locations":[{"path":"/a"}]}}`))
	calls := d.ToolCalls()
	calls[0].Status = StatusFailed
	calls[0].Locations[0] = "/mutated"

	rec, _ := d.Lookup("t1")
	if rec.Status != StatusPending || rec.Locations[0] != "/a" {
		t.Errorf("internal record mutated through snapshot: %+v", rec)
	}
}

func TestDispatcher_BeginTurnResets(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher("s")
	d.Handle(update(t, `{"update":{"sessionUpdate":"agent_message_chunk","content":{"text":"old"}}}`))
	d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call","toolCallId":"t1"}}`))
	_, calls := d.EndTurn()
	if len(calls) != 1 {
		t.Fatalf("calls = %v", calls)
	}
	if len(d.ToolCalls()) != 1 {
		t.Error("tool calls should stay readable after EndTurn")
	}

	d.BeginTurn("turn-2")
	if len(d.ToolCalls()) != 0 {
		t.Error("BeginTurn should clear tool calls")
	}
	if _, ok := d.Lookup("t1"); ok {
		t.Error("BeginTurn should clear the tool-call index")
	}
	d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call","toolCallId":"t1"}}`))
	if len(d.ToolCalls()) != 1 {
		t.Error("an id from an earlier turn should be accepted again")
	}
}

func TestDispatcher_StatusNeverRegresses(t *testing.T) {
	t.Parallel()

	statuses := []string{"pending", "in_progress", "completed", "failed", "bogus", ""}
	rng := rand.New(rand.NewPCG(7, 11))

	for round := range 50 {
		d, _ := newTestDispatcher("s")
		d.Handle(update(t, `{"update":{"sessionUpdate":"tool_call","toolCallId":"t"}}`))
		prev, _ := d.Lookup("t")
		for range 30 {
			st := statuses[rng.IntN(len(statuses))]
			d.Handle(jsonvalue.Object(jsonvalue.Field("update", jsonvalue.Object(
				jsonvalue.Field("sessionUpdate", jsonvalue.String(UpdateToolCallUpdate)),
				jsonvalue.Field("toolCallId", jsonvalue.String("t")),
				jsonvalue.Field("status", jsonvalue.String(st)),
			))))
			cur, _ := d.Lookup("t")
			if cur.Status.rank() < prev.Status.rank() {
				t.Fatalf("round %d: status regressed %s -> %s", round, prev.Status, cur.Status)
			}
			if prev.Status.Terminal() && cur.Status != prev.Status {
				t.Fatalf("round %d: terminal status %s changed to %s", round, prev.Status, cur.Status)
			}
			prev = cur
		}
	}
}

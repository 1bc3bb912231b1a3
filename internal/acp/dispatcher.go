// ABOUTME: Applies session/update notifications to per-turn state and forwards them as events
// ABOUTME: Keeps the turn's text buffer and tool-call records; tool-call status only moves forward

package acp

import (
	"slices"
	"strings"
	"sync"

	"github.com/mauromedda/acp-engine-go/internal/log"
	"github.com/mauromedda/acp-engine-go/internal/metrics"
	"github.com/mauromedda/acp-engine-go/pkg/jsonvalue"
)

// session/update kinds.
const (
	UpdateAgentMessageChunk = "agent_message_chunk"
	UpdateAgentThoughtChunk = "agent_thought_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
	UpdatePlan              = "plan"
)

// Dispatcher holds the state a turn accumulates from streamed updates.
type Dispatcher struct {
	mu        sync.Mutex
	sessionID string
	turnID    string
	text      strings.Builder
	calls     []ToolCallRecord
	index     map[string]int

	emit    func(Event)
	metrics *metrics.Collector
	log     *log.Logger
}

// NewDispatcher returns a dispatcher that reports changes through emit.
func NewDispatcher(emit func(Event), m *metrics.Collector, l *log.Logger) *Dispatcher {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Dispatcher{
		index:   make(map[string]int),
		emit:    emit,
		metrics: m,
		log:     l,
	}
}

// SetSession sets the session whose updates are accepted.
func (d *Dispatcher) SetSession(id string) {
	d.mu.Lock()
	d.sessionID = id
	d.mu.Unlock()
}

// BeginTurn discards the previous turn's text and tool calls.
func (d *Dispatcher) BeginTurn(turnID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.turnID = turnID
	d.text.Reset()
	d.calls = nil
	clear(d.index)
}

// EndTurn returns the accumulated text and a snapshot of the tool calls.
// The records stay readable through ToolCalls until the next BeginTurn.
func (d *Dispatcher) EndTurn() (string, []ToolCallRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	text := d.text.String()
	d.text.Reset()
	return text, cloneRecords(d.calls)
}

// ToolCalls returns a snapshot of the current turn's tool calls in arrival order.
func (d *Dispatcher) ToolCalls() []ToolCallRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneRecords(d.calls)
}

// Lookup returns the tool call with the given id.
func (d *Dispatcher) Lookup(id string) (ToolCallRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.index[id]
	if !ok {
		return ToolCallRecord{}, false
	}
	return cloneRecord(d.calls[i]), true
}

// Handle applies one session/update params object.
func (d *Dispatcher) Handle(params jsonvalue.Value) {
	update := params.Lookup("update")
	kind := update.StringAt("sessionUpdate")

	ev := d.apply(params.StringAt("sessionId"), kind, update)
	if ev != nil {
		d.emit(ev)
	}
}

func (d *Dispatcher) apply(sessionID, kind string, update jsonvalue.Value) Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sessionID != "" && sessionID != d.sessionID {
		d.log.Debug("dropping %s for foreign session %q", kind, sessionID)
		return nil
	}

	switch kind {
	case UpdateAgentMessageChunk:
		d.metrics.SessionUpdate(kind)
		text, ok := textContent(update.Lookup("content"))
		if !ok {
			return nil
		}
		d.text.WriteString(text)
		return EvTextChunk{SessionID: d.sessionID, TurnID: d.turnID, Text: text}

	case UpdateAgentThoughtChunk:
		d.metrics.SessionUpdate(kind)
		text, ok := textContent(update.Lookup("content"))
		if !ok {
			return nil
		}
		return EvThoughtChunk{SessionID: d.sessionID, TurnID: d.turnID, Text: text}

	case UpdateToolCall:
		d.metrics.SessionUpdate(kind)
		return d.addToolCall(update)

	case UpdateToolCallUpdate:
		d.metrics.SessionUpdate(kind)
		return d.updateToolCall(update)

	case UpdatePlan:
		d.metrics.SessionUpdate(kind)
		var entries []PlanEntry
		for _, e := range update.Lookup("entries").Items() {
			entries = append(entries, PlanEntry{
				Content:  e.StringAt("content"),
				Priority: e.StringAt("priority"),
				Status:   e.StringAt("status"),
			})
		}
		return EvPlan{SessionID: d.sessionID, TurnID: d.turnID, Entries: entries}
	}

	d.metrics.SessionUpdate("other")
	d.log.Debug("ignoring session update %q", kind)
	return nil
}

func (d *Dispatcher) addToolCall(update jsonvalue.Value) Event {
	id := update.StringAt("toolCallId")
	if id == "" {
		d.log.Warn("tool_call without toolCallId")
		return nil
	}
	if _, dup := d.index[id]; dup {
		return nil
	}

	status := StatusPending
	if st, ok := ParseToolCallStatus(update.StringAt("status")); ok && !st.Terminal() {
		status = st
	}
	rec := ToolCallRecord{
		ID:        id,
		Title:     update.StringAt("title"),
		Kind:      ParseToolKind(update.StringAt("kind")),
		Status:    status,
		Locations: locationsOf(update.Lookup("locations")),
	}
	d.index[id] = len(d.calls)
	d.calls = append(d.calls, rec)
	return EvToolCall{SessionID: d.sessionID, TurnID: d.turnID, Call: cloneRecord(rec)}
}

func (d *Dispatcher) updateToolCall(update jsonvalue.Value) Event {
	id := update.StringAt("toolCallId")
	i, ok := d.index[id]
	if !ok {
		d.log.Debug("tool_call_update for unknown id %q", id)
		return nil
	}
	rec := &d.calls[i]
	if rec.Status.Terminal() {
		return nil
	}

	prev := rec.Status
	changed := false
	if st, ok := ParseToolCallStatus(update.StringAt("status")); ok && st != rec.Status && rec.Status.CanAdvanceTo(st) {
		rec.Status = st
		changed = true
	}
	if title := update.StringAt("title"); title != "" && title != rec.Title {
		rec.Title = title
		changed = true
	}
	if k, ok := update.Lookup("kind").AsString(); ok {
		if kind := ParseToolKind(k); kind != rec.Kind {
			rec.Kind = kind
			changed = true
		}
	}
	if locs := locationsOf(update.Lookup("locations")); len(locs) > 0 && !slices.Equal(locs, rec.Locations) {
		rec.Locations = locs
		changed = true
	}
	if !changed {
		return nil
	}
	return EvToolCallUpdated{SessionID: d.sessionID, TurnID: d.turnID, Call: cloneRecord(*rec), Previous: prev}
}

// textContent extracts the text of a text content block. Agents that omit
// the block type are treated as sending text.
func textContent(content jsonvalue.Value) (string, bool) {
	if t := content.StringAt("type"); t != "" && t != ContentText {
		return "", false
	}
	text := content.StringAt("text")
	return text, text != ""
}

func cloneRecord(r ToolCallRecord) ToolCallRecord {
	r.Locations = slices.Clone(r.Locations)
	return r
}

func cloneRecords(in []ToolCallRecord) []ToolCallRecord {
	if in == nil {
		return nil
	}
	out := make([]ToolCallRecord, len(in))
	for i, r := range in {
		out[i] = cloneRecord(r)
	}
	return out
}

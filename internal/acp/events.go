// ABOUTME: Events the engine publishes to its host: state, streamed text, tool calls, plans, turn completion
// ABOUTME: Delivered through an injected Publisher; eventbus.Bus[Event] is the usual implementation

package acp

// Event is implemented by every engine event type.
type Event interface {
	isEvent()
}

// Publisher receives engine events. Publish may be called from the read
// loop goroutine, so implementations should not block for long.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(ev Event) { f(ev) }

// EvStateChanged reports a session-manager transition. Err is set when the
// transition was caused by a failure.
type EvStateChanged struct {
	From State
	To   State
	Err  error
}

// EvPromptSubmitted reports that a turn started.
type EvPromptSubmitted struct {
	SessionID string
	TurnID    string
	Text      string
	Blocks    []ContentBlock
}

// EvTextChunk carries one fragment of assistant text, in arrival order.
type EvTextChunk struct {
	SessionID string
	TurnID    string
	Text      string
}

// EvThoughtChunk carries one fragment of the agent's reasoning.
type EvThoughtChunk struct {
	SessionID string
	TurnID    string
	Text      string
}

// EvToolCall announces a new tool call.
type EvToolCall struct {
	SessionID string
	TurnID    string
	Call      ToolCallRecord
}

// EvToolCallUpdated reports a change to a known tool call.
type EvToolCallUpdated struct {
	SessionID string
	TurnID    string
	Call      ToolCallRecord
	Previous  ToolCallStatus
}

// EvPlan carries the agent's current execution plan, replacing any earlier one.
type EvPlan struct {
	SessionID string
	TurnID    string
	Entries   []PlanEntry
}

// EvTurnComplete is published once per turn, after the session/prompt
// response (or its failure) arrives.
type EvTurnComplete struct {
	SessionID  string
	TurnID     string
	Text       string
	StopReason string
	ToolCalls  []ToolCallRecord
	Err        error
}

func (EvStateChanged) isEvent()    {}
func (EvPromptSubmitted) isEvent() {}
func (EvTextChunk) isEvent()       {}
func (EvThoughtChunk) isEvent()    {}
func (EvToolCall) isEvent()        {}
func (EvToolCallUpdated) isEvent() {}
func (EvPlan) isEvent()            {}
func (EvTurnComplete) isEvent()    {}

// ABOUTME: Folds transcript records into display entries shared by the HTML and Markdown exporters
// ABOUTME: Tool call updates collapse into the entry of the call they update

package export

import (
	"encoding/json"

	"github.com/mauromedda/acp-engine-go/internal/acp"
	"github.com/mauromedda/acp-engine-go/internal/transcript"
)

// Role classifies an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RolePlan      Role = "plan"
)

// Entry is one rendered block of a transcript.
type Entry struct {
	Role    Role
	TurnID  string
	Text    string
	Thought string

	// Tool calls.
	Tool transcript.ToolCallData

	// Plans.
	Plan []acp.PlanEntry

	// Assistant turns.
	StopReason string
	Error      string
}

// Failed reports whether the entry is a failed turn or tool call.
func (e Entry) Failed() bool {
	return e.Error != "" || (e.Role == RoleTool && e.Tool.Status == string(acp.StatusFailed))
}

// Session is a transcript ready to render.
type Session struct {
	Start   transcript.SessionStartData
	Entries []Entry
	Ended   bool
}

// Fold turns records into a Session. Records it cannot decode are skipped.
func Fold(records []transcript.Record) Session {
	var s Session
	tools := make(map[string]int) // tool call id -> index in s.Entries

	for _, rec := range records {
		switch rec.Type {
		case transcript.RecordSessionStart:
			_ = json.Unmarshal(rec.Data, &s.Start)
		case transcript.RecordPrompt:
			var d transcript.PromptData
			if json.Unmarshal(rec.Data, &d) == nil {
				s.Entries = append(s.Entries, Entry{Role: RoleUser, TurnID: rec.TurnID, Text: d.Text})
			}
		case transcript.RecordToolCall:
			var d transcript.ToolCallData
			if json.Unmarshal(rec.Data, &d) == nil {
				tools[d.ID] = len(s.Entries)
				s.Entries = append(s.Entries, Entry{Role: RoleTool, TurnID: rec.TurnID, Tool: d})
			}
		case transcript.RecordToolUpdate:
			var d transcript.ToolCallData
			if json.Unmarshal(rec.Data, &d) != nil {
				continue
			}
			if i, ok := tools[d.ID]; ok {
				mergeTool(&s.Entries[i].Tool, d)
				continue
			}
			tools[d.ID] = len(s.Entries)
			s.Entries = append(s.Entries, Entry{Role: RoleTool, TurnID: rec.TurnID, Tool: d})
		case transcript.RecordPlan:
			var d transcript.PlanData
			if json.Unmarshal(rec.Data, &d) == nil {
				s.Entries = append(s.Entries, Entry{Role: RolePlan, TurnID: rec.TurnID, Plan: d.Entries})
			}
		case transcript.RecordTurnEnd:
			var d transcript.TurnEndData
			if json.Unmarshal(rec.Data, &d) == nil {
				s.Entries = append(s.Entries, Entry{
					Role:       RoleAssistant,
					TurnID:     rec.TurnID,
					Text:       d.Text,
					Thought:    d.Thought,
					StopReason: d.StopReason,
					Error:      d.Error,
				})
			}
		case transcript.RecordSessionEnd:
			s.Ended = true
		}
	}
	return s
}

// mergeTool copies the fields an update carries onto the recorded call.
func mergeTool(dst *transcript.ToolCallData, u transcript.ToolCallData) {
	if u.Title != "" {
		dst.Title = u.Title
	}
	if u.Kind != "" {
		dst.Kind = u.Kind
	}
	if u.Status != "" {
		dst.Status = u.Status
	}
	if u.Previous != "" {
		dst.Previous = u.Previous
	}
	if len(u.Locations) > 0 {
		dst.Locations = u.Locations
	}
}

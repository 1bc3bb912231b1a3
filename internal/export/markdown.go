// ABOUTME: Markdown exporter for recorded ACP sessions
// ABOUTME: One heading per prompt and reply; tool calls and plans become lists

package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/mauromedda/acp-engine-go/internal/transcript"
)

// Markdown renders records as a Markdown document to w.
func Markdown(records []transcript.Record, w io.Writer) error {
	s := Fold(records)
	var b strings.Builder

	fmt.Fprintf(&b, "# Session %s\n\n", orUnknown(s.Start.ID))
	if s.Start.Agent != "" {
		agent := s.Start.Agent
		if s.Start.Profile != "" {
			agent += " (" + s.Start.Profile + ")"
		}
		fmt.Fprintf(&b, "- Agent: %s\n", agent)
	}
	if s.Start.CWD != "" {
		fmt.Fprintf(&b, "- Directory: `%s`\n", s.Start.CWD)
	}

	prev := Role("")
	for _, e := range s.Entries {
		switch e.Role {
		case RoleUser:
			fmt.Fprintf(&b, "\n## User\n\n%s\n", strings.TrimSpace(e.Text))
		case RoleTool:
			if prev != RoleTool {
				b.WriteString("\n")
			}
			title := e.Tool.Title
			if title == "" {
				title = e.Tool.ID
			}
			fmt.Fprintf(&b, "- `%s` %s: %s\n", e.Tool.Kind, title, e.Tool.Status)
		case RolePlan:
			b.WriteString("\n**Plan**\n\n")
			for _, p := range e.Plan {
				box := " "
				if p.Status == "completed" {
					box = "x"
				}
				fmt.Fprintf(&b, "- [%s] %s\n", box, p.Content)
			}
		case RoleAssistant:
			b.WriteString("\n## Assistant\n\n")
			if e.Thought != "" {
				for _, line := range strings.Split(strings.TrimSpace(e.Thought), "\n") {
					fmt.Fprintf(&b, "> %s\n", line)
				}
				b.WriteString("\n")
			}
			if text := strings.TrimSpace(e.Text); text != "" {
				b.WriteString(text + "\n")
			}
			switch {
			case e.Error != "":
				fmt.Fprintf(&b, "\n_error: %s_\n", e.Error)
			case stopLabel(e.StopReason) != "":
				fmt.Fprintf(&b, "\n_(%s)_\n", stopLabel(e.StopReason))
			}
		}
		prev = e.Role
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// stopLabel returns a readable stop reason, or "" for a normal end of turn.
func stopLabel(reason string) string {
	if reason == "" || reason == "end_turn" {
		return ""
	}
	return strings.ReplaceAll(reason, "_", " ")
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}

// ABOUTME: Lipgloss styles for the terminal host: tool kinds, tool statuses, diffs, and dialogs
// ABOUTME: Colors degrade to plain text when output is not a terminal

package host

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mauromedda/acp-engine-go/internal/acp"
)

// Palette holds the styles the host renders with.
type Palette struct {
	Bold      lipgloss.Style
	Dim       lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Info      lipgloss.Style
	Selection lipgloss.Style

	ToolRead    lipgloss.Style
	ToolEdit    lipgloss.Style
	ToolSearch  lipgloss.Style
	ToolExecute lipgloss.Style
	ToolOther   lipgloss.Style

	DiffAdded   lipgloss.Style
	DiffRemoved lipgloss.Style
	DiffHeader  lipgloss.Style
	DiffHunk    lipgloss.Style
}

// NewPalette returns the color palette, or an unstyled one when plain is set.
func NewPalette(plain bool) Palette {
	if plain {
		s := lipgloss.NewStyle()
		return Palette{
			Bold: s, Dim: s, Success: s, Error: s, Warning: s, Info: s, Selection: s,
			ToolRead: s, ToolEdit: s, ToolSearch: s, ToolExecute: s, ToolOther: s,
			DiffAdded: s, DiffRemoved: s, DiffHeader: s, DiffHunk: s,
		}
	}
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return Palette{
		Bold:      lipgloss.NewStyle().Bold(true),
		Dim:       lipgloss.NewStyle().Faint(true),
		Success:   fg("2"),
		Error:     fg("1"),
		Warning:   fg("3"),
		Info:      fg("6"),
		Selection: lipgloss.NewStyle().Reverse(true),

		ToolRead:    fg("4"),
		ToolEdit:    fg("3"),
		ToolSearch:  fg("6"),
		ToolExecute: fg("208"),
		ToolOther:   fg("8"),

		DiffAdded:   fg("2"),
		DiffRemoved: fg("1"),
		DiffHeader:  fg("6"),
		DiffHunk:    fg("5"),
	}
}

// Kind returns the style for a tool kind.
func (p Palette) Kind(k acp.ToolKind) lipgloss.Style {
	switch k {
	case acp.ToolRead:
		return p.ToolRead
	case acp.ToolEdit:
		return p.ToolEdit
	case acp.ToolSearch:
		return p.ToolSearch
	case acp.ToolExecute:
		return p.ToolExecute
	}
	return p.ToolOther
}

// Status renders a tool-call status with its marker.
func (p Palette) Status(s acp.ToolCallStatus) string {
	switch s {
	case acp.StatusCompleted:
		return p.Success.Render("✓ " + string(s))
	case acp.StatusFailed:
		return p.Error.Render("✗ " + string(s))
	case acp.StatusInProgress:
		return p.Info.Render("… " + string(s))
	}
	return p.Dim.Render("○ " + string(s))
}

// RenderDiff colors a unified diff line by line.
func (p Palette) RenderDiff(diff string) string {
	if diff == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(diff, "\n"), "\n")
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch {
		case strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---"):
			b.WriteString(p.DiffHeader.Render(line))
		case strings.HasPrefix(line, "@@"):
			b.WriteString(p.DiffHunk.Render(line))
		case strings.HasPrefix(line, "+"):
			b.WriteString(p.DiffAdded.Render(line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(p.DiffRemoved.Render(line))
		default:
			b.WriteString(line)
		}
	}
	return b.String()
}

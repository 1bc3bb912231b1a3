// ABOUTME: Printer renders engine events to the terminal as they arrive
// ABOUTME: Streams assistant text (or renders it as markdown at turn end), tool calls, plans, and errors

package host

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mauromedda/acp-engine-go/internal/acp"
)

// PrinterOptions configures a Printer.
type PrinterOptions struct {
	Palette Palette
	// Markdown, when set, holds assistant text until the turn ends and
	// prints it rendered. Otherwise text streams as it arrives.
	Markdown *MarkdownRenderer
	// Width reports the current terminal width. Defaults to DefaultWidth.
	Width func() int
	// ShowThoughts prints the agent's reasoning chunks.
	ShowThoughts bool
}

// Printer writes engine events to out. Subscribe its Handle method to the
// engine's event bus.
type Printer struct {
	out  io.Writer
	opts PrinterOptions

	mu       sync.Mutex
	text     strings.Builder
	midLine  bool
	thinking bool
}

// NewPrinter returns a printer writing to out.
func NewPrinter(out io.Writer, opts PrinterOptions) *Printer {
	if opts.Width == nil {
		opts.Width = func() int { return DefaultWidth }
	}
	return &Printer{out: out, opts: opts}
}

// Handle renders one event.
func (p *Printer) Handle(ev acp.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pal := p.opts.Palette

	switch e := ev.(type) {
	case acp.EvPromptSubmitted:
		p.text.Reset()
		p.thinking = false

	case acp.EvTextChunk:
		p.endThought()
		if p.opts.Markdown != nil {
			p.text.WriteString(e.Text)
			return
		}
		p.write(e.Text)

	case acp.EvThoughtChunk:
		if !p.opts.ShowThoughts {
			return
		}
		if !p.thinking {
			p.newline()
			p.thinking = true
		}
		p.write(pal.Dim.Render(e.Text))

	case acp.EvToolCall:
		p.endThought()
		p.newline()
		p.line(p.toolLine(e.Call))

	case acp.EvToolCallUpdated:
		if e.Previous == e.Call.Status {
			return
		}
		p.endThought()
		p.newline()
		title := TruncateToWidth(callTitle(e.Call), max(p.opts.Width()-24, 10))
		p.line(fmt.Sprintf("    %s %s", pal.Dim.Render(title), pal.Status(e.Call.Status)))

	case acp.EvPlan:
		p.endThought()
		p.newline()
		p.line(pal.Bold.Render("Plan"))
		for _, entry := range e.Entries {
			mark := "○"
			switch entry.Status {
			case "completed":
				mark = pal.Success.Render("✓")
			case "in_progress":
				mark = pal.Info.Render("…")
			}
			p.line(fmt.Sprintf("  %s %s", mark, TruncateToWidth(entry.Content, max(p.opts.Width()-4, 10))))
		}

	case acp.EvTurnComplete:
		p.endThought()
		if p.opts.Markdown != nil && p.text.Len() > 0 {
			p.newline()
			p.line(p.opts.Markdown.Render(p.text.String(), p.opts.Width()))
			p.text.Reset()
		}
		p.newline()
		switch {
		case e.Err != nil:
			p.line(pal.Error.Render("error: " + e.Err.Error()))
		case e.StopReason != "" && e.StopReason != "end_turn":
			p.line(pal.Dim.Render("(" + strings.ReplaceAll(e.StopReason, "_", " ") + ")"))
		}

	case acp.EvStateChanged:
		if e.Err != nil && e.To == acp.StateDisconnected {
			p.newline()
			p.line(pal.Error.Render("agent disconnected: " + e.Err.Error()))
		}
	}
}

// Notice prints a host message on its own line.
func (p *Printer) Notice(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.newline()
	p.line(p.opts.Palette.Info.Render(fmt.Sprintf(format, args...)))
}

func (p *Printer) toolLine(c acp.ToolCallRecord) string {
	pal := p.opts.Palette
	kind := pal.Kind(c.Kind).Render("[" + string(c.Kind) + "]")
	title := TruncateToWidth(callTitle(c), max(p.opts.Width()-VisibleWidth(string(c.Kind))-24, 10))
	return fmt.Sprintf("  ⏺ %s %s  %s", kind, pal.Bold.Render(title), pal.Status(c.Status))
}

func callTitle(c acp.ToolCallRecord) string {
	if c.Title != "" {
		return c.Title
	}
	if len(c.Locations) > 0 {
		return c.Locations[0]
	}
	return c.ID
}

func (p *Printer) endThought() {
	if p.thinking {
		p.thinking = false
		p.newline()
	}
}

func (p *Printer) write(s string) {
	if s == "" {
		return
	}
	io.WriteString(p.out, s)
	p.midLine = !strings.HasSuffix(s, "\n")
}

func (p *Printer) line(s string) {
	io.WriteString(p.out, s+"\n")
	p.midLine = false
}

func (p *Printer) newline() {
	if p.midLine {
		io.WriteString(p.out, "\n")
		p.midLine = false
	}
}

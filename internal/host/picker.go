// ABOUTME: Interactive permission picker: Bubble Tea list on a TTY, numbered line prompt otherwise
// ABOUTME: Asker implements acp.PermissionDecider; options filter fuzzily and edits show a diff preview

package host

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"

	"github.com/mauromedda/acp-engine-go/internal/acp"
	"github.com/mauromedda/acp-engine-go/internal/diff"
)

// maxPreviewLines caps the diff shown with a permission request.
const maxPreviewLines = 40

// pickerModel is a filterable list of permission options.
// Implements tea.Model with value semantics.
type pickerModel struct {
	req      acp.PermissionRequest
	preview  string
	palette  Palette
	visible  []int // indexes into req.Options
	selected int
	filter   string
	width    int

	choice string
	done   bool
}

func newPickerModel(req acp.PermissionRequest, pal Palette, width int) pickerModel {
	m := pickerModel{req: req, palette: pal, width: width, preview: preview(req, pal)}
	m.applyFilter()
	return m
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyUp, tea.KeyCtrlP:
			if m.selected > 0 {
				m.selected--
			}
		case tea.KeyDown, tea.KeyCtrlN, tea.KeyTab:
			if m.selected < len(m.visible)-1 {
				m.selected++
			}
		case tea.KeyEnter:
			if len(m.visible) > 0 {
				m.choice = m.req.Options[m.visible[m.selected]].OptionID
			}
			m.done = true
			return m, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			m.choice = ""
			m.done = true
			return m, tea.Quit
		case tea.KeyBackspace:
			if m.filter != "" {
				r := []rune(m.filter)
				m.filter = string(r[:len(r)-1])
				m.applyFilter()
			}
		case tea.KeyRunes:
			if m.filter == "" && len(msg.Runes) == 1 {
				if id, ok := shortcut(m.req.Options, msg.Runes[0]); ok {
					m.choice = id
					m.done = true
					return m, tea.Quit
				}
			}
			m.filter += string(msg.Runes)
			m.applyFilter()
		}
	}
	return m, nil
}

func (m pickerModel) View() string {
	if m.done {
		return ""
	}
	pal := m.palette
	var b strings.Builder
	b.WriteString(header(m.req, pal, m.width))
	if m.preview != "" {
		b.WriteString(m.preview)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	for i, idx := range m.visible {
		opt := m.req.Options[idx]
		line := TruncateToWidth(fmt.Sprintf("  %d. %s", idx+1, optionLabel(opt)), max(m.width, 20))
		if i == m.selected {
			line = pal.Bold.Render(pal.Selection.Render(line))
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if len(m.visible) == 0 {
		b.WriteString(pal.Dim.Render("  no option matches"))
		b.WriteByte('\n')
	}
	if m.filter != "" {
		b.WriteString(pal.Dim.Render("  filter: " + m.filter))
		b.WriteByte('\n')
	}
	b.WriteString(pal.Dim.Render("  ↑/↓ select · enter confirm · esc cancel"))
	return b.String()
}

func (m *pickerModel) applyFilter() {
	m.selected = 0
	m.visible = make([]int, 0, len(m.req.Options))
	if m.filter == "" {
		for i := range m.req.Options {
			m.visible = append(m.visible, i)
		}
		return
	}
	for _, match := range fuzzy.Find(m.filter, optionNames(m.req.Options)) {
		m.visible = append(m.visible, match.Index)
	}
}

// Asker asks the user to pick a permission option. It implements
// acp.PermissionDecider. Requests are asked one at a time.
type Asker struct {
	console *Console
	palette Palette
	mu      sync.Mutex

	// runPicker is replaced in tests.
	runPicker func(ctx context.Context, m pickerModel) (pickerModel, error)
}

// NewAsker returns an Asker for console.
func NewAsker(console *Console, pal Palette) *Asker {
	a := &Asker{console: console, palette: pal}
	a.runPicker = a.runTea
	return a
}

// DecidePermission implements acp.PermissionDecider.
func (a *Asker) DecidePermission(ctx context.Context, req acp.PermissionRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(req.Options) == 0 {
		return "", nil
	}
	if a.console.Interactive() {
		m, err := a.runPicker(ctx, newPickerModel(req, a.palette, a.console.Width()))
		if err != nil {
			return "", err
		}
		return m.choice, nil
	}
	return a.askLine(ctx, req)
}

func (a *Asker) runTea(ctx context.Context, m pickerModel) (pickerModel, error) {
	p := tea.NewProgram(m,
		tea.WithInput(a.console.In),
		tea.WithOutput(a.console.Out),
		tea.WithContext(ctx),
	)
	final, err := p.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, tea.ErrProgramKilled) {
			return m, ctxErr
		}
		return m, fmt.Errorf("running permission picker: %w", err)
	}
	return final.(pickerModel), nil
}

// askLine prints the options numbered and reads the answer from the
// console. An empty answer dismisses the request.
func (a *Asker) askLine(ctx context.Context, req acp.PermissionRequest) (string, error) {
	pal := a.palette
	out := a.console.Out
	width := a.console.Width()

	fmt.Fprint(out, "\n"+header(req, pal, width))
	if p := preview(req, pal); p != "" {
		fmt.Fprintln(out, p)
	}
	for i, opt := range req.Options {
		fmt.Fprintf(out, "  %d. %s\n", i+1, optionLabel(opt))
	}

	for attempt := 0; attempt < 3; attempt++ {
		fmt.Fprintf(out, "choose 1-%d (enter to cancel): ", len(req.Options))
		answer, err := a.console.ReadLine(ctx)
		if err != nil {
			return "", err
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return "", nil
		}
		if id, ok := matchOption(req.Options, answer); ok {
			return id, nil
		}
		fmt.Fprintln(out, pal.Warning.Render("no option matches "+strconv.Quote(answer)))
	}
	return "", nil
}

// matchOption resolves a typed answer: an option number, a shortcut
// letter, an option id, or a fuzzy match on option names.
func matchOption(options []acp.PermissionOption, answer string) (string, bool) {
	if n, err := strconv.Atoi(answer); err == nil {
		if n >= 1 && n <= len(options) {
			return options[n-1].OptionID, true
		}
		return "", false
	}
	if r := []rune(answer); len(r) == 1 {
		if id, ok := shortcut(options, r[0]); ok {
			return id, true
		}
	}
	for _, o := range options {
		if o.OptionID == answer {
			return o.OptionID, true
		}
	}
	matches := fuzzy.Find(answer, optionNames(options))
	if len(matches) == 0 {
		return "", false
	}
	return options[matches[0].Index].OptionID, true
}

// shortcut maps y, a, n, and r onto option kinds.
func shortcut(options []acp.PermissionOption, r rune) (string, bool) {
	var kinds []string
	switch r {
	case 'y':
		kinds = []string{"allow_once", "allow_always"}
	case 'a':
		kinds = []string{"allow_always"}
	case 'n':
		kinds = []string{"reject_once", "reject_always"}
	case 'r':
		kinds = []string{"reject_always"}
	default:
		return "", false
	}
	for _, k := range kinds {
		for _, o := range options {
			if o.Kind == k {
				return o.OptionID, true
			}
		}
	}
	return "", false
}

func optionNames(options []acp.PermissionOption) []string {
	names := make([]string, len(options))
	for i, o := range options {
		names[i] = o.Name
		if names[i] == "" {
			names[i] = o.OptionID
		}
	}
	return names
}

func optionLabel(o acp.PermissionOption) string {
	name := o.Name
	if name == "" {
		name = o.OptionID
	}
	if o.Kind == "" {
		return name
	}
	return name + " (" + strings.ReplaceAll(o.Kind, "_", " ") + ")"
}

func header(req acp.PermissionRequest, pal Palette, width int) string {
	var b strings.Builder
	b.WriteString(pal.Warning.Render(pal.Bold.Render("Permission required")))
	b.WriteByte('\n')
	title := req.Title
	if title == "" {
		title = req.ToolCallID
	}
	fmt.Fprintf(&b, "  %s %s\n", pal.Kind(req.Kind).Render("["+string(req.Kind)+"]"), TruncateToWidth(title, max(width-12, 10)))
	for _, loc := range req.Locations {
		fmt.Fprintf(&b, "  %s\n", pal.Dim.Render(TruncateToWidth(loc, max(width-2, 10))))
	}
	return b.String()
}

// preview renders the proposed edit as a colored unified diff.
func preview(req acp.PermissionRequest, pal Palette) string {
	if req.Diff == nil {
		return ""
	}
	d := req.Diff
	text := diff.Unified(d.Path, d.OldText, d.NewText, 3)
	if text == "" {
		return pal.Dim.Render("  (no changes)")
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	more := 0
	if len(lines) > maxPreviewLines {
		more = len(lines) - maxPreviewLines
		lines = lines[:maxPreviewLines]
	}
	out := pal.Dim.Render("  "+diff.Count(d.OldText, d.NewText).String()) + "\n" + pal.RenderDiff(strings.Join(lines, "\n"))
	if more > 0 {
		out += "\n" + pal.Dim.Render(fmt.Sprintf("  … %d more lines", more))
	}
	return out
}

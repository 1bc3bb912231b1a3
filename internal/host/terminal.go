// ABOUTME: Terminal detection for the host: TTY checks and width via golang.org/x/term
// ABOUTME: Console pairs the output writer with one shared line reader for prompts and answers

package host

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// DefaultWidth is used when the output is not a terminal.
const DefaultWidth = 80

// Console is the host's terminal. Prompt input and line-mode permission
// answers share one reader so buffered input is never split between them.
type Console struct {
	In  io.Reader
	Out io.Writer

	inFd, outFd int
	inTTY       bool
	outTTY      bool

	once    sync.Once
	lines   chan lineResult
	reader  *bufio.Reader
	mu      sync.Mutex
	reading bool
}

type lineResult struct {
	line string
	err  error
}

// NewConsole wraps in and out. TTY detection applies only to *os.File.
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{In: in, Out: out, inFd: -1, outFd: -1}
	if f, ok := in.(*os.File); ok {
		c.inFd = int(f.Fd())
		c.inTTY = term.IsTerminal(c.inFd)
	}
	if f, ok := out.(*os.File); ok {
		c.outFd = int(f.Fd())
		c.outTTY = term.IsTerminal(c.outFd)
	}
	return c
}

// Interactive reports whether both ends are terminals.
func (c *Console) Interactive() bool {
	return c.inTTY && c.outTTY
}

// Styled reports whether output goes to a terminal.
func (c *Console) Styled() bool {
	return c.outTTY
}

// Width returns the output width in columns.
func (c *Console) Width() int {
	if c.outTTY {
		if w, _, err := term.GetSize(c.outFd); err == nil && w > 0 {
			return w
		}
	}
	return DefaultWidth
}

// ReadLine reads one line without the trailing newline. It returns ctx.Err()
// when ctx ends first; the pending read is kept for the next call.
func (c *Console) ReadLine(ctx context.Context) (string, error) {
	c.once.Do(func() {
		c.reader = bufio.NewReader(c.In)
		c.lines = make(chan lineResult)
	})
	c.mu.Lock()
	if !c.reading {
		c.reading = true
		go c.readOne()
	}
	c.mu.Unlock()
	select {
	case r := <-c.lines:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// readOne delivers one line to whoever calls ReadLine next. At most one
// read is outstanding; a line nobody waited for goes to the next caller.
func (c *Console) readOne() {
	line, err := c.reader.ReadString('\n')
	c.mu.Lock()
	c.reading = false
	c.mu.Unlock()
	if line != "" && err == io.EOF {
		err = nil
	}
	c.lines <- lineResult{line: strings.TrimRight(line, "\r\n"), err: err}
}

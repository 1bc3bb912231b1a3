// ABOUTME: The chat loop: reads prompts from the console, runs turns, and handles slash commands
// ABOUTME: Ctrl-C during a turn sends session/cancel; Ctrl-C while idle ends the chat

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/mauromedda/acp-engine-go/internal/acp"
	"github.com/mauromedda/acp-engine-go/internal/commands"
	"github.com/mauromedda/acp-engine-go/internal/host"
	"github.com/mauromedda/acp-engine-go/internal/log"
	"github.com/mauromedda/acp-engine-go/internal/permission"
	"github.com/mauromedda/acp-engine-go/internal/workspace"
)

// session is the part of *acp.Engine the chat drives.
type session interface {
	PromptText(ctx context.Context, text string) (*acp.Turn, error)
	Cancel(ctx context.Context) error
	State() acp.State
	SessionID() string
}

type chat struct {
	sess     session
	console  *host.Console
	printer  *host.Printer
	commands *commands.Registry
	cmdCtx   *commands.Context

	quit bool
	// interrupts counts Ctrl-C presses during the current turn.
	interrupts atomic.Int32
}

// newChat builds a chat whose slash commands act on policy and ws. The
// caller may fill in the optional callbacks of the returned chat's cmdCtx.
func newChat(sess session, console *host.Console, printer *host.Printer, policy *permission.Policy, ws *workspace.Workspace) *chat {
	c := &chat{sess: sess, console: console, printer: printer, commands: commands.NewRegistry()}
	c.cmdCtx = &commands.Context{
		Version:   version,
		SessionID: sess.SessionID,
		GetMode:   func() string { return policy.Mode().String() },
		SetMode: func(s string) error {
			m, err := permission.ParseMode(s)
			if err != nil {
				return err
			}
			policy.SetMode(m)
			return nil
		},
		Forget:  policy.Reset,
		Pending: ws.Pending,
		Accept:  ws.Accept,
		Discard: ws.Discard,
		Undo:    ws.Undo,
		ExitFn:  func() { c.quit = true },
	}
	return c
}

// run reads prompts until EOF, /quit, or the agent goes away.
func (c *chat) run(ctx context.Context) error {
	for {
		if c.console.Interactive() {
			fmt.Fprint(c.console.Out, "\n› ")
		}
		line, err := c.console.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if c.command(line) {
				return nil
			}
			continue
		}
		if err := c.turn(ctx, line); err != nil {
			return err
		}
	}
}

// turn runs one prompt. Failures of the turn itself are already printed
// from EvTurnComplete; only a lost session is returned.
func (c *chat) turn(ctx context.Context, text string) error {
	c.interrupts.Store(0)
	_, err := c.sess.PromptText(ctx, text)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, acp.ErrClosed), errors.Is(err, acp.ErrNotReady), errors.Is(err, acp.ErrTransportClosed):
		return fmt.Errorf("agent session ended: %w", err)
	default:
		log.Debug("turn: %v", err)
		return nil
	}
}

// command runs a slash command and reports whether the chat should end.
func (c *chat) command(line string) bool {
	out, err := c.commands.Dispatch(c.cmdCtx, line)
	if out != "" {
		for _, l := range strings.Split(out, "\n") {
			c.printer.Notice("%s", l)
		}
	}
	if err != nil {
		c.printer.Notice("%v (try /help)", err)
	}
	return c.quit
}

// handleSignals cancels the running turn on the first Ctrl-C. A second
// Ctrl-C in the same turn, one while idle, or SIGTERM ends the chat.
func (c *chat) handleSignals(ctx context.Context, cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if !c.interrupt(ctx, sig) {
				cancel()
				return
			}
		}
	}
}

// interrupt handles one signal and reports whether the chat keeps going.
func (c *chat) interrupt(ctx context.Context, sig os.Signal) bool {
	if sig != os.Interrupt || c.sess.State() != acp.StatePromptInFlight {
		return false
	}
	if c.interrupts.Add(1) > 1 {
		return false
	}
	c.printer.Notice("cancelling turn (Ctrl-C again to quit)")
	if err := c.sess.Cancel(ctx); err != nil {
		log.Debug("cancel: %v", err)
	}
	return true
}

// ABOUTME: Frame transport: spawns the agent process and moves newline-delimited JSON over its stdio
// ABOUTME: stdout is pumped to a Receiver, stderr drained to debug logs; writes tolerate a dead child

package acp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mauromedda/acp-engine-go/internal/log"
)

const (
	readChunkSize    = 32 * 1024
	maxStderrLine    = 1024 * 1024
	maxStderrTail    = 64 * 1024
	killWait         = 2 * time.Second
	defaultStopGrace = 2 * time.Second
)

// Transport carries outbound lines to the agent.
type Transport interface {
	// WriteLine writes line followed by '\n'. Concurrent calls never
	// interleave. Writes to an exited agent are dropped without error.
	WriteLine(line []byte) error
	// Stop shuts the agent down. Calling it again is a no-op.
	Stop() error
}

// Receiver consumes what a transport reads from the agent. Receive is called
// from a single goroutine; chunk is only valid for the duration of the call.
// Closed is called exactly once, after the last Receive.
type Receiver interface {
	Receive(chunk []byte)
	Closed(err error)
}

// Dialer starts a transport for spec, delivering inbound bytes to recv.
type Dialer func(ctx context.Context, spec LaunchSpec, recv Receiver) (Transport, error)

// LaunchSpec describes how to start the agent process.
type LaunchSpec struct {
	Command       string
	Args          []string
	Env           []string // extra KEY=VALUE entries on top of the inherited environment
	Dir           string
	Profile       string
	ProfileFlag   string
	SearchPaths   []string
	ShutdownGrace time.Duration
}

// Argv returns the arguments passed to the command, including the profile
// selection when both a profile and a profile flag are set.
func (s LaunchSpec) Argv() []string {
	args := append([]string(nil), s.Args...)
	if s.Profile != "" && s.ProfileFlag != "" {
		args = append(args, s.ProfileFlag, s.Profile)
	}
	return args
}

// DefaultSearchPaths lists directories tried when the command is not on
// PATH. GUI-launched hosts do not inherit a login shell's PATH.
func DefaultSearchPaths() []string {
	paths := []string{"/opt/homebrew/bin", "/usr/local/bin"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append([]string{filepath.Join(home, ".local", "bin")}, paths...)
	}
	return paths
}

// Locate resolves command through PATH, then through the extra directories.
func Locate(command string, extra []string) (string, error) {
	if command == "" {
		return "", errors.New("no agent command configured")
	}
	path, err := exec.LookPath(command)
	if err == nil {
		return path, nil
	}
	if strings.ContainsRune(command, filepath.Separator) {
		return "", err
	}
	for _, dir := range extra {
		candidate := filepath.Join(expandHome(dir), command)
		if p, lerr := exec.LookPath(candidate); lerr == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%q not found in PATH or %s", command, strings.Join(extra, ", "))
}

func expandHome(dir string) string {
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, dir[1:])
		}
	}
	return dir
}

// ProcessTransport talks to an agent child process over its stdio pipes.
type ProcessTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	grace  time.Duration
	log    *log.Logger

	writeMu  sync.Mutex
	stopOnce sync.Once
	done     chan struct{}

	// receiving is set while the stdout pump is inside Receive.
	receiving atomic.Bool

	tailMu  sync.Mutex
	tail    []byte
	exitErr error
}

// DialProcess is the production Dialer.
func DialProcess(ctx context.Context, spec LaunchSpec, recv Receiver) (Transport, error) {
	t, err := StartProcess(ctx, spec, recv)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// StartProcess locates and launches the agent. Failures are *ConnectionError
// with Op "locate" or "spawn". The child outlives ctx; only Stop ends it.
func StartProcess(ctx context.Context, spec LaunchSpec, recv Receiver) (*ProcessTransport, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Op: "spawn", Err: err}
	}

	path, err := Locate(spec.Command, spec.SearchPaths)
	if err != nil {
		return nil, &ConnectionError{Op: "locate", Err: err}
	}

	cmd := exec.Command(path, spec.Argv()...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ConnectionError{Op: "spawn", Err: fmt.Errorf("creating stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ConnectionError{Op: "spawn", Err: fmt.Errorf("creating stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ConnectionError{Op: "spawn", Err: fmt.Errorf("creating stderr pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return nil, &ConnectionError{Op: "spawn", Err: fmt.Errorf("starting %q: %w", path, err)}
	}

	grace := spec.ShutdownGrace
	if grace <= 0 {
		grace = defaultStopGrace
	}
	t := &ProcessTransport{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		grace:  grace,
		log:    log.New("acp.transport"),
		done:   make(chan struct{}),
	}
	t.log.Debug("started %s %v (pid %d)", path, spec.Argv(), cmd.Process.Pid)

	go t.run(recv)
	return t, nil
}

func (t *ProcessTransport) run(recv Receiver) {
	var g errgroup.Group
	g.Go(func() error { return t.pumpStdout(recv) })
	g.Go(func() error { return t.drainStderr() })
	pumpErr := g.Wait()

	err := t.cmd.Wait()
	if err == nil {
		err = pumpErr
	}
	t.tailMu.Lock()
	t.exitErr = err
	t.tailMu.Unlock()
	t.log.Debug("agent exited: %v", err)

	close(t.done)
	recv.Closed(err)
}

func (t *ProcessTransport) pumpStdout(recv Receiver) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := t.stdout.Read(buf)
		if n > 0 {
			t.receiving.Store(true)
			recv.Receive(buf[:n])
			t.receiving.Store(false)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading agent stdout: %w", err)
		}
	}
}

func (t *ProcessTransport) drainStderr() error {
	sc := bufio.NewScanner(t.stderr)
	sc.Buffer(make([]byte, 0, 4096), maxStderrLine)
	for sc.Scan() {
		line := log.StripANSI(sc.Text())
		t.log.Debug("stderr: %s", line)
		t.appendTail(line)
	}
	if err := sc.Err(); err != nil {
		// Keep the pipe empty so the child never blocks on stderr.
		_, _ = io.Copy(io.Discard, t.stderr)
	}
	return nil
}

func (t *ProcessTransport) appendTail(line string) {
	t.tailMu.Lock()
	defer t.tailMu.Unlock()
	t.tail = append(t.tail, line...)
	t.tail = append(t.tail, '\n')
	if over := len(t.tail) - maxStderrTail; over > 0 {
		t.tail = append(t.tail[:0], t.tail[over:]...)
	}
}

// StderrTail returns the most recent stderr output, ANSI-stripped.
func (t *ProcessTransport) StderrTail() string {
	t.tailMu.Lock()
	defer t.tailMu.Unlock()
	return string(t.tail)
}

// Pid returns the child's process id.
func (t *ProcessTransport) Pid() int {
	return t.cmd.Process.Pid
}

// Done is closed once the child has exited and both pipes are drained.
func (t *ProcessTransport) Done() <-chan struct{} {
	return t.done
}

// ExitErr returns the child's exit error once Done is closed.
func (t *ProcessTransport) ExitErr() error {
	t.tailMu.Lock()
	defer t.tailMu.Unlock()
	return t.exitErr
}

// WriteLine writes line and a newline to the child's stdin.
func (t *ProcessTransport) WriteLine(line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(buf); err != nil {
		if isClosedPipe(err) {
			t.log.Debug("dropping write to exited agent: %v", err)
			return nil
		}
		return fmt.Errorf("writing to agent: %w", err)
	}
	return nil
}

func isClosedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// Stop closes stdin, gives the child the grace period to exit, then kills
// it. It returns once the pumps finish or a bounded wait expires. While a
// Receive callback is running, Stop starts the shutdown and returns without
// waiting: the stdout pump cannot finish before that callback does.
func (t *ProcessTransport) Stop() error {
	if t.receiving.Load() {
		go t.stop()
		return nil
	}
	t.stop()
	return nil
}

func (t *ProcessTransport) stop() {
	t.stopOnce.Do(func() {
		_ = t.stdin.Close()

		select {
		case <-t.done:
			return
		case <-time.After(t.grace):
		}

		t.log.Debug("agent still running after %s, killing pid %d", t.grace, t.cmd.Process.Pid)
		if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			t.log.Warn("kill agent: %v", err)
		}

		select {
		case <-t.done:
			return
		case <-time.After(killWait):
		}

		// A grandchild may still hold the pipes open; unblock the pumps.
		_ = t.stdout.Close()
		_ = t.stderr.Close()
		select {
		case <-t.done:
		case <-time.After(killWait):
			t.log.Warn("agent pipes did not drain after kill")
		}
	})
}

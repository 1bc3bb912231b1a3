// ABOUTME: Session manager: drives the ACP handshake, prompt turns, cancellation, and shutdown
// ABOUTME: Owns one transport, correlator, dispatcher, and reverse handler per agent session

package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mauromedda/acp-engine-go/internal/log"
	"github.com/mauromedda/acp-engine-go/internal/metrics"
	"github.com/mauromedda/acp-engine-go/pkg/jsonvalue"
)

// Defaults applied to zero Config fields.
const (
	DefaultHandshakeTimeout = 8 * time.Second
	DefaultRequestTimeout   = 60 * time.Second
	DefaultShutdownGrace    = 2 * time.Second
	DefaultProfileFlag      = "--agent"
	DefaultClientName       = "acp-engine-go"
)

// Config describes the agent to launch and the engine's timing.
type Config struct {
	Command     string
	Args        []string
	Env         []string
	SearchPaths []string
	WorkDir     string
	Profile     string
	ProfileFlag string

	// HandshakeTimeout bounds initialize plus session/new together.
	HandshakeTimeout time.Duration
	// RequestTimeout bounds session/prompt and every other request.
	RequestTimeout time.Duration
	ShutdownGrace  time.Duration

	ClientName    string
	ClientVersion string
	MaxFrameBytes int
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.ProfileFlag == "" {
		c.ProfileFlag = DefaultProfileFlag
	}
	if c.SearchPaths == nil {
		c.SearchPaths = DefaultSearchPaths()
	}
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = DefaultMaxFrameBytes
	}
	return c
}

// Options wires an engine to its collaborators. Only Config.Command is
// required; nil collaborators fall back to safe defaults.
type Options struct {
	Config      Config
	Files       FileAccessor
	Mutator     FileMutator
	Permissions PermissionDecider
	Events      Publisher
	Metrics     *metrics.Collector
	Dial        Dialer
	Logger      *log.Logger
}

// Turn is the outcome of one prompt.
type Turn struct {
	ID         string
	SessionID  string
	Prompt     string
	Text       string
	StopReason string
	ToolCalls  []ToolCallRecord
	Err        error
}

// Engine is one ACP client session with one agent process.
type Engine struct {
	cfg      Config
	dial     Dialer
	events   Publisher
	metrics  *metrics.Collector
	log      *log.Logger
	corr     *Correlator
	frames   *FrameReader
	dispatch *Dispatcher
	reverse  *ReverseHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	started   bool
	stopped   bool
	transport Transport
	sessionID string
	agentInfo AgentInfo
	connErr   error
	lastErr   error

	inflight sync.WaitGroup
	muted    atomic.Bool
	stopOnce sync.Once
	dropped  int // owned by the receive goroutine
}

// New builds an engine. Nothing is launched until Connect or Start.
func New(opts Options) *Engine {
	cfg := opts.Config.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = log.New("acp")
	}
	dial := opts.Dial
	if dial == nil {
		dial = DialProcess
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:     cfg,
		dial:    dial,
		events:  opts.Events,
		metrics: opts.Metrics,
		log:     logger,
		corr:    NewCorrelator(opts.Metrics),
		frames:  NewFrameReader(cfg.MaxFrameBytes),
		ctx:     ctx,
		cancel:  cancel,
	}
	e.dispatch = NewDispatcher(e.emit, opts.Metrics, logger.With("updates"))
	e.reverse = &ReverseHandler{
		Files:       opts.Files,
		Mutator:     opts.Mutator,
		Permissions: opts.Permissions,
		ToolCall:    e.dispatch.Lookup,
		Metrics:     opts.Metrics,
		Log:         logger.With("reverse"),
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SessionID returns the agent-assigned session id, or "" before the handshake.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// ConnectionFailed returns the sticky connection failure, or nil. Once set,
// the engine cannot be reused.
func (e *Engine) ConnectionFailed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connErr
}

// Err returns the most recent failure of any kind.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// AgentInfo returns what the agent reported during initialize.
func (e *Engine) AgentInfo() AgentInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agentInfo
}

// ToolCalls returns the current (or most recent) turn's tool calls.
func (e *Engine) ToolCalls() []ToolCallRecord {
	return e.dispatch.ToolCalls()
}

// Start runs Connect in the background. The outcome is observable through
// EvStateChanged and ConnectionFailed.
func (e *Engine) Start() {
	go func() {
		_ = e.Connect(context.Background())
	}()
}

// Connect launches the agent and performs initialize and session/new. On
// failure the engine is left Disconnected with a sticky ConnectionFailed.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	ev := e.transitionLocked(StateConnecting, nil)
	e.mu.Unlock()
	e.emit(ev)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(e.ctx, cancel)
	defer stopWatch()

	if err := e.handshake(ctx); err != nil {
		return e.fail(err)
	}
	return nil
}

func (e *Engine) handshake(ctx context.Context) error {
	deadline := time.Now().Add(e.cfg.HandshakeTimeout)

	spec := LaunchSpec{
		Command:       e.cfg.Command,
		Args:          e.cfg.Args,
		Env:           e.cfg.Env,
		Dir:           e.cfg.WorkDir,
		Profile:       e.cfg.Profile,
		ProfileFlag:   e.cfg.ProfileFlag,
		SearchPaths:   e.cfg.SearchPaths,
		ShutdownGrace: e.cfg.ShutdownGrace,
	}
	t, err := e.dial(ctx, spec, receiver{e})
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		_ = t.Stop()
		return ErrClosed
	}
	e.transport = t
	e.mu.Unlock()

	initParams := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientCapabilities: ClientCapabilities{
			FS: FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
		},
		ClientInfo: &Implementation{Name: e.cfg.ClientName, Version: e.cfg.ClientVersion},
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return fmt.Errorf("initialize: %w", &TimeoutError{Method: MethodInitialize, After: e.cfg.HandshakeTimeout})
	}
	res, err := e.call(ctx, MethodInitialize, initParams, remaining)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	info := parseAgentInfo(res)
	if info.ProtocolVersion != 0 && info.ProtocolVersion != ProtocolVersion {
		e.log.Warn("agent speaks protocol version %d, client speaks %d", info.ProtocolVersion, ProtocolVersion)
	}

	e.mu.Lock()
	e.agentInfo = info
	ev := e.transitionLocked(StateInitialized, nil)
	e.mu.Unlock()
	e.emit(ev)

	remaining = time.Until(deadline)
	if remaining <= 0 {
		return fmt.Errorf("session/new: %w", &TimeoutError{Method: MethodSessionNew, After: e.cfg.HandshakeTimeout})
	}
	newParams := NewSessionParams{Cwd: e.cfg.WorkDir, MCPServers: []any{}, AgentProfile: e.cfg.Profile}
	res, err = e.call(ctx, MethodSessionNew, newParams, remaining)
	if err != nil {
		return fmt.Errorf("session/new: %w", err)
	}
	sid := res.StringAt("sessionId")
	if sid == "" {
		return errors.New("session/new: response has no sessionId")
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrClosed
	}
	e.sessionID = sid
	e.dispatch.SetSession(sid)
	ev = e.transitionLocked(StateSessionActive, nil)
	e.mu.Unlock()
	e.emit(ev)

	e.log.Info("session %s active with %s %s", sid, orDefault(info.Name, e.cfg.Command), info.Version)
	return nil
}

// fail records a handshake failure as the sticky connection error and
// tears down whatever was started.
func (e *Engine) fail(err error) error {
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		err = &ConnectionError{Op: "handshake", Err: err}
	}

	e.mu.Lock()
	e.connErr = err
	e.lastErr = err
	t := e.transport
	e.transport = nil
	ev := e.transitionLocked(StateDisconnected, err)
	e.mu.Unlock()

	e.corr.Close(ErrTransportClosed)
	if t != nil {
		_ = t.Stop()
	}
	e.log.Warn("connection failed: %v", err)
	e.emit(ev)
	return err
}

// Call sends a request and waits for its result, bounded by the request
// timeout and ctx.
func (e *Engine) Call(ctx context.Context, method string, params any) (jsonvalue.Value, error) {
	return e.call(ctx, method, params, e.cfg.RequestTimeout)
}

func (e *Engine) call(ctx context.Context, method string, params any, timeout time.Duration) (jsonvalue.Value, error) {
	e.mu.Lock()
	t := e.transport
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return jsonvalue.Value{}, ErrClosed
	}
	if t == nil {
		return jsonvalue.Value{}, ErrTransportClosed
	}

	p := e.corr.Register(method, timeout)
	data, err := json.Marshal(Request{JSONRPC: jsonRPCVersion, ID: p.ID, Method: method, Params: params})
	if err != nil {
		e.corr.Fail(p.ID, err)
		return jsonvalue.Value{}, fmt.Errorf("marshaling %s request: %w", method, err)
	}
	if err := t.WriteLine(data); err != nil {
		e.corr.Fail(p.ID, err)
		return jsonvalue.Value{}, err
	}
	return p.Wait(ctx)
}

// Prompt submits one turn and blocks until the agent answers the
// session/prompt request. The returned Turn is also published as
// EvTurnComplete. A turn that fails still returns a Turn with Err set.
func (e *Engine) Prompt(ctx context.Context, blocks ...ContentBlock) (*Turn, error) {
	if len(blocks) == 0 {
		return nil, errors.New("acp: empty prompt")
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	switch e.state {
	case StateSessionActive:
	case StatePromptInFlight:
		e.mu.Unlock()
		return nil, ErrPromptInFlight
	default:
		e.mu.Unlock()
		return nil, ErrNotReady
	}
	turn := &Turn{ID: uuid.NewString(), SessionID: e.sessionID, Prompt: promptText(blocks)}
	e.dispatch.BeginTurn(turn.ID)
	ev := e.transitionLocked(StatePromptInFlight, nil)
	e.mu.Unlock()

	e.emit(ev)
	e.emit(EvPromptSubmitted{SessionID: turn.SessionID, TurnID: turn.ID, Text: turn.Prompt, Blocks: blocks})

	res, err := e.call(ctx, MethodSessionPrompt, PromptParams{SessionID: turn.SessionID, Prompt: blocks}, e.cfg.RequestTimeout)
	if err != nil && (errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// The agent may still be working; ask it to stop.
		if cerr := e.notify(MethodSessionCancel, CancelParams{SessionID: turn.SessionID}); cerr != nil {
			e.log.Debug("cancel after abandoned prompt: %v", cerr)
		}
	}

	turn.Text, turn.ToolCalls = e.dispatch.EndTurn()
	if err != nil {
		turn.Err = err
	} else {
		turn.StopReason = res.StringAt("stopReason")
	}

	e.mu.Lock()
	var sev Event
	if e.state == StatePromptInFlight && !e.stopped {
		sev = e.transitionLocked(StateSessionActive, nil)
	}
	var exitErr *ExitError
	if err != nil && !errors.As(e.lastErr, &exitErr) {
		e.lastErr = err
	}
	e.mu.Unlock()

	e.metrics.TurnFinished(turn.StopReason)
	e.emit(sev)
	e.emit(EvTurnComplete{
		SessionID:  turn.SessionID,
		TurnID:     turn.ID,
		Text:       turn.Text,
		StopReason: turn.StopReason,
		ToolCalls:  turn.ToolCalls,
		Err:        turn.Err,
	})
	return turn, err
}

// PromptText is shorthand for Prompt with a single text block.
func (e *Engine) PromptText(ctx context.Context, text string) (*Turn, error) {
	return e.Prompt(ctx, TextBlock(text))
}

// Cancel asks the agent to stop the current turn. The turn still ends only
// when the session/prompt response arrives.
func (e *Engine) Cancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	sid := e.sessionID
	e.mu.Unlock()
	if sid == "" {
		return ErrNoSession
	}
	return e.notify(MethodSessionCancel, CancelParams{SessionID: sid})
}

func (e *Engine) notify(method string, params any) error {
	e.mu.Lock()
	t := e.transport
	e.mu.Unlock()
	if t == nil {
		return ErrTransportClosed
	}
	data, err := json.Marshal(Notification{JSONRPC: jsonRPCVersion, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshaling %s notification: %w", method, err)
	}
	return t.WriteLine(data)
}

// Stop tears the session down. It is safe from any goroutine, including
// event handlers and permission deciders, and only the first call acts.
// Outstanding permission prompts get the deny default, pending requests
// resolve with ErrClosed, and no event delivery starts after Stop returns.
func (e *Engine) Stop() {
	var final Event
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()
		e.muted.Store(true)

		e.cancel()
		if !waitTimeout(&e.inflight, e.cfg.ShutdownGrace) {
			e.log.Warn("reverse calls still running after %s", e.cfg.ShutdownGrace)
		}
		e.corr.Close(ErrClosed)

		e.mu.Lock()
		t := e.transport
		e.transport = nil
		ev := e.transitionLocked(StateDisconnected, nil)
		e.mu.Unlock()

		if t != nil {
			_ = t.Stop()
		}
		final = ev
	})
	// Published outside the once so a handler that calls Stop again returns.
	if final != nil && e.events != nil {
		e.events.Publish(final)
	}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// transitionLocked moves to next and returns the event to publish, or nil
// when the state did not change. Caller holds e.mu.
func (e *Engine) transitionLocked(next State, cause error) Event {
	if e.state == next {
		return nil
	}
	prev := e.state
	e.state = next
	e.log.Debug("state %s -> %s", prev, next)
	return EvStateChanged{From: prev, To: next, Err: cause}
}

func (e *Engine) emit(ev Event) {
	if ev == nil || e.events == nil || e.muted.Load() {
		return
	}
	e.events.Publish(ev)
}

// receiver adapts the engine to the transport's Receiver.
type receiver struct{ e *Engine }

func (r receiver) Receive(chunk []byte) {
	e := r.e
	e.frames.Feed(chunk)
	for frame := range e.frames.Frames() {
		e.handleFrame(frame)
	}
	if d := e.frames.Dropped(); d > e.dropped {
		for range d - e.dropped {
			e.metrics.Frame("oversized")
		}
		e.log.Warn("dropped %d oversized frame(s)", d-e.dropped)
		e.dropped = d
	}
}

func (r receiver) Closed(err error) {
	r.e.transportClosed(err)
}

func (e *Engine) handleFrame(frame []byte) {
	msg, err := Classify(frame)
	if err != nil {
		e.metrics.Frame("malformed")
		e.log.Warn("%v", err)
		return
	}
	e.metrics.Frame(msg.Kind.String())

	switch msg.Kind {
	case KindResponse:
		id, ok := msg.NumericID()
		if !ok {
			e.log.Warn("response with non-numeric id %s", msg.ID)
			return
		}
		if !e.corr.Resolve(id, msg.Result, msg.Error) {
			e.log.Debug("response for unknown or expired id %d", id)
		}
	case KindNotification:
		if msg.Method != MethodSessionUpdate {
			e.log.Debug("ignoring notification %s", msg.Method)
			return
		}
		e.dispatch.Handle(msg.Params)
	case KindIncomingCall:
		e.serveCall(msg)
	}
}

// serveCall answers an incoming call on its own goroutine so a slow
// permission prompt never stalls the read loop.
func (e *Engine) serveCall(msg Message) {
	e.mu.Lock()
	if e.stopped {
		t := e.transport
		e.mu.Unlock()
		e.writeReply(t, shutdownReply(msg))
		return
	}
	e.inflight.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.inflight.Done()
		reply := e.reverse.Handle(e.ctx, msg)
		e.mu.Lock()
		t := e.transport
		e.mu.Unlock()
		e.writeReply(t, reply)
	}()
}

// shutdownReply answers a call that arrives after Stop began. Permission
// requests still get the deny default.
func shutdownReply(msg Message) Reply {
	if msg.Method == MethodRequestPermission {
		req := decodePermissionRequest(msg.ID, msg.Params)
		return Reply{ID: msg.ID, Result: selectedOutcome(req.DefaultDeny())}
	}
	return Reply{ID: msg.ID, Error: NewInternalError("client is shutting down")}
}

func (e *Engine) writeReply(t Transport, reply Reply) {
	if t == nil {
		e.log.Debug("no transport for reply to %s", reply.ID)
		return
	}
	if err := t.WriteLine(reply.Frame()); err != nil {
		e.log.Warn("writing reply to %s: %v", reply.ID, err)
	}
}

func (e *Engine) transportClosed(err error) {
	var tail string
	e.mu.Lock()
	if e.stopped || e.connErr != nil {
		e.mu.Unlock()
		return
	}
	if st, ok := e.transport.(interface{ StderrTail() string }); ok {
		tail = st.StderrTail()
	}
	cause := &ExitError{Err: err, Stderr: tail}
	e.transport = nil
	e.lastErr = cause
	ev := e.transitionLocked(StateDisconnected, cause)
	e.mu.Unlock()

	n := e.corr.Close(cause)
	e.log.Warn("%v (%d pending call(s) failed)", cause, n)
	e.emit(ev)
}

func promptText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case ContentText:
			parts = append(parts, b.Text)
		case ContentResourceLink:
			parts = append(parts, "@"+orDefault(b.Name, b.URI))
		}
	}
	return strings.Join(parts, " ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

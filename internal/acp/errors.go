// ABOUTME: Error taxonomy for the ACP engine plus JSON-RPC error-code constructors
// ABOUTME: Sentinels for engine state; typed errors for connection, protocol, timeout, and remote failures

package acp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mauromedda/acp-engine-go/pkg/jsonvalue"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidReq     = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// ACP application error codes.
const (
	ErrCodeAuthRequired     = -32000
	ErrCodeResourceNotFound = -32002
)

var (
	// ErrClosed resolves every call still pending when the engine stops.
	ErrClosed = errors.New("acp: engine stopped")
	// ErrTransportClosed resolves calls pending when the agent process exits.
	ErrTransportClosed = errors.New("acp: transport closed")
	// ErrNotReady is returned when no session is active yet.
	ErrNotReady = errors.New("acp: session not ready")
	// ErrPromptInFlight is returned when a prompt is sent while another runs.
	ErrPromptInFlight = errors.New("acp: prompt already in flight")
	// ErrNoSession is returned by operations that need a session id.
	ErrNoSession = errors.New("acp: no session")
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("acp: request timed out")
	// ErrAlreadyStarted is returned by a second Connect on the same engine.
	ErrAlreadyStarted = errors.New("acp: engine already started")
)

// ConnectionError reports a failure to launch or handshake with the agent.
// Op is "locate", "spawn", or "handshake".
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("acp: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ExitError reports that the agent process went away after the handshake.
// It matches ErrTransportClosed.
type ExitError struct {
	Err    error
	Stderr string
}

func (e *ExitError) Error() string {
	msg := "acp: agent exited"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if last := lastLine(e.Stderr); last != "" {
		msg += " (stderr: " + last + ")"
	}
	return msg
}

func (e *ExitError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransportClosed}
	}
	return []error{ErrTransportClosed, e.Err}
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// ProtocolError reports a frame that could not be understood.
type ProtocolError struct {
	Err   error
	Frame []byte
}

const maxFrameEcho = 120

func (e *ProtocolError) Error() string {
	frame := e.Frame
	suffix := ""
	if len(frame) > maxFrameEcho {
		frame = frame[:maxFrameEcho]
		suffix = "..."
	}
	return fmt.Sprintf("acp: malformed frame: %v: %q%s", e.Err, frame, suffix)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TimeoutError reports that a request got no response in time.
type TimeoutError struct {
	Method string
	ID     int64
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("acp: %s (id %d) timed out after %s", e.Method, e.ID, e.After)
}

// Is lets errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// RemoteError is a JSON-RPC error returned by the agent, kept verbatim.
type RemoteError struct {
	Method  string
	Code    int
	Message string
	Data    jsonvalue.Value
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("acp: %s: agent error %d: %s", e.Method, e.Code, e.Message)
}

func newRemoteError(method string, rpcErr *RPCError) *RemoteError {
	re := &RemoteError{Method: method, Code: rpcErr.Code, Message: rpcErr.Message}
	if rpcErr.Data != nil {
		if v, err := jsonvalue.From(rpcErr.Data); err == nil {
			re.Data = v
		}
	}
	return re
}

// NewMethodNotFoundError returns an RPCError for an unknown method.
func NewMethodNotFoundError(method string) *RPCError {
	return &RPCError{Code: ErrCodeMethodNotFound, Message: "method not found: " + method}
}

// NewInvalidParamsError returns an RPCError for invalid method parameters.
func NewInvalidParamsError(msg string, details any) *RPCError {
	return &RPCError{Code: ErrCodeInvalidParams, Message: msg, Data: details}
}

// NewInternalError returns an RPCError for unexpected host-side failures.
func NewInternalError(msg string) *RPCError {
	return &RPCError{Code: ErrCodeInternal, Message: msg}
}

// NewResourceNotFoundError returns an RPCError for a missing file.
func NewResourceNotFoundError(path string) *RPCError {
	return &RPCError{Code: ErrCodeResourceNotFound, Message: "resource not found: " + path}
}

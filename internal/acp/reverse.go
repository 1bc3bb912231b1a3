// ABOUTME: Answers calls the agent makes into the host: file reads, file writes, permission prompts
// ABOUTME: Every incoming call yields exactly one reply; collaborator panics and errors become RPC errors

package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/mauromedda/acp-engine-go/internal/log"
	"github.com/mauromedda/acp-engine-go/internal/metrics"
	"github.com/mauromedda/acp-engine-go/pkg/jsonvalue"
)

// FileAccessor reads the current text of a file, preferring an open editor
// buffer over the disk copy. A missing file must yield an error matching
// fs.ErrNotExist.
type FileAccessor interface {
	ReadTextFile(ctx context.Context, path string) (string, error)
}

// FileMutator applies a file written by the agent. It may defer the actual
// write (for example until the user reviews it) and still return nil.
type FileMutator interface {
	WriteTextFile(ctx context.Context, path, content string) error
}

// PermissionDecider picks one of the offered option ids. Returning "" means
// the user dismissed the prompt. ctx is cancelled when the engine stops.
type PermissionDecider interface {
	DecidePermission(ctx context.Context, req PermissionRequest) (string, error)
}

// FileAccessorFunc adapts a function to FileAccessor.
type FileAccessorFunc func(ctx context.Context, path string) (string, error)

func (f FileAccessorFunc) ReadTextFile(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// FileMutatorFunc adapts a function to FileMutator.
type FileMutatorFunc func(ctx context.Context, path, content string) error

func (f FileMutatorFunc) WriteTextFile(ctx context.Context, path, content string) error {
	return f(ctx, path, content)
}

// PermissionDeciderFunc adapts a function to PermissionDecider.
type PermissionDeciderFunc func(ctx context.Context, req PermissionRequest) (string, error)

func (f PermissionDeciderFunc) DecidePermission(ctx context.Context, req PermissionRequest) (string, error) {
	return f(ctx, req)
}

// Reply is the single response to an incoming call.
type Reply struct {
	ID     jsonvalue.Value
	Result any
	Error  *RPCError
}

// Frame encodes the reply as one wire line (without the newline). A result
// that cannot be encoded turns into an internal error reply.
func (r Reply) Frame() []byte {
	if r.Error == nil {
		data, err := json.Marshal(resultResponse{JSONRPC: jsonRPCVersion, ID: r.ID, Result: r.Result})
		if err == nil {
			return data
		}
		r.Error = NewInternalError("encoding result: " + err.Error())
	}
	data, err := json.Marshal(errorResponse{JSONRPC: jsonRPCVersion, ID: r.ID, Error: r.Error})
	if err != nil {
		// Only Data can fail to encode; drop it.
		data, _ = json.Marshal(errorResponse{JSONRPC: jsonRPCVersion, ID: r.ID, Error: &RPCError{Code: r.Error.Code, Message: r.Error.Message}})
	}
	return data
}

// ReverseHandler routes incoming calls to the host collaborators.
type ReverseHandler struct {
	Files       FileAccessor
	Mutator     FileMutator
	Permissions PermissionDecider
	// ToolCall looks up a known tool call so permission prompts can show
	// its title when the request omits one.
	ToolCall func(id string) (ToolCallRecord, bool)
	Metrics  *metrics.Collector
	Log      *log.Logger
}

// Handle produces the reply for msg. It never panics.
func (h *ReverseHandler) Handle(ctx context.Context, msg Message) (reply Reply) {
	reply.ID = msg.ID
	defer func() {
		if r := recover(); r != nil {
			h.Log.Error("panic handling %s: %v", msg.Method, r)
			reply = Reply{ID: msg.ID, Error: NewInternalError(fmt.Sprintf("internal error: %v", r))}
		}
		h.Metrics.ReverseCall(msg.Method, replyOutcome(reply))
	}()

	switch msg.Method {
	case MethodReadTextFile, MethodWriteTextFile, MethodRequestPermission:
	default:
		h.Log.Debug("unhandled reverse call %q", msg.Method)
		reply.Error = NewMethodNotFoundError(msg.Method)
		return reply
	}

	if rpcErr := validateParams(msg.Method, msg.Params); rpcErr != nil {
		reply.Error = rpcErr
		return reply
	}

	switch msg.Method {
	case MethodReadTextFile:
		reply.Result, reply.Error = h.readTextFile(ctx, msg.Params)
	case MethodWriteTextFile:
		reply.Error = h.writeTextFile(ctx, msg.Params)
	case MethodRequestPermission:
		reply.Result = h.requestPermission(ctx, msg.ID, msg.Params)
	}
	return reply
}

func (h *ReverseHandler) readTextFile(ctx context.Context, params jsonvalue.Value) (any, *RPCError) {
	var p ReadTextFileParams
	if err := params.Decode(&p); err != nil {
		return nil, NewInvalidParamsError(err.Error(), nil)
	}
	path := p.Path
	if rpcErr := requireAbsolute(path); rpcErr != nil {
		return nil, rpcErr
	}
	if h.Files == nil {
		return nil, NewInternalError("file access is not available")
	}

	content, err := h.Files.ReadTextFile(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewResourceNotFoundError(path)
		}
		h.Log.Warn("read %s: %v", path, err)
		return nil, NewInternalError(err.Error())
	}

	if p.Line != nil || p.Limit != nil {
		line, limit := 1, -1
		if p.Line != nil {
			line = *p.Line
		}
		if p.Limit != nil {
			limit = *p.Limit
		}
		content = lineWindow(content, line, limit)
	}
	return ReadTextFileResult{Content: content}, nil
}

// lineWindow returns limit lines starting at 1-based line. A negative limit
// means through the end.
func lineWindow(content string, line, limit int) string {
	if line < 1 {
		line = 1
	}
	lines := strings.SplitAfter(content, "\n")
	start := line - 1
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit >= 0 && start+limit < end {
		end = start + limit
	}
	return strings.Join(lines[start:end], "")
}

func (h *ReverseHandler) writeTextFile(ctx context.Context, params jsonvalue.Value) *RPCError {
	var p WriteTextFileParams
	if err := params.Decode(&p); err != nil {
		return NewInvalidParamsError(err.Error(), nil)
	}
	path := p.Path
	if rpcErr := requireAbsolute(path); rpcErr != nil {
		return rpcErr
	}
	if h.Mutator == nil {
		return NewInternalError("file writes are not available")
	}
	if err := h.Mutator.WriteTextFile(ctx, path, p.Content); err != nil {
		h.Log.Warn("write %s: %v", path, err)
		return NewInternalError(err.Error())
	}
	return nil
}

func (h *ReverseHandler) requestPermission(ctx context.Context, id jsonvalue.Value, params jsonvalue.Value) RequestPermissionResult {
	req := decodePermissionRequest(id, params)
	if req.Title == "" && h.ToolCall != nil {
		if rec, ok := h.ToolCall(req.ToolCallID); ok {
			req.Title = rec.Title
			if req.Kind == ToolOther {
				req.Kind = rec.Kind
			}
		}
	}

	if h.Permissions == nil {
		return selectedOutcome(req.DefaultAllow())
	}

	optionID, err := h.decide(ctx, req)
	if err != nil {
		h.Log.Warn("permission for %s denied by default: %v", req.ToolCallID, err)
		return selectedOutcome(req.DefaultDeny())
	}
	if optionID == "" {
		return selectedOutcome("")
	}
	if _, ok := req.Option(optionID); !ok {
		h.Log.Warn("permission decider chose unknown option %q", optionID)
		return selectedOutcome(req.DefaultDeny())
	}
	return selectedOutcome(optionID)
}

func (h *ReverseHandler) decide(ctx context.Context, req PermissionRequest) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("permission decider panicked: %v", r)
		}
	}()
	return h.Permissions.DecidePermission(ctx, req)
}

func decodePermissionRequest(id jsonvalue.Value, params jsonvalue.Value) PermissionRequest {
	tc := params.Lookup("toolCall")
	req := PermissionRequest{
		CallID:     id,
		SessionID:  params.StringAt("sessionId"),
		ToolCallID: tc.StringAt("toolCallId"),
		Title:      tc.StringAt("title"),
		Kind:       ParseToolKind(tc.StringAt("kind")),
		Locations:  locationsOf(tc.Lookup("locations")),
		RawInput:   tc.Lookup("rawInput"),
	}
	for _, o := range params.Lookup("options").Items() {
		req.Options = append(req.Options, PermissionOption{
			OptionID: o.StringAt("optionId"),
			Name:     o.StringAt("name"),
			Kind:     o.StringAt("kind"),
		})
	}
	for _, c := range tc.Lookup("content").Items() {
		if c.StringAt("type") == "diff" {
			req.Diff = &DiffPreview{
				Path:    c.StringAt("path"),
				OldText: c.StringAt("oldText"),
				NewText: c.StringAt("newText"),
			}
			break
		}
	}
	return req
}

func replyOutcome(r Reply) string {
	if r.Error == nil {
		return "ok"
	}
	switch r.Error.Code {
	case ErrCodeMethodNotFound:
		return "method_not_found"
	case ErrCodeInvalidParams:
		return "invalid_params"
	case ErrCodeResourceNotFound:
		return "not_found"
	}
	return "internal_error"
}

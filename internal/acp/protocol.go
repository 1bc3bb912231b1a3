// ABOUTME: ACP wire types: JSON-RPC 2.0 envelopes, method names, and typed params/results
// ABOUTME: Also the tool-call and permission domain types shared by the dispatcher and reverse handler

package acp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mauromedda/acp-engine-go/pkg/jsonvalue"
)

const jsonRPCVersion = "2.0"

// ProtocolVersion is the ACP version sent in initialize.
const ProtocolVersion = 1

// Outbound methods.
const (
	MethodInitialize    = "initialize"
	MethodSessionNew    = "session/new"
	MethodSessionPrompt = "session/prompt"
	MethodSessionCancel = "session/cancel"
)

// Inbound methods.
const (
	MethodSessionUpdate     = "session/update"
	MethodReadTextFile      = "fs/read_text_file"
	MethodWriteTextFile     = "fs/write_text_file"
	MethodRequestPermission = "session/request_permission"
)

// Request is an outgoing JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Notification is a JSON-RPC 2.0 notification (no ID, no response expected).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// resultResponse answers an incoming call. A nil Result encodes as null.
type resultResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      jsonvalue.Value `json:"id"`
	Result  any             `json:"result"`
}

type errorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      jsonvalue.Value `json:"id"`
	Error   *RPCError       `json:"error"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Implementation names a client or agent.
type Implementation struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version,omitempty"`
}

// FileSystemCapability advertises which fs reverse calls the host answers.
type FileSystemCapability struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

// ClientCapabilities is sent in initialize.
type ClientCapabilities struct {
	FS       FileSystemCapability `json:"fs"`
	Terminal bool                 `json:"terminal"`
}

// InitializeParams are the params of the initialize request.
type InitializeParams struct {
	ProtocolVersion    int                `json:"protocolVersion"`
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
	ClientInfo         *Implementation    `json:"clientInfo,omitempty"`
}

// AgentInfo is what the agent reported about itself during initialize.
type AgentInfo struct {
	ProtocolVersion int64
	Name            string
	Title           string
	Version         string
	Capabilities    jsonvalue.Value
}

func parseAgentInfo(result jsonvalue.Value) AgentInfo {
	version, _ := result.Lookup("protocolVersion").AsInt()
	return AgentInfo{
		ProtocolVersion: version,
		Name:            result.StringAt("agentInfo", "name"),
		Title:           result.StringAt("agentInfo", "title"),
		Version:         result.StringAt("agentInfo", "version"),
		Capabilities:    result.Lookup("agentCapabilities"),
	}
}

// NewSessionParams are the params of session/new.
type NewSessionParams struct {
	Cwd          string `json:"cwd"`
	MCPServers   []any  `json:"mcpServers"`
	AgentProfile string `json:"agentProfile,omitempty"`
}

// ContentBlock is one piece of a prompt: text or a resource link.
type ContentBlock struct {
	Type     string
	Text     string
	URI      string
	Name     string
	MimeType string
}

// Content block types.
const (
	ContentText         = "text"
	ContentResourceLink = "resource_link"
)

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentText, Text: text}
}

// ResourceLinkBlock returns a resource_link content block.
func ResourceLinkBlock(uri, name string) ContentBlock {
	return ContentBlock{Type: ContentResourceLink, URI: uri, Name: name}
}

// MarshalJSON emits only the fields that belong to the block type.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case ContentText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{b.Type, b.Text})
	case ContentResourceLink:
		return json.Marshal(struct {
			Type     string `json:"type"`
			URI      string `json:"uri"`
			Name     string `json:"name"`
			MimeType string `json:"mimeType,omitempty"`
		}{b.Type, b.URI, b.Name, b.MimeType})
	}
	return nil, fmt.Errorf("unsupported content block type %q", b.Type)
}

// PromptParams are the params of session/prompt.
type PromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// CancelParams are the params of the session/cancel notification.
type CancelParams struct {
	SessionID string `json:"sessionId"`
}

// Stop reasons reported in the session/prompt result.
const (
	StopEndTurn         = "end_turn"
	StopMaxTokens       = "max_tokens"
	StopMaxTurnRequests = "max_turn_requests"
	StopRefusal         = "refusal"
	StopCancelled       = "cancelled"
)

// ReadTextFileParams are the params of fs/read_text_file.
type ReadTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Line      *int   `json:"line,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

// ReadTextFileResult is the result of fs/read_text_file.
type ReadTextFileResult struct {
	Content string `json:"content"`
}

// WriteTextFileParams are the params of fs/write_text_file.
type WriteTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// PermissionOption is one choice offered by session/request_permission.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

// IsAllow reports whether the option grants permission.
func (o PermissionOption) IsAllow() bool { return strings.HasPrefix(o.Kind, "allow") }

// IsReject reports whether the option denies permission.
func (o PermissionOption) IsReject() bool { return strings.HasPrefix(o.Kind, "reject") }

// DiffPreview is the proposed change attached to an edit permission request.
// OldText is empty for a new file.
type DiffPreview struct {
	Path    string
	OldText string
	NewText string
}

// PermissionRequest is the decoded form of session/request_permission.
type PermissionRequest struct {
	CallID     jsonvalue.Value
	SessionID  string
	ToolCallID string
	Title      string
	Kind       ToolKind
	Options    []PermissionOption
	Diff       *DiffPreview
	Locations  []string
	RawInput   jsonvalue.Value
}

// Option returns the option with the given id.
func (r PermissionRequest) Option(id string) (PermissionOption, bool) {
	for _, o := range r.Options {
		if o.OptionID == id {
			return o, true
		}
	}
	return PermissionOption{}, false
}

// DefaultAllow returns the first allow* option id, or "" when none exists.
func (r PermissionRequest) DefaultAllow() string {
	for _, o := range r.Options {
		if o.IsAllow() {
			return o.OptionID
		}
	}
	return ""
}

// DefaultDeny returns the first reject* option id, or "" when none exists.
func (r PermissionRequest) DefaultDeny() string {
	for _, o := range r.Options {
		if o.IsReject() {
			return o.OptionID
		}
	}
	return ""
}

// Permission outcomes.
const (
	OutcomeSelected  = "selected"
	OutcomeCancelled = "cancelled"
)

type permissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

// RequestPermissionResult is the result of session/request_permission.
type RequestPermissionResult struct {
	Outcome permissionOutcome `json:"outcome"`
}

func selectedOutcome(optionID string) RequestPermissionResult {
	if optionID == "" {
		return RequestPermissionResult{Outcome: permissionOutcome{Outcome: OutcomeCancelled}}
	}
	return RequestPermissionResult{Outcome: permissionOutcome{Outcome: OutcomeSelected, OptionID: optionID}}
}

// ToolKind classifies what a tool call does.
type ToolKind string

const (
	ToolRead    ToolKind = "read"
	ToolEdit    ToolKind = "edit"
	ToolSearch  ToolKind = "search"
	ToolExecute ToolKind = "execute"
	ToolOther   ToolKind = "other"
)

// ParseToolKind maps a wire kind onto the known set; anything else is other.
func ParseToolKind(s string) ToolKind {
	switch k := ToolKind(s); k {
	case ToolRead, ToolEdit, ToolSearch, ToolExecute:
		return k
	}
	return ToolOther
}

// ToolCallStatus is the lifecycle position of a tool call.
type ToolCallStatus string

const (
	StatusPending    ToolCallStatus = "pending"
	StatusInProgress ToolCallStatus = "in_progress"
	StatusCompleted  ToolCallStatus = "completed"
	StatusFailed     ToolCallStatus = "failed"
)

// ParseToolCallStatus returns the status and whether s names a known one.
func ParseToolCallStatus(s string) (ToolCallStatus, bool) {
	switch st := ToolCallStatus(s); st {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return st, true
	}
	return "", false
}

func (s ToolCallStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// Terminal reports whether no further transition is allowed.
func (s ToolCallStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo reports whether moving from s to next keeps the one-way
// progression pending, in_progress, then completed or failed.
func (s ToolCallStatus) CanAdvanceTo(next ToolCallStatus) bool {
	if s.Terminal() || next.rank() < 0 {
		return false
	}
	return next.rank() >= s.rank()
}

// ToolCallRecord is the engine's view of one tool call within a turn.
type ToolCallRecord struct {
	ID        string
	Title     string
	Kind      ToolKind
	Status    ToolCallStatus
	Locations []string
}

// PlanEntry is one line of an agent execution plan.
type PlanEntry struct {
	Content  string `json:"content"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

// locationsOf extracts the "path" of each entry in a locations array.
func locationsOf(v jsonvalue.Value) []string {
	var paths []string
	for _, loc := range v.Items() {
		if p := loc.StringAt("path"); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// ABOUTME: Append-only JSONL transcript of engine sessions, fed from the event bus
// ABOUTME: One file per agent session id; reads back line-by-line and skips malformed records

package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mauromedda/acp-engine-go/internal/acp"
	"github.com/mauromedda/acp-engine-go/internal/log"
)

// RecordType identifies the type of JSONL record.
type RecordType string

const (
	RecordSessionStart RecordType = "session_start"
	RecordPrompt       RecordType = "prompt"
	RecordToolCall     RecordType = "tool_call"
	RecordToolUpdate   RecordType = "tool_call_update"
	RecordPlan         RecordType = "plan"
	RecordTurnEnd      RecordType = "turn_end"
	RecordSessionEnd   RecordType = "session_end"
)

// Version is the record envelope version.
const Version = 1

// Record is the envelope for all JSONL entries.
type Record struct {
	Version int             `json:"v"`
	Type    RecordType      `json:"type"`
	TS      string          `json:"ts"`
	TurnID  string          `json:"turn,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SessionStartData holds session_start metadata.
type SessionStartData struct {
	ID      string `json:"id"`
	CWD     string `json:"cwd"`
	Agent   string `json:"agent"`
	Profile string `json:"profile,omitempty"`
}

// PromptData holds the user's prompt text.
type PromptData struct {
	Text string `json:"text"`
}

// ToolCallData holds a tool call snapshot.
type ToolCallData struct {
	ID        string   `json:"id"`
	Title     string   `json:"title,omitempty"`
	Kind      string   `json:"kind"`
	Status    string   `json:"status"`
	Previous  string   `json:"previous,omitempty"`
	Locations []string `json:"locations,omitempty"`
}

// PlanData holds a plan snapshot.
type PlanData struct {
	Entries []acp.PlanEntry `json:"entries"`
}

// TurnEndData holds the outcome of a turn.
type TurnEndData struct {
	Text       string `json:"text"`
	Thought    string `json:"thought,omitempty"`
	StopReason string `json:"stop_reason"`
	ToolCalls  int    `json:"tool_calls"`
	Error      string `json:"error,omitempty"`
}

// Meta describes the session a recorder writes for.
type Meta struct {
	CWD     string
	Agent   string
	Profile string
}

// Recorder writes engine events to <dir>/<session id>.jsonl. Its Handle
// method is meant to be subscribed to the engine's event bus.
type Recorder struct {
	dir  string
	meta Meta
	now  func() time.Time
	log  *log.Logger

	mu       sync.Mutex
	file     *os.File
	session  string
	thoughts strings.Builder
	err      error
	closed   bool
}

// NewRecorder returns a recorder writing under dir. The file is created when
// the first event naming a session arrives.
func NewRecorder(dir string, meta Meta) *Recorder {
	return &Recorder{dir: dir, meta: meta, now: time.Now, log: log.New("transcript")}
}

// Path returns the transcript file path, or "" before the session is known.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == "" {
		return ""
	}
	return r.pathFor(r.session)
}

func (r *Recorder) pathFor(sessionID string) string {
	return filepath.Join(r.dir, safeName(sessionID)+".jsonl")
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Handle records ev. Failures are logged and kept for Err; they never reach
// the engine.
func (r *Recorder) Handle(ev acp.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	switch e := ev.(type) {
	case acp.EvPromptSubmitted:
		r.thoughts.Reset()
		r.write(e.SessionID, RecordPrompt, e.TurnID, PromptData{Text: e.Text})
	case acp.EvThoughtChunk:
		r.thoughts.WriteString(e.Text)
	case acp.EvToolCall:
		r.write(e.SessionID, RecordToolCall, e.TurnID, toolCallData(e.Call, ""))
	case acp.EvToolCallUpdated:
		r.write(e.SessionID, RecordToolUpdate, e.TurnID, toolCallData(e.Call, e.Previous))
	case acp.EvPlan:
		r.write(e.SessionID, RecordPlan, e.TurnID, PlanData{Entries: e.Entries})
	case acp.EvTurnComplete:
		data := TurnEndData{
			Text:       e.Text,
			Thought:    r.thoughts.String(),
			StopReason: e.StopReason,
			ToolCalls:  len(e.ToolCalls),
		}
		if e.Err != nil {
			data.Error = e.Err.Error()
		}
		r.thoughts.Reset()
		r.write(e.SessionID, RecordTurnEnd, e.TurnID, data)
	case acp.EvStateChanged:
		if e.To == acp.StateDisconnected && r.file != nil {
			r.write(r.session, RecordSessionEnd, "", nil)
		}
	}
}

// write appends one record, opening the file on first use. Called with mu held.
func (r *Recorder) write(sessionID string, typ RecordType, turnID string, data any) {
	if r.err != nil || sessionID == "" {
		return
	}
	if r.file == nil {
		if err := r.open(sessionID); err != nil {
			r.fail(err)
			return
		}
		if r.err != nil {
			return
		}
	}

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			r.fail(fmt.Errorf("marshaling record data: %w", err))
			return
		}
		raw = b
	}
	line, err := json.Marshal(Record{
		Version: Version,
		Type:    typ,
		TS:      r.now().UTC().Format(time.RFC3339Nano),
		TurnID:  turnID,
		Data:    raw,
	})
	if err != nil {
		r.fail(fmt.Errorf("marshaling record: %w", err))
		return
	}
	line = append(line, '\n')
	if _, err := r.file.Write(line); err != nil {
		r.fail(fmt.Errorf("writing record: %w", err))
	}
}

func (r *Recorder) open(sessionID string) error {
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return fmt.Errorf("creating transcripts dir: %w", err)
	}
	f, err := os.OpenFile(r.pathFor(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	r.file = f
	r.session = sessionID
	r.write(sessionID, RecordSessionStart, "", SessionStartData{
		ID:      sessionID,
		CWD:     r.meta.CWD,
		Agent:   r.meta.Agent,
		Profile: r.meta.Profile,
	})
	return nil
}

func (r *Recorder) fail(err error) {
	r.err = err
	r.log.Warn("transcript disabled: %v", err)
}

// Close closes the transcript file. Later events are ignored.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func toolCallData(c acp.ToolCallRecord, previous acp.ToolCallStatus) ToolCallData {
	return ToolCallData{
		ID:        c.ID,
		Title:     c.Title,
		Kind:      string(c.Kind),
		Status:    string(c.Status),
		Previous:  string(previous),
		Locations: c.Locations,
	}
}

// safeName keeps agent-assigned ids from escaping the transcripts dir.
func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, strings.TrimLeft(id, "."))
}

// ReadRecords reads all records from a transcript file.
func ReadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024) // 10MB max line

	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // Skip malformed lines
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scanning transcript %s: %w", path, err)
	}
	return records, nil
}

// List returns the session_start record of every transcript in dir.
func List(dir string) ([]SessionStartData, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading transcripts dir: %w", err)
	}

	var sessions []SessionStartData
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		start, err := readStart(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		sessions = append(sessions, start)
	}
	return sessions, nil
}

func readStart(path string) (SessionStartData, error) {
	f, err := os.Open(path)
	if err != nil {
		return SessionStartData{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	if !scanner.Scan() {
		return SessionStartData{}, errors.New("empty transcript")
	}
	var rec Record
	if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
		return SessionStartData{}, fmt.Errorf("parsing first record: %w", err)
	}
	if rec.Type != RecordSessionStart {
		return SessionStartData{}, fmt.Errorf("first record is %s", rec.Type)
	}
	var start SessionStartData
	if err := json.Unmarshal(rec.Data, &start); err != nil {
		return SessionStartData{}, fmt.Errorf("parsing session start: %w", err)
	}
	return start, nil
}

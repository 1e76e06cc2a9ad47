package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/core/pkg/models"
)

// JournalEntryType discriminates the typed lines of a session journal.
type JournalEntryType string

const (
	JournalSession     JournalEntryType = "session"
	JournalMessage     JournalEntryType = "message"
	JournalToolCall    JournalEntryType = "tool_call"
	JournalToolResult  JournalEntryType = "tool_result"
	JournalCompaction  JournalEntryType = "compaction"
	JournalModelChange JournalEntryType = "model_change"
)

// JournalEntry is one append-only line of a session's <session_id>.jsonl
// file. Only the fields relevant to Type are populated.
type JournalEntry struct {
	Type JournalEntryType `json:"type"`
	ID   string           `json:"id"`
	TS   int64            `json:"ts"`

	// session header
	Version int64  `json:"v,omitempty"`
	AgentID string `json:"agent_id,omitempty"`

	// message
	Role    models.Role `json:"role,omitempty"`
	Content string      `json:"content,omitempty"`

	// tool_call / tool_result
	Tool   string `json:"tool,omitempty"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`

	// compaction
	Summary       string `json:"summary,omitempty"`
	DroppedBefore int    `json:"dropped_before,omitempty"`

	// model_change
	Model string `json:"model,omitempty"`
}

// Journal appends typed events to a single session's on-disk JSONL file.
// Entries from concurrent callers are serialized by mu so interleaved
// writes never tear a line; the LockManager is what prevents concurrent
// callers for the same session in the first place, this is a last-resort
// guard against a caller bypassing it.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// OpenJournal opens (creating if necessary) the JSONL file for sessionID
// under dir, ready for appending.
func OpenJournal(dir, sessionID string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessions: create journal dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sessions: open journal %s: %w", path, err)
	}
	return &Journal{file: f, enc: json.NewEncoder(f)}, nil
}

// Close releases the underlying file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

func (j *Journal) append(entry JournalEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.TS == 0 {
		entry.TS = time.Now().UnixMilli()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(entry)
}

// WriteSessionHeader appends the session header line. Callers write this
// once, when a session's journal is first created.
func (j *Journal) WriteSessionHeader(agentID string) error {
	return j.append(JournalEntry{Type: JournalSession, Version: 1, AgentID: agentID})
}

// WriteMessage appends a message line for a user or assistant turn.
func (j *Journal) WriteMessage(role models.Role, content string) error {
	return j.append(JournalEntry{Type: JournalMessage, Role: role, Content: content})
}

// WriteToolCall appends a tool_call line.
func (j *Journal) WriteToolCall(tool string, input json.RawMessage) error {
	return j.append(JournalEntry{Type: JournalToolCall, Tool: tool, Input: string(input)})
}

// WriteToolResult appends a tool_result line.
func (j *Journal) WriteToolResult(tool, output string) error {
	return j.append(JournalEntry{Type: JournalToolResult, Tool: tool, Output: output})
}

// WriteCompaction appends a compaction line recording the summary that
// replaced droppedBefore older messages.
func (j *Journal) WriteCompaction(summary string, droppedBefore int) error {
	return j.append(JournalEntry{Type: JournalCompaction, Summary: summary, DroppedBefore: droppedBefore})
}

// WriteModelChange appends a model_change line.
func (j *Journal) WriteModelChange(model string) error {
	return j.append(JournalEntry{Type: JournalModelChange, Model: model})
}

// JournalPath returns the on-disk path of sessionID's journal under dir,
// without opening it. ReadMessages uses it to locate the file it
// replays, which needs no append handle; the orchestrator calls
// ReadMessages after it has taken the session lock and opened the
// journal for the turn's writes.
func JournalPath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".jsonl")
}

// ReadMessages replays sessionID's journal and returns its message lines
// (only JournalMessage entries; tool_call/tool_result/compaction/
// model_change lines are metadata the orchestrator does not feed back to
// the LLM as LlmMessage history) as an ordered conversation history. A
// missing journal file is not an error: it means this is the session's
// first turn, so an empty history is returned.
func ReadMessages(dir, sessionID string) ([]models.LlmMessage, error) {
	path := JournalPath(dir, sessionID)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: open journal %s: %w", path, err)
	}
	defer f.Close()

	var out []models.LlmMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		var e JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("sessions: decode journal line: %w", err)
		}
		switch e.Type {
		case JournalMessage:
			out = append(out, models.LlmMessage{Role: e.Role, Content: []models.ContentBlock{models.TextBlock(e.Content)}})
		case JournalCompaction:
			// A compaction line records that the oldest DroppedBefore
			// message entries seen so far were folded into Summary;
			// replay collapses them the same way the live turn did.
			summaryMsg := models.LlmMessage{
				Role:    models.RoleUser,
				Content: []models.ContentBlock{models.TextBlock("[Previous conversation summary]\n" + e.Summary)},
			}
			if e.DroppedBefore > len(out) {
				e.DroppedBefore = len(out)
			}
			out = append([]models.LlmMessage{summaryMsg}, out[e.DroppedBefore:]...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("sessions: scan journal %s: %w", path, err)
	}
	return out, nil
}

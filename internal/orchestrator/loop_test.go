package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/relaymesh/core/internal/bus"
	"github.com/relaymesh/core/internal/contextmgr"
	"github.com/relaymesh/core/internal/router"
	"github.com/relaymesh/core/internal/sessions"
	"github.com/relaymesh/core/pkg/models"
)

type scriptedLLM struct {
	responses []router.Response
	calls     int
}

func (s *scriptedLLM) Chat(ctx context.Context, primary string, fallbacks []string, req router.Request) (router.Response, error) {
	if s.calls >= len(s.responses) {
		panic("scriptedLLM: out of responses")
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

type fakeTools struct {
	defs    []models.ToolDef
	execute func(name string, input json.RawMessage) ToolResult
}

func (f *fakeTools) Definitions() []models.ToolDef { return f.defs }

func (f *fakeTools) Execute(ctx context.Context, name string, input json.RawMessage, perms models.Permissions, sessionID, agentID string) (ToolResult, error) {
	return f.execute(name, input), nil
}

func newTestLoop(t *testing.T, llm LLM, tools ToolExecutor) (*Loop, string) {
	t.Helper()
	dir := t.TempDir()
	return New(Deps{
		LLM:        llm,
		Tools:      tools,
		Locks:      sessions.NewLockManager(0, time.Second),
		JournalDir: dir,
		Bus:        bus.New(),
		Context:    contextmgr.DefaultConfig(),
	}), dir
}

// A single end_turn response round-trips as the reply.
func TestLoopSimpleEchoTurn(t *testing.T) {
	llm := &scriptedLLM{responses: []router.Response{
		{Text: "pong", StopReason: router.StopEndTurn, InputTokens: 5, OutputTokens: 2},
	}}
	tools := &fakeTools{}
	loop, dir := newTestLoop(t, llm, tools)

	sub := bus.New()
	loop.deps.Bus = sub
	replies := sub.Subscribe(busTopicReplyReady())

	result, err := loop.Run(context.Background(), TurnRequest{
		TraceID:      "trace-1",
		AgentID:      "agent-1",
		SessionKey:   models.SessionKey{ChannelType: models.ChannelTelegram, ConnectorID: "c1", ConversationScope: "chat:1", UserScope: "user:1"},
		Text:         "ping",
		PrimaryModel: "primary",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outbound.Text != "pong" {
		t.Fatalf("expected reply pong, got %q", result.Outbound.Text)
	}
	if result.InputTokens != 5 || result.OutputTokens != 2 {
		t.Fatalf("unexpected token accounting: %+v", result)
	}

	select {
	case msg := <-replies.C:
		rr, ok := msg.(bus.ReplyReady)
		if !ok || rr.Outbound.Text != "pong" {
			t.Fatalf("unexpected bus message: %#v", msg)
		}
	default:
		t.Fatal("expected a ReplyReady event on the bus")
	}

	history, err := sessions.ReadMessages(dir, (models.SessionKey{ChannelType: models.ChannelTelegram, ConnectorID: "c1", ConversationScope: "chat:1", UserScope: "user:1"}).String())
	if err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 journal message entries, got %d", len(history))
	}
}

// A tool_use response is executed and fed back before the final reply.
func TestLoopToolUseLoop(t *testing.T) {
	llm := &scriptedLLM{responses: []router.Response{
		{
			StopReason: router.StopToolUse,
			Content:    []models.ContentBlock{models.ToolUseBlock("t1", "echo", json.RawMessage(`{"x":"hi"}`))},
		},
		{Text: "done", StopReason: router.StopEndTurn},
	}}
	tools := &fakeTools{
		defs: []models.ToolDef{{Name: "echo"}},
		execute: func(name string, input json.RawMessage) ToolResult {
			return ToolResult{Content: "hi", IsError: false}
		},
	}
	loop, dir := newTestLoop(t, llm, tools)

	sessionKey := models.SessionKey{ChannelType: models.ChannelDiscord, ConnectorID: "c1", ConversationScope: "chat:2", UserScope: "user:2"}
	result, err := loop.Run(context.Background(), TurnRequest{
		TraceID:      "trace-2",
		AgentID:      "agent-1",
		SessionKey:   sessionKey,
		Text:         "use the tool",
		PrimaryModel: "primary",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outbound.Text != "done" {
		t.Fatalf("expected done, got %q", result.Outbound.Text)
	}

	path := sessions.JournalPath(dir, sessionKey.String())
	entries := readJournalEntries(t, path)
	var gotTypes []sessions.JournalEntryType
	for _, e := range entries {
		gotTypes = append(gotTypes, e.Type)
	}
	want := []sessions.JournalEntryType{
		sessions.JournalSession,
		sessions.JournalMessage, // user "use the tool"
		sessions.JournalToolCall,
		sessions.JournalToolResult,
		sessions.JournalMessage, // assistant "done"
	}
	if len(gotTypes) != len(want) {
		t.Fatalf("entry types = %v, want %v", gotTypes, want)
	}
	for i := range want {
		if gotTypes[i] != want[i] {
			t.Fatalf("entry[%d] = %v, want %v", i, gotTypes[i], want[i])
		}
	}
}

type stubSummarizer struct {
	summary string
	calls   int
}

func (s *stubSummarizer) Summarize(ctx context.Context, systemPrompt, transcript string, maxTokens int) (string, error) {
	s.calls++
	return s.summary, nil
}

func TestLoopMaxStepsExhausted(t *testing.T) {
	toolUse := router.Response{
		StopReason: router.StopToolUse,
		Content:    []models.ContentBlock{models.ToolUseBlock("t1", "echo", json.RawMessage(`{}`))},
	}
	llm := &scriptedLLM{responses: []router.Response{toolUse, toolUse}}
	tools := &fakeTools{
		defs: []models.ToolDef{{Name: "echo"}},
		execute: func(name string, input json.RawMessage) ToolResult {
			return ToolResult{Content: "ok"}
		},
	}

	loop := New(Deps{
		LLM:        llm,
		Tools:      tools,
		Locks:      sessions.NewLockManager(0, time.Second),
		JournalDir: t.TempDir(),
		Bus:        bus.New(),
		Context:    contextmgr.DefaultConfig(),
		ReAct:      WeakReActConfig{MaxSteps: 2, RepeatGuard: 3},
	})

	_, err := loop.Run(context.Background(), TurnRequest{
		TraceID:      "trace-3",
		AgentID:      "agent-1",
		SessionKey:   models.SessionKey{ChannelType: models.ChannelSlack, ConnectorID: "c1", ConversationScope: "chat:3", UserScope: "user:3"},
		Text:         "loop forever",
		PrimaryModel: "primary",
	})
	if !errors.Is(err, ErrToolLoopExhausted) {
		t.Fatalf("expected ErrToolLoopExhausted, got %v", err)
	}
	if llm.calls != 2 {
		t.Fatalf("expected exactly MaxSteps=2 provider calls, got %d", llm.calls)
	}
}

// An assistant that keeps issuing the same text while calling tools is
// cut off with the stop marker once the text repeats RepeatGuard times.
func TestLoopRepeatGuardAppendsMarker(t *testing.T) {
	stuck := router.Response{
		Text:       "let me check that again",
		StopReason: router.StopToolUse,
		Content: []models.ContentBlock{
			models.TextBlock("let me check that again"),
			models.ToolUseBlock("t1", "echo", json.RawMessage(`{}`)),
		},
	}
	llm := &scriptedLLM{responses: []router.Response{stuck, stuck, stuck}}
	tools := &fakeTools{
		defs: []models.ToolDef{{Name: "echo"}},
		execute: func(name string, input json.RawMessage) ToolResult {
			return ToolResult{Content: "ok"}
		},
	}
	loop, _ := newTestLoop(t, llm, tools)

	result, err := loop.Run(context.Background(), TurnRequest{
		TraceID:      "trace-6",
		AgentID:      "agent-1",
		SessionKey:   models.SessionKey{ChannelType: models.ChannelSlack, ConnectorID: "c1", ConversationScope: "chat:6", UserScope: "user:6"},
		Text:         "spin",
		PrimaryModel: "primary",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "let me check that again\n[weak-react: stopped, repeated]"
	if result.Outbound.Text != want {
		t.Fatalf("reply = %q, want %q", result.Outbound.Text, want)
	}
	if llm.calls != 3 {
		t.Fatalf("expected the guard to fire on the 3rd identical reply, got %d calls", llm.calls)
	}
}

// A history inside the memory-flush band triggers one extra provider
// turn carrying the flush prompts before the reply turn runs.
func TestLoopMemoryFlushRunsExtraTurn(t *testing.T) {
	llm := &scriptedLLM{responses: []router.Response{
		{Text: "noted", StopReason: router.StopEndTurn},
		{Text: "done", StopReason: router.StopEndTurn},
	}}
	loop, _ := newTestLoop(t, llm, &fakeTools{})
	loop.deps.Context = contextmgr.Config{
		MaxTokens:          1_000,
		TargetTokens:       500,
		ReserveTokens:      0,
		MinMessages:        4,
		MaxToolResultChars: 4000,
		MemoryFlush: contextmgr.MemoryFlushConfig{
			Enabled:             true,
			SoftThresholdTokens: 900,
			SystemPrompt:        "write memory",
			Prompt:              "persist what matters",
		},
	}

	result, err := loop.Run(context.Background(), TurnRequest{
		TraceID:      "trace-4",
		AgentID:      "agent-1",
		SessionKey:   models.SessionKey{ChannelType: models.ChannelSlack, ConnectorID: "c1", ConversationScope: "chat:4", UserScope: "user:4"},
		Text:         strings.Repeat("x", 2000),
		PrimaryModel: "primary",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if llm.calls != 2 {
		t.Fatalf("expected flush turn + reply turn = 2 provider calls, got %d", llm.calls)
	}
	if result.Outbound.Text != "done" {
		t.Fatalf("expected reply from the second turn, got %q", result.Outbound.Text)
	}
}

// A journal whose replayed history exceeds the budget is compacted
// before the provider call, and the compaction is journalled.
func TestLoopCompactionWiring(t *testing.T) {
	llm := &scriptedLLM{responses: []router.Response{
		{Text: "done", StopReason: router.StopEndTurn},
	}}
	loop, dir := newTestLoop(t, llm, &fakeTools{})
	summarizer := &stubSummarizer{summary: "what came before"}
	loop.deps.Summarizer = summarizer
	loop.deps.Context = contextmgr.Config{
		MaxTokens:          1_000,
		TargetTokens:       500,
		ReserveTokens:      0,
		MinMessages:        2,
		MaxToolResultChars: 4000,
	}

	sessionKey := models.SessionKey{ChannelType: models.ChannelSlack, ConnectorID: "c1", ConversationScope: "chat:5", UserScope: "user:5"}
	journal, err := sessions.OpenJournal(dir, sessionKey.String())
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	if err := journal.WriteSessionHeader("agent-1"); err != nil {
		t.Fatalf("WriteSessionHeader: %v", err)
	}
	long := strings.Repeat("y", 1000)
	for i := 0; i < 10; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		if err := journal.WriteMessage(role, long); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	result, err := loop.Run(context.Background(), TurnRequest{
		TraceID:      "trace-5",
		AgentID:      "agent-1",
		SessionKey:   sessionKey,
		Text:         "hi",
		PrimaryModel: "primary",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summarizer.calls != 1 {
		t.Fatalf("expected exactly one summarize call, got %d", summarizer.calls)
	}
	if result.Compacted == nil || result.Compacted.CompactedCount == 0 {
		t.Fatalf("expected a compaction result, got %+v", result.Compacted)
	}

	entries := readJournalEntries(t, sessions.JournalPath(dir, sessionKey.String()))
	found := false
	for _, e := range entries {
		if e.Type == sessions.JournalCompaction {
			found = true
			if e.Summary != "what came before" {
				t.Fatalf("compaction entry summary = %q", e.Summary)
			}
		}
	}
	if !found {
		t.Fatal("expected a compaction entry in the journal")
	}
}

func TestRepeatedTail(t *testing.T) {
	if repeatedTail([]string{"a", "b", "c"}, 3) {
		t.Fatal("distinct texts should not count as repeated")
	}
	if !repeatedTail([]string{"x", "a", "a", "a"}, 3) {
		t.Fatal("three identical trailing texts should count as repeated")
	}
	if repeatedTail([]string{"a", "a"}, 3) {
		t.Fatal("fewer than n entries can never be a repeat")
	}
}

func busTopicReplyReady() bus.Topic { return bus.TopicReplyReady }

func readJournalEntries(t *testing.T, path string) []sessions.JournalEntry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	var entries []sessions.JournalEntry
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e sessions.JournalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			t.Fatalf("decode entry: %v", err)
		}
		entries = append(entries, e)
	}
	return entries
}

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/core/internal/bus"
	"github.com/relaymesh/core/internal/contextmgr"
	"github.com/relaymesh/core/internal/router"
	"github.com/relaymesh/core/internal/sessions"
	"github.com/relaymesh/core/pkg/models"
)

// DefaultMaxSteps is WeakReActConfig's default tool-use iteration bound.
const DefaultMaxSteps = 8

// DefaultRepeatGuard is how many identical consecutive assistant replies
// trigger the weak-react stop marker.
const DefaultRepeatGuard = 3

// ErrToolLoopExhausted is returned when MaxSteps tool-use iterations pass
// without the provider reaching a terminal stop reason.
var ErrToolLoopExhausted = errors.New("orchestrator: tool-use loop exhausted max steps")

// LLM is the subset of *router.Router the loop depends on, kept as an
// interface so tests can substitute a stub without constructing a real
// Router.
type LLM interface {
	Chat(ctx context.Context, primary string, agentFallbacks []string, req router.Request) (router.Response, error)
}

// ToolExecutor is the subset of *Registry the loop depends on.
type ToolExecutor interface {
	Definitions() []models.ToolDef
	Execute(ctx context.Context, name string, input json.RawMessage, perms models.Permissions, sessionID, agentID string) (ToolResult, error)
}

// WeakReActConfig bounds the tool-use loop: a hard step ceiling and a
// repeated-reply guard.
type WeakReActConfig struct {
	MaxSteps    int `yaml:"max_steps"`
	RepeatGuard int `yaml:"repeat_guard"`
}

// DefaultWeakReActConfig returns the standard loop bounds.
func DefaultWeakReActConfig() WeakReActConfig {
	return WeakReActConfig{MaxSteps: DefaultMaxSteps, RepeatGuard: DefaultRepeatGuard}
}

// Deps wires the orchestrator to its collaborating components. All
// fields are required except Summarizer, which is only consulted when
// context compaction actually triggers, and Bus, which when nil means
// the turn publishes no events.
type Deps struct {
	LLM        LLM
	Tools      ToolExecutor
	Locks      *sessions.LockManager
	JournalDir string
	Bus        *bus.Bus
	Context    contextmgr.Config
	Summarizer contextmgr.Summarizer
	ReAct      WeakReActConfig
}

// Loop runs the tool-use ReAct algorithm against a
// per-session history, coordinated by the session lock manager and
// persisted to the session journal.
type Loop struct {
	deps Deps
}

// New builds a Loop. Zero-valued ReAct fields in deps are replaced with
// spec defaults.
func New(deps Deps) *Loop {
	if deps.ReAct.MaxSteps <= 0 {
		deps.ReAct.MaxSteps = DefaultMaxSteps
	}
	if deps.ReAct.RepeatGuard <= 0 {
		deps.ReAct.RepeatGuard = DefaultRepeatGuard
	}
	return &Loop{deps: deps}
}

// TurnRequest is one inbound→outbound cycle's input, already resolved to
// an agent and carrying its assembled persona system prompt (persona/
// skill file parsing is an external concern; the loop only concatenates
// what it is handed).
type TurnRequest struct {
	TraceID        string
	AgentID        string
	SessionKey     models.SessionKey
	SystemPrompt   string
	Text           string
	Attachments    []models.Attachment
	Permissions    models.Permissions
	PrimaryModel   string
	FallbackModels []string
}

// TurnResult is what a completed turn produced.
type TurnResult struct {
	Outbound     models.OutboundMessage
	InputTokens  int
	OutputTokens int
	Compacted    *contextmgr.CompactionResult
}

// Run executes one inbound message's full turn: acquire the session
// lock, load history, append the new user message, run the context
// manager, loop tool-use, persist and publish the reply.
//
// Any error here means the router exhausted every candidate, the lock
// could not be acquired, persistence failed, or the tool-use loop ran
// MaxSteps iterations without a terminal reply (ErrToolLoopExhausted).
// Those are the only failures that abort a turn instead of surfacing as
// a soft tool-result error; the caller is expected to publish TaskFailed.
func (l *Loop) Run(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if req.TraceID == "" {
		req.TraceID = newTraceID()
	}
	sessionKey := req.SessionKey.String()

	release, err := l.deps.Locks.Acquire(ctx, sessionKey)
	if err != nil {
		return TurnResult{}, fmt.Errorf("orchestrator: acquire session lock: %w", err)
	}
	defer release()

	journal, err := sessions.OpenJournal(l.deps.JournalDir, sessionKey)
	if err != nil {
		return TurnResult{}, fmt.Errorf("orchestrator: open journal: %w", err)
	}
	defer journal.Close()

	history, err := sessions.ReadMessages(l.deps.JournalDir, sessionKey)
	if err != nil {
		return TurnResult{}, fmt.Errorf("orchestrator: read journal: %w", err)
	}
	if len(history) == 0 {
		if err := journal.WriteSessionHeader(req.AgentID); err != nil {
			return TurnResult{}, fmt.Errorf("orchestrator: write session header: %w", err)
		}
	}

	userMsg := buildUserMessage(req.Text, req.Attachments)
	history = append(history, userMsg)
	if err := journal.WriteMessage(models.RoleUser, req.Text); err != nil {
		return TurnResult{}, fmt.Errorf("orchestrator: journal user message: %w", err)
	}

	history, compactionResult, err := l.runContextManager(ctx, req, history, journal)
	if err != nil {
		return TurnResult{}, err
	}

	tools := l.deps.Tools.Definitions()

	var (
		finalText    string
		inputTokens  int
		outputTokens int
		lastTexts    []string
		finished     bool
	)

stepLoop:
	for step := 0; step < l.deps.ReAct.MaxSteps; step++ {
		resp, err := l.deps.LLM.Chat(ctx, req.PrimaryModel, req.FallbackModels, router.Request{
			Model:    req.PrimaryModel,
			System:   req.SystemPrompt,
			Messages: history,
			Tools:    tools,
		})
		if err != nil {
			return TurnResult{}, fmt.Errorf("orchestrator: llm chat: %w", err)
		}
		inputTokens += resp.InputTokens
		outputTokens += resp.OutputTokens

		// The repeat guard watches the assistant's text across every
		// iteration, including tool-use ones: an agent stuck re-issuing
		// the same thought never reaches a terminal stop on its own.
		if resp.Text != "" {
			lastTexts = append(lastTexts, resp.Text)
			if repeatedTail(lastTexts, l.deps.ReAct.RepeatGuard) {
				finalText = resp.Text + "\n[weak-react: stopped, repeated]"
				finished = true
				break stepLoop
			}
		}

		switch resp.StopReason {
		case router.StopToolUse:
			assistantMsg := models.LlmMessage{Role: models.RoleAssistant, Content: resp.Content}
			history = append(history, assistantMsg)
			if err := l.journalAssistantTurn(journal, assistantMsg); err != nil {
				return TurnResult{}, err
			}

			resultMsg, err := l.executeToolCalls(ctx, journal, assistantMsg, req)
			if err != nil {
				return TurnResult{}, err
			}
			history = append(history, resultMsg)
			continue stepLoop

		default:
			finalText = resp.Text
			finished = true
			break stepLoop
		}
	}

	if !finished {
		return TurnResult{}, fmt.Errorf("%w: session %s", ErrToolLoopExhausted, sessionKey)
	}

	if err := journal.WriteMessage(models.RoleAssistant, finalText); err != nil {
		return TurnResult{}, fmt.Errorf("orchestrator: journal reply: %w", err)
	}

	outbound := models.OutboundMessage{
		TraceID:           req.TraceID,
		ChannelType:       req.SessionKey.ChannelType,
		ConnectorID:       req.SessionKey.ConnectorID,
		ConversationScope: req.SessionKey.ConversationScope,
		Text:              finalText,
		Timestamp:         time.Now(),
	}

	if l.deps.Bus != nil {
		l.deps.Bus.Publish(bus.ReplyReady{Outbound: outbound})
		l.deps.Bus.Publish(bus.MemoryWriteRequested{SessionKey: req.SessionKey, Speaker: "user", Text: req.Text})
		l.deps.Bus.Publish(bus.MemoryWriteRequested{SessionKey: req.SessionKey, Speaker: req.AgentID, Text: finalText})
	}

	return TurnResult{
		Outbound:     outbound,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Compacted:    compactionResult,
	}, nil
}

// runContextManager runs the three pre-turn passes:
// prune old tool results, optionally run a memory-flush turn, then
// optionally compact. The memory-flush and compaction LLM calls reuse
// the same router candidate chain as the main turn.
func (l *Loop) runContextManager(ctx context.Context, req TurnRequest, history []models.LlmMessage, journal *sessions.Journal) ([]models.LlmMessage, *contextmgr.CompactionResult, error) {
	cfg := l.deps.Context
	history = cfg.PruneToolResults(history)

	estimated := contextmgr.EstimateTokens(history)
	if signal, ok := cfg.CheckMemoryFlush(estimated); ok {
		if _, err := l.deps.LLM.Chat(ctx, req.PrimaryModel, req.FallbackModels, router.Request{
			Model:     req.PrimaryModel,
			System:    signal.SystemPrompt,
			Messages:  append(append([]models.LlmMessage{}, history...), models.LlmMessage{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock(signal.Prompt)}}),
			MaxTokens: 1024,
		}); err != nil {
			return nil, nil, fmt.Errorf("orchestrator: memory flush turn: %w", err)
		}
	}

	summarizer := l.deps.Summarizer
	if summarizer == nil {
		// Compaction reuses the turn's own candidate chain by default.
		summarizer = RouterSummarizer{LLM: l.deps.LLM, PrimaryModel: req.PrimaryModel, FallbackModels: req.FallbackModels}
	}

	compacted, result, err := cfg.Compact(ctx, history, summarizer)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: compaction: %w", err)
	}
	if result != nil {
		if err := journal.WriteCompaction(result.Summary, result.CompactedCount); err != nil {
			return nil, nil, fmt.Errorf("orchestrator: journal compaction: %w", err)
		}
	}
	return compacted, result, nil
}

// executeToolCalls runs every ToolUse block in assistantMsg in order and
// returns the single user message carrying their ToolResult blocks,
// preserving the one-to-one ordered match between ToolUse ids and
// ToolResult blocks the next provider call requires.
func (l *Loop) executeToolCalls(ctx context.Context, journal *sessions.Journal, assistantMsg models.LlmMessage, req TurnRequest) (models.LlmMessage, error) {
	var results []models.ContentBlock
	for _, block := range assistantMsg.Content {
		if block.Type != models.BlockToolUse {
			continue
		}
		if err := journal.WriteToolCall(block.ToolName, block.ToolUseInput); err != nil {
			return models.LlmMessage{}, fmt.Errorf("orchestrator: journal tool call: %w", err)
		}

		result, err := l.deps.Tools.Execute(ctx, block.ToolName, block.ToolUseInput, req.Permissions, req.SessionKey.String(), req.AgentID)
		if err != nil {
			result = ToolResult{Content: fmt.Sprintf("orchestrator: tool execute: %v", err), IsError: true}
		}

		if err := journal.WriteToolResult(block.ToolName, result.Content); err != nil {
			return models.LlmMessage{}, fmt.Errorf("orchestrator: journal tool result: %w", err)
		}

		results = append(results, models.ToolResultBlock(block.ToolUseID, result.Content, result.IsError))
	}
	return models.LlmMessage{Role: models.RoleUser, Content: results}, nil
}

func (l *Loop) journalAssistantTurn(journal *sessions.Journal, msg models.LlmMessage) error {
	var text string
	for _, block := range msg.Content {
		if block.Type == models.BlockText {
			text += block.Text
		}
	}
	if text != "" {
		return journal.WriteMessage(models.RoleAssistant, text)
	}
	return nil
}

// buildUserMessage appends the inbound text and any attachments (as
// Image blocks) as a single user LlmMessage.
func buildUserMessage(text string, attachments []models.Attachment) models.LlmMessage {
	content := []models.ContentBlock{models.TextBlock(text)}
	for _, a := range attachments {
		if len(a.Data) == 0 {
			continue
		}
		content = append(content, models.ContentBlock{
			Type:      models.BlockImage,
			ImageData: a.Data,
			ImageMime: a.MimeType,
		})
	}
	return models.LlmMessage{Role: models.RoleUser, Content: content}
}

// repeatedTail reports whether the last n entries of texts are all
// equal and non-empty.
func repeatedTail(texts []string, n int) bool {
	if n <= 0 || len(texts) < n {
		return false
	}
	tail := texts[len(texts)-n:]
	if tail[0] == "" {
		return false
	}
	for _, t := range tail[1:] {
		if t != tail[0] {
			return false
		}
	}
	return true
}

// newTraceID mints an opaque unique id for a turn that did not arrive
// with one already (e.g. a scheduled or wait-task-triggered turn).
func newTraceID() string { return uuid.NewString() }

// RouterSummarizer adapts an LLM to contextmgr.Summarizer so compaction
// can reuse the same router candidate chain as the live turn.
type RouterSummarizer struct {
	LLM            LLM
	PrimaryModel   string
	FallbackModels []string
}

// Summarize implements contextmgr.Summarizer.
func (s RouterSummarizer) Summarize(ctx context.Context, systemPrompt, transcript string, maxTokens int) (string, error) {
	resp, err := s.LLM.Chat(ctx, s.PrimaryModel, s.FallbackModels, router.Request{
		Model:  s.PrimaryModel,
		System: systemPrompt,
		Messages: []models.LlmMessage{
			{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock(transcript)}},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

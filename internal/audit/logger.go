package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config controls a Logger's output and buffering behavior.
type Config struct {
	Enabled       bool
	Output        string // "stdout", "stderr", or "file:<path>"
	BufferSize    int
	FlushInterval time.Duration
	MaxFieldSize  int
}

// DefaultConfig returns a Config suitable for production use: JSON to
// stdout, buffered, with a 1KB field truncation limit.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Output:        "stdout",
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		MaxFieldSize:  1024,
	}
}

// Logger records a structured audit trail for every tool invocation.
// Writes are buffered and flushed asynchronously; a full buffer falls
// back to a direct, synchronous write rather than drop the event.
type Logger struct {
	config  Config
	output  io.WriteCloser
	slogger *slog.Logger
	buffer  chan *Event
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewLogger constructs a Logger from cfg. A disabled logger is safe to
// use everywhere Log is called; every method becomes a no-op.
func NewLogger(cfg Config) (*Logger, error) {
	if !cfg.Enabled {
		return &Logger{config: cfg}, nil
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxFieldSize == 0 {
		cfg.MaxFieldSize = 1024
	}

	var output io.WriteCloser
	switch {
	case cfg.Output == "stdout" || cfg.Output == "":
		output = os.Stdout
	case cfg.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(cfg.Output, "file:"):
		path := strings.TrimPrefix(cfg.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("audit: open log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("audit: unsupported output %q", cfg.Output)
	}

	l := &Logger{
		config:  cfg,
		output:  output,
		buffer:  make(chan *Event, cfg.BufferSize),
		done:    make(chan struct{}),
		slogger: slog.New(slog.NewJSONHandler(output, nil)).With("component", "audit"),
	}

	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Close flushes any buffered events and releases the output handle.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// LogToolInvocation records that a tool was about to run.
func (l *Logger) LogToolInvocation(ctx context.Context, toolName, origin string, input json.RawMessage, sessionID, agentID string) {
	l.log(&Event{
		Type:         EventToolInvocation,
		Level:        LevelInfo,
		ToolName:     toolName,
		Origin:       origin,
		InputSummary: l.summarizeInput(input),
		SessionID:    sessionID,
		AgentID:      agentID,
	})
}

// LogToolCompletion records a tool's outcome.
func (l *Logger) LogToolCompletion(ctx context.Context, toolName, origin string, isError bool, result string, duration time.Duration, sessionID, agentID string) {
	level := LevelInfo
	if isError {
		level = LevelWarn
	}
	l.log(&Event{
		Type:       EventToolCompletion,
		Level:      level,
		ToolName:   toolName,
		Origin:     origin,
		Result:     l.truncate(result),
		DurationMs: duration.Milliseconds(),
		SessionID:  sessionID,
		AgentID:    agentID,
	})
}

// LogToolDenied records a permission/hard-baseline denial.
func (l *Logger) LogToolDenied(ctx context.Context, toolName, origin, reason, sessionID, agentID string) {
	l.log(&Event{
		Type:      EventToolDenied,
		Level:     LevelWarn,
		ToolName:  toolName,
		Origin:    origin,
		Reason:    reason,
		SessionID: sessionID,
		AgentID:   agentID,
	})
}

func (l *Logger) log(event *Event) {
	if !l.config.Enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case l.buffer <- event:
	default:
		l.writeEvent(event)
	}
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"tool_name", event.ToolName,
		"origin", event.Origin,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.InputSummary != "" {
		attrs = append(attrs, "input_summary", event.InputSummary)
	}
	if event.Result != "" {
		attrs = append(attrs, "result", event.Result)
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, "duration_ms", event.DurationMs)
	}
	if event.SessionID != "" {
		attrs = append(attrs, "session_id", event.SessionID)
	}
	if event.AgentID != "" {
		attrs = append(attrs, "agent_id", event.AgentID)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}

	switch event.Level {
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}
}

// summarizeInput renders a truncated, key-redacted summary of a tool's
// input for the audit log: any top-level JSON object key that matches
// one of the sensitive-key names has its value replaced with "[redacted]"
// before truncation, so secrets never reach the audit stream.
func (l *Logger) summarizeInput(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(input, &obj); err != nil {
		return l.truncate(string(input))
	}
	for key := range obj {
		if isSensitiveKey(key) {
			obj[key] = json.RawMessage(`"[redacted]"`)
		}
	}
	redacted, err := json.Marshal(obj)
	if err != nil {
		return l.truncate(string(input))
	}
	return l.truncate(string(redacted))
}

func (l *Logger) truncate(s string) string {
	if len(s) <= l.config.MaxFieldSize {
		return s
	}
	return s[:l.config.MaxFieldSize] + "...(truncated)"
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

// globalLogger backs the package-level Log convenience function.
var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// SetGlobalLogger installs the logger used by the package-level Log* helpers.
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalLogger returns the currently installed global logger, if any.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

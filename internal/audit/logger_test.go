package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogToolInvocationRedactsSensitiveKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	l, err := NewLogger(Config{Enabled: true, Output: "file:" + path, FlushInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	input, _ := json.Marshal(map[string]string{"host": "example.com", "api_key": "sk-super-secret"})
	l.LogToolInvocation(context.Background(), "web_fetch", "builtin", input, "sess-1", "agent-1")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(data), "[redacted]") {
		t.Fatalf("expected redacted marker in audit log, got: %s", data)
	}
	if strings.Contains(string(data), "sk-super-secret") {
		t.Fatalf("expected secret value to be redacted, got: %s", data)
	}
}

func TestLogToolDeniedRecordsReason(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	l, err := NewLogger(Config{Enabled: true, Output: "file:" + path, FlushInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	l.LogToolDenied(context.Background(), "exec", "external", "destructive command denied", "sess-1", "agent-1")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(data), "destructive command denied") {
		t.Fatalf("expected denial reason in audit log, got: %s", data)
	}
}

func TestDisabledLoggerIsNoOp(t *testing.T) {
	l, err := NewLogger(Config{Enabled: false})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.LogToolInvocation(context.Background(), "noop", "builtin", nil, "", "")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

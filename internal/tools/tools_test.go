package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/relaymesh/core/internal/policy"
	"github.com/relaymesh/core/pkg/models"
)

func TestReadFileToolBuiltinReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	tool := NewReadFileTool()
	ctx := policy.New(policy.OriginBuiltin, models.Permissions{})
	input, _ := json.Marshal(map[string]string{"path": path})

	result, err := tool.Execute(context.Background(), input, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError || result.Content != "hello" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestReadFileToolDeniesSensitivePath(t *testing.T) {
	tool := NewReadFileTool()
	ctx := policy.New(policy.OriginBuiltin, models.Permissions{})
	input, _ := json.Marshal(map[string]string{"path": "/etc/shadow"})

	result, err := tool.Execute(context.Background(), input, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected read of /etc/shadow to be denied")
	}
}

func TestReadFileToolRejectsMalformedInput(t *testing.T) {
	tool := NewReadFileTool()
	ctx := policy.New(policy.OriginBuiltin, models.Permissions{})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`), ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected schema validation to reject missing path")
	}
}

func TestWriteFileToolExternalRequiresPermission(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	tool := NewWriteFileTool()
	ctx := policy.New(policy.OriginExternal, models.Permissions{})
	input, _ := json.Marshal(map[string]string{"path": path, "content": "data"})

	result, err := tool.Execute(context.Background(), input, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected write without fs_write grant to be denied")
	}

	ctx = policy.New(policy.OriginExternal, models.Permissions{FSWrite: []string{filepath.Join(dir, "*")}})
	result, err = tool.Execute(context.Background(), input, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected write with matching fs_write grant to succeed: %+v", result)
	}
}

func TestShellExecToolDeniesDestructiveCommand(t *testing.T) {
	tool := NewShellExecTool()
	ctx := policy.New(policy.OriginBuiltin, models.Permissions{})
	input, _ := json.Marshal(map[string]string{"command": "rm -rf /"})

	result, err := tool.Execute(context.Background(), input, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected destructive command to be denied")
	}
}

func TestShellExecToolRunsSafeCommand(t *testing.T) {
	tool := NewShellExecTool()
	ctx := policy.New(policy.OriginBuiltin, models.Permissions{})
	input, _ := json.Marshal(map[string]string{"command": "echo hi"})

	result, err := tool.Execute(context.Background(), input, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
}

func TestHTTPFetchToolDeniesPrivateHost(t *testing.T) {
	tool := NewHTTPFetchTool()
	ctx := policy.New(policy.OriginBuiltin, models.Permissions{})
	input, _ := json.Marshal(map[string]string{"url": "http://127.0.0.1/"})

	result, err := tool.Execute(context.Background(), input, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected loopback fetch to be denied")
	}
}

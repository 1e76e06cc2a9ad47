package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaymesh/core/internal/orchestrator"
	"github.com/relaymesh/core/pkg/models"
)

const shellExecSchemaJSON = `{
	"type": "object",
	"properties": {"command": {"type": "string"}},
	"required": ["command"]
}`

// MaxOutputBytes caps captured stdout/stderr so a runaway command can't
// exhaust memory building the tool result.
const MaxOutputBytes = 64 << 10

// ShellExecTool runs a command through /bin/sh -c, subject to the hard
// baseline's destructive-command check and, for External callers, their
// declared exec allowlist.
type ShellExecTool struct {
	schema *jsonschema.Schema
}

// NewShellExecTool compiles the tool's schema once at construction.
func NewShellExecTool() *ShellExecTool {
	return &ShellExecTool{schema: compileSchema("shell_exec", json.RawMessage(shellExecSchemaJSON))}
}

func (t *ShellExecTool) Definition() models.ToolDef {
	return models.ToolDef{
		Name:        "shell_exec",
		Description: "Run a shell command and return its combined stdout/stderr.",
		InputSchema: json.RawMessage(shellExecSchemaJSON),
	}
}

type shellExecInput struct {
	Command string `json:"command"`
}

func (t *ShellExecTool) Execute(ctx context.Context, input json.RawMessage, toolCtx orchestrator.ToolContext) (orchestrator.ToolResult, error) {
	if _, err := validate(t.schema, input); err != nil {
		return orchestrator.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	var args shellExecInput
	if err := json.Unmarshal(input, &args); err != nil {
		return orchestrator.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if !toolCtx.CheckExec(args.Command) {
		return orchestrator.ToolResult{Content: fmt.Sprintf("exec denied: %s", args.Command), IsError: true}, nil
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", args.Command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()

	content := out.String()
	if len(content) > MaxOutputBytes {
		content = content[:MaxOutputBytes] + "\n<truncated>"
	}
	if runErr != nil {
		return orchestrator.ToolResult{Content: content + "\n" + runErr.Error(), IsError: true}, nil
	}
	return orchestrator.ToolResult{Content: content}, nil
}

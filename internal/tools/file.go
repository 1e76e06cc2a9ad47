package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaymesh/core/internal/orchestrator"
	"github.com/relaymesh/core/pkg/models"
)

const readFileSchemaJSON = `{
	"type": "object",
	"properties": {"path": {"type": "string"}},
	"required": ["path"]
}`

const writeFileSchemaJSON = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"},
		"content": {"type": "string"}
	},
	"required": ["path", "content"]
}`

// ReadFileTool reads a file's contents, subject to the hard baseline's
// read denylist and, for External callers, their declared fs_read grant.
type ReadFileTool struct {
	schema *jsonschema.Schema
}

// NewReadFileTool compiles the tool's schema once at construction.
func NewReadFileTool() *ReadFileTool {
	return &ReadFileTool{schema: compileSchema("read_file", json.RawMessage(readFileSchemaJSON))}
}

func (t *ReadFileTool) Definition() models.ToolDef {
	return models.ToolDef{
		Name:        "read_file",
		Description: "Read the contents of a text file from the local filesystem.",
		InputSchema: json.RawMessage(readFileSchemaJSON),
	}
}

type readFileInput struct {
	Path string `json:"path"`
}

func (t *ReadFileTool) Execute(ctx context.Context, input json.RawMessage, toolCtx orchestrator.ToolContext) (orchestrator.ToolResult, error) {
	if _, err := validate(t.schema, input); err != nil {
		return orchestrator.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	var args readFileInput
	if err := json.Unmarshal(input, &args); err != nil {
		return orchestrator.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if !toolCtx.CheckRead(args.Path) {
		return orchestrator.ToolResult{Content: fmt.Sprintf("read denied: %s", args.Path), IsError: true}, nil
	}
	data, err := os.ReadFile(args.Path)
	if err != nil {
		return orchestrator.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return orchestrator.ToolResult{Content: string(data)}, nil
}

// WriteFileTool writes a file's contents, subject to the hard baseline's
// write denylist and, for External callers, their declared fs_write grant.
type WriteFileTool struct {
	schema *jsonschema.Schema
}

// NewWriteFileTool compiles the tool's schema once at construction.
func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{schema: compileSchema("write_file", json.RawMessage(writeFileSchemaJSON))}
}

func (t *WriteFileTool) Definition() models.ToolDef {
	return models.ToolDef{
		Name:        "write_file",
		Description: "Write text content to a file on the local filesystem, creating or overwriting it.",
		InputSchema: json.RawMessage(writeFileSchemaJSON),
	}
}

type writeFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteFileTool) Execute(ctx context.Context, input json.RawMessage, toolCtx orchestrator.ToolContext) (orchestrator.ToolResult, error) {
	if _, err := validate(t.schema, input); err != nil {
		return orchestrator.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	var args writeFileInput
	if err := json.Unmarshal(input, &args); err != nil {
		return orchestrator.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if !toolCtx.CheckWrite(args.Path) {
		return orchestrator.ToolResult{Content: fmt.Sprintf("write denied: %s", args.Path), IsError: true}, nil
	}
	if err := os.WriteFile(args.Path, []byte(args.Content), 0o644); err != nil {
		return orchestrator.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return orchestrator.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path)}, nil
}

// Package orchestrator implements the tool registry and the ReAct turn
// loop that drives a single agent's reply to an inbound message.
package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/relaymesh/core/pkg/models"
)

// ToolResult is what a tool executor returns: either successful content
// or a soft error the LLM can see and recover from.
type ToolResult struct {
	Content string
	IsError bool
}

// Tool is implemented by every builtin and external tool. Execute
// receives the origin-appropriate ToolContext; tools call its Check*
// methods and return a soft error rather than aborting the turn when a
// check fails.
type Tool interface {
	Definition() models.ToolDef
	Execute(ctx context.Context, input json.RawMessage, toolCtx ToolContext) (ToolResult, error)
}

// ToolContext is the subset of *policy.ToolContext a tool needs; kept as
// an interface so a tool depends only on the checks it can perform, not
// on policy's concrete Permissions wiring.
type ToolContext interface {
	CheckRead(path string) bool
	CheckWrite(path string) bool
	CheckNetwork(host string, port int) bool
	CheckExec(cmd string) bool
	CheckEnv(name string) bool
}

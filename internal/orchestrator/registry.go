package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/relaymesh/core/internal/audit"
	"github.com/relaymesh/core/internal/policy"
	"github.com/relaymesh/core/pkg/models"
)

// MaxToolNameLength and MaxToolParamsSize bound a single tool
// invocation's name and input size, guarding against resource
// exhaustion from a malformed or adversarial tool-use request.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

type registration struct {
	tool   Tool
	origin policy.Origin
}

// Registry owns the name → Tool map and dispatches execution through an
// audit wrapper: every call is logged with its
// origin, a redacted input summary, outcome and duration, before the
// result reaches the LLM.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
	audit   *audit.Logger
}

// NewRegistry builds an empty Registry. auditLogger may be a disabled
// logger (audit.NewLogger(audit.Config{Enabled: false})) in tests.
func NewRegistry(auditLogger *audit.Logger) *Registry {
	return &Registry{entries: make(map[string]registration), audit: auditLogger}
}

// RegisterBuiltin adds a tool that runs with the hard baseline only,
// unconstrained by any per-agent Permissions grant.
func (r *Registry) RegisterBuiltin(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tool.Definition().Name] = registration{tool: tool, origin: policy.OriginBuiltin}
}

// RegisterExternal adds a tool whose access is additionally bound by
// whatever Permissions the calling agent's ToolContext carries at
// execution time.
func (r *Registry) RegisterExternal(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tool.Definition().Name] = registration{tool: tool, origin: policy.OriginExternal}
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Definitions returns every registered tool's definition, for building an
// LLM request's tool list.
func (r *Registry) Definitions() []models.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDef, 0, len(r.entries))
	for _, reg := range r.entries {
		defs = append(defs, reg.tool.Definition())
	}
	return defs
}

// Execute dispatches name with input, wrapping the call in an audit
// record and the origin-appropriate ToolContext. It never returns a Go
// error for tool-level failures: those come back as ToolResult.IsError
// so the LLM can see and recover from them; Execute only errors when the
// request itself is malformed (oversized name/input).
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage, perms models.Permissions, sessionID, agentID string) (ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return ToolResult{}, fmt.Errorf("orchestrator: tool name exceeds %d characters", MaxToolNameLength)
	}
	if len(input) > MaxToolParamsSize {
		return ToolResult{}, fmt.Errorf("orchestrator: tool input exceeds %d bytes", MaxToolParamsSize)
	}

	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		r.audit.LogToolDenied(ctx, name, "unknown", "tool not registered", sessionID, agentID)
		return ToolResult{Content: "tool not found: " + name, IsError: true}, nil
	}

	r.audit.LogToolInvocation(ctx, name, string(reg.origin), input, sessionID, agentID)

	start := time.Now()
	toolCtx := policy.New(reg.origin, perms)
	result, err := reg.tool.Execute(ctx, input, toolCtx)
	duration := time.Since(start)

	if err != nil {
		r.audit.LogToolCompletion(ctx, name, string(reg.origin), true, err.Error(), duration, sessionID, agentID)
		return ToolResult{Content: err.Error(), IsError: true}, nil
	}

	r.audit.LogToolCompletion(ctx, name, string(reg.origin), result.IsError, result.Content, duration, sessionID, agentID)
	return result, nil
}

// Package tools implements the builtin Tool executors registered into
// the orchestrator's Registry at startup: file read/write, shell exec
// and HTTP fetch, each bound by the hard baseline and whatever
// Permissions grant an external caller's ToolContext carries.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compileSchema parses and compiles a tool's raw JSON Schema once, at
// construction time, so a malformed schema fails fast at startup instead
// of surfacing as a confusing per-call validation error.
func compileSchema(name string, raw json.RawMessage) *jsonschema.Schema {
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		panic(fmt.Sprintf("tools: invalid schema for %s: %v", name, err))
	}
	return compiled
}

// validate decodes input against schema, returning a soft error string
// suitable for a ToolResult rather than aborting the turn.
func validate(schema *jsonschema.Schema, input json.RawMessage) (any, error) {
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return nil, fmt.Errorf("invalid JSON input: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("input failed schema validation: %w", err)
	}
	return decoded, nil
}

// Package tool provides the tool framework: the Tool interface, the
// registry built at startup, and the dispatcher that runs invocations on
// behalf of the transports.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is a callable campus resource exposed over MCP.
type Tool interface {
	// Name returns the tool identifier.
	Name() string

	// Description returns the tool description shown to clients.
	Description() string

	// RequiresLogin reports whether the tool needs an authenticated
	// portal session.
	RequiresLogin() bool

	// Parameters returns the JSON Schema for the tool arguments.
	Parameters() json.RawMessage

	// Run executes the tool with the given arguments.
	Run(ctx context.Context, tc *Context, args json.RawMessage) (*Result, error)
}

// Result is the structured outcome of a tool invocation. Either Data or
// Error is set, never both.
type Result struct {
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ok builds a successful result.
func Ok(data string) *Result {
	return &Result{Success: true, Data: data}
}

// Errorf builds a failed result.
func Errorf(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// noParams is the schema for tools that take no arguments.
var noParams = json.RawMessage(`{"type": "object", "properties": {}}`)

// FuncTool builds a Tool from a declaration and a function. It is the
// registration shorthand used for tools with no state of their own.
type FuncTool struct {
	name          string
	description   string
	requiresLogin bool
	parameters    json.RawMessage
	run           func(ctx context.Context, tc *Context, args json.RawMessage) (*Result, error)
}

// NewFuncTool creates a FuncTool. A nil params schema declares a tool
// without arguments.
func NewFuncTool(name, description string, requiresLogin bool, params json.RawMessage,
	run func(ctx context.Context, tc *Context, args json.RawMessage) (*Result, error)) *FuncTool {
	if params == nil {
		params = noParams
	}
	return &FuncTool{
		name:          name,
		description:   description,
		requiresLogin: requiresLogin,
		parameters:    params,
		run:           run,
	}
}

func (t *FuncTool) Name() string                { return t.name }
func (t *FuncTool) Description() string         { return t.description }
func (t *FuncTool) RequiresLogin() bool         { return t.requiresLogin }
func (t *FuncTool) Parameters() json.RawMessage { return t.parameters }

func (t *FuncTool) Run(ctx context.Context, tc *Context, args json.RawMessage) (*Result, error) {
	return t.run(ctx, tc, args)
}

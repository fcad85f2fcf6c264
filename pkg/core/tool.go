package core

import (
	"context"
	"fmt"
)

// ToolMetadata contains information about a tool's capabilities and requirements.
type ToolMetadata struct {
	Name         string            // Unique identifier for the tool
	Description  string            // Human-readable description
	InputSchema  map[string]string // Expected input parameter types
	Capabilities []string          // List of supported capabilities
	Version      string            // Tool version for compatibility
}

// Tool represents a deterministic capability the solver can delegate to.
type Tool interface {
	// Metadata returns the tool's metadata
	Metadata() *ToolMetadata

	// Validate checks the parameters before execution
	Validate(params map[string]any) bool

	// Execute runs the tool with provided parameters
	Execute(ctx context.Context, params map[string]any) (any, error)

	// Format renders a result for re-injection into generated text
	Format(result any) string
}

// BaseTool supplies the default Validate and Format behaviour. Concrete
// tools embed it and implement Execute.
type BaseTool struct {
	meta ToolMetadata
}

// NewBaseTool creates a BaseTool with the given identity.
func NewBaseTool(name, description string) BaseTool {
	return BaseTool{meta: ToolMetadata{Name: name, Description: description, Version: "1.0"}}
}

// WithInputSchema records the expected parameters for discovery.
func (b BaseTool) WithInputSchema(schema map[string]string) BaseTool {
	b.meta.InputSchema = schema
	return b
}

// WithCapabilities records capability tags for discovery.
func (b BaseTool) WithCapabilities(capabilities ...string) BaseTool {
	b.meta.Capabilities = capabilities
	return b
}

func (b *BaseTool) Metadata() *ToolMetadata {
	meta := b.meta
	return &meta
}

// Name is a shortcut for Metadata().Name.
func (b *BaseTool) Name() string { return b.meta.Name }

func (b *BaseTool) Validate(map[string]any) bool { return true }

func (b *BaseTool) Format(result any) string { return fmt.Sprint(result) }

// ToolResult is the outcome of one invocation. Exactly one of the success
// branch (Result, Formatted) or the failure branch (Error) is populated.
type ToolResult struct {
	Success   bool   `json:"success"`
	ToolName  string `json:"tool"`
	Result    any    `json:"result,omitempty"`
	Formatted string `json:"formatted,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewToolSuccess builds a success result.
func NewToolSuccess(tool string, result any, formatted string) ToolResult {
	return ToolResult{Success: true, ToolName: tool, Result: result, Formatted: formatted}
}

// NewToolFailure builds a failure result.
func NewToolFailure(tool, message string) ToolResult {
	return ToolResult{Success: false, ToolName: tool, Error: message}
}

// ErrInvalidParams is the failure message used when Validate rejects params.
const ErrInvalidParams = "invalid input parameters"

// Invoke runs tool inside the uniform envelope: validate, execute, format.
// Neither a returned error nor a panic escapes; both become failure results.
func Invoke(ctx context.Context, tool Tool, params map[string]any) (result ToolResult) {
	name := tool.Metadata().Name
	if params == nil {
		params = map[string]any{}
	}

	defer func() {
		if r := recover(); r != nil {
			result = NewToolFailure(name, fmt.Sprintf("panic: %v", r))
		}
	}()

	if !tool.Validate(params) {
		return NewToolFailure(name, ErrInvalidParams)
	}

	value, err := tool.Execute(ctx, params)
	if err != nil {
		return NewToolFailure(name, err.Error())
	}
	return NewToolSuccess(name, value, tool.Format(value))
}

// ToolFunc adapts a plain function into a Tool with default validation and
// formatting.
type ToolFunc struct {
	BaseTool
	fn func(ctx context.Context, params map[string]any) (any, error)
}

// NewToolFunc wraps fn as a tool named name.
func NewToolFunc(name, description string, fn func(ctx context.Context, params map[string]any) (any, error)) *ToolFunc {
	return &ToolFunc{BaseTool: NewBaseTool(name, description), fn: fn}
}

func (t *ToolFunc) Execute(ctx context.Context, params map[string]any) (any, error) {
	return t.fn(ctx, params)
}

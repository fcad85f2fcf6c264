// Package testutil holds mocks shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/logging"
)

// MockGenerator is a testify mock of core.Generator.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, messages []core.Message, opts ...core.GenerateOption) (string, error) {
	args := m.Called(ctx, messages, opts)
	return args.String(0), args.Error(1)
}

// MockCompleter is a testify mock of core.Completer.
type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, prompt string, opts ...core.GenerateOption) (string, error) {
	args := m.Called(ctx, prompt, opts)
	return args.String(0), args.Error(1)
}

// MockTool is a testify mock of core.Tool.
type MockTool struct {
	mock.Mock
	Name        string
	Description string
}

func NewMockTool(name string) *MockTool {
	return &MockTool{Name: name, Description: "mock tool " + name}
}

func (m *MockTool) Metadata() *core.ToolMetadata {
	return &core.ToolMetadata{Name: m.Name, Description: m.Description}
}

func (m *MockTool) Validate(params map[string]any) bool {
	args := m.Called(params)
	return args.Bool(0)
}

func (m *MockTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	args := m.Called(ctx, params)
	return args.Get(0), args.Error(1)
}

func (m *MockTool) Format(result any) string {
	return fmt.Sprint(result)
}

// ScriptedGenerator replays a fixed list of responses and records every
// dialogue it was given. Once the script runs out the last response repeats.
type ScriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	calls     [][]core.Message
}

func NewScriptedGenerator(responses ...string) *ScriptedGenerator {
	return &ScriptedGenerator{responses: responses}
}

func (g *ScriptedGenerator) Generate(_ context.Context, messages []core.Message, _ ...core.GenerateOption) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snapshot := append([]core.Message(nil), messages...)
	g.calls = append(g.calls, snapshot)

	if len(g.responses) == 0 {
		return "", fmt.Errorf("scripted generator has no responses")
	}
	idx := len(g.calls) - 1
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	return g.responses[idx], nil
}

// Calls returns the dialogues seen so far.
func (g *ScriptedGenerator) Calls() [][]core.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]core.Message(nil), g.calls...)
}

// CallCount returns how many times Generate ran.
func (g *ScriptedGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// QuietLogger discards everything below FATAL.
func QuietLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Severity: logging.FATAL,
		Outputs:  []logging.Output{logging.NewCaptureOutput()},
	})
}

// CaptureLogger returns a DEBUG logger and the output it writes to.
func CaptureLogger() (*logging.Logger, *logging.CaptureOutput) {
	capture := logging.NewCaptureOutput()
	return logging.NewLogger(logging.Config{
		Severity: logging.DEBUG,
		Outputs:  []logging.Output{capture},
	}), capture
}

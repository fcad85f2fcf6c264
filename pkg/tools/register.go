package tools

import (
	"time"

	"github.com/scottdavis/mathagent/pkg/core"
)

// Options selects and configures the built-in tools.
type Options struct {
	Calculator   bool
	SymPy        bool
	CodeExecutor bool
	// Interpreter runs both sympy_solver and code_executor.
	Interpreter []string
	CodeTimeout time.Duration
	// WolframAppID enables wolfram_alpha when non-empty.
	WolframAppID   string
	WolframBaseURL string
}

// DefaultOptions enables the calculator, sympy_solver and the code executor.
func DefaultOptions() Options {
	return Options{Calculator: true, SymPy: true, CodeExecutor: true}
}

// RegisterDefaults registers the tools enabled in opts and returns their
// names.
func RegisterDefaults(registry *core.Registry, opts Options) ([]string, error) {
	var tools []core.Tool
	if opts.Calculator {
		tools = append(tools, NewCalculator())
	}
	if opts.SymPy {
		tools = append(tools, NewSymPySolver(WithSymPyInterpreter(opts.Interpreter...), WithSymPyTimeout(opts.CodeTimeout)))
	}
	if opts.CodeExecutor {
		tools = append(tools, NewCodeExecutor(WithInterpreter(opts.Interpreter...), WithCodeTimeout(opts.CodeTimeout)))
	}
	if opts.WolframAppID != "" {
		var wopts []WolframOption
		if opts.WolframBaseURL != "" {
			wopts = append(wopts, WithWolframBaseURL(opts.WolframBaseURL))
		}
		tools = append(tools, NewWolfram(opts.WolframAppID, wopts...))
	}

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return names, err
		}
		names = append(names, t.Metadata().Name)
	}
	return names, nil
}

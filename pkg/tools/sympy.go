package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
)

const (
	SymPyName            = "sympy_solver"
	DefaultSymPyOperation = "simplify"
	defaultSymPyVariable  = "x"
)

// SymPyOperations lists the operations sympy_solver accepts.
var SymPyOperations = []string{"simplify", "derivative", "integrate", "solve", "expand", "factor"}

// sympyScript reads {"expression","operation","variable","bounds"} on stdin
// and prints one JSON line.
const sympyScript = `import json, sys
import sympy as sp
req = json.load(sys.stdin)
try:
    expr = sp.sympify(req["expression"])
    op = req["operation"]
    var = sp.Symbol(req.get("variable") or "x")
    bounds = req.get("bounds")
    if op == "simplify":
        result = sp.simplify(expr)
    elif op == "derivative":
        result = sp.diff(expr, var)
    elif op == "integrate":
        if bounds:
            result = sp.integrate(expr, (var, sp.sympify(bounds[0]), sp.sympify(bounds[1])))
        else:
            result = sp.integrate(expr, var)
    elif op == "solve":
        result = sp.solve(expr, var)
    elif op == "expand":
        result = sp.expand(expr)
    elif op == "factor":
        result = sp.factor(expr)
    else:
        raise ValueError("Unknown operation: " + op)
    latex = sp.latex(result)
except Exception as e:
    print(type(e).__name__ + ": " + str(e), file=sys.stderr)
    sys.exit(1)
print(json.dumps({"expression": str(expr), "result": str(result), "latex": latex}))
`

// SymbolicResult is the outcome of one sympy_solver call.
type SymbolicResult struct {
	Expression string `json:"expression"`
	Operation  string `json:"operation"`
	Result     string `json:"result"`
	LaTeX      string `json:"latex"`
}

type sympyRequest struct {
	Expression string `json:"expression"`
	Operation  string `json:"operation"`
	Variable   string `json:"variable,omitempty"`
	Bounds     []any  `json:"bounds,omitempty"`
}

// SymPySolver runs symbolic operations through a Python interpreter with
// sympy installed.
type SymPySolver struct {
	core.BaseTool
	command []string
	timeout time.Duration
}

// SymPyOption configures a SymPySolver.
type SymPyOption func(*SymPySolver)

// WithSymPyInterpreter sets the command; the script is appended as the last
// argument and the request is written to stdin. Defaults to python3 -c.
func WithSymPyInterpreter(command ...string) SymPyOption {
	return func(s *SymPySolver) {
		if len(command) > 0 {
			s.command = command
		}
	}
}

// WithSymPyTimeout bounds a single run.
func WithSymPyTimeout(d time.Duration) SymPyOption {
	return func(s *SymPySolver) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSymPySolver creates the tool.
func NewSymPySolver(opts ...SymPyOption) *SymPySolver {
	s := &SymPySolver{
		BaseTool: core.NewBaseTool(SymPyName, "For symbolic math (derivatives, integrals, equations, simplify, expand, factor)").
			WithInputSchema(map[string]string{
				"expression": "string",
				"operation":  "string",
				"variable":   "string",
				"bounds":     "array",
			}).
			WithCapabilities("symbolic"),
		command: []string{"python3", "-c"},
		timeout: DefaultCodeTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SymPySolver) Validate(params map[string]any) bool {
	expr, ok := params["expression"].(string)
	if !ok || strings.TrimSpace(expr) == "" {
		return false
	}
	if op, present := params["operation"]; present {
		name, ok := op.(string)
		if !ok || !isSymPyOperation(name) {
			return false
		}
	}
	if v, present := params["variable"]; present {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	if b, present := params["bounds"]; present && b != nil {
		bounds, ok := b.([]any)
		if !ok || len(bounds) != 2 {
			return false
		}
	}
	return true
}

func (s *SymPySolver) Execute(ctx context.Context, params map[string]any) (any, error) {
	req := sympyRequest{
		Expression: params["expression"].(string),
		Operation:  DefaultSymPyOperation,
		Variable:   defaultSymPyVariable,
	}
	if op, ok := params["operation"].(string); ok && op != "" {
		req.Operation = op
	}
	if v, ok := params["variable"].(string); ok && v != "" {
		req.Variable = v
	}
	if b, ok := params["bounds"].([]any); ok {
		req.Bounds = b
	}

	stdin, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to encode sympy request")
	}
	out, err := runInterpreter(ctx, s.command, sympyScript, stdin, s.timeout)
	if err != nil {
		return nil, errors.WithFields(err, errors.Fields{"operation": req.Operation})
	}

	line := lastLine(out.Stdout)
	if !gjson.Valid(line) {
		return nil, errors.WithFields(
			errors.New(errors.InvalidResponse, "sympy returned no result"),
			errors.Fields{"stdout": out.Stdout},
		)
	}
	parsed := gjson.Parse(line)
	return SymbolicResult{
		Expression: parsed.Get("expression").String(),
		Operation:  req.Operation,
		Result:     parsed.Get("result").String(),
		LaTeX:      parsed.Get("latex").String(),
	}, nil
}

func (s *SymPySolver) Format(result any) string {
	r, ok := result.(SymbolicResult)
	if !ok {
		return s.BaseTool.Format(result)
	}
	return fmt.Sprintf("%s(%s) = %s", r.Operation, r.Expression, r.Result)
}

func isSymPyOperation(op string) bool {
	for _, known := range SymPyOperations {
		if op == known {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

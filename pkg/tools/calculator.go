// Package tools holds the built-in math tools.
package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
)

// CalculatorName is kept stable because prompts reference it.
const CalculatorName = "numpy_calculator"

// CalculatorResult is the value returned by the calculator.
type CalculatorResult struct {
	Expression string `json:"expression"`
	Value      any    `json:"value"`
}

// Calculator evaluates numeric expressions.
type Calculator struct {
	core.BaseTool
	functions map[string]govaluate.ExpressionFunction
	constants map[string]any
}

// NewCalculator creates the calculator tool.
func NewCalculator() *Calculator {
	return &Calculator{
		BaseTool: core.NewBaseTool(CalculatorName,
			"For numerical calculations: arithmetic, powers, trigonometry, logarithms").
			WithInputSchema(map[string]string{"expression": "string"}).
			WithCapabilities("arithmetic", "trigonometry"),
		functions: calculatorFunctions(),
		constants: map[string]any{"pi": math.Pi, "e": math.E},
	}
}

func unary(name string, fn func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		x, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("%s expects a number", name)
		}
		return fn(x), nil
	}
}

func calculatorFunctions() map[string]govaluate.ExpressionFunction {
	fns := map[string]func(float64) float64{
		"sin":   math.Sin,
		"cos":   math.Cos,
		"tan":   math.Tan,
		"asin":  math.Asin,
		"acos":  math.Acos,
		"atan":  math.Atan,
		"sqrt":  math.Sqrt,
		"log":   math.Log,
		"ln":    math.Log,
		"log10": math.Log10,
		"exp":   math.Exp,
		"abs":   math.Abs,
		"floor": math.Floor,
		"ceil":  math.Ceil,
	}
	out := make(map[string]govaluate.ExpressionFunction, len(fns))
	for name, fn := range fns {
		out[name] = unary(name, fn)
	}
	return out
}

func (c *Calculator) Validate(params map[string]any) bool {
	expr, ok := params["expression"].(string)
	return ok && strings.TrimSpace(expr) != ""
}

func (c *Calculator) Execute(_ context.Context, params map[string]any) (any, error) {
	raw := params["expression"].(string)
	expr := normalizeExpression(raw)

	parsed, err := govaluate.NewEvaluableExpressionWithFunctions(expr, c.functions)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.ToolExecutionFailed, "invalid expression"),
			errors.Fields{"expression": raw},
		)
	}
	value, err := parsed.Evaluate(c.constants)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.ToolExecutionFailed, "evaluation failed"),
			errors.Fields{"expression": raw},
		)
	}
	if f, ok := value.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil, errors.WithFields(
			errors.New(errors.ToolExecutionFailed, "result is not a finite number"),
			errors.Fields{"expression": raw},
		)
	}
	return CalculatorResult{Expression: raw, Value: value}, nil
}

func (c *Calculator) Format(result any) string {
	r, ok := result.(CalculatorResult)
	if !ok {
		return fmt.Sprint(result)
	}
	return fmt.Sprintf("%s = %s", r.Expression, FormatNumber(r.Value))
}

// normalizeExpression maps caret exponentiation and numpy-style prefixes
// onto the evaluator's syntax.
func normalizeExpression(expr string) string {
	expr = strings.ReplaceAll(expr, "np.", "")
	expr = strings.ReplaceAll(expr, "math.", "")
	return strings.ReplaceAll(expr, "^", "**")
}

// FormatNumber prints floats the way the model expects: integral values
// keep a trailing ".0".
func FormatNumber(v any) string {
	f, ok := v.(float64)
	if !ok {
		return fmt.Sprint(v)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

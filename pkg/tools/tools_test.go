package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottdavis/mathagent/internal/testutil"
	"github.com/scottdavis/mathagent/pkg/core"
)

func TestCalculator(t *testing.T) {
	calc := NewCalculator()
	ctx := context.Background()

	tests := []struct {
		name       string
		expression string
		want       string
	}{
		{"trig identity", "sin(pi/2) + cos(0)", "sin(pi/2) + cos(0) = 2.0"},
		{"caret power", "2^10", "2^10 = 1024.0"},
		{"double star power", "3**2", "3**2 = 9.0"},
		{"fraction", "1/4", "1/4 = 0.25"},
		{"sqrt", "sqrt(16)", "sqrt(16) = 4.0"},
		{"numpy prefix", "np.sqrt(2)", "np.sqrt(2) = 1.4142135623730951"},
		{"log of e", "ln(e)", "ln(e) = 1.0"},
		{"nested", "abs(floor(-2.5))", "abs(floor(-2.5)) = 3.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := core.Invoke(ctx, calc, map[string]any{"expression": tt.expression})
			require.True(t, result.Success, result.Error)
			assert.Equal(t, tt.want, result.Formatted)
		})
	}
}

func TestCalculatorFailures(t *testing.T) {
	calc := NewCalculator()
	ctx := context.Background()

	t.Run("missing expression", func(t *testing.T) {
		result := core.Invoke(ctx, calc, map[string]any{})
		assert.False(t, result.Success)
		assert.Equal(t, core.ErrInvalidParams, result.Error)
	})

	t.Run("wrong type", func(t *testing.T) {
		result := core.Invoke(ctx, calc, map[string]any{"expression": 42})
		assert.False(t, result.Success)
		assert.Equal(t, core.ErrInvalidParams, result.Error)
	})

	t.Run("syntax error", func(t *testing.T) {
		result := core.Invoke(ctx, calc, map[string]any{"expression": "2 +* (3"})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "invalid expression")
	})

	t.Run("unknown variable", func(t *testing.T) {
		result := core.Invoke(ctx, calc, map[string]any{"expression": "x + 1"})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "evaluation failed")
	})

	t.Run("non finite", func(t *testing.T) {
		result := core.Invoke(ctx, calc, map[string]any{"expression": "log(0)"})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "not a finite number")
	})
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "2.0", FormatNumber(2.0))
	assert.Equal(t, "-3.0", FormatNumber(-3.0))
	assert.Equal(t, "0.5", FormatNumber(0.5))
	assert.Equal(t, "1e+20", FormatNumber(1e20))
	assert.Equal(t, "true", FormatNumber(true))
}

const wolframSuccess = `{
  "queryresult": {
    "success": true,
    "error": false,
    "timing": 1.5,
    "pods": [
      {"title": "Input", "subpods": [{"plaintext": "integral x^2 dx"}]},
      {"title": "Indefinite integral", "subpods": [{"plaintext": "x^3/3 + constant", "img": {"src": "http://img/1"}}]},
      {"title": "Plot", "subpods": [{"plaintext": "", "img": {"src": "http://img/2"}}]}
    ]
  }
}`

const wolframFailure = `{
  "queryresult": {
    "success": false,
    "error": {"code": "1", "msg": "Unrecognized input"},
    "didyoumeans": [{"val": "integral x^2"}, {"val": "x^2"}, {"val": "x"}, {"val": "2"}]
  }
}`

func TestWolfram(t *testing.T) {
	var gotQuery, gotAppID, gotOutput string
	body := wolframSuccess
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("input")
		gotAppID = r.URL.Query().Get("appid")
		gotOutput = r.URL.Query().Get("output")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	tool := NewWolfram("test-app", WithWolframBaseURL(server.URL))
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		result := core.Invoke(ctx, tool, map[string]any{"query": "integrate x^2"})
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "integrate x^2", gotQuery)
		assert.Equal(t, "test-app", gotAppID)
		assert.Equal(t, "json", gotOutput)

		parsed, ok := result.Result.(*WolframResult)
		require.True(t, ok)
		assert.Len(t, parsed.Pods, 2)
		assert.Equal(t, 2, parsed.Images)
		assert.Contains(t, result.Formatted, "[Indefinite integral]\nx^3/3 + constant")
		assert.Contains(t, result.Formatted, "Generated 2 visualization(s)")
		assert.Contains(t, result.Formatted, "Query time: 1.5s")
	})

	t.Run("failure with suggestions", func(t *testing.T) {
		body = wolframFailure
		result := core.Invoke(ctx, tool, map[string]any{"query": "integrl x^2"})
		assert.False(t, result.Success)
		assert.Equal(t, "Unrecognized input; did you mean: integral x^2, x^2, x", result.Error)
	})

	t.Run("single suggestion object", func(t *testing.T) {
		body = `{"queryresult": {"success": false, "error": false, "didyoumeans": {"val": "pi"}}}`
		result := core.Invoke(ctx, tool, map[string]any{"query": "pie"})
		assert.False(t, result.Success)
		assert.Equal(t, "Query failed; did you mean: pi", result.Error)
	})

	t.Run("invalid response", func(t *testing.T) {
		body = `not json`
		result := core.Invoke(ctx, tool, map[string]any{"query": "x"})
		assert.False(t, result.Success)
		assert.Equal(t, "invalid API response", result.Error)
	})
}

func TestWolframStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	tool := NewWolfram("app", WithWolframBaseURL(server.URL))
	result := core.Invoke(context.Background(), tool, map[string]any{"query": "1+1"})
	assert.False(t, result.Success)
	assert.Equal(t, "API request failed with status 403", result.Error)
}

func TestWolframValidation(t *testing.T) {
	assert.False(t, NewWolfram("").Validate(map[string]any{"query": "x"}))
	assert.False(t, NewWolfram("YOUR_APP_ID_HERE").Validate(map[string]any{"query": "x"}))
	assert.False(t, NewWolfram("app").Validate(map[string]any{"query": "  "}))
	assert.True(t, NewWolfram("app").Validate(map[string]any{"query": "x"}))
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCodeExecutor(t *testing.T) {
	requireShell(t)
	ctx := context.Background()
	tool := NewCodeExecutor(WithInterpreter("sh", "-c"), WithCodeTimeout(2*time.Second))

	t.Run("stdout", func(t *testing.T) {
		result := core.Invoke(ctx, tool, map[string]any{"code": "echo 42"})
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "42", result.Formatted)
	})

	t.Run("no output", func(t *testing.T) {
		result := core.Invoke(ctx, tool, map[string]any{"code": "true"})
		require.True(t, result.Success)
		assert.Equal(t, "(no output)", result.Formatted)
	})

	t.Run("non zero exit", func(t *testing.T) {
		result := core.Invoke(ctx, tool, map[string]any{"code": "echo bad input >&2; exit 3"})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "bad input")
	})

	t.Run("empty code", func(t *testing.T) {
		result := core.Invoke(ctx, tool, map[string]any{"code": ""})
		assert.False(t, result.Success)
		assert.Equal(t, core.ErrInvalidParams, result.Error)
	})
}

func TestCodeExecutorTimeout(t *testing.T) {
	requireShell(t)
	tool := NewCodeExecutor(WithInterpreter("sh", "-c"), WithCodeTimeout(50*time.Millisecond))

	result := core.Invoke(context.Background(), tool, map[string]any{"code": "sleep 5"})
	assert.False(t, result.Success)
	assert.Equal(t, "execution timed out", result.Error)
}

// fakeSymPy stands in for python3: body runs under sh and the sympy script
// arrives as $1.
func fakeSymPy(body string) *SymPySolver {
	return NewSymPySolver(WithSymPyInterpreter("sh", "-c", body, "sh"), WithSymPyTimeout(2*time.Second))
}

func TestSymPySolver(t *testing.T) {
	requireShell(t)
	ctx := context.Background()
	const echoRequest = "cat >&2; exit 1"

	tests := []struct {
		name      string
		body      string
		params    map[string]any
		success   bool
		formatted string
		errParts  []string
	}{
		{
			name:      "derivative",
			body:      `cat >/dev/null; echo '{"expression": "x**2 + 3*x", "result": "2*x + 3", "latex": "2 x + 3"}'`,
			params:    map[string]any{"expression": "x**2 + 3*x", "operation": "derivative", "variable": "x"},
			success:   true,
			formatted: "derivative(x**2 + 3*x) = 2*x + 3",
		},
		{
			name:      "result on last line",
			body:      `cat >/dev/null; echo warming up; echo '{"expression": "x**2 - 1", "result": "(x - 1)*(x + 1)"}'`,
			params:    map[string]any{"expression": "x**2 - 1", "operation": "factor"},
			success:   true,
			formatted: "factor(x**2 - 1) = (x - 1)*(x + 1)",
		},
		{
			name:     "definite integral request",
			body:     echoRequest,
			params:   map[string]any{"expression": "x**2 + 3*x", "operation": "integrate", "variable": "x", "bounds": []any{0, 5}},
			errParts: []string{`"operation":"integrate"`, `"bounds":[0,5]`},
		},
		{
			name:     "defaults",
			body:     echoRequest,
			params:   map[string]any{"expression": "sin(x)**2 + cos(x)**2"},
			errParts: []string{`"operation":"simplify"`, `"variable":"x"`},
		},
		{
			name:     "interpreter error",
			body:     `cat >/dev/null; echo "SympifyError: bad expression" >&2; exit 1`,
			params:   map[string]any{"expression": "((", "operation": "expand"},
			errParts: []string{"SympifyError: bad expression"},
		},
		{
			name:     "no json",
			body:     "cat >/dev/null; echo nothing useful",
			params:   map[string]any{"expression": "x"},
			errParts: []string{"sympy returned no result"},
		},
		{
			name:     "unknown operation",
			params:   map[string]any{"expression": "x", "operation": "plot"},
			errParts: []string{core.ErrInvalidParams},
		},
		{
			name:     "missing expression",
			params:   map[string]any{"operation": "solve"},
			errParts: []string{core.ErrInvalidParams},
		},
		{
			name:     "bad bounds",
			params:   map[string]any{"expression": "x", "operation": "integrate", "bounds": []any{0}},
			errParts: []string{core.ErrInvalidParams},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body
			if body == "" {
				body = "exit 99"
			}
			result := core.Invoke(ctx, fakeSymPy(body), tt.params)
			require.Equal(t, tt.success, result.Success, result.Error)
			if tt.success {
				assert.Equal(t, tt.formatted, result.Formatted)
				return
			}
			for _, part := range tt.errParts {
				assert.Contains(t, result.Error, part)
			}
		})
	}
}

func TestSymPySolverWithPython(t *testing.T) {
	if err := exec.Command("python3", "-c", "import sympy").Run(); err != nil {
		t.Skip("python3 with sympy not available")
	}
	result := core.Invoke(context.Background(), NewSymPySolver(), map[string]any{
		"expression": "x**2 + 3*x", "operation": "integrate", "variable": "x", "bounds": []any{0, 5},
	})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "integrate(x**2 + 3*x) = 475/6", result.Formatted)
}

func TestRegisterDefaults(t *testing.T) {
	registry := core.NewRegistry(core.WithRegistryLogger(testutil.QuietLogger()))

	names, err := RegisterDefaults(registry, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{CalculatorName, SymPyName, CodeExecutorName}, names)

	opts := DefaultOptions()
	opts.WolframAppID = "app"
	_, err = RegisterDefaults(registry, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{CodeExecutorName, CalculatorName, SymPyName, WolframName}, registry.Names())
}

package tools

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
)

const (
	CodeExecutorName      = "code_executor"
	DefaultCodeTimeout    = 10 * time.Second
	maxCodeOutputBytes    = 16 * 1024
	outputTruncatedSuffix = "\n...[output truncated]"
)

// CodeOutput is what a program printed.
type CodeOutput struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// CodeExecutor runs a snippet through an interpreter command. It provides a
// timeout and output capture only; it is not a sandbox.
type CodeExecutor struct {
	core.BaseTool
	command []string
	timeout time.Duration
}

// CodeExecutorOption configures a CodeExecutor.
type CodeExecutorOption func(*CodeExecutor)

// WithInterpreter sets the command; the code is appended as the last
// argument. Defaults to python3 -c.
func WithInterpreter(command ...string) CodeExecutorOption {
	return func(c *CodeExecutor) {
		if len(command) > 0 {
			c.command = command
		}
	}
}

// WithCodeTimeout bounds a single run.
func WithCodeTimeout(d time.Duration) CodeExecutorOption {
	return func(c *CodeExecutor) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewCodeExecutor creates the tool.
func NewCodeExecutor(opts ...CodeExecutorOption) *CodeExecutor {
	c := &CodeExecutor{
		BaseTool: core.NewBaseTool(CodeExecutorName, "For custom Python code; print the values you need").
			WithInputSchema(map[string]string{"code": "string"}).
			WithCapabilities("execution"),
		command: []string{"python3", "-c"},
		timeout: DefaultCodeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CodeExecutor) Validate(params map[string]any) bool {
	code, ok := params["code"].(string)
	return ok && strings.TrimSpace(code) != ""
}

func (c *CodeExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	out, err := runInterpreter(ctx, c.command, params["code"].(string), nil, c.timeout)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// runInterpreter runs command with script appended as the last argument and
// stdin piped in.
func runInterpreter(ctx context.Context, command []string, script string, stdin []byte, timeout time.Duration) (CodeOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, command[1:]...), script)
	cmd := exec.CommandContext(ctx, command[0], args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 500 * time.Millisecond

	err := cmd.Run()
	out := CodeOutput{
		Stdout: truncateOutput(stdout.String()),
		Stderr: truncateOutput(stderr.String()),
	}

	if ctx.Err() == context.DeadlineExceeded {
		return out, errors.WithFields(
			errors.New(errors.ToolExecutionFailed, "execution timed out"),
			errors.Fields{"timeout": timeout.String()},
		)
	}
	if err != nil {
		msg := strings.TrimSpace(out.Stderr)
		if msg == "" {
			msg = err.Error()
		}
		return out, errors.Wrap(err, errors.ToolExecutionFailed, msg)
	}
	return out, nil
}

func (c *CodeExecutor) Format(result any) string {
	out, ok := result.(CodeOutput)
	if !ok {
		return c.BaseTool.Format(result)
	}
	text := strings.TrimSpace(out.Stdout)
	if text == "" {
		text = "(no output)"
	}
	if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
		text += "\nstderr: " + stderr
	}
	return text
}

func truncateOutput(s string) string {
	if len(s) <= maxCodeOutputBytes {
		return s
	}
	return s[:maxCodeOutputBytes] + outputTruncatedSuffix
}

// Package toolcall implements the text-embedded tool call protocol:
//
//	<tool_call>
//	tool: <identifier>
//	params: {<JSON object>}
//	</tool_call>
//
// Results are written back in place as <tool_result>...</tool_result> or
// <tool_error>...</tool_error>.
package toolcall

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/logging"
)

const (
	OpenTag        = "<tool_call>"
	CloseTag       = "</tool_call>"
	ResultOpenTag  = "<tool_result>"
	ResultCloseTag = "</tool_result>"
	ErrorOpenTag   = "<tool_error>"
	ErrorCloseTag  = "</tool_error>"
)

var (
	callPattern = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)
	namePattern = regexp.MustCompile(`tool:\s*([A-Za-z0-9_]+)`)
)

// ToolCall is one call parsed out of generated text.
type ToolCall struct {
	ToolName string
	Params   map[string]any
	// RawSpan is the exact matched substring, markers included.
	RawSpan string
}

// Router detects, parses, executes and re-injects tool calls.
type Router struct {
	registry *core.Registry
	timeout  time.Duration
	observer func(call *ToolCall, result core.ToolResult, elapsed time.Duration)
	logger   *logging.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithTimeout bounds every tool execution.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.timeout = d
	}
}

// WithObserver is called after every execution, e.g. to record metrics.
func WithObserver(fn func(call *ToolCall, result core.ToolResult, elapsed time.Duration)) Option {
	return func(r *Router) {
		r.observer = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// NewRouter creates a Router bound to registry.
func NewRouter(registry *core.Registry, opts ...Option) *Router {
	r := &Router{registry: registry}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.GetLogger()
	}
	return r
}

// Registry returns the registry calls are resolved against.
func (r *Router) Registry() *core.Registry { return r.registry }

// Detect reports whether text contains at least one marker pair.
func Detect(text string) bool {
	return callPattern.MatchString(text)
}

// Parse extracts the first tool call in text. It returns false when there is
// no marker pair or the body has no readable tool name. Unparsable params
// degrade to an empty map.
func Parse(text string) (*ToolCall, bool) {
	loc := callPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, false
	}
	body := text[loc[2]:loc[3]]

	m := namePattern.FindStringSubmatch(body)
	if m == nil {
		return nil, false
	}

	return &ToolCall{
		ToolName: m[1],
		Params:   parseParams(body),
		RawSpan:  text[loc[0]:loc[1]],
	}, true
}

func parseParams(body string) map[string]any {
	params := map[string]any{}
	idx := strings.Index(body, "params:")
	if idx == -1 {
		return params
	}
	obj, ok := firstObject(body[idx+len("params:"):])
	if !ok {
		return params
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(obj), &decoded); err != nil || decoded == nil {
		return params
	}
	return decoded
}

// firstObject returns the first balanced {...} block in s. Braces inside
// JSON strings are ignored.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// Execute runs call against the registry. It never returns an error: unknown
// tools and tool failures come back as failure results.
func (r *Router) Execute(ctx context.Context, call *ToolCall) core.ToolResult {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	result := r.registry.Invoke(ctx, call.ToolName, call.Params)
	elapsed := time.Since(start)

	if result.Success {
		r.logger.Debug(ctx, "tool %s succeeded in %s", call.ToolName, elapsed)
	} else {
		r.logger.Warn(ctx, "tool %s failed: %s", call.ToolName, result.Error)
	}
	if r.observer != nil {
		r.observer(call, result, elapsed)
	}
	return result
}

// Inject replaces the first marker span in text with the result block.
// Every other byte of text is preserved.
func Inject(text string, result core.ToolResult) string {
	loc := callPattern.FindStringIndex(text)
	if loc == nil {
		return text
	}
	return text[:loc[0]] + RenderResult(result) + text[loc[1]:]
}

// InjectError replaces the first marker span with an error block. Used when
// the call itself could not be parsed.
func InjectError(text, message string) string {
	return Inject(text, core.NewToolFailure("", message))
}

// RenderResult formats result as a result or error block.
func RenderResult(result core.ToolResult) string {
	if result.Success {
		return ResultOpenTag + result.Formatted + ResultCloseTag
	}
	return ErrorOpenTag + result.Error + ErrorCloseTag
}

// Render encodes a call in wire format.
func Render(name string, params map[string]any) string {
	if params == nil {
		params = map[string]any{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		encoded = []byte("{}")
	}
	return fmt.Sprintf("%s\ntool: %s\nparams: %s\n%s", OpenTag, name, encoded, CloseTag)
}

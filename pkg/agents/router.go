package agents

import (
	"context"
	"strings"
	"text/template"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
	"github.com/scottdavis/mathagent/pkg/logging"
	"github.com/scottdavis/mathagent/pkg/utils"
)

// DecisionType is the route chosen for one user input.
type DecisionType string

const (
	DecisionChat DecisionType = "chat"
	DecisionMath DecisionType = "math"
)

// DefaultChatReply is used when a chat decision carries no text.
const DefaultChatReply = "Hello!"

// Decision is the router's classification of one input. For math, Content
// is a standalone restatement of the problem.
type Decision struct {
	Type    DecisionType `json:"type"`
	Content string       `json:"content"`
}

// DecisionObserver is notified of every routing outcome.
type DecisionObserver interface {
	ObserveDecision(decision string, fallback bool)
}

const managerPrompt = `You are a Math Assistant Manager.

Current Conversation History:
{{if .History}}{{.History}}{{else}}(none){{end}}

User's New Input: {{.Input}}

YOUR JOB:
1. DECIDE: Is this a math problem? Or just a casual greeting ("hello", "thanks")?
2. REFINE: If the user refers to past context (e.g., "solve that", "what if x is 5?"), rewrite the question to be a full, standalone math problem.
3. ROUTE: Return a JSON with "type" and "content".
{{- if .Tools}}

The solver can use these tools:
{{- range .Tools}}
- {{.Name}}: {{.Description}}
{{- end}}
{{- end}}

EXAMPLES:
- Input: "Hello" -> {"type": "chat", "content": "Hello! I am ready to help you with math."}
- Input: "Solve x + 5 = 10" -> {"type": "math", "content": "Solve x + 5 = 10"}
- History: "Integral of x", Input: "What about x^2?" -> {"type": "math", "content": "Calculate the integral of x^2"}

OUTPUT (JSON ONLY):
`

var managerTemplate = template.Must(template.New("manager").Parse(managerPrompt))

// DecisionRouter classifies inputs with a decision engine.
type DecisionRouter struct {
	completer core.Completer
	registry  *core.Registry
	tmpl      *template.Template
	observer  DecisionObserver
	logger    *logging.Logger
}

// RouterOption configures a DecisionRouter.
type RouterOption func(*DecisionRouter)

// WithDecisionObserver registers an observer, typically metrics.
func WithDecisionObserver(o DecisionObserver) RouterOption {
	return func(r *DecisionRouter) {
		r.observer = o
	}
}

// WithManagerTemplate replaces the manager prompt. The template sees
// .History, .Input and .Tools.
func WithManagerTemplate(t *template.Template) RouterOption {
	return func(r *DecisionRouter) {
		r.tmpl = t
	}
}

// WithRouterLogger sets the logger.
func WithRouterLogger(l *logging.Logger) RouterOption {
	return func(r *DecisionRouter) {
		r.logger = l
	}
}

// NewDecisionRouter creates a router. registry may be nil; when set its
// tools are listed in the manager prompt.
func NewDecisionRouter(completer core.Completer, registry *core.Registry, opts ...RouterOption) (*DecisionRouter, error) {
	if completer == nil {
		return nil, errors.New(errors.ConfigurationError, "decision router requires a completer")
	}
	r := &DecisionRouter{
		completer: completer,
		registry:  registry,
		tmpl:      managerTemplate,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.GetLogger()
	}
	return r, nil
}

type toolEntry struct {
	Name        string
	Description string
}

// Prompt renders the manager prompt for history and input.
func (r *DecisionRouter) Prompt(history, input string) (string, error) {
	data := struct {
		History string
		Input   string
		Tools   []toolEntry
	}{History: history, Input: input}
	if r.registry != nil {
		descriptions := r.registry.List()
		for _, name := range r.registry.Names() {
			data.Tools = append(data.Tools, toolEntry{Name: name, Description: descriptions[name]})
		}
	}

	var sb strings.Builder
	if err := r.tmpl.Execute(&sb, data); err != nil {
		return "", errors.Wrap(err, errors.ConfigurationError, "failed to render manager prompt")
	}
	return sb.String(), nil
}

// Route asks the decision engine how to handle input. Unparseable replies
// fall back to treating the raw input as a math problem; only engine
// failures are returned as errors.
func (r *DecisionRouter) Route(ctx context.Context, history, input string) (Decision, error) {
	prompt, err := r.Prompt(history, input)
	if err != nil {
		return Decision{}, err
	}

	raw, err := r.completer.Complete(ctx, prompt, core.WithTemperature(0))
	if err != nil {
		return Decision{}, errors.WithFields(
			errors.Wrap(err, errors.LLMGenerationFailed, "decision engine failed"),
			errors.Fields{"input": utils.TruncateString(input, 100)},
		)
	}

	decision, ok := ParseDecision(raw, input)
	if !ok {
		r.logger.Warn(ctx, "unparseable decision, routing to math: %s", utils.TruncateString(raw, 200))
	} else {
		r.logger.Debug(ctx, "routed input as %s", decision.Type)
	}
	if r.observer != nil {
		r.observer.ObserveDecision(string(decision.Type), !ok)
	}
	return decision, nil
}

// ParseDecision decodes the engine's JSON reply. It strips code fences and
// escapes LaTeX backslashes before decoding, and falls back to JSON repair.
// The bool is false when the reply could not be decoded at all, in which
// case the decision is math with the original input.
func ParseDecision(raw, input string) (Decision, bool) {
	text := utils.EscapeInvalidBackslashes(utils.StripCodeFence(raw))

	fields, err := utils.ParseJSONResponse(text)
	if err != nil {
		fields, err = utils.RepairJSON(text)
	}
	if err != nil {
		return Decision{Type: DecisionMath, Content: input}, false
	}

	content, _ := fields["content"].(string)
	content = strings.TrimSpace(content)

	if t, _ := fields["type"].(string); DecisionType(strings.ToLower(strings.TrimSpace(t))) == DecisionChat {
		if content == "" {
			content = DefaultChatReply
		}
		return Decision{Type: DecisionChat, Content: content}, true
	}

	if content == "" {
		content = input
	}
	return Decision{Type: DecisionMath, Content: content}, true
}

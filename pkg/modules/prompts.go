package modules

import (
	"bytes"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
	"github.com/scottdavis/mathagent/pkg/toolcall"
)

const (
	PromptDefault    = "default"
	PromptWithTools  = "with_tools"
	PromptStepByStep = "step_by_step"
	PromptConcise    = "concise"
)

const withToolsTemplate = `Solve the math problem below. You have access to mathematical tools that you can call.

Available tools:
{{- range .Tools}}
- {{.Name}}: {{.Description}}
{{- end}}

To use a tool, format your request as:
<tool_call>
tool: tool_name
params: {"param1": "value1", "param2": "value2"}
</tool_call>
{{- if .Example}}

Example:
{{.Example}}
{{- end}}

After receiving tool results, continue solving the problem. Provide clear reasoning and the final answer.`

var defaultPrompts = map[string]string{
	PromptDefault:    "Solve the math problem below. Provide only the reasoning and the final answer.",
	PromptWithTools:  withToolsTemplate,
	PromptStepByStep: "Solve the math problem below step by step. Show all your work and explain each step clearly.",
	PromptConcise:    "Solve the math problem below. Provide only the final answer with minimal explanation.",
}

// PromptSet holds the named system prompts. Prompts are text/template
// sources rendered with the registry's tool listing.
type PromptSet struct {
	prompts  map[string]string
	registry *core.Registry
}

// NewPromptSet returns the built-in prompts. registry may be nil, in which
// case the tool listing is empty.
func NewPromptSet(registry *core.Registry) *PromptSet {
	prompts := make(map[string]string, len(defaultPrompts))
	for k, v := range defaultPrompts {
		prompts[k] = v
	}
	return &PromptSet{prompts: prompts, registry: registry}
}

// LoadPromptSet reads overrides from a YAML mapping of name to prompt text.
// Names not present in the file keep their built-in text.
func LoadPromptSet(path string, registry *core.Registry) (*PromptSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.ConfigurationError, "failed to read prompt file"),
			errors.Fields{"path": path},
		)
	}

	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.ConfigurationError, "failed to parse prompt file"),
			errors.Fields{"path": path},
		)
	}

	set := NewPromptSet(registry)
	for name, text := range overrides {
		set.Set(name, text)
	}
	return set, nil
}

// Set adds or replaces a named prompt.
func (p *PromptSet) Set(name, text string) {
	p.prompts[name] = text
}

// Names lists the known prompt names in sorted order.
func (p *PromptSet) Names() []string {
	names := make([]string, 0, len(p.prompts))
	for name := range p.prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// toolExamples are worked calls shown in the tool prompt, in order of
// preference. Only a registered tool is ever shown.
var toolExamples = []struct {
	tool   string
	params map[string]any
}{
	{"sympy_solver", map[string]any{"expression": "x**2 + 3*x", "operation": "integrate", "variable": "x", "bounds": []any{0, 5}}},
	{"numpy_calculator", map[string]any{"expression": "sqrt(2) * pi"}},
	{"code_executor", map[string]any{"code": "print(sum(range(1, 101)))"}},
	{"wolfram_alpha", map[string]any{"query": "integrate x^2 sin(x) dx"}},
}

func exampleCall(registry *core.Registry) string {
	if registry == nil {
		return ""
	}
	for _, ex := range toolExamples {
		if _, err := registry.Get(ex.tool); err == nil {
			return toolcall.Render(ex.tool, ex.params)
		}
	}
	return ""
}

type toolEntry struct {
	Name        string
	Description string
}

// System renders the system prompt called name. An unknown name is used as
// the prompt text itself.
func (p *PromptSet) System(name string) (string, error) {
	source, ok := p.prompts[name]
	if !ok {
		return name, nil
	}
	if !strings.Contains(source, "{{") {
		return source, nil
	}

	tmpl, err := template.New(name).Parse(source)
	if err != nil {
		return "", errors.WithFields(
			errors.Wrap(err, errors.ConfigurationError, "invalid prompt template"),
			errors.Fields{"prompt": name},
		)
	}

	data := struct {
		Tools   []toolEntry
		Example string
	}{
		Example: exampleCall(p.registry),
	}
	if p.registry != nil {
		listing := p.registry.List()
		for _, n := range p.registry.Names() {
			data.Tools = append(data.Tools, toolEntry{Name: n, Description: listing[n]})
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.WithFields(
			errors.Wrap(err, errors.ConfigurationError, "failed to render prompt"),
			errors.Fields{"prompt": name},
		)
	}
	return buf.String(), nil
}

// Messages builds the initial [system, user] dialogue for problem.
func (p *PromptSet) Messages(problem, name string) ([]core.Message, error) {
	system, err := p.System(name)
	if err != nil {
		return nil, err
	}
	return []core.Message{
		{Role: core.RoleSystem, Content: system},
		{Role: core.RoleUser, Content: problem},
	}, nil
}

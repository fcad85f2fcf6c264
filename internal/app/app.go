// Package app assembles the agent stack from settings.
package app

import (
	"context"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scottdavis/mathagent/pkg/agents"
	"github.com/scottdavis/mathagent/pkg/agents/memory"
	"github.com/scottdavis/mathagent/pkg/config"
	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/llms"
	"github.com/scottdavis/mathagent/pkg/logging"
	"github.com/scottdavis/mathagent/pkg/metrics"
	"github.com/scottdavis/mathagent/pkg/modules"
	"github.com/scottdavis/mathagent/pkg/toolcall"
	"github.com/scottdavis/mathagent/pkg/tools"
)

// App holds the collaborators shared by every session.
type App struct {
	Settings *config.Settings
	Logger   *logging.Logger
	Registry *core.Registry
	Metrics  *metrics.Metrics
	Solver   *modules.Solver
	Router   *agents.DecisionRouter
	Store    memory.TurnStore
}

type options struct {
	generator core.Generator
	completer core.Completer
	logger    *logging.Logger
	registry  prometheus.Registerer
	noRouter  bool
}

// Option overrides part of the assembly.
type Option func(*options)

// WithGenerator uses gen instead of the configured generator model.
func WithGenerator(gen core.Generator) Option {
	return func(o *options) { o.generator = gen }
}

// WithCompleter uses c instead of the configured decision model.
func WithCompleter(c core.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithLogger uses l instead of building one from the logging settings.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetricsRegisterer registers collectors with reg instead of the
// global registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithoutRouter skips the decision engine, for commands that only solve.
func WithoutRouter() Option {
	return func(o *options) { o.noRouter = true }
}

// New builds the registry, engines, solver, router and turn store.
func New(ctx context.Context, s *config.Settings, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Settings: s, Logger: o.logger}
	if a.Logger == nil {
		logger, err := s.NewLogger()
		if err != nil {
			return nil, err
		}
		a.Logger = logger
	}
	logging.SetLogger(a.Logger)

	if o.registry != nil {
		a.Metrics = metrics.MustNewMetrics(o.registry)
	} else {
		a.Metrics = metrics.Default()
	}

	a.Registry = core.NewRegistry(core.WithRegistryLogger(a.Logger))
	names, err := tools.RegisterDefaults(a.Registry, s.ToolOptions())
	if err != nil {
		return nil, err
	}
	a.Logger.Debug(ctx, "tools enabled: %v", names)

	creds := s.LLMCredentials()
	gen := o.generator
	if gen == nil {
		if gen, err = llms.NewGenerator(ctx, s.Generator.Model, creds); err != nil {
			return nil, err
		}
	}

	prompts := modules.NewPromptSet(a.Registry)
	if s.Generator.PromptsFile != "" {
		if prompts, err = modules.LoadPromptSet(s.Generator.PromptsFile, a.Registry); err != nil {
			return nil, err
		}
	}

	a.Solver, err = modules.NewSolver(s.CoreConfig(gen), a.Registry,
		modules.WithPromptSet(prompts),
		modules.WithSolveObserver(a.Metrics),
		modules.WithRouterOptions(toolcall.WithObserver(a.Metrics.ToolObserver())),
		modules.WithSolverLogger(a.Logger),
	)
	if err != nil {
		return nil, err
	}

	if !o.noRouter {
		completer := o.completer
		if completer == nil {
			if completer, err = llms.NewCompleter(ctx, s.Decision.Model, creds); err != nil {
				return nil, err
			}
		}
		a.Router, err = agents.NewDecisionRouter(completer, a.Registry,
			agents.WithDecisionObserver(a.Metrics),
			agents.WithRouterLogger(a.Logger),
		)
		if err != nil {
			return nil, err
		}
	}

	if a.Store, err = s.OpenStore(); err != nil {
		return nil, err
	}
	return a, nil
}

// NewAgent creates an agent for sessionID, generating an id when empty.
// With a persistent store the session's window is restored.
func (a *App) NewAgent(ctx context.Context, sessionID string) (*agents.MathAgent, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var memOpts []memory.Option
	if a.Store != nil {
		memOpts = append(memOpts, memory.WithStore(a.Store, sessionID, a.Settings.StoreOptions()...))
	}
	mem := memory.NewConversationMemory(a.Settings.Memory.Window, memOpts...)
	if err := mem.Load(ctx); err != nil {
		return nil, err
	}

	return agents.NewMathAgent(a.Router, a.Solver,
		agents.WithSessionID(sessionID),
		agents.WithMemory(mem),
		agents.WithAgentLogger(a.Logger),
	)
}

// Factory returns a batch factory producing agents with fresh sessions.
func (a *App) Factory(ctx context.Context) agents.AgentFactory {
	return func() (agents.Agent, error) {
		agent, err := a.NewAgent(ctx, "")
		if err != nil {
			return nil, err
		}
		return agent, nil
	}
}

// Close releases the turn store and flushes the logger.
func (a *App) Close() error {
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	a.Logger.Sync()
	return err
}

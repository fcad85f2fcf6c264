package agents

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/scottdavis/mathagent/pkg/agents/memory"
	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
	"github.com/scottdavis/mathagent/pkg/logging"
	"github.com/scottdavis/mathagent/pkg/modules"
)

type Agent interface {
	// Run handles one user input within the agent's session.
	Run(ctx context.Context, input string, opts ...modules.SolveOption) (*Response, error)

	// Capabilities returns name -> description for the tools available to this agent.
	Capabilities() map[string]string

	// Reset wipes the agent's conversation memory.
	Reset(ctx context.Context) error
}

// Response is the outcome of one agent turn.
type Response struct {
	Input    string            `json:"input"`
	Decision Decision          `json:"decision"`
	Text     string            `json:"response"`
	Solution *modules.Solution `json:"solution,omitempty"`
}

// MathAgent routes each input to a chat reply or the solver and keeps a
// short conversation window between turns.
type MathAgent struct {
	mu        sync.Mutex
	sessionID string
	memory    *memory.ConversationMemory
	router    *DecisionRouter
	solver    *modules.Solver
	logger    *logging.Logger
}

var _ Agent = (*MathAgent)(nil)

// AgentOption configures a MathAgent.
type AgentOption func(*MathAgent)

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) AgentOption {
	return func(a *MathAgent) {
		a.sessionID = id
	}
}

// WithMemory supplies the conversation memory.
func WithMemory(m *memory.ConversationMemory) AgentOption {
	return func(a *MathAgent) {
		a.memory = m
	}
}

// WithAgentLogger sets the logger.
func WithAgentLogger(l *logging.Logger) AgentOption {
	return func(a *MathAgent) {
		a.logger = l
	}
}

// NewMathAgent builds an agent. Without WithMemory an in-process window of
// core.DefaultMemoryWindow turns is used.
func NewMathAgent(router *DecisionRouter, solver *modules.Solver, opts ...AgentOption) (*MathAgent, error) {
	if router == nil || solver == nil {
		return nil, errors.New(errors.ConfigurationError, "agent requires a decision router and a solver")
	}
	a := &MathAgent{router: router, solver: solver}
	for _, opt := range opts {
		opt(a)
	}
	if a.sessionID == "" {
		a.sessionID = uuid.NewString()
	}
	if a.memory == nil {
		a.memory = memory.NewConversationMemory(core.DefaultMemoryWindow)
	}
	if a.logger == nil {
		a.logger = logging.GetLogger()
	}
	return a, nil
}

// SessionID returns the agent's session id.
func (a *MathAgent) SessionID() string { return a.sessionID }

// Memory returns the conversation memory.
func (a *MathAgent) Memory() *memory.ConversationMemory { return a.memory }

// Capabilities implements Agent.
func (a *MathAgent) Capabilities() map[string]string {
	return a.solver.Registry().List()
}

// Run handles one input: route it using the conversation so far, answer
// chat directly or solve the refined problem, then record the turn.
// Turns of one agent are serialised.
func (a *MathAgent) Run(ctx context.Context, input string, opts ...modules.SolveOption) (*Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx = logging.WithSessionID(ctx, a.sessionID)
	a.logger.Info(ctx, "received input: %s", input)

	decision, err := a.router.Route(ctx, a.memory.Render(), input)
	if err != nil {
		return nil, err
	}

	resp := &Response{Input: input, Decision: decision}
	if decision.Type == DecisionChat {
		resp.Text = decision.Content
	} else {
		a.logger.Info(ctx, "solving: %s", decision.Content)
		solution, err := a.solver.Solve(ctx, decision.Content, opts...)
		if err != nil {
			return nil, err
		}
		resp.Solution = solution
		resp.Text = solution.Answer
	}

	if err := a.memory.Record(ctx, input, resp.Text); err != nil {
		// The turn is answered; a persistence failure only loses history.
		a.logger.Error(ctx, "failed to record turn: %v", err)
	}
	return resp, nil
}

// Reset implements Agent.
func (a *MathAgent) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx = logging.WithSessionID(ctx, a.sessionID)
	if err := a.memory.Reset(ctx); err != nil {
		return err
	}
	a.logger.Info(ctx, "memory cleared")
	return nil
}

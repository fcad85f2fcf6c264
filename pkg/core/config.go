package core

import "time"

const (
	DefaultMaxIterations    = 5
	DefaultMemoryWindow     = 3
	DefaultMaxTokens        = 2048
	DefaultTemperature      = 0.7
	DefaultConcurrencyLevel = 1
)

// Config holds the settings shared by the solver, router and agent.
type Config struct {
	Generator        Generator
	DecisionEngine   Completer
	MaxIterations    int
	MemoryWindow     int
	MaxTokens        int
	Temperature      float64
	ConcurrencyLevel int
	ToolsEnabled     bool
	ToolTimeout      time.Duration
}

// NewConfig creates a new configuration with default values.
func NewConfig() *Config {
	return &Config{
		MaxIterations:    DefaultMaxIterations,
		MemoryWindow:     DefaultMemoryWindow,
		MaxTokens:        DefaultMaxTokens,
		Temperature:      DefaultTemperature,
		ConcurrencyLevel: DefaultConcurrencyLevel,
		ToolsEnabled:     true,
	}
}

// WithGenerator sets the generation engine.
func (c *Config) WithGenerator(g Generator) *Config {
	c.Generator = g
	return c
}

// WithDecisionEngine sets the decision-making engine.
func (c *Config) WithDecisionEngine(e Completer) *Config {
	c.DecisionEngine = e
	return c
}

// WithMaxIterations sets the tool loop bound.
func (c *Config) WithMaxIterations(n int) *Config {
	if n > 0 {
		c.MaxIterations = n
	} else {
		c.MaxIterations = DefaultMaxIterations // Reset to default value for invalid inputs
	}
	return c
}

// WithMemoryWindow sets how many turns the conversation memory keeps.
func (c *Config) WithMemoryWindow(k int) *Config {
	if k > 0 {
		c.MemoryWindow = k
	} else {
		c.MemoryWindow = DefaultMemoryWindow
	}
	return c
}

// WithMaxTokens sets the generation token limit.
func (c *Config) WithMaxTokens(n int) *Config {
	if n > 0 {
		c.MaxTokens = n
	} else {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

// WithTemperature sets the sampling temperature.
func (c *Config) WithTemperature(t float64) *Config {
	if t >= 0 && t <= 2 {
		c.Temperature = t
	} else {
		c.Temperature = DefaultTemperature
	}
	return c
}

// WithConcurrencyLevel sets the concurrency level
func (c *Config) WithConcurrencyLevel(level int) *Config {
	if level > 0 {
		c.ConcurrencyLevel = level
	} else {
		c.ConcurrencyLevel = DefaultConcurrencyLevel
	}
	return c
}

// WithTools enables or disables the tool loop.
func (c *Config) WithTools(enabled bool) *Config {
	c.ToolsEnabled = enabled
	return c
}

// WithToolTimeout bounds each tool execution. Zero disables the bound.
func (c *Config) WithToolTimeout(d time.Duration) *Config {
	if d >= 0 {
		c.ToolTimeout = d
	} else {
		c.ToolTimeout = 0
	}
	return c
}

// GenerateOptions returns the generation options implied by the config.
func (c *Config) GenerateOptions() []GenerateOption {
	return []GenerateOption{WithMaxTokens(c.MaxTokens), WithTemperature(c.Temperature)}
}

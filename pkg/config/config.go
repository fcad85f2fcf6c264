// Package config loads runtime settings from a YAML file, MATHAGENT_
// environment variables and defaults.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/scottdavis/mathagent/pkg/agents/memory"
	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
	"github.com/scottdavis/mathagent/pkg/jobs"
	"github.com/scottdavis/mathagent/pkg/llms"
	"github.com/scottdavis/mathagent/pkg/logging"
	"github.com/scottdavis/mathagent/pkg/tools"
)

// EnvPrefix prefixes every environment override, e.g. MATHAGENT_SERVER_ADDR.
const EnvPrefix = "MATHAGENT"

// Memory and queue backends.
const (
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendRedis   = "redis"
	BackendFaktory = "faktory"
)

type GeneratorSettings struct {
	Model         string        `mapstructure:"model"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxIterations int           `mapstructure:"max_iterations"`
	ToolsEnabled  bool          `mapstructure:"tools_enabled"`
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`
	PromptsFile   string        `mapstructure:"prompts_file"`
}

type DecisionSettings struct {
	Model string `mapstructure:"model"`
}

type MemorySettings struct {
	Window        int           `mapstructure:"window"`
	Backend       string        `mapstructure:"backend"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type ToolSettings struct {
	Calculator     bool          `mapstructure:"calculator"`
	SymPy          bool          `mapstructure:"sympy"`
	CodeExecutor   bool          `mapstructure:"code_executor"`
	Interpreter    []string      `mapstructure:"interpreter"`
	CodeTimeout    time.Duration `mapstructure:"code_timeout"`
	WolframAppID   string        `mapstructure:"wolfram_app_id"`
	WolframBaseURL string        `mapstructure:"wolfram_base_url"`
}

type QueueSettings struct {
	Backend       string        `mapstructure:"backend"`
	Name          string        `mapstructure:"name"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	FaktoryURL    string        `mapstructure:"faktory_url"`
	Retry         int           `mapstructure:"retry"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
}

type ServerSettings struct {
	Addr        string   `mapstructure:"addr"`
	MaxSessions int      `mapstructure:"max_sessions"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LoggingSettings struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
	JSON  bool   `mapstructure:"json"`
	Color bool   `mapstructure:"color"`
}

type CredentialSettings struct {
	OpenAIKey     string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	AnthropicKey  string `mapstructure:"anthropic_api_key"`
	GoogleKey     string `mapstructure:"google_api_key"`
	OpenRouterKey string `mapstructure:"openrouter_api_key"`
	OllamaHost    string `mapstructure:"ollama_host"`
}

// Settings is the complete runtime configuration.
type Settings struct {
	Generator   GeneratorSettings  `mapstructure:"generator"`
	Decision    DecisionSettings   `mapstructure:"decision"`
	Memory      MemorySettings     `mapstructure:"memory"`
	Tools       ToolSettings       `mapstructure:"tools"`
	Queue       QueueSettings      `mapstructure:"queue"`
	Server      ServerSettings     `mapstructure:"server"`
	Logging     LoggingSettings    `mapstructure:"logging"`
	Credentials CredentialSettings `mapstructure:"credentials"`
	Concurrency int                `mapstructure:"concurrency"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("generator.model", "ollama:qwen2-math")
	v.SetDefault("generator.max_tokens", core.DefaultMaxTokens)
	v.SetDefault("generator.temperature", core.DefaultTemperature)
	v.SetDefault("generator.max_iterations", core.DefaultMaxIterations)
	v.SetDefault("generator.tools_enabled", true)
	v.SetDefault("generator.tool_timeout", 30*time.Second)
	v.SetDefault("generator.prompts_file", "")

	v.SetDefault("decision.model", "google:gemini-2.5-flash")

	v.SetDefault("memory.window", core.DefaultMemoryWindow)
	v.SetDefault("memory.backend", BackendMemory)
	v.SetDefault("memory.sqlite_path", "mathagent.db")
	v.SetDefault("memory.redis_addr", "localhost:6379")
	v.SetDefault("memory.redis_password", "")
	v.SetDefault("memory.redis_db", 0)
	v.SetDefault("memory.ttl", 24*time.Hour)

	v.SetDefault("tools.calculator", true)
	v.SetDefault("tools.sympy", true)
	v.SetDefault("tools.code_executor", true)
	v.SetDefault("tools.interpreter", []string{"python3", "-c"})
	v.SetDefault("tools.code_timeout", 10*time.Second)
	v.SetDefault("tools.wolfram_app_id", "")
	v.SetDefault("tools.wolfram_base_url", "")

	v.SetDefault("queue.backend", BackendRedis)
	v.SetDefault("queue.name", "mathagent")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.faktory_url", "localhost:7419")
	v.SetDefault("queue.retry", 3)
	v.SetDefault("queue.job_timeout", 10*time.Minute)

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.max_sessions", 1024)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.color", true)

	v.SetDefault("credentials.openai_base_url", "")
	v.SetDefault("credentials.ollama_host", llms.DefaultOllamaHost)

	v.SetDefault("concurrency", core.DefaultConcurrencyLevel)
}

// Conventional provider variables accepted besides the MATHAGENT_ ones.
var wellKnownEnv = map[string][]string{
	"credentials.openai_api_key":     {"OPENAI_API_KEY"},
	"credentials.openai_base_url":    {"OPENAI_BASE_URL"},
	"credentials.anthropic_api_key":  {"ANTHROPIC_API_KEY"},
	"credentials.google_api_key":     {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	"credentials.openrouter_api_key": {"OPENROUTER_API_KEY"},
	"credentials.ollama_host":        {"OLLAMA_HOST"},
	"tools.wolfram_app_id":           {"WOLFRAM_APP_ID"},
	"queue.faktory_url":              {"FAKTORY_URL"},
}

// New returns a viper instance with defaults and environment bindings but
// no config file.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range wellKnownEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(append([]string{key, envKey}, names...)...)
	}
	return v
}

// Load reads path (if non-empty) on top of defaults and environment.
func Load(path string) (*Settings, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.ConfigurationError, "failed to read config file"),
				errors.Fields{"path": path},
			)
		}
	}
	return Decode(v)
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, errors.ConfigurationError, "failed to decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings that cannot be used.
func (s *Settings) Validate() error {
	switch s.Memory.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return errors.WithFields(
			errors.New(errors.ConfigurationError, "unknown memory backend"),
			errors.Fields{"backend": s.Memory.Backend},
		)
	}
	switch s.Queue.Backend {
	case BackendRedis, BackendFaktory:
	default:
		return errors.WithFields(
			errors.New(errors.ConfigurationError, "unknown queue backend"),
			errors.Fields{"backend": s.Queue.Backend},
		)
	}
	if _, err := logging.ParseSeverity(s.Logging.Level); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.ConfigurationError, "invalid log level"),
			errors.Fields{"level": s.Logging.Level},
		)
	}
	if _, err := llms.ParseModelID(s.Generator.Model); err != nil {
		return err
	}
	if _, err := llms.ParseModelID(s.Decision.Model); err != nil {
		return err
	}
	return nil
}

// CoreConfig builds the solver configuration around gen.
func (s *Settings) CoreConfig(gen core.Generator) *core.Config {
	return core.NewConfig().
		WithGenerator(gen).
		WithMaxIterations(s.Generator.MaxIterations).
		WithMemoryWindow(s.Memory.Window).
		WithMaxTokens(s.Generator.MaxTokens).
		WithTemperature(s.Generator.Temperature).
		WithConcurrencyLevel(s.Concurrency).
		WithTools(s.Generator.ToolsEnabled).
		WithToolTimeout(s.Generator.ToolTimeout)
}

// ToolOptions maps the tool section onto tools.Options.
func (s *Settings) ToolOptions() tools.Options {
	return tools.Options{
		Calculator:     s.Tools.Calculator,
		SymPy:          s.Tools.SymPy,
		CodeExecutor:   s.Tools.CodeExecutor,
		Interpreter:    s.Tools.Interpreter,
		CodeTimeout:    s.Tools.CodeTimeout,
		WolframAppID:   s.Tools.WolframAppID,
		WolframBaseURL: s.Tools.WolframBaseURL,
	}
}

// LLMCredentials maps the credentials section onto llms.Credentials.
func (s *Settings) LLMCredentials() llms.Credentials {
	return llms.Credentials{
		OpenAIKey:     s.Credentials.OpenAIKey,
		OpenAIBaseURL: s.Credentials.OpenAIBaseURL,
		AnthropicKey:  s.Credentials.AnthropicKey,
		GoogleKey:     s.Credentials.GoogleKey,
		OpenRouterKey: s.Credentials.OpenRouterKey,
		OllamaHost:    s.Credentials.OllamaHost,
	}
}

// NewLogger builds the logger described by the logging section.
func (s *Settings) NewLogger() (*logging.Logger, error) {
	severity, err := logging.ParseSeverity(s.Logging.Level)
	if err != nil {
		return nil, errors.Wrap(err, errors.ConfigurationError, "invalid log level")
	}

	outputs := []logging.Output{logging.NewConsoleOutput(true, logging.WithColor(s.Logging.Color))}
	if s.Logging.File != "" {
		file, err := logging.NewFileOutput(s.Logging.File,
			logging.WithJSONFormat(s.Logging.JSON),
			logging.WithRotation(100*1024*1024, 5))
		if err != nil {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.ConfigurationError, "failed to open log file"),
				errors.Fields{"path": s.Logging.File},
			)
		}
		outputs = append(outputs, file)
	}

	return logging.NewLogger(logging.Config{
		Severity:      severity,
		Outputs:       outputs,
		DefaultFields: map[string]any{"pid": os.Getpid()},
	}), nil
}

// OpenStore opens the configured turn store. It returns nil for the
// in-process backend.
func (s *Settings) OpenStore() (memory.TurnStore, error) {
	switch s.Memory.Backend {
	case BackendSQLite:
		store, err := memory.NewSQLiteTurnStore(s.Memory.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendRedis:
		store, err := memory.NewRedisTurnStore(s.Memory.RedisAddr, s.Memory.RedisPassword, s.Memory.RedisDB)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

// StoreOptions returns the per-append options for the configured store.
func (s *Settings) StoreOptions() []memory.StoreOption {
	if s.Memory.TTL <= 0 {
		return nil
	}
	return []memory.StoreOption{memory.WithTTL(s.Memory.TTL)}
}

// OpenQueue connects to the configured job queue.
func (s *Settings) OpenQueue() (jobs.Queue, error) {
	cfg := jobs.QueueConfig{
		Name:       s.Queue.Name,
		JobTimeout: s.Queue.JobTimeout,
		RetryCount: s.Queue.Retry,
	}
	switch s.Queue.Backend {
	case BackendFaktory:
		q, err := jobs.NewFaktoryQueue(s.Queue.FaktoryURL, cfg)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		q, err := jobs.NewRedisQueue(s.Queue.RedisAddr, s.Queue.RedisPassword, s.Queue.RedisDB, cfg)
		if err != nil {
			return nil, err
		}
		return q, nil
	}
}

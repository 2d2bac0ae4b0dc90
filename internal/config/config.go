package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Crew    CrewConfig    `mapstructure:"crew" yaml:"crew"`
	Notes   NotesConfig   `mapstructure:"notes" yaml:"notes"`
	Runtime RuntimeConfig `mapstructure:"runtime" yaml:"runtime"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for console log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// AgentConfig holds settings for a single agent execution loop.
type AgentConfig struct {
	LLM           LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	Memory        MemoryConfig    `mapstructure:"memory" yaml:"memory"`
	MaxIterations int             `mapstructure:"max_iterations" yaml:"max_iterations"`
	ToolTimeout   time.Duration   `mapstructure:"tool_timeout" yaml:"tool_timeout"`
}

// MemoryConfig bounds conversation history inside the model context window.
type MemoryConfig struct {
	MaxTokens          int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	ReserveRatio       float64 `mapstructure:"reserve_ratio" yaml:"reserve_ratio"`
	RecentToKeep       int     `mapstructure:"recent_to_keep" yaml:"recent_to_keep"`
	SummarizeThreshold float64 `mapstructure:"summarize_threshold" yaml:"summarize_threshold"`
}

// CrewConfig holds settings for the orchestrator and its worker pool.
type CrewConfig struct {
	WorkerMaxIterations       int `mapstructure:"worker_max_iterations" yaml:"worker_max_iterations"`
	OrchestratorMaxIterations int `mapstructure:"orchestrator_max_iterations" yaml:"orchestrator_max_iterations"`
}

// NotesConfig locates the shared notes file.
type NotesConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// RuntimeConfig configures local command execution.
type RuntimeConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	WorkDir        string        `mapstructure:"work_dir" yaml:"work_dir"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	RequestsPerMinute    float64                   `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// NewDefaultConfig creates a configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only; fail loudly if it ever does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "wraith-cli")
	v.SetDefault("logger.log_file", "wraith.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Agent --
	v.SetDefault("agent.max_iterations", 50)
	v.SetDefault("agent.tool_timeout", "5m")
	v.SetDefault("agent.memory.max_tokens", 128000)
	v.SetDefault("agent.memory.reserve_ratio", 0.8)
	v.SetDefault("agent.memory.recent_to_keep", 10)
	v.SetDefault("agent.memory.summarize_threshold", 0.6)
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.requests_per_minute", 60.0)

	// -- Crew --
	v.SetDefault("crew.worker_max_iterations", 25)
	v.SetDefault("crew.orchestrator_max_iterations", 50)

	// -- Notes --
	v.SetDefault("notes.path", "loot/notes.json")

	// -- Runtime --
	v.SetDefault("runtime.command_timeout", "5m")
	v.SetDefault("runtime.work_dir", "loot")
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("agent.llm.api_key", "WRAITH_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Model entries without an explicit key fall back to the process env.
	if key := os.Getenv("WRAITH_API_KEY"); key != "" {
		for name, m := range cfg.Agent.LLM.Models {
			if m.APIKey == "" {
				m.APIKey = key
				cfg.Agent.LLM.Models[name] = m
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.Memory.ReserveRatio <= 0 || c.Agent.Memory.ReserveRatio > 1 {
		return fmt.Errorf("agent.memory.reserve_ratio must be in (0, 1], got %f", c.Agent.Memory.ReserveRatio)
	}
	if c.Agent.Memory.SummarizeThreshold <= 0 || c.Agent.Memory.SummarizeThreshold > 1 {
		return fmt.Errorf("agent.memory.summarize_threshold must be in (0, 1], got %f", c.Agent.Memory.SummarizeThreshold)
	}
	if c.Crew.WorkerMaxIterations <= 0 {
		return fmt.Errorf("crew.worker_max_iterations must be positive, got %d", c.Crew.WorkerMaxIterations)
	}
	return nil
}

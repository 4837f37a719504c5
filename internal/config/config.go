// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Agent() AgentConfig
	Session() SessionConfig
	Executor() ExecutorConfig
	Server() ServerConfig
	Database() DatabaseConfig
	Metrics() MetricsConfig

	// Session Setters (CLI flag overrides)
	SetSessionVariant(Variant)
	SetSessionMaxRecursions(int)
	SetSessionMaxWorkerSteps(int)
	SetSessionMaxPlannerSteps(int)
	SetSessionHistoryWindow(int)
	SetSessionSimilarityThreshold(float64)

	// Executor Setters
	SetExecutorBaseURL(string)
	SetExecutorControlMode(ControlMode)
}

// Config holds the entire application configuration. Sections are exported for
// viper's decoder and read through the Interface getters everywhere else.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	AgentCfg    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	SessionCfg  SessionConfig  `mapstructure:"session" yaml:"session"`
	ExecutorCfg ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	MetricsCfg  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig { return c.LoggerCfg }
func (c *Config) Agent() AgentConfig { return c.AgentCfg }
func (c *Config) Session() SessionConfig { return c.SessionCfg }
func (c *Config) Executor() ExecutorConfig { return c.ExecutorCfg }
func (c *Config) Server() ServerConfig { return c.ServerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Metrics() MetricsConfig { return c.MetricsCfg }

func (c *Config) SetSessionVariant(v Variant) { c.SessionCfg.Variant = v }
func (c *Config) SetSessionMaxRecursions(n int) { c.SessionCfg.MaxRecursions = n }
func (c *Config) SetSessionMaxWorkerSteps(n int) { c.SessionCfg.MaxWorkerSteps = n }
func (c *Config) SetSessionMaxPlannerSteps(n int) { c.SessionCfg.MaxPlannerSteps = n }
func (c *Config) SetSessionHistoryWindow(n int) { c.SessionCfg.HistoryWindow = n }
func (c *Config) SetSessionSimilarityThreshold(t float64) {
	c.SessionCfg.SimilarityThreshold = t
}
func (c *Config) SetExecutorBaseURL(u string) { c.ExecutorCfg.BaseURL = u }
func (c *Config) SetExecutorControlMode(m ControlMode) { c.ExecutorCfg.ControlMode = m }

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

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the connection string for the optional transcript store.
// An empty URL disables persistence of finished sessions.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// AgentConfig holds settings related to the model backends.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOllama LLMProvider = "ollama"
)

// LLMRouterConfig configures the model routing logic. DefaultFastModel serves
// the screen analyzer; DefaultPowerfulModel serves the worker and the planner.
// Both name entries of Models; the names must not contain dots.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// Variant selects which orchestration graph a session runs.
type Variant string

const (
	VariantFlat         Variant = "flat"
	VariantHierarchical Variant = "hierarchical"
)

// SessionConfig bounds a single orchestration run.
type SessionConfig struct {
	Variant             Variant       `mapstructure:"variant" yaml:"variant"`
	MaxRecursions       int           `mapstructure:"max_recursions" yaml:"max_recursions"`
	MaxWorkerSteps      int           `mapstructure:"max_worker_steps" yaml:"max_worker_steps"`
	MaxPlannerSteps     int           `mapstructure:"max_planner_steps" yaml:"max_planner_steps"`
	HistoryWindow       int           `mapstructure:"history_window" yaml:"history_window"`
	DescriptionWindow   int           `mapstructure:"description_window" yaml:"description_window"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	StuckThreshold      int           `mapstructure:"stuck_threshold" yaml:"stuck_threshold"`
	ModelTimeout        time.Duration `mapstructure:"model_timeout" yaml:"model_timeout"`
	ToolSettle          time.Duration `mapstructure:"tool_settle" yaml:"tool_settle"`
	BatchConcurrency    int           `mapstructure:"batch_concurrency" yaml:"batch_concurrency"`
}

// ControlMode selects the input vocabulary offered to the worker.
type ControlMode string

const (
	ControlGamepad ControlMode = "gamepad"
	ControlMouse   ControlMode = "mouse"
)

// ExecutorConfig configures the HTTP client that talks to the Action Executor.
type ExecutorConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	ControlMode       ControlMode   `mapstructure:"control_mode" yaml:"control_mode"`
	ScreenshotTimeout time.Duration `mapstructure:"screenshot_timeout" yaml:"screenshot_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	DragTimeout       time.Duration `mapstructure:"drag_timeout" yaml:"drag_timeout"`
	PressDuration     float64       `mapstructure:"press_duration" yaml:"press_duration"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	AutoStart         bool          `mapstructure:"auto_start" yaml:"auto_start"`
	Deck              string        `mapstructure:"deck" yaml:"deck"`
	Stake             int           `mapstructure:"stake" yaml:"stake"`
	Seed              string        `mapstructure:"seed" yaml:"seed"`
}

// ServerConfig configures the Action Executor host (`serve` command).
type ServerConfig struct {
	ListenAddr       string            `mapstructure:"listen_addr" yaml:"listen_addr"`
	Display          string            `mapstructure:"display" yaml:"display"`
	GameCommand      string            `mapstructure:"game_command" yaml:"game_command"`
	GameDir          string            `mapstructure:"game_dir" yaml:"game_dir"`
	GameEnv          map[string]string `mapstructure:"game_env" yaml:"game_env"`
	WindowName       string            `mapstructure:"window_name" yaml:"window_name"`
	KeyMap           map[string]string `mapstructure:"key_map" yaml:"key_map"`
	ButtonPause      time.Duration     `mapstructure:"button_pause" yaml:"button_pause"`
	ActionsPerSecond float64           `mapstructure:"actions_per_second" yaml:"actions_per_second"`
	AutoStartFile    string            `mapstructure:"auto_start_file" yaml:"auto_start_file"`
	ModStatusFile    string            `mapstructure:"mod_status_file" yaml:"mod_status_file"`
	RequestTimeout   time.Duration     `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "balatro-agent")
	v.SetDefault("logger.log_file", "balatro-agent.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- LLM --
	v.SetDefault("agent.llm.default_fast_model", "fast")
	v.SetDefault("agent.llm.default_powerful_model", "powerful")
	v.SetDefault("agent.llm.models.fast.provider", string(ProviderGemini))
	v.SetDefault("agent.llm.models.fast.model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.models.fast.api_timeout", "15s")
	v.SetDefault("agent.llm.models.fast.temperature", 0.2)
	v.SetDefault("agent.llm.models.fast.max_retries", 2)
	v.SetDefault("agent.llm.models.powerful.provider", string(ProviderGemini))
	v.SetDefault("agent.llm.models.powerful.model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.models.powerful.api_timeout", "15s")
	v.SetDefault("agent.llm.models.powerful.temperature", 0.2)
	v.SetDefault("agent.llm.models.powerful.max_retries", 2)

	// -- Session --
	v.SetDefault("session.variant", string(VariantFlat))
	v.SetDefault("session.max_recursions", 120)
	v.SetDefault("session.max_worker_steps", 3)
	v.SetDefault("session.max_planner_steps", 5)
	v.SetDefault("session.history_window", 20)
	v.SetDefault("session.description_window", 10)
	v.SetDefault("session.similarity_threshold", 0.8)
	v.SetDefault("session.stuck_threshold", 3)
	v.SetDefault("session.model_timeout", "15s")
	v.SetDefault("session.tool_settle", "2s")
	v.SetDefault("session.batch_concurrency", 4)

	// -- Executor client --
	v.SetDefault("executor.base_url", "http://localhost:8000")
	v.SetDefault("executor.control_mode", string(ControlGamepad))
	v.SetDefault("executor.screenshot_timeout", "5s")
	v.SetDefault("executor.action_timeout", "10s")
	v.SetDefault("executor.drag_timeout", "15s")
	v.SetDefault("executor.press_duration", 0.1)
	v.SetDefault("executor.max_retries", 2)
	v.SetDefault("executor.auto_start", false)
	v.SetDefault("executor.deck", "b_red")
	v.SetDefault("executor.stake", 1)

	// -- Executor host --
	v.SetDefault("server.listen_addr", "127.0.0.1:8000")
	v.SetDefault("server.display", ":0")
	v.SetDefault("server.game_command", "love .")
	v.SetDefault("server.window_name", "Balatro")
	v.SetDefault("server.button_pause", "1s")
	v.SetDefault("server.actions_per_second", 5.0)
	v.SetDefault("server.auto_start_file", "/tmp/balatro_auto_start.json")
	v.SetDefault("server.mod_status_file", "/tmp/balatro_mod_status.json")
	v.SetDefault("server.request_timeout", "30s")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9102")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "BALATRO_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.applyAPIKeyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyAPIKeyFallbacks fills empty Gemini API keys from the conventional
// environment variables so a bare config file works out of the box.
func (c *Config) applyAPIKeyFallbacks() {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		key = os.Getenv("GOOGLE_API_KEY")
	}
	for name, m := range c.AgentCfg.LLM.Models {
		if m.Provider == ProviderGemini && m.APIKey == "" {
			m.APIKey = key
			c.AgentCfg.LLM.Models[name] = m
		}
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.SessionCfg.Validate(); err != nil {
		return fmt.Errorf("session configuration invalid: %w", err)
	}
	if err := c.ExecutorCfg.Validate(); err != nil {
		return fmt.Errorf("executor configuration invalid: %w", err)
	}
	for name, m := range c.AgentCfg.LLM.Models {
		switch m.Provider {
		case ProviderGemini, ProviderOllama:
		default:
			return fmt.Errorf("agent.llm.models.%s: unsupported provider %q", name, m.Provider)
		}
	}
	return nil
}

// Validate checks the SessionConfig settings.
func (s *SessionConfig) Validate() error {
	switch s.Variant {
	case VariantFlat, VariantHierarchical:
	default:
		return fmt.Errorf("variant must be %q or %q, got %q", VariantFlat, VariantHierarchical, s.Variant)
	}
	if s.MaxRecursions <= 0 {
		return fmt.Errorf("max_recursions must be greater than 0")
	}
	if s.MaxWorkerSteps <= 0 || s.MaxPlannerSteps <= 0 {
		return fmt.Errorf("max_worker_steps and max_planner_steps must be greater than 0")
	}
	if s.HistoryWindow <= 0 || s.DescriptionWindow <= 0 {
		return fmt.Errorf("history_window and description_window must be greater than 0")
	}
	if s.SimilarityThreshold <= 0 || s.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1]")
	}
	if s.StuckThreshold <= 0 {
		return fmt.Errorf("stuck_threshold must be greater than 0")
	}
	return nil
}

// Validate checks the ExecutorConfig settings.
func (e *ExecutorConfig) Validate() error {
	if strings.TrimSpace(e.BaseURL) == "" {
		return fmt.Errorf("base_url is required")
	}
	switch e.ControlMode {
	case ControlGamepad, ControlMouse:
	default:
		return fmt.Errorf("control_mode must be %q or %q, got %q", ControlGamepad, ControlMouse, e.ControlMode)
	}
	return nil
}

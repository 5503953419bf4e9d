// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Provider keys accepted in agent_type.
const (
	ProviderChatGPT = "chatgpt_web"
	ProviderClaude  = "claude_web"
)

// Config is the full template configuration for a batch run. It is loaded
// once, validated, and treated as read-only by everything downstream.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`

	AgentType         string   `mapstructure:"agent_type" yaml:"agent_type"`
	Prompts           []string `mapstructure:"prompts" yaml:"prompts"`
	DownloadArtifacts bool     `mapstructure:"download_artifacts" yaml:"download_artifacts"`
	UploadToCloud     bool     `mapstructure:"upload_to_cloud" yaml:"upload_to_cloud"`

	ChatGPTWeb ProviderConfig `mapstructure:"chatgpt_web" yaml:"chatgpt_web"`
	ClaudeWeb  ProviderConfig `mapstructure:"claude_web" yaml:"claude_web"`

	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// ProviderConfig carries everything specific to one provider target.
type ProviderConfig struct {
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`

	// Feature flags. Not every provider honors every flag.
	AgentMode        bool `mapstructure:"agent_mode" yaml:"agent_mode"`
	ExtendedThinking bool `mapstructure:"extended_thinking" yaml:"extended_thinking"`
	WebSearch        bool `mapstructure:"web_search" yaml:"web_search"`
	CodeInterpreter  bool `mapstructure:"code_interpreter" yaml:"code_interpreter"`

	MaxSecPerTask           int `mapstructure:"max_sec_per_task" yaml:"max_sec_per_task"`
	MaxWaitPerPromptSeconds int `mapstructure:"max_wait_per_prompt_seconds" yaml:"max_wait_per_prompt_seconds"`
	CheckIntervalSeconds    int `mapstructure:"check_interval_seconds" yaml:"check_interval_seconds"`

	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Retry   RetryConfig   `mapstructure:"retry" yaml:"retry"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Workbook validation of downloaded artifacts.
	Validation ValidationConfig `mapstructure:"validation" yaml:"validation"`
}

// TaskBudget returns the wall-clock ceiling for one task; zero means
// unlimited.
func (p ProviderConfig) TaskBudget() time.Duration {
	return time.Duration(p.MaxSecPerTask) * time.Second
}

// PromptWait returns how long a single wait_for_completion may block.
func (p ProviderConfig) PromptWait() time.Duration {
	return time.Duration(p.MaxWaitPerPromptSeconds) * time.Second
}

// PollInterval returns the completion polling cadence.
func (p ProviderConfig) PollInterval() time.Duration {
	return time.Duration(p.CheckIntervalSeconds) * time.Second
}

// BrowserConfig describes how to reach the already-running browser. The tool
// only ever connects as a remote-debugging client; it does not launch or log
// into anything.
type BrowserConfig struct {
	Type              string        `mapstructure:"type" yaml:"type"`
	CDPPort           int           `mapstructure:"cdp_port" yaml:"cdp_port"`
	DownloadDir       string        `mapstructure:"download_dir" yaml:"download_dir"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// RetryConfig bounds the two-tier retry machine.
type RetryConfig struct {
	MaxAgentAttempts    int `mapstructure:"max_agent_attempts" yaml:"max_agent_attempts"`
	MaxTotalAttempts    int `mapstructure:"max_total_attempts" yaml:"max_total_attempts"`
	SleepBetweenRetries int `mapstructure:"sleep_between_retries" yaml:"sleep_between_retries"`
}

// RetrySleep returns the pause between attempts.
func (r RetryConfig) RetrySleep() time.Duration {
	return time.Duration(r.SleepBetweenRetries) * time.Second
}

// OutputConfig controls where run artifacts and attempt logs land.
type OutputConfig struct {
	BaseDir      string `mapstructure:"base_dir" yaml:"base_dir"`
	FolderPrefix string `mapstructure:"folder_prefix" yaml:"folder_prefix"`
}

// SessionConfig names the agent for logs, file names, and persistence.
type SessionConfig struct {
	AgentName     string `mapstructure:"agent_name" yaml:"agent_name"`
	ModelName     string `mapstructure:"model_name" yaml:"model_name"`
	ModelType     string `mapstructure:"model_type" yaml:"model_type"`
	PromptVersion int    `mapstructure:"prompt_version" yaml:"prompt_version"`
}

// ValidationConfig controls the downloaded-workbook checks.
type ValidationConfig struct {
	Enabled             bool `mapstructure:"enabled" yaml:"enabled"`
	RequireModelSheet   bool `mapstructure:"require_model_sheet" yaml:"require_model_sheet"`
	RequireAnswersSheet bool `mapstructure:"require_answers_sheet" yaml:"require_answers_sheet"`
}

// StorageConfig holds the optional result-sink backends.
type StorageConfig struct {
	DatabaseURL       string `mapstructure:"database_url" yaml:"-"`
	AzureContainerURL string `mapstructure:"azure_container_url" yaml:"azure_container_url"`
	ArtifactPrefix    string `mapstructure:"artifact_prefix" yaml:"artifact_prefix"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// Provider resolves agent_type into the matching provider block. Unknown
// values fall back to claude_web, matching the original tool's behavior.
func (c *Config) Provider() (string, ProviderConfig) {
	if c.AgentType == ProviderChatGPT {
		return ProviderChatGPT, c.ChatGPTWeb
	}
	return ProviderClaude, c.ClaudeWeb
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "autoprompt-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	v.SetDefault("agent_type", ProviderClaude)
	v.SetDefault("download_artifacts", true)
	v.SetDefault("upload_to_cloud", false)

	for _, key := range []string{ProviderChatGPT, ProviderClaude} {
		v.SetDefault(key+".agent_mode", true)
		v.SetDefault(key+".extended_thinking", true)
		v.SetDefault(key+".web_search", true)
		v.SetDefault(key+".code_interpreter", true)
		v.SetDefault(key+".max_sec_per_task", 0)
		v.SetDefault(key+".max_wait_per_prompt_seconds", 1800)
		v.SetDefault(key+".check_interval_seconds", 10)
		v.SetDefault(key+".browser.type", "cdp")
		v.SetDefault(key+".browser.cdp_port", 9222)
		v.SetDefault(key+".browser.navigation_timeout", "90s")
		v.SetDefault(key+".retry.max_agent_attempts", 3)
		v.SetDefault(key+".retry.max_total_attempts", 10)
		v.SetDefault(key+".retry.sleep_between_retries", 5)
		v.SetDefault(key+".output.base_dir", ".")
		v.SetDefault(key+".session.prompt_version", 1)
		v.SetDefault(key+".validation.enabled", true)
		v.SetDefault(key+".validation.require_model_sheet", true)
		v.SetDefault(key+".validation.require_answers_sheet", true)
	}
	v.SetDefault("chatgpt_web.output.folder_prefix", "chatgptGUI")
	v.SetDefault("chatgpt_web.session.agent_name", "chatgpt_web")
	v.SetDefault("chatgpt_web.session.model_name", "GPT-5.2")
	v.SetDefault("chatgpt_web.session.model_type", "gui")
	v.SetDefault("claude_web.output.folder_prefix", "claudeGUI")
	v.SetDefault("claude_web.session.agent_name", "claude_web")
	v.SetDefault("claude_web.session.model_name", "Opus 4.5")
	v.SetDefault("claude_web.session.model_type", "gui")

	v.SetDefault("storage.artifact_prefix", "attempts")
}

// Load reads a template YAML file into a Config. Templates written for the
// batch runner wrap everything under a top-level "template" key; that nesting
// is unwrapped transparently.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if sub := v.Sub("template"); sub != nil {
		merged := viper.New()
		SetDefaults(merged)
		if err := merged.MergeConfigMap(sub.AllSettings()); err != nil {
			return nil, fmt.Errorf("error merging template config: %w", err)
		}
		v = merged
	} else {
		merged := viper.New()
		SetDefaults(merged)
		if err := merged.MergeConfigMap(v.AllSettings()); err != nil {
			return nil, fmt.Errorf("error merging config: %w", err)
		}
		v = merged
	}

	return NewConfigFromViper(v)
}

// NewConfigFromViper unmarshals and validates a configuration instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("storage.database_url", "AUTOPROMPT_DATABASE_URL", "DATABASE_URL")
	v.BindEnv("storage.azure_container_url", "AUTOPROMPT_AZURE_CONTAINER_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.AgentType {
	case ProviderChatGPT, ProviderClaude, "":
	default:
		return fmt.Errorf("agent_type must be %q or %q, got %q",
			ProviderChatGPT, ProviderClaude, c.AgentType)
	}

	_, pc := c.Provider()
	if pc.Retry.MaxAgentAttempts <= 0 {
		return fmt.Errorf("retry.max_agent_attempts must be a positive integer")
	}
	if pc.Retry.MaxTotalAttempts <= 0 {
		return fmt.Errorf("retry.max_total_attempts must be a positive integer")
	}
	if pc.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("check_interval_seconds must be a positive integer")
	}
	if pc.Browser.CDPPort <= 0 || pc.Browser.CDPPort > 65535 {
		return fmt.Errorf("browser.cdp_port must be a valid TCP port")
	}
	if c.UploadToCloud && c.Storage.AzureContainerURL == "" && c.Storage.DatabaseURL == "" {
		return fmt.Errorf("upload_to_cloud is set but no storage backend is configured")
	}
	return nil
}

// Package config loads application configuration from file and
// environment and owns global logger setup.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is built once at
// startup and passed into the pipeline at construction; components never
// read the environment themselves.
type Config struct {
	Portal PortalConfig `yaml:"portal" mapstructure:"portal"`
	OpenAI OpenAIConfig `yaml:"openai" mapstructure:"openai"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Score  ScoreConfig  `yaml:"score" mapstructure:"score"`
	Notify NotifyConfig `yaml:"notify" mapstructure:"notify"`
	Run    RunConfig    `yaml:"run" mapstructure:"run"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// PortalConfig configures the research portal client.
type PortalConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	DelayMS     int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxPages    int    `yaml:"max_pages" mapstructure:"max_pages"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// OpenAIConfig holds scoring model settings.
type OpenAIConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	MaxTokens   int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
	// AllowUnscored enables the recovery mode that persists a record
	// without a score when the analyzer fails. Off by default: the
	// normal path never persists an unscored record.
	AllowUnscored bool `yaml:"allow_unscored" mapstructure:"allow_unscored"`
}

// ScoreConfig holds the notification threshold.
type ScoreConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
}

// NotifyConfig configures alert channels; each is toggled independently.
type NotifyConfig struct {
	Slack SlackConfig `yaml:"slack" mapstructure:"slack"`
	Email EmailConfig `yaml:"email" mapstructure:"email"`
}

// SlackConfig holds incoming-webhook settings.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled" mapstructure:"enabled"`
	Host     string   `yaml:"host" mapstructure:"host"`
	Port     int      `yaml:"port" mapstructure:"port"`
	Username string   `yaml:"username" mapstructure:"username"`
	Password string   `yaml:"password" mapstructure:"password"`
	From     string   `yaml:"from" mapstructure:"from"`
	To       []string `yaml:"to" mapstructure:"to"`
}

// RunConfig holds run-level limits.
type RunConfig struct {
	// BudgetSecs is the wall-clock budget for one run; the orchestrator
	// stops pulling new pages when the budget is nearly spent.
	BudgetSecs int `yaml:"budget_secs" mapstructure:"budget_secs"`
	// StoreFailureLimit is the number of consecutive store connection
	// failures that escalates to a run-level failure.
	StoreFailureLimit int `yaml:"store_failure_limit" mapstructure:"store_failure_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PUBSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults; secrets have none.
	v.SetDefault("portal.base_url", "https://portal.fis.tum.de/en/publications/")
	v.SetDefault("portal.delay_ms", 1000)
	v.SetDefault("portal.timeout_secs", 20)
	v.SetDefault("portal.max_pages", 50)
	v.SetDefault("portal.user_agent", "pubscout/1.0")
	v.SetDefault("openai.key", "")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.max_tokens", 800)
	v.SetDefault("openai.timeout_secs", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.path", "pubscout.db")
	v.SetDefault("store.allow_unscored", false)
	v.SetDefault("score.threshold", 7.0)
	v.SetDefault("notify.slack.enabled", false)
	v.SetDefault("notify.slack.webhook_url", "")
	v.SetDefault("notify.email.enabled", false)
	v.SetDefault("notify.email.host", "")
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.username", "")
	v.SetDefault("notify.email.password", "")
	v.SetDefault("notify.email.from", "")
	v.SetDefault("notify.email.to", []string{})
	v.SetDefault("run.budget_secs", 840)
	v.SetDefault("run.store_failure_limit", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

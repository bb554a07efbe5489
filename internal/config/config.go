package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Generate  GenerateConfig   `yaml:"generate" mapstructure:"generate"`
	Undo      UndoConfig       `yaml:"undo" mapstructure:"undo"`
	Autopilot AutopilotConfig  `yaml:"autopilot" mapstructure:"autopilot"`
	Pricing   PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	SKUGen    SKUGenConfig     `yaml:"skugen" mapstructure:"skugen"`
	Images    ImagesConfig     `yaml:"images" mapstructure:"images"`
	Dispatch  DispatchConfig   `yaml:"dispatch" mapstructure:"dispatch"`
	Tags      TagsConfig       `yaml:"tags" mapstructure:"tags"`
	Server    ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitor   MonitoringConfig `yaml:"monitor" mapstructure:"monitor"`
	Log       LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds generation provider settings.
type AnthropicConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// GenerateConfig configures bulk generation.
type GenerateConfig struct {
	BatchSize     int `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency   int `yaml:"concurrency" mapstructure:"concurrency"`
	ChunkDelayMs  int `yaml:"chunk_delay_ms" mapstructure:"chunk_delay_ms"`
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelayMs  int `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
}

// UndoConfig configures snapshot retention.
type UndoConfig struct {
	TTLSeconds int `yaml:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// AutopilotConfig configures the run state machine.
type AutopilotConfig struct {
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// PricingConfig holds the pricing-policy service settings.
type PricingConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SKUGenConfig holds the SKU generator service settings.
type SKUGenConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ImagesConfig holds the image source service settings.
type ImagesConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// DispatchConfig holds the autopilot worker webhook settings.
type DispatchConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// TagsConfig points at the category default-tag rules file.
type TagsConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background health checker run by the
// serve command. Alerts post to WebhookURL; an empty URL disables sends
// but keeps /stats collection available.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ErrorItemsThreshold  int     `yaml:"error_items_threshold" mapstructure:"error_items_threshold"`
	StalledRunSecs       int     `yaml:"stalled_run_secs" mapstructure:"stalled_run_secs"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
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
	v.SetEnvPrefix("LISTING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "listing.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("generate.batch_size", 20)
	v.SetDefault("generate.concurrency", 3)
	v.SetDefault("generate.chunk_delay_ms", 500)
	v.SetDefault("generate.retry_attempts", 2)
	v.SetDefault("generate.retry_delay_ms", 1000)
	v.SetDefault("undo.ttl_seconds", 300)
	v.SetDefault("autopilot.poll_interval_secs", 5)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.requests_per_minute", 30)
	v.SetDefault("tags.rules_path", "tagrules.yaml")
	v.SetDefault("monitor.failure_rate_threshold", 0.5)
	v.SetDefault("monitor.error_items_threshold", 25)
	v.SetDefault("monitor.stalled_run_secs", 600)
	v.SetDefault("monitor.check_interval_secs", 300)

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

// Validate checks the fields a command mode requires. Modes: "generate"
// needs the store and the generation provider, "autopilot" additionally
// needs the worker webhook, "serve" needs a valid port.
func (c *Config) Validate(mode string) error {
	var missing []string

	checkCommon := func() {
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
		if c.Generate.BatchSize != 10 && c.Generate.BatchSize != 20 && c.Generate.BatchSize != 50 {
			missing = append(missing, "generate.batch_size must be 10, 20, or 50")
		}
		if c.Generate.Concurrency < 1 || c.Generate.Concurrency > 10 {
			missing = append(missing, "generate.concurrency must be between 1 and 10")
		}
	}

	switch mode {
	case "generate":
		checkCommon()
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
	case "autopilot":
		checkCommon()
		if c.Dispatch.WebhookURL == "" {
			missing = append(missing, "dispatch.webhook_url is required")
		}
	case "serve":
		checkCommon()
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(missing, "; "))
	}
	return nil
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

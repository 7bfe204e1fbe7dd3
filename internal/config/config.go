package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. BOOKLESSONS_DATABASE_URL.
const EnvPrefix = "BOOKLESSONS"

// Config holds the application's configuration.
type Config struct {
	Server struct {
		Port            string        `yaml:"port" envconfig:"PORT"`
		AllowedOrigins  string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver" envconfig:"DRIVER"` // "postgres" or "sqlite"
		URL    string `yaml:"url" envconfig:"URL"`
	} `yaml:"database"`
	Booking struct {
		TransitionPolicy string `yaml:"transition_policy" envconfig:"TRANSITION_POLICY"` // permissive, strict
		MeetingDomain    string `yaml:"meeting_domain" envconfig:"MEETING_DOMAIN"`
	} `yaml:"booking"`
	Fraud struct {
		SeverityWeights    map[string]float64 `yaml:"severity_weights" envconfig:"SEVERITY_WEIGHTS"`
		DefaultWeight      float64            `yaml:"default_weight" envconfig:"DEFAULT_WEIGHT"`
		ManualReviewWeight float64            `yaml:"manual_review_weight" envconfig:"MANUAL_REVIEW_WEIGHT"`
		ReviewThreshold    float64            `yaml:"review_threshold" envconfig:"REVIEW_THRESHOLD"`
	} `yaml:"fraud"`
	Chat struct {
		PollInterval     time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
		Lookback         time.Duration `yaml:"lookback" envconfig:"LOOKBACK"`
		MaxBackoff       time.Duration `yaml:"max_backoff" envconfig:"MAX_BACKOFF"`
		MaxFetchFailures int           `yaml:"max_fetch_failures" envconfig:"MAX_FETCH_FAILURES"`
		DefaultLimit     int           `yaml:"default_limit" envconfig:"DEFAULT_LIMIT"`
		MaxLimit         int           `yaml:"max_limit" envconfig:"MAX_LIMIT"`
	} `yaml:"chat"`
	Gdpr struct {
		AuditCompletion bool `yaml:"audit_completion" envconfig:"AUDIT_COMPLETION"`
	} `yaml:"gdpr"`
	Auth struct {
		Enabled   bool   `yaml:"enabled" envconfig:"ENABLED"`
		JWTSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	} `yaml:"auth"`
	Profiles struct {
		URL     string        `yaml:"url" envconfig:"URL"` // empty means profiles are read from the database
		Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	} `yaml:"profiles"`
	Events struct {
		RabbitURL string `yaml:"rabbit_url" envconfig:"RABBIT_URL"`
		Exchange  string `yaml:"exchange" envconfig:"EXCHANGE"`
	} `yaml:"events"`
	ReviewBot struct {
		Enabled          bool   `yaml:"enabled" envconfig:"ENABLED"`
		TelegramBotToken string `yaml:"telegram_bot_token" envconfig:"TELEGRAM_BOT_TOKEN"`
		ChatID           int64  `yaml:"chat_id" envconfig:"CHAT_ID"`
	} `yaml:"review_bot"`
	Tracing struct {
		Enabled      bool   `yaml:"enabled" envconfig:"ENABLED"`
		OTLPEndpoint string `yaml:"otlp_endpoint" envconfig:"OTLP_ENDPOINT"`
		ServiceName  string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	} `yaml:"tracing"`
}

// LoadConfig reads configuration from the specified YAML file and applies
// BOOKLESSONS_* environment overrides on top of it.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.applyDefaults()

	config.Database.URL = os.ExpandEnv(config.Database.URL)
	config.Auth.JWTSecret = os.ExpandEnv(config.Auth.JWTSecret)
	config.Events.RabbitURL = os.ExpandEnv(config.Events.RabbitURL)
	config.ReviewBot.TelegramBotToken = os.ExpandEnv(config.ReviewBot.TelegramBotToken)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.AllowedOrigins == "" {
		c.Server.AllowedOrigins = "*"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}

	if c.Booking.TransitionPolicy == "" {
		c.Booking.TransitionPolicy = "permissive"
	}
	if c.Booking.MeetingDomain == "" {
		c.Booking.MeetingDomain = "meet.jit.si"
	}

	if len(c.Fraud.SeverityWeights) == 0 {
		c.Fraud.SeverityWeights = map[string]float64{"low": 10, "medium": 40, "high": 90}
	}
	if c.Fraud.DefaultWeight == 0 {
		c.Fraud.DefaultWeight = 0.2
	}
	if c.Fraud.ManualReviewWeight == 0 {
		c.Fraud.ManualReviewWeight = 50
	}
	if c.Fraud.ReviewThreshold == 0 {
		c.Fraud.ReviewThreshold = 60
	}

	if c.Chat.PollInterval == 0 {
		c.Chat.PollInterval = 3 * time.Second
	}
	if c.Chat.Lookback == 0 {
		c.Chat.Lookback = 5 * time.Minute
	}
	if c.Chat.MaxBackoff == 0 {
		c.Chat.MaxBackoff = 30 * time.Second
	}
	if c.Chat.MaxFetchFailures == 0 {
		c.Chat.MaxFetchFailures = 5
	}
	if c.Chat.DefaultLimit == 0 {
		c.Chat.DefaultLimit = 50
	}
	if c.Chat.MaxLimit == 0 {
		c.Chat.MaxLimit = 200
	}

	if c.Profiles.Timeout == 0 {
		c.Profiles.Timeout = 5 * time.Second
	}

	if c.Events.Exchange == "" {
		c.Events.Exchange = "booklessons.events"
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "booklessons"
	}
	if c.Tracing.OTLPEndpoint == "" {
		c.Tracing.OTLPEndpoint = "localhost:4317"
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	switch c.Booking.TransitionPolicy {
	case "permissive", "strict":
	default:
		return fmt.Errorf("unsupported booking transition policy %q", c.Booking.TransitionPolicy)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	if c.ReviewBot.Enabled && (c.ReviewBot.TelegramBotToken == "" || c.ReviewBot.ChatID == 0) {
		return fmt.Errorf("review_bot requires telegram_bot_token and chat_id")
	}
	return nil
}

package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Mailbox   MailboxConfig   `mapstructure:"mailbox"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// MailboxConfig holds upstream mailbox provider configuration
type MailboxConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	RefreshToken  string `mapstructure:"refresh_token"`
	TokenURL      string `mapstructure:"token_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	UseIMAP       bool   `mapstructure:"use_imap"`
	IMAPHost      string `mapstructure:"imap_host"`
	IMAPPort      int    `mapstructure:"imap_port"`
	IMAPUser      string `mapstructure:"imap_user"`
	IMAPPassword  string `mapstructure:"imap_password"`
	IMAPSentBox   string `mapstructure:"imap_sent_box"`
}

// LLMConfig holds the chat-completion gateway configuration
type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GmailConfig holds Gmail API credentials for outbound reply sending
type GmailConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
}

// PipelineConfig holds the batch pipeline tuning knobs
type PipelineConfig struct {
	TimeBudget       time.Duration `mapstructure:"time_budget"`
	BatchSize        int           `mapstructure:"batch_size"`
	ChunkSize        int           `mapstructure:"chunk_size"`
	MaxRetries       int           `mapstructure:"max_retries"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	MaxStalledRelays int           `mapstructure:"max_stalled_relays"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	Visibility       time.Duration `mapstructure:"visibility"`
	WorkerCount      int           `mapstructure:"worker_count"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	DefaultTarget    int           `mapstructure:"default_target"`
}

// SchedulerConfig holds cron scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
	JanitorMinutes  int `mapstructure:"janitor_minutes"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("mailbox.use_imap", false)
	viper.SetDefault("mailbox.imap_host", "imap.gmail.com")
	viper.SetDefault("mailbox.imap_port", 993)
	viper.SetDefault("mailbox.imap_sent_box", "[Gmail]/Sent Mail")

	viper.SetDefault("llm.timeout", "120s")

	viper.SetDefault("gmail.enabled", false)

	viper.SetDefault("pipeline.time_budget", "50s")
	viper.SetDefault("pipeline.batch_size", 50)
	viper.SetDefault("pipeline.chunk_size", 25)
	viper.SetDefault("pipeline.max_retries", 3)
	viper.SetDefault("pipeline.max_attempts", 5)
	viper.SetDefault("pipeline.max_stalled_relays", 10)
	viper.SetDefault("pipeline.lock_ttl", "2m")
	viper.SetDefault("pipeline.visibility", "90s")
	viper.SetDefault("pipeline.worker_count", 4)
	viper.SetDefault("pipeline.poll_interval", "2s")
	viper.SetDefault("pipeline.default_target", 200)

	viper.SetDefault("scheduler.interval_minutes", 15)
	viper.SetDefault("scheduler.janitor_minutes", 5)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")
	viper.BindEnv("database.sslmode", "DB_SSLMODE")

	viper.BindEnv("mailbox.base_url", "MAILBOX_BASE_URL")
	viper.BindEnv("mailbox.client_id", "MAILBOX_CLIENT_ID")
	viper.BindEnv("mailbox.client_secret", "MAILBOX_CLIENT_SECRET")
	viper.BindEnv("mailbox.refresh_token", "MAILBOX_REFRESH_TOKEN")
	viper.BindEnv("mailbox.token_url", "MAILBOX_TOKEN_URL")
	viper.BindEnv("mailbox.webhook_secret", "MAILBOX_WEBHOOK_SECRET")
	viper.BindEnv("mailbox.use_imap", "MAILBOX_USE_IMAP")
	viper.BindEnv("mailbox.imap_host", "MAILBOX_IMAP_HOST")
	viper.BindEnv("mailbox.imap_port", "MAILBOX_IMAP_PORT")
	viper.BindEnv("mailbox.imap_user", "MAILBOX_IMAP_USER")
	viper.BindEnv("mailbox.imap_password", "MAILBOX_IMAP_PASSWORD")
	viper.BindEnv("mailbox.imap_sent_box", "MAILBOX_IMAP_SENT_BOX")

	viper.BindEnv("llm.base_url", "LLM_BASE_URL")
	viper.BindEnv("llm.api_key", "LLM_API_KEY")
	viper.BindEnv("llm.model", "LLM_MODEL")
	viper.BindEnv("llm.timeout", "LLM_TIMEOUT")

	viper.BindEnv("gmail.enabled", "GMAIL_ENABLED")
	viper.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
	viper.BindEnv("gmail.user_email", "GMAIL_USER_EMAIL")

	viper.BindEnv("pipeline.time_budget", "PIPELINE_TIME_BUDGET")
	viper.BindEnv("pipeline.batch_size", "PIPELINE_BATCH_SIZE")
	viper.BindEnv("pipeline.chunk_size", "PIPELINE_CHUNK_SIZE")
	viper.BindEnv("pipeline.max_retries", "PIPELINE_MAX_RETRIES")
	viper.BindEnv("pipeline.max_attempts", "PIPELINE_MAX_ATTEMPTS")
	viper.BindEnv("pipeline.max_stalled_relays", "PIPELINE_MAX_STALLED_RELAYS")
	viper.BindEnv("pipeline.lock_ttl", "PIPELINE_LOCK_TTL")
	viper.BindEnv("pipeline.visibility", "PIPELINE_VISIBILITY")
	viper.BindEnv("pipeline.worker_count", "PIPELINE_WORKER_COUNT")
	viper.BindEnv("pipeline.poll_interval", "PIPELINE_POLL_INTERVAL")
	viper.BindEnv("pipeline.default_target", "PIPELINE_DEFAULT_TARGET")

	viper.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
	viper.BindEnv("scheduler.janitor_minutes", "SCHEDULER_JANITOR_MINUTES")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if !c.Mailbox.UseIMAP {
		if c.Mailbox.BaseURL == "" {
			return fmt.Errorf("mailbox base URL is required when not using IMAP")
		}
	} else {
		if c.Mailbox.IMAPUser == "" || c.Mailbox.IMAPPassword == "" {
			return fmt.Errorf("IMAP credentials are required when using IMAP")
		}
	}

	if c.LLM.BaseURL == "" || c.LLM.APIKey == "" {
		return fmt.Errorf("LLM base URL and API key are required")
	}

	if c.Gmail.Enabled {
		if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" || c.Gmail.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when sending is enabled")
		}
	}

	if c.Pipeline.TimeBudget <= 0 {
		return fmt.Errorf("pipeline time budget must be greater than 0")
	}

	if c.Pipeline.BatchSize <= 0 || c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("pipeline batch size and chunk size must be greater than 0")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	return nil
}

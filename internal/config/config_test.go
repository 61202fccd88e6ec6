package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "mailflow",
			DBName:  "mailflow",
			SSLMode: "disable",
		},
		Mailbox: MailboxConfig{
			BaseURL:       "https://mail.example.com/api",
			WebhookSecret: "hush",
		},
		LLM: LLMConfig{
			BaseURL: "https://llm.example.com/v1",
			APIKey:  "sk-test",
			Model:   "gpt-4o-mini",
			Timeout: 2 * time.Minute,
		},
		Pipeline: PipelineConfig{
			TimeBudget:       50 * time.Second,
			BatchSize:        50,
			ChunkSize:        25,
			MaxRetries:       3,
			MaxAttempts:      5,
			MaxStalledRelays: 10,
			LockTTL:          2 * time.Minute,
			Visibility:       90 * time.Second,
			WorkerCount:      4,
			PollInterval:     2 * time.Second,
			DefaultTarget:    200,
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes: 15,
			JanitorMinutes:  5,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing server port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port",
		},
		{
			name:    "missing database host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantErr: "database",
		},
		{
			name:    "missing database name",
			mutate:  func(c *Config) { c.Database.DBName = "" },
			wantErr: "database",
		},
		{
			name:    "missing mailbox base URL",
			mutate:  func(c *Config) { c.Mailbox.BaseURL = "" },
			wantErr: "mailbox base URL",
		},
		{
			name: "IMAP mode does not need base URL",
			mutate: func(c *Config) {
				c.Mailbox.UseIMAP = true
				c.Mailbox.BaseURL = ""
				c.Mailbox.IMAPUser = "owner@example.com"
				c.Mailbox.IMAPPassword = "app-password"
			},
		},
		{
			name: "IMAP mode needs credentials",
			mutate: func(c *Config) {
				c.Mailbox.UseIMAP = true
				c.Mailbox.IMAPUser = ""
			},
			wantErr: "IMAP credentials",
		},
		{
			name:    "missing LLM key",
			mutate:  func(c *Config) { c.LLM.APIKey = "" },
			wantErr: "LLM",
		},
		{
			name: "gmail enabled without credentials",
			mutate: func(c *Config) {
				c.Gmail.Enabled = true
			},
			wantErr: "Gmail OAuth2",
		},
		{
			name: "gmail enabled with credentials",
			mutate: func(c *Config) {
				c.Gmail.Enabled = true
				c.Gmail.ClientID = "id"
				c.Gmail.ClientSecret = "secret"
				c.Gmail.RefreshToken = "rt"
			},
		},
		{
			name:    "zero time budget",
			mutate:  func(c *Config) { c.Pipeline.TimeBudget = 0 },
			wantErr: "time budget",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Pipeline.BatchSize = 0 },
			wantErr: "batch size",
		},
		{
			name:    "negative chunk size",
			mutate:  func(c *Config) { c.Pipeline.ChunkSize = -1 },
			wantErr: "chunk size",
		},
		{
			name:    "zero scheduler interval",
			mutate:  func(c *Config) { c.Scheduler.IntervalMinutes = 0 },
			wantErr: "scheduler interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestGetDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Password = "pw"
	dsn := cfg.Database.GetDSN()
	assert.Equal(t, "host=localhost port=5432 user=mailflow password=pw dbname=mailflow sslmode=disable", dsn)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 50*time.Second, cfg.Pipeline.TimeBudget)
	assert.Equal(t, 25, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 4, cfg.Pipeline.WorkerCount)
	assert.Equal(t, 15, cfg.Scheduler.IntervalMinutes)
	assert.False(t, cfg.Mailbox.UseIMAP)
}

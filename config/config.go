package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config は環境変数から読み込む設定
type Config struct {
	Port        string `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Gemini (OpenAI互換エンドポイント)
	GeminiAPIKey     string         `envconfig:"GEMINI_API_KEY"`
	GeminiAPIKey2    string         `envconfig:"GEMINI_API_KEY_2"`
	GeminiBaseURL    string         `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta/openai"`
	DefaultModel     string         `envconfig:"DEFAULT_MODEL" default:"gemini-2.5-flash"`
	ModelLimits      map[string]int `envconfig:"MODEL_LIMITS"`
	ModelTimeout     time.Duration  `envconfig:"MODEL_TIMEOUT" default:"60s"`
	MaxToolRounds    int            `envconfig:"MAX_TOOL_ROUNDS" default:"3"`
	MaxHistory       int            `envconfig:"MAX_HISTORY" default:"40"`
	MaxConversations int            `envconfig:"MAX_CONVERSATIONS" default:"1000"`

	// 空き時間検索
	Timezone         string `envconfig:"TIMEZONE" default:"Asia/Bangkok"`
	WorkdayStartHour int    `envconfig:"WORKDAY_START_HOUR" default:"9"`
	WorkdayEndHour   int    `envconfig:"WORKDAY_END_HOUR" default:"18"`
	MaxSlots         int    `envconfig:"MAX_SLOTS" default:"5"`

	// Microsoft Graph
	AzureClientID     string `envconfig:"AZURE_CLIENT_ID"`
	AzureClientSecret string `envconfig:"AZURE_CLIENT_SECRET"`
	AzureTenantID     string `envconfig:"AZURE_TENANT_ID"`
	GraphBaseURL      string `envconfig:"GRAPH_BASE_URL" default:"https://graph.microsoft.com/v1.0"`

	// CEM
	CEMAPIURL   string `envconfig:"CEM_API_URL" default:"http://backend-cem:3001/api"`
	CEMUsername string `envconfig:"CEM_USERNAME" default:"admin"`
	CEMPassword string `envconfig:"CEM_PASSWORD" default:"password"`

	TeamsWebhookURL  string `envconfig:"TEAMS_WEBHOOK_URL"`
	DocumentBaseURL  string `envconfig:"DOCUMENT_BASE_URL"`
	DocumentMaxBytes int64  `envconfig:"DOCUMENT_MAX_BYTES" default:"10485760"`

	// 会話アーカイブ (DynamoDB)
	DynamoDBEndpoint string `envconfig:"DYNAMODB_ENDPOINT"`
	DynamoDBRegion   string `envconfig:"DYNAMODB_REGION" default:"us-east-1"`
	TranscriptTable  string `envconfig:"TRANSCRIPT_TABLE"`

	PostgresURL string `envconfig:"POSTGRES_URL"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}
	if c.WorkdayStartHour < 0 || c.WorkdayEndHour > 24 || c.WorkdayStartHour >= c.WorkdayEndHour {
		return fmt.Errorf("invalid working hours %d-%d", c.WorkdayStartHour, c.WorkdayEndHour)
	}
	if c.MaxHistory < 2 {
		return fmt.Errorf("MAX_HISTORY must be at least 2, got %d", c.MaxHistory)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the fixed timezone used for day boundaries.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// APIKeys returns the configured Gemini credentials, primary first.
func (c *Config) APIKeys() []string {
	keys := []string{c.GeminiAPIKey}
	if c.GeminiAPIKey2 != "" {
		keys = append(keys, c.GeminiAPIKey2)
	}
	return keys
}

// LogSummary writes the non-secret settings to the logger.
func (c *Config) LogSummary(log zerolog.Logger) {
	log.Info().
		Str("port", c.Port).
		Str("environment", c.Environment).
		Str("default_model", c.DefaultModel).
		Int("api_keys", len(c.APIKeys())).
		Dur("model_timeout", c.ModelTimeout).
		Int("max_history", c.MaxHistory).
		Str("timezone", c.Timezone).
		Bool("graph_configured", c.AzureClientID != "").
		Bool("teams_webhook", c.TeamsWebhookURL != "").
		Bool("documents", c.DocumentBaseURL != "").
		Bool("transcripts", c.TranscriptTable != "").
		Bool("feedback", c.PostgresURL != "").
		Msg("configuration loaded")
}

// NewLogger builds the root zerolog logger.
func NewLogger(c *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if c.Environment == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Str("service", "gent").Timestamp().Logger()
}

// ForTesting returns a config populated with the documented defaults.
func ForTesting() *Config {
	return &Config{
		Port:             "3000",
		Environment:      "testing",
		LogLevel:         "debug",
		GeminiAPIKey:     "test-key",
		GeminiBaseURL:    "http://localhost:0",
		DefaultModel:     "gemini-2.5-flash",
		ModelTimeout:     5 * time.Second,
		MaxToolRounds:    3,
		MaxHistory:       40,
		MaxConversations: 1000,
		Timezone:         "Asia/Bangkok",
		WorkdayStartHour: 9,
		WorkdayEndHour:   18,
		MaxSlots:         5,
		GraphBaseURL:     "http://localhost:0",
		CEMAPIURL:        "http://localhost:0/api",
		DocumentMaxBytes: 10 << 20,
		DynamoDBRegion:   "us-east-1",
	}
}

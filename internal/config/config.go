package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envConfig holds the settings sourced from the process environment.
// Secrets never travel through flags.
type envConfig struct {
	DatabaseDSN     string        `env:"DATABASE_DSN"`
	SigningSecret   string        `env:"JWT_SECRET"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	WebhookURL      string        `env:"WEBHOOK_URL"`
	SuggestionModel string        `env:"SUGGESTION_MODEL" envDefault:"claude-3-5-haiku-latest"`
	SuggestionTTL   time.Duration `env:"SUGGESTION_TTL" envDefault:"30s"`
}

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string

	AnthropicAPIKey string
	SuggestionModel string
	SuggestionTTL   time.Duration
	WebhookURL      string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig assembles the runtime configuration from the flag-provided
// values and the process environment. Environment values win for the
// database DSN and signing secret so the flags can carry defaults for
// local development.
func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if ec.DatabaseDSN != "" {
		databaseDSN = ec.DatabaseDSN
	}
	if ec.SigningSecret != "" {
		base64Secret = ec.SigningSecret
	}

	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:      serverAddr,
		DatabaseDSN:     databaseDSN,
		SigningKey:      signingKey,
		AllowedOrigins:  allowedOrigins,
		AnthropicAPIKey: ec.AnthropicAPIKey,
		SuggestionModel: ec.SuggestionModel,
		SuggestionTTL:   ec.SuggestionTTL,
		WebhookURL:      ec.WebhookURL,
	}, nil
}

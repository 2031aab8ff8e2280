package app

import (
	"errors"

	"github.com/joeshaw/envdecode"
)

// Config is the server configuration, loaded from the environment.
type Config struct {
	// ListenAddr is the HTTP listen address. ENV: LISTEN_ADDR
	ListenAddr string `env:"LISTEN_ADDR,default=:8080"`

	// TokenSecret signs access tokens. ENV: TOKEN_SECRET
	TokenSecret string `env:"TOKEN_SECRET"`

	// SiteverifySecret authenticates to the human-verification service.
	// ENV: SITEVERIFY_SECRET
	SiteverifySecret string `env:"SITEVERIFY_SECRET"`

	// SiteverifyURL overrides the human-verification endpoint.
	// ENV: SITEVERIFY_URL
	SiteverifyURL string `env:"SITEVERIFY_URL"`

	// RedisAddr, when set, backs the credit ledger with Redis instead of
	// process memory. ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR"`

	// LedgerKeyPrefix prefixes all Redis ledger keys. ENV: LEDGER_KEY_PREFIX
	LedgerKeyPrefix string `env:"LEDGER_KEY_PREFIX,default=llm:ledger:"`

	// BackendURL is the OpenAI-compatible chat completions endpoint.
	// ENV: BACKEND_URL
	BackendURL string `env:"BACKEND_URL,default=http://localhost:11434/v1/chat/completions"`

	// BackendAPIKey authenticates to the model backend. ENV: BACKEND_API_KEY
	BackendAPIKey string `env:"BACKEND_API_KEY"`

	// BackendModel is the model name to request. ENV: BACKEND_MODEL
	BackendModel string `env:"BACKEND_MODEL,default=llama3.1"`
}

// LoadConfig populates a Config from the environment and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, err
	}
	if cfg.TokenSecret == "" {
		return nil, errors.New("TOKEN_SECRET must be set")
	}
	return &cfg, nil
}

// Package config loads the facilitator's runtime configuration from the
// environment. Every knob has a documented default so a bare `facilitatord`
// starts in development mode against local services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ChainConfig is one chain backend: the RPC endpoint plus whatever
// credential that chain family needs.
type ChainConfig struct {
	// RPCURL is the node endpoint. Empty disables the chain.
	RPCURL string

	// APIKey authenticates to hosted node providers (TronGrid, toncenter).
	APIKey string

	// PrivateKey is the facilitator's signer key, hex-encoded. EVM only.
	PrivateKey string

	// FeePayer is the managed fee payer address. Solana only.
	FeePayer string

	// Router is the upto-scheme router contract address. EVM only.
	Router string
}

// Config is the full facilitator configuration.
type Config struct {
	Port        string
	Environment string

	RedisURL          string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	APIKeyRequired bool
	// APIKeys maps key -> client name, parsed from "key:name,key:name".
	APIKeys map[string]string

	VerifyTimeout time.Duration
	SettleTimeout time.Duration

	EVM    ChainConfig
	Tron   ChainConfig
	Ton    ChainConfig
	Solana ChainConfig

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads the environment.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379"),
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		APIKeyRequired: getEnvBool("API_KEY_REQUIRED", false),
		APIKeys:        parseAPIKeys(getEnv("API_KEYS", "")),

		VerifyTimeout: getEnvDuration("VERIFY_TIMEOUT", 5*time.Second),
		SettleTimeout: getEnvDuration("SETTLE_TIMEOUT", 60*time.Second),

		EVM: ChainConfig{
			RPCURL:     getEnv("EVM_RPC", ""),
			PrivateKey: getEnv("EVM_PRIVATE_KEY", ""),
			Router:     getEnv("EVM_ROUTER", ""),
		},
		Tron: ChainConfig{
			RPCURL: getEnv("TRON_RPC", ""),
			APIKey: getEnv("TRON_API_KEY", ""),
		},
		Ton: ChainConfig{
			RPCURL: getEnv("TON_RPC", ""),
			APIKey: getEnv("TON_API_KEY", ""),
		},
		Solana: ChainConfig{
			RPCURL:   getEnv("SOLANA_RPC", ""),
			FeePayer: getEnv("SOLANA_FEE_PAYER", ""),
		},

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "t402-payments"),
	}
}

// Validate rejects configurations that cannot serve a single chain.
func (c *Config) Validate() error {
	if c.EVM.RPCURL == "" && c.Tron.RPCURL == "" && c.Ton.RPCURL == "" && c.Solana.RPCURL == "" {
		return fmt.Errorf("config: no chain RPC endpoint configured")
	}
	if c.APIKeyRequired && len(c.APIKeys) == 0 {
		return fmt.Errorf("config: API_KEY_REQUIRED is set but API_KEYS is empty")
	}
	return nil
}

func (c *Config) IsDevelopment() bool { return c.Environment == "development" }
func (c *Config) IsProduction() bool  { return c.Environment == "production" }

// parseAPIKeys parses "key:name,key2:name2". A bare key gets an empty name.
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range splitList(raw) {
		key, name, _ := strings.Cut(pair, ":")
		if key != "" {
			keys[key] = name
		}
	}
	return keys
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

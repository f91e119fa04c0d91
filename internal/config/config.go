// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSOrigins        []string

	// Store settings
	StoreDriver    string
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	SeedDemo       bool
	InstanceID     string

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings. An empty secret disables token auth in favour of the
	// X-Tenant-ID header.
	JWTSecret string

	// LLM settings
	AnthropicAPIKey   string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	StreamMaxDuration time.Duration

	// Knowledge settings
	EmbeddingModel    string
	EmbeddingCacheTTL time.Duration
	ChunkSize         int
	ChunkOverlap      int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint   string
	TracingEnabled    bool
	TracingSampleRate float64
}

// Load reads configuration from environment variables.
func Load() *Config {
	hostname, _ := os.Hostname()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		CORSOrigins:        getListEnv("CORS_ORIGINS"),

		// Store
		StoreDriver:    getEnv("STORE_DRIVER", StoreMemory),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBMaxOpenConns: getIntEnv("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: getIntEnv("DB_MAX_IDLE_CONNS", 5),
		SeedDemo:       getBoolEnv("SEED_DEMO", true),
		InstanceID:     getEnv("INSTANCE_ID", hostname),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// LLM
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		StreamMaxDuration: getDurationEnv("STREAM_MAX_DURATION", 30*time.Second),

		// Knowledge
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingCacheTTL: getDurationEnv("EMBEDDING_CACHE_TTL", 10*time.Minute),
		ChunkSize:         getIntEnv("CHUNK_SIZE", 1000),
		ChunkOverlap:      getIntEnv("CHUNK_OVERLAP", 200),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint:   getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:    getBoolEnv("TRACING_ENABLED", false),
		TracingSampleRate: getFloatEnv("TRACING_SAMPLE_RATE", 1.0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

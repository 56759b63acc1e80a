package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// AI provider
	AIProvider            string
	AIAPIKey              string
	AIModel               string
	AIBaseURL             string
	AIMaxTokens           int
	AIRequestsPerMin      int
	AIBreakerMaxFailures  int
	AIBreakerTimeout      time.Duration
	AutoExecuteConfidence float64

	// Chat rate limit
	ChatRateLimit  int
	ChatRateWindow time.Duration

	// Background work
	OverdueSweepSchedule string
	WorkerCount          int

	// SMTP
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                  getEnvOrDefault("PORT", "8080"),
		Env:                   getEnvOrDefault("ENV", "development"),
		DatabaseURL:           mustGetEnv("DATABASE_URL"),
		RedisURL:              mustGetEnv("REDIS_URL"),
		JWTSecret:             mustGetEnv("JWT_SECRET"),
		AIProvider:            getEnvOrDefault("AI_PROVIDER", ""),
		AIAPIKey:              getEnvOrDefault("AI_API_KEY", ""),
		AIModel:               getEnvOrDefault("AI_MODEL", ""),
		AIBaseURL:             getEnvOrDefault("AI_BASE_URL", ""),
		AIMaxTokens:           getEnvAsPositiveIntOrDefault("AI_MAX_TOKENS", 2000),
		AIRequestsPerMin:      getEnvAsIntOrDefault("AI_REQUESTS_PER_MINUTE", 60),
		AIBreakerMaxFailures:  getEnvAsIntOrDefault("AI_BREAKER_MAX_FAILURES", 5),
		AIBreakerTimeout:      getEnvAsDurationOrDefault("AI_BREAKER_TIMEOUT", 30*time.Second),
		AutoExecuteConfidence: getEnvAsFloatOrDefault("AI_AUTO_EXECUTE_CONFIDENCE", 0.8),
		ChatRateLimit:         getEnvAsPositiveIntOrDefault("CHAT_RATE_LIMIT", 20),
		ChatRateWindow:        getEnvAsDurationOrDefault("CHAT_RATE_WINDOW", time.Minute),
		OverdueSweepSchedule:  getEnvOrDefault("OVERDUE_SWEEP_SCHEDULE", "@every 1h"),
		WorkerCount:           getEnvAsPositiveIntOrDefault("WORKER_COUNT", 3),
		SMTPHost:              getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:              getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:              getEnvOrDefault("SMTP_USER", ""),
		SMTPPass:              getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom:              getEnvOrDefault("SMTP_FROM", "billing@invoicing.local"),
		FrontendURL:           getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsPositiveIntOrDefault is getEnvAsIntOrDefault for settings that
// must be at least 1.
func getEnvAsPositiveIntOrDefault(key string, defaultVal int) int {
	if n := getEnvAsIntOrDefault(key, defaultVal); n > 0 {
		return n
	}
	return defaultVal
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

// getEnvAsDurationOrDefault accepts Go duration strings ("90s", "1m").
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

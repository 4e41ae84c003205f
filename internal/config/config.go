package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Chain (escrow contract)
	ChainRPCURL         string
	ContractAddress     string
	OperatorAddress     string
	ChainTimeoutSeconds int
	ReceiptPollSeconds  int
	ReceiptMaxPolls     int

	// Lichess
	LichessBaseURL        string
	LichessToken          string
	ClockLimitSeconds     int
	LichessTimeoutSeconds int

	// Result monitoring
	ResultDelivery     string // "stream" or "poll"
	ResultPollSeconds  int
	StreamMaxAttempts  int
	StreamRetryDelayMs int

	// Security
	JWTSecret      string
	AdminTokenHash string
	SessionHours   int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/cheth?sslmode=disable"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		// Chain
		ChainRPCURL:         getEnv("CHAIN_RPC_URL", "http://localhost:8545"),
		ContractAddress:     getEnv("CONTRACT_ADDRESS", ""),
		OperatorAddress:     getEnv("OPERATOR_ADDRESS", ""),
		ChainTimeoutSeconds: getEnvInt("CHAIN_TIMEOUT_SECONDS", 30),
		ReceiptPollSeconds:  getEnvInt("RECEIPT_POLL_SECONDS", 2),
		ReceiptMaxPolls:     getEnvInt("RECEIPT_MAX_POLLS", 30),

		// Lichess
		LichessBaseURL:        getEnv("LICHESS_BASE_URL", "https://lichess.org"),
		LichessToken:          getEnv("LICHESS_TOKEN", ""),
		ClockLimitSeconds:     getEnvInt("CLOCK_LIMIT_SECONDS", 60),
		LichessTimeoutSeconds: getEnvInt("LICHESS_TIMEOUT_SECONDS", 30),

		// Result monitoring
		ResultDelivery:     getEnv("RESULT_DELIVERY", "stream"),
		ResultPollSeconds:  getEnvInt("RESULT_POLL_SECONDS", 10),
		StreamMaxAttempts:  getEnvInt("STREAM_MAX_ATTEMPTS", 5),
		StreamRetryDelayMs: getEnvInt("STREAM_RETRY_DELAY_MS", 30000),

		// Security
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),
		SessionHours:   getEnvInt("SESSION_HOURS", 24),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

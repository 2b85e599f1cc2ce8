package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// Kafka configuration (lifecycle event publishing)
	KafkaBrokers string
	KafkaTopic   string

	// Brevo email configuration (creator notifications)
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string

	// Ledger collaborator configuration
	LedgerURL    string
	LedgerSecret string

	// Trust scoring policy
	PolicyVersion        string
	AutoApproveThreshold int
	AutoRejectThreshold  int
	WeightDevice         float64
	WeightNetwork        float64
	WeightPayment        float64
	WeightBehavioral     float64
	WeightPlatform       float64

	// Refund policy
	RefundWindowMinutes   int
	RefundAbuseMaxCount   int
	RefundAbuseWindowDays int

	// Processor call budget
	ProcessorTimeoutSeconds int
	ProcessorMaxRetries     int
	ProcessorBackoffMillis  int

	// Settlement reconciliation
	SettlementToleranceCents int
	SettlementRetryMinutes   int
	DisputeSweepMinutes      int
	RefundRetryMinutes       int

	// Inbound event workers
	WorkerCount int
	ServiceName string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:        getEnv("PORT", "8080"),
		Mode:        getEnv("GIN_MODE", "debug"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "payout_transaction_events"),

		BrevoAPIKey:    getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail: getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:  getEnv("BREVO_FROM_NAME", "Payout Service"),

		LedgerURL:    getEnv("LEDGER_URL", ""),
		LedgerSecret: getEnv("LEDGER_SECRET", ""),

		PolicyVersion:        getEnv("TRUST_POLICY_VERSION", "2024-06"),
		AutoApproveThreshold: getEnvInt("TRUST_AUTO_APPROVE_THRESHOLD", 80),
		AutoRejectThreshold:  getEnvInt("TRUST_AUTO_REJECT_THRESHOLD", 30),
		WeightDevice:         getEnvFloat("TRUST_WEIGHT_DEVICE", 0.20),
		WeightNetwork:        getEnvFloat("TRUST_WEIGHT_NETWORK", 0.20),
		WeightPayment:        getEnvFloat("TRUST_WEIGHT_PAYMENT", 0.25),
		WeightBehavioral:     getEnvFloat("TRUST_WEIGHT_BEHAVIORAL", 0.25),
		WeightPlatform:       getEnvFloat("TRUST_WEIGHT_PLATFORM", 0.10),

		RefundWindowMinutes:   getEnvInt("REFUND_AUTO_APPROVE_WINDOW_MINUTES", 4320), // 3 days
		RefundAbuseMaxCount:   getEnvInt("REFUND_ABUSE_MAX_COUNT", 3),
		RefundAbuseWindowDays: getEnvInt("REFUND_ABUSE_WINDOW_DAYS", 30),

		ProcessorTimeoutSeconds: getEnvInt("PROCESSOR_TIMEOUT_SECONDS", 10),
		ProcessorMaxRetries:     getEnvInt("PROCESSOR_MAX_RETRIES", 2),
		ProcessorBackoffMillis:  getEnvInt("PROCESSOR_BACKOFF_MILLIS", 200),

		SettlementToleranceCents: getEnvInt("SETTLEMENT_TOLERANCE_CENTS", 1),
		SettlementRetryMinutes:   getEnvInt("SETTLEMENT_RETRY_MINUTES", 15),
		DisputeSweepMinutes:      getEnvInt("DISPUTE_SWEEP_MINUTES", 10),
		RefundRetryMinutes:       getEnvInt("REFUND_RETRY_MINUTES", 15),

		WorkerCount: getEnvInt("EVENT_WORKER_COUNT", 8),
		ServiceName: getEnv("SERVICE_NAME", "Payout Core"),
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

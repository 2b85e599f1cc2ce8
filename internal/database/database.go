package database

import (
	"context"
	"fmt"
	"time"

	"payout-core/internal/config"
	"payout-core/internal/models"
	"payout-core/pkg/logging"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	DB          *gorm.DB
	RedisClient *redis.Client
)

// InitDatabase initializes database connection
func InitDatabase() error {
	// Initialize PostgreSQL
	if err := initPostgres(); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	// Initialize Redis
	if err := initRedis(); err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	// Auto migrate tables
	if err := autoMigrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Insert default data
	if err := insertDefaultData(); err != nil {
		return fmt.Errorf("failed to insert default data: %w", err)
	}

	return nil
}

// initPostgres initializes PostgreSQL connection
func initPostgres() error {
	var err error
	var dsn string

	// Get database URL from environment
	if dsn = config.AppConfig.DatabaseURL; dsn == "" {
		// Fallback to SQLite for development
		logging.Infof("Database URL not set, using SQLite for development")
		DB, err = gorm.Open(sqlite.Open("payout-core.db"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
			NamingStrategy: schema.NamingStrategy{
				SingularTable: true,
			},
		})
	} else {
		// Use PostgreSQL for production
		DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
			NamingStrategy: schema.NamingStrategy{
				SingularTable: true,
			},
		})
	}

	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	logging.Infof("Database connected successfully")
	return nil
}

// initRedis initializes Redis connection
func initRedis() error {
	redisURL := config.AppConfig.RedisURL
	if redisURL == "" {
		return fmt.Errorf("REDIS_URL is not set")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	RedisClient = redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err = RedisClient.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Infof("Redis connected successfully")
	return nil
}

// autoMigrate performs database migration
func autoMigrate() error {
	return DB.AutoMigrate(
		&models.Platform{},
		&models.PaymentProcessor{},
		&models.MerchantAccount{},
		&models.Transaction{},
		&models.TransactionEvent{},
		&models.TrustScoreRecord{},
		&models.RoutingRule{},
		&models.Refund{},
		&models.Dispute{},
		&models.Settlement{},
	)
}

// insertDefaultData seeds the default platform, the sandbox processor and
// the catch-all routing rule. The catch-all must exist before the first
// charge is routed; the routing engine refuses to evaluate without one.
func insertDefaultData() error {
	defaultPlatform := models.Platform{
		PlatformID:  "default",
		Name:        "Default Platform",
		APIKey:      "default-api-key",
		IsActive:    true,
		Description: "Default platform for testing and development",
	}
	if err := DB.Where("platform_id = ?", "default").
		FirstOrCreate(&defaultPlatform).Error; err != nil {
		return fmt.Errorf("failed to create default platform: %w", err)
	}

	sandbox := models.PaymentProcessor{
		Code:                "sandbox",
		Name:                "Sandbox Processor",
		SupportedCurrencies: []byte(`["USD","EUR","GBP"]`),
		MaxAmount:           decimal.NewFromInt(10000),
		DisputeFee:          decimal.NewFromInt(15),
		RiskProfile:         "standard",
		IsActive:            true,
		WebhookSecret:       "sandbox-webhook-secret",
	}
	if err := DB.Where("code = ?", "sandbox").
		FirstOrCreate(&sandbox).Error; err != nil {
		return fmt.Errorf("failed to create sandbox processor: %w", err)
	}

	sandboxAccount := models.MerchantAccount{
		Code:          "sandbox-usd",
		ProcessorCode: "sandbox",
		Descriptor:    "PAYOUT*SANDBOX",
		Currency:      "USD",
		Region:        "US",
		IsActive:      true,
	}
	if err := DB.Where("code = ?", "sandbox-usd").
		FirstOrCreate(&sandboxAccount).Error; err != nil {
		return fmt.Errorf("failed to create sandbox merchant account: %w", err)
	}

	now := time.Now()
	catchAll := models.RoutingRule{
		RuleID:     "rule_catch_all",
		Name:       "Catch-all fallback",
		Priority:   models.CatchAllPriority,
		Predicate:  []byte(`{"all":[]}`),
		Targets:    []byte(`[{"processor_code":"sandbox","merchant_account_code":"sandbox-usd"}]`),
		Status:     models.RuleApproved,
		ApprovedBy: "system",
		ApprovedAt: &now,
	}
	if err := DB.Where("rule_id = ?", "rule_catch_all").
		FirstOrCreate(&catchAll).Error; err != nil {
		return fmt.Errorf("failed to create catch-all routing rule: %w", err)
	}

	logging.Infof("Default data inserted successfully")
	return nil
}

// GetDB returns database instance
func GetDB() *gorm.DB {
	return DB
}

// GetRedis returns Redis client
func GetRedis() *redis.Client {
	return RedisClient
}

// CloseDatabase closes database connections
func CloseDatabase() error {
	if sqlDB, err := DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logging.Errorf("Failed to close database: %v", err)
		}
	}

	if RedisClient != nil {
		if err := RedisClient.Close(); err != nil {
			logging.Errorf("Failed to close Redis: %v", err)
		}
	}

	return nil
}

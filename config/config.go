package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port              string
	Environment       string
	DBDriver          string // sqlite or postgres
	DBPath            string // sqlite file path
	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	JWTSecret         string
	AdminPassword     string
	SiliconFlowAPIKey string
	SiliconFlowAPIURL string
	MarketDataBaseURL string
	MarketDataToken   string
	MongoURI          string
	KlineStartDate    string // earliest trading day kept per stock
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:              getEnv("PORT", "8080"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		DBDriver:          getEnv("DB_DRIVER", "sqlite"),
		DBPath:            getEnv("DB_PATH", "data/events.db"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "policy_kline"),
		JWTSecret:         getEnv("JWT_SECRET", "change-this-secret"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		SiliconFlowAPIKey: getEnv("SILICONFLOW_API_KEY", ""),
		SiliconFlowAPIURL: getEnv("SILICONFLOW_API_URL", "https://api.siliconflow.cn/v1/chat/completions"),
		MarketDataBaseURL: getEnv("MARKET_DATA_BASE_URL", "https://api.tushare.pro"),
		MarketDataToken:   getEnv("MARKET_DATA_TOKEN", ""),
		MongoURI:          getEnv("MONGODB_URI", ""),
		KlineStartDate:    getEnv("KLINE_START_DATE", "2019-08-18"),
	}

	if config.SiliconFlowAPIKey == "" {
		log.Println("Warning: SILICONFLOW_API_KEY not set, AI policy analysis will be unavailable")
	}
	if config.MarketDataToken == "" {
		log.Println("Warning: MARKET_DATA_TOKEN not set, candle data will be served from the database only")
	}

	AppConfig = config
	return config, nil
}

// InitDB initializes the database connection using the configured driver
func InitDB() (*gorm.DB, error) {
	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Warn
	}
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}

	var db *gorm.DB
	var err error

	switch AppConfig.DBDriver {
	case "postgres":
		log.Printf("Connecting to Postgres: host=%s port=%s dbname=%s",
			maskHost(AppConfig.DBHost), AppConfig.DBPort, AppConfig.DBName)

		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=require TimeZone=Asia/Shanghai",
			AppConfig.DBHost,
			AppConfig.DBUser,
			AppConfig.DBPassword,
			AppConfig.DBName,
			AppConfig.DBPort,
		)
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)

	case "sqlite":
		if dir := filepath.Dir(AppConfig.DBPath); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", mkErr)
			}
		}
		log.Printf("Opening SQLite database at %s", AppConfig.DBPath)
		db, err = gorm.Open(sqlite.Open(AppConfig.DBPath), gormConfig)

	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER: %s", AppConfig.DBDriver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("Database connection verified successfully")
	DB = db
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

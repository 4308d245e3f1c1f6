package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port          string
	BindAddress   string
	DBDriver      string
	SQLitePath    string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	JWTSecret     string
	BcryptCost    int
	FrontendDir   string
	VoteRateLimit float64 // votes per second per connection
	VoteBurst     int
	LogLevel      string
	LogFormat     string
}

// Load reads configuration from the environment, after applying an
// optional .env file in the working directory.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Could not load .env file")
	}

	return &Config{
		Port:          getEnv("PORT", "3001"),
		BindAddress:   getEnv("BIND_ADDRESS", ""),
		DBDriver:      getEnv("DB_DRIVER", DriverSQLite),
		SQLitePath:    getEnv("SQLITE_DB_PATH", "polls.db"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "livepoll"),
		DBPassword:    getEnv("DB_PASSWORD", "livepoll"),
		DBName:        getEnv("DB_NAME", "livepoll"),
		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		JWTSecret:     getEnv("JWT_SECRET", "change-me-in-production"),
		BcryptCost:    getEnvInt("BCRYPT_COST", bcrypt.DefaultCost),
		FrontendDir:   getEnv("FRONTEND_DIR", "frontend/dist"),
		VoteRateLimit: getEnvFloat("VOTE_RATE_LIMIT", 5),
		VoteBurst:     getEnvInt("VOTE_BURST", 10),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
	}
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.BindAddress + ":" + c.Port
}

// RedisEnabled reports whether a Redis relay should be used for broadcasts.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": value}).Warn("Invalid integer in environment, using default")
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": value}).Warn("Invalid number in environment, using default")
		return defaultValue
	}
	return f
}

// Dialector picks the gorm driver for the configured database.
func Dialector(cfg *Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case DriverPostgres:
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(cfg.SQLitePath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), nil
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: GormLogger()})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if cfg.DBDriver == DriverSQLite {
		// SQLite allows a single writer; one connection keeps writes ordered.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "failed to access sql.DB")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

// GormLogger routes gorm's slow-query and error output through logrus.
func GormLogger() logger.Interface {
	return logger.New(log.StandardLogger(), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

func InitRedis(cfg *Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	return client
}

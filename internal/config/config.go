// Package config 配置
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config 服务配置
type Config struct {
	ServiceName string
	HTTPPort    int

	// PostgreSQL
	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Redis
	RedisAddr     string
	RedisPassword string

	// 行情
	TickChannel             string
	PriceCapacity           int
	PrivateUserEventChannel string

	// 结算调度
	SettleQueueKey     string
	SettlePollInterval time.Duration
	ReconcileSpec      string

	// 风控
	MaxLeverage      int
	WinSlippageRate  decimal.Decimal
	LoseSlippageRate decimal.Decimal

	// 二元期权赔付率（按周期秒数）
	PayoutRates map[int]decimal.Decimal

	WorkerID int64
}

// Load 加载配置
func Load() *Config {
	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "trading-engine"),
		HTTPPort:    getEnvInt("HTTP_PORT", 8085),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnvInt("DB_PORT", 5436),
		DBUser:            getEnv("DB_USER", "trading"),
		DBPassword:        getEnv("DB_PASSWORD", "trading123"),
		DBName:            getEnv("DB_NAME", "trading"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6380"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		TickChannel:             getEnv("TICK_CHANNEL", "market:ticks"),
		PriceCapacity:           getEnvInt("PRICE_CAPACITY", 1000),
		PrivateUserEventChannel: getEnv("PRIVATE_USER_EVENT_CHANNEL", "private:user:{userId}:events"),

		SettleQueueKey:     getEnv("SETTLE_QUEUE_KEY", "trading:settle:queue"),
		SettlePollInterval: getEnvDuration("SETTLE_POLL_INTERVAL", 500*time.Millisecond),
		ReconcileSpec:      getEnv("RECONCILE_SPEC", "@every 1m"),

		MaxLeverage:      getEnvInt("MAX_LEVERAGE", 200),
		WinSlippageRate:  getEnvDecimal("WIN_SLIPPAGE_RATE", decimal.NewFromInt(1)),
		LoseSlippageRate: getEnvDecimal("LOSE_SLIPPAGE_RATE", decimal.NewFromInt(1)),

		PayoutRates: map[int]decimal.Decimal{
			30:  getEnvDecimal("PAYOUT_RATE_30S", decimal.RequireFromString("0.85")),
			60:  getEnvDecimal("PAYOUT_RATE_60S", decimal.RequireFromString("0.80")),
			120: getEnvDecimal("PAYOUT_RATE_120S", decimal.RequireFromString("0.75")),
			300: getEnvDecimal("PAYOUT_RATE_300S", decimal.RequireFromString("0.70")),
		},

		WorkerID: int64(getEnvInt("WORKER_ID", 1)),
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTPPort)
	}
	if c.PriceCapacity <= 0 {
		return fmt.Errorf("invalid price capacity: %d", c.PriceCapacity)
	}
	if c.SettlePollInterval <= 0 {
		return fmt.Errorf("invalid settle poll interval: %s", c.SettlePollInterval)
	}
	if c.MaxLeverage < 1 {
		return fmt.Errorf("invalid max leverage: %d", c.MaxLeverage)
	}
	for seconds, rate := range c.PayoutRates {
		if rate.Sign() <= 0 {
			return fmt.Errorf("invalid payout rate for %ds: %s", seconds, rate)
		}
	}
	return nil
}

// DSN 返回数据库连接字符串
func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" port=" + strconv.Itoa(c.DBPort) +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" sslmode=disable"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if v, err := decimal.NewFromString(value); err == nil && v.Sign() > 0 {
			return v
		}
	}
	return defaultValue
}

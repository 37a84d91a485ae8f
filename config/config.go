/*
config.go - Process configuration

PURPOSE:
  Collects server settings from, in increasing priority:
  1. built-in defaults
  2. a .env file in the working directory (optional)
  3. environment variables
  4. command-line flags

ENVIRONMENT:
  PORT                  HTTP port (8080)
  DB_DRIVER             sqlite3 | postgres (sqlite3)
  DB_DSN                database path or URL (loans.db)
  LOG_LEVEL             logrus level (info)
  POLICY_FILE           provisioning policy, .json or .yaml (built-in standard)
  BATCH_CRON            cron spec for the daily pass ("5 0 * * *"), empty disables
  BATCH_WORKERS         concurrent loans in the daily pass (8)
  CURRENCY              ISO code (USD)
  CURRENCY_MINOR_UNITS  rounding places (2)
  DAY_COUNT_BASIS       360 | 365 | 366, overrides the policy file when set
  REDIS_ADDR            enables the Redis per-loan lock
  SMTP_ADDR             enables email alerts (host:port)
  SMTP_USERNAME, SMTP_PASSWORD
  ALERT_FROM, ALERT_TO  sender and comma-separated recipients

SEE ALSO:
  - cmd/server/main.go: consumer
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/lending"
)

type Config struct {
	Port     int    `validate:"min=1,max=65535"`
	DBDriver string `validate:"oneof=sqlite3 postgres"`
	DBDSN    string `validate:"required"`
	LogLevel string `validate:"required"`

	PolicyFile   string
	BatchCron    string
	BatchWorkers int `validate:"min=1,max=256"`

	Currency           string `validate:"len=3"`
	CurrencyMinorUnits int    `validate:"min=0,max=8"`
	DayCountBasis      int    `validate:"omitempty,oneof=360 365 366"`

	RedisAddr string

	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
	AlertFrom    string `validate:"required_with=SMTPAddr"`
	AlertTo      []string
}

// Load reads .env (if present), the environment and then args.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}
	return parse(args)
}

func parse(args []string) (Config, error) {
	cfg := Config{
		Port:               getEnvInt("PORT", 8080),
		DBDriver:           getEnv("DB_DRIVER", "sqlite3"),
		DBDSN:              getEnv("DB_DSN", "loans.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		PolicyFile:         getEnv("POLICY_FILE", ""),
		BatchCron:          getEnv("BATCH_CRON", "5 0 * * *"),
		BatchWorkers:       getEnvInt("BATCH_WORKERS", 8),
		Currency:           getEnv("CURRENCY", "USD"),
		CurrencyMinorUnits: getEnvInt("CURRENCY_MINOR_UNITS", 2),
		DayCountBasis:      getEnvInt("DAY_COUNT_BASIS", 0),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		SMTPAddr:           getEnv("SMTP_ADDR", ""),
		SMTPUsername:       getEnv("SMTP_USERNAME", ""),
		SMTPPassword:       getEnv("SMTP_PASSWORD", ""),
		AlertFrom:          getEnv("ALERT_FROM", ""),
		AlertTo:            splitList(getEnv("ALERT_TO", "")),
	}

	fsFlags := flag.NewFlagSet("server", flag.ContinueOnError)
	fsFlags.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fsFlags.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "database driver: sqlite3 or postgres")
	fsFlags.StringVar(&cfg.DBDSN, "db", cfg.DBDSN, "database path or DSN (\":memory:\" for in-memory sqlite)")
	fsFlags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fsFlags.StringVar(&cfg.PolicyFile, "policy", cfg.PolicyFile, "provisioning policy file (.json or .yaml)")
	fsFlags.StringVar(&cfg.BatchCron, "batch-cron", cfg.BatchCron, "cron spec for the daily pass, empty disables")
	fsFlags.IntVar(&cfg.BatchWorkers, "workers", cfg.BatchWorkers, "concurrent loans in the daily pass")
	fsFlags.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "redis address for per-loan locks")
	if err := fsFlags.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Currency = strings.ToUpper(cfg.Currency)
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// CurrencyConfig is the rounding currency.
func (c Config) CurrencyConfig() lending.Currency {
	return lending.Currency{Code: c.Currency, MinorUnits: int32(c.CurrencyMinorUnits)}
}

// Level is the parsed log level; Load has already validated it.
func (c Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// =============================================================================
// HELPERS
// =============================================================================

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("[Config] %s=%q is not a number, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

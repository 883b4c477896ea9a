package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// EarningScheme selects which proximity earning mechanism runs. Exactly one runs per deployment.
type EarningScheme string

const (
	SchemeEncounter EarningScheme = "encounter"
	SchemeAmbient   EarningScheme = "ambient"
)

type EncounterConfig struct {
	RadiusMeters float64
	Dwell        time.Duration
	Cooldown     time.Duration
	Reward       decimal.Decimal
	Retention    time.Duration
	MaxGap       time.Duration
}

type AmbientConfig struct {
	RadiusMeters float64
	HourlyRate   decimal.Decimal
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

// Enabled reports whether every R2 credential is present.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != "" && c.Bucket != ""
}

type Config struct {
	DatabaseURL       string
	HTTPAddr          string
	LogLevel          string
	Scheme            EarningScheme
	TickInterval      time.Duration
	ActiveWindow      time.Duration
	LedgerLockTimeout time.Duration
	TickWorkers       int
	AuditInterval     time.Duration
	Encounter         EncounterConfig
	Ambient           AmbientConfig
	Redis             RedisConfig
	Kafka             KafkaConfig
	R2                R2Config
	WalletAPIKey      string
	CronSecret        string
}

// Load reads the configuration from the environment, after loading .env when present.
// DATABASE_URL is only required when memory is false.
func Load(memory bool) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		HTTPAddr:    getEnvOrDefault("HTTP_ADDR", ":5200"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		Scheme:      EarningScheme(strings.ToLower(getEnvOrDefault("EARNING_SCHEME", string(SchemeEncounter)))),
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnvOrDefault("KAFKA_TOPIC", "grubs.transactions"),
		},
		R2: R2Config{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
		},
		WalletAPIKey: os.Getenv("WALLET_API_KEY"),
		CronSecret:   os.Getenv("CRON_SECRET"),
	}

	var err error
	if cfg.TickInterval, err = getEnvAsDuration("TICK_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ActiveWindow, err = getEnvAsDuration("ACTIVE_WINDOW", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LedgerLockTimeout, err = getEnvAsDuration("LEDGER_LOCK_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.TickWorkers, err = getEnvAsInt("TICK_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.AuditInterval, err = getEnvAsDuration("AUDIT_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.Redis.DB, err = getEnvAsInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	if cfg.Encounter.RadiusMeters, err = getEnvAsFloat("ENCOUNTER_RADIUS_METERS", 200); err != nil {
		return nil, err
	}
	if cfg.Encounter.Dwell, err = getEnvAsDuration("ENCOUNTER_DWELL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Encounter.Cooldown, err = getEnvAsDuration("ENCOUNTER_COOLDOWN", 3*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Encounter.Reward, err = getEnvAsDecimal("ENCOUNTER_REWARD", decimal.NewFromInt(2)); err != nil {
		return nil, err
	}
	if cfg.Encounter.Retention, err = getEnvAsDuration("ENCOUNTER_RETENTION", 720*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Encounter.MaxGap, err = getEnvAsDuration("ENCOUNTER_MAX_GAP", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Ambient.RadiusMeters, err = getEnvAsFloat("AMBIENT_RADIUS_METERS", 300); err != nil {
		return nil, err
	}
	if cfg.Ambient.HourlyRate, err = getEnvAsDecimal("AMBIENT_HOURLY_RATE", decimal.NewFromInt(2)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(memory); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate(memory bool) error {
	if !memory && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if c.Scheme != SchemeEncounter && c.Scheme != SchemeAmbient {
		return fmt.Errorf("EARNING_SCHEME must be %q or %q, got %q", SchemeEncounter, SchemeAmbient, c.Scheme)
	}
	if c.WalletAPIKey == "" {
		return fmt.Errorf("WALLET_API_KEY environment variable is required")
	}
	if c.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET environment variable is required")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}
	if c.TickWorkers < 1 {
		return fmt.Errorf("TICK_WORKERS must be at least 1")
	}
	if !c.Encounter.Reward.IsPositive() || !c.Ambient.HourlyRate.IsPositive() {
		return fmt.Errorf("ENCOUNTER_REWARD and AMBIENT_HOURLY_RATE must be positive")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	OTLPEndpoint   string
	OTLPProtocol   string
	TracingEnabled bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis RedisConfig
	Lock  LockConfig
	Alert AlertConfig

	Scheduler SchedulerConfig

	Avatax AvataxConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type LockConfig struct {
	TTL time.Duration
}

// SchedulerConfig drives the background commit of completed orders. Only
// orders completed within Lookback are considered.
type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	Lookback    time.Duration
}

type AlertConfig struct {
	SlackWebhookURL string
	SlackChannel    string
}

// AvataxConfig carries tax provider credentials and compute behavior.
// A zero MaxRequestsPerSecond disables outbound throttling. TaxRateName
// names the rate that sales invoice tax adjustments are sourced from.
type AvataxConfig struct {
	Endpoint             string        `mapstructure:"endpoint"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password"`
	CompanyCode          string        `mapstructure:"company_code"`
	Timeout              time.Duration `mapstructure:"timeout"`
	SuppressAPIErrors    bool          `mapstructure:"suppress_api_errors"`
	LineItemCacheTTL     time.Duration `mapstructure:"line_item_cache_ttl"`
	MaxRequestsPerSecond float64       `mapstructure:"max_requests_per_second"`
	Burst                int           `mapstructure:"burst"`
	TaxRateName          string        `mapstructure:"tax_rate_name"`
}

const (
	DefaultAvataxTimeout    = 10 * time.Second
	DefaultLineItemCacheTTL = time.Minute
	DefaultLockTTL          = 30 * time.Second
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:        getenv("APP_SERVICE", "salestax"),
		AppVersion:     getenv("APP_VERSION", "0.1.0"),
		Environment:    getenv("ENVIRONMENT", "development"),
		HTTPAddr:       getenv("APP_HTTP_ADDR", ":8080"),
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		OTLPEndpoint:   getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol:   strings.ToLower(getenv("OTLP_PROTOCOL", "grpc")),
		TracingEnabled: getenvBool("TRACING_ENABLED", false),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "salestax"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Lock: LockConfig{
			TTL: getenvDuration("LOCK_TTL", DefaultLockTTL),
		},
		Alert: AlertConfig{
			SlackWebhookURL: strings.TrimSpace(getenv("ALERT_SLACK_WEBHOOK_URL", "")),
			SlackChannel:    getenv("ALERT_SLACK_CHANNEL", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", false),
			RunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			BatchSize:   getenvInt("SCHEDULER_BATCH_SIZE", 50),
			Lookback:    getenvDuration("SCHEDULER_LOOKBACK", 72*time.Hour),
		},

		Avatax: AvataxConfig{
			Endpoint:          strings.TrimRight(getenv("AVATAX_ENDPOINT", "https://development.avalara.net"), "/"),
			Username:          strings.TrimSpace(getenv("AVATAX_USERNAME", "")),
			Password:          getenv("AVATAX_PASSWORD", ""),
			CompanyCode:       strings.TrimSpace(getenv("AVATAX_COMPANY_CODE", "")),
			Timeout:           getenvDuration("AVATAX_TIMEOUT", DefaultAvataxTimeout),
			SuppressAPIErrors: getenvBool("AVATAX_SUPPRESS_API_ERRORS", false),
			LineItemCacheTTL:  getenvDuration("AVATAX_LINE_ITEM_CACHE_TTL", DefaultLineItemCacheTTL),

			MaxRequestsPerSecond: getenvFloat("AVATAX_MAX_RPS", 0),
			Burst:                getenvInt("AVATAX_BURST", 10),
			TaxRateName:          getenv("AVATAX_TAX_RATE_NAME", "Avatax"),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("5s") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/salestax/internal/config"
)

// Config is the logging, tracing and metrics view of the service config.
// Identity fields come from the app config; the rest are OTEL_*, LOG_* and
// DB_LOG_* environment settings.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	DBLogLevel      string
	DBSlowThreshold time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "salestax"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             lower(getenv("LOG_LEVEL", "info")),
		LogFormat:            lower(getenv("LOG_FORMAT", "json")),
		DBLogLevel:           lower(getenv("DB_LOG_LEVEL", "warn")),
		DBSlowThreshold:      getenvDuration("DB_LOG_SLOW_THRESHOLD", 200*time.Millisecond),
		OtelEnabled:          getenvBool("OTEL_ENABLED", cfg.TracingEnabled),
		OtelExporterEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: lower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OtelSamplingRatio:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

// Debug turns on debug output and error stacks outside production.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch lower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func lower(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(def)
}

func getenvBool(key string, def bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	parsed, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

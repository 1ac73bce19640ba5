package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/config"
	gormlogger "gorm.io/gorm/logger"
)

const (
	defaultServiceName   = "storefront"
	defaultSamplingRatio = 0.1
	defaultSlowQuery     = 200 * time.Millisecond
)

// Config holds logging, tracing and query-logging settings.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	// DBLogLevel and DBSlowQuery drive the gorm logger on the order and
	// ledger stores.
	DBLogLevel  gormlogger.LogLevel
	DBSlowQuery time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	protocol := lower(envOr("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	if traces := lower(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}

	slowQuery := defaultSlowQuery
	if ms, err := strconv.Atoi(strings.TrimSpace(os.Getenv("DB_SLOW_QUERY_MS"))); err == nil && ms >= 0 {
		slowQuery = time.Duration(ms) * time.Millisecond
	}

	ratio := defaultSamplingRatio
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv("OTEL_SAMPLING_RATIO")), 64); err == nil {
		ratio = parsed
	}

	enabled := true
	if raw := strings.TrimSpace(os.Getenv("OTEL_ENABLED")); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			enabled = parsed
		}
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          envOr("DEPLOYMENT_ENV", cfg.Environment),
		Version:              envOr("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:             lower(envOr("LOG_LEVEL", "info")),
		LogFormat:            lower(envOr("LOG_FORMAT", "json")),
		DBLogLevel:           parseDBLogLevel(os.Getenv("DB_LOG_LEVEL")),
		DBSlowQuery:          slowQuery,
		OtelEnabled:          enabled,
		OtelExporterEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug turns on gin debug mode and stack traces outside production.
func (c Config) Debug() bool {
	if lower(c.LogLevel) == "debug" {
		return true
	}
	switch lower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func parseDBLogLevel(raw string) gormlogger.LogLevel {
	switch lower(raw) {
	case "silent", "off":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func envOr(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(def)
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

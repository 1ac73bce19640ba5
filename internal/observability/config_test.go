package observability

import (
	"testing"
	"time"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"DEPLOYMENT_ENV", "LOG_LEVEL", "DB_LOG_LEVEL", "DB_SLOW_QUERY_MS", "OTEL_ENABLED", "OTEL_SAMPLING_RATIO", "OTEL_EXPORTER_OTLP_TRACES_PROTOCOL"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig(config.Config{Environment: "production"})
	assert.Equal(t, "storefront", cfg.ServiceName)
	assert.Equal(t, gormlogger.Warn, cfg.DBLogLevel)
	assert.Equal(t, 200*time.Millisecond, cfg.DBSlowQuery)
	assert.True(t, cfg.OtelEnabled)
	assert.InDelta(t, 0.1, cfg.OtelSamplingRatio, 1e-9)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DEPLOYMENT_ENV", "local")
	t.Setenv("DB_LOG_LEVEL", "silent")
	t.Setenv("DB_SLOW_QUERY_MS", "25")
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")

	cfg := LoadConfig(config.Config{AppName: "storefront-eu"})
	assert.Equal(t, "storefront-eu", cfg.ServiceName)
	assert.Equal(t, gormlogger.Silent, cfg.DBLogLevel)
	assert.Equal(t, 25*time.Millisecond, cfg.DBSlowQuery)
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.True(t, cfg.Debug())
}

package observability

import (
	"testing"

	"github.com/smallbiznis/abcmetrics/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDisablesOtelWithoutEndpoint(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:     "abcmetrics",
		Environment: "test",
		Telemetry:   config.TelemetryConfig{Enabled: "true"},
	})

	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, "abcmetrics", cfg.ServiceName)
	assert.True(t, cfg.Debug())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment: "production",
		Telemetry: config.TelemetryConfig{
			Endpoint:      "collector:4317",
			Protocol:      "thrift",
			SamplingRatio: 4,
			LogFormat:     "xml",
		},
	})

	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, defaultServiceName, cfg.ServiceName)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigOtelExplicitlyDisabled(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Telemetry: config.TelemetryConfig{Enabled: "false", Endpoint: "collector:4317"},
	})
	assert.False(t, cfg.OtelEnabled)
}

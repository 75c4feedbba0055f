package observability

import (
	"strings"

	"github.com/smallbiznis/abcmetrics/internal/config"
)

const defaultServiceName = "abcmetrics"

// Config is the resolved telemetry setup shared by the logger, tracer and meters.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig resolves telemetry settings from the application config.
// Exporters default to on only when an OTLP endpoint is configured.
func LoadConfig(cfg config.Config) Config {
	tel := cfg.Telemetry

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	protocol := tel.Protocol
	if protocol != "http" {
		protocol = "grpc"
	}

	ratio := tel.SamplingRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1.0
	}

	format := tel.LogFormat
	if format != "console" {
		format = "json"
	}

	level := tel.LogLevel
	if level == "" {
		level = "info"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             level,
		LogFormat:            format,
		OtelEnabled:          otelEnabled(tel.Enabled, tel.Endpoint),
		OtelExporterEndpoint: tel.Endpoint,
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    ratio,
	}
}

func otelEnabled(flag, endpoint string) bool {
	switch flag {
	case "0", "false", "no", "off":
		return false
	}
	return endpoint != ""
}

// Debug is true for debug log level and for local environments.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewRulesHolder),
	fx.Invoke(Validate),
)

var ErrMissingCredential = errors.New("missing_credential")

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	Redis RedisConfig

	Workiz WorkizConfig
	Elocal ElocalConfig
	Sync   SyncConfig
}

// TelemetryConfig follows the OTEL_* conventions; an empty endpoint keeps exporters off.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	Enabled       string
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type WorkizConfig struct {
	Enabled       bool
	APIURL        string
	APIKey        string
	RatePerSecond float64
	RateBurst     int
}

type ElocalConfig struct {
	Enabled    bool
	BaseURL    string
	Username   string
	Password   string
	BusinessID string
	ChromePath string
}

type SyncConfig struct {
	WindowDays     int
	CallWindowDays int
	SchedulerTick  time.Duration
	EnabledJobs    []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "abcmetrics"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			Enabled:       strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_ENABLED"))),
			Endpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
			Protocol:      strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 1.0),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "abcmetrics"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", ""),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		DBConnMaxIdleTime: getenvDuration("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Workiz: WorkizConfig{
			Enabled:       getenvBool("WORKIZ_ENABLED", true),
			APIURL:        strings.TrimRight(getenv("WORKIZ_API_URL", "https://api.workiz.com"), "/"),
			APIKey:        strings.TrimSpace(getenv("WORKIZ_API_KEY", "")),
			RatePerSecond: getenvFloat("WORKIZ_RATE_PER_SECOND", 5),
			RateBurst:     getenvInt("WORKIZ_RATE_BURST", 5),
		},
		Elocal: ElocalConfig{
			Enabled:    getenvBool("ELOCAL_ENABLED", true),
			BaseURL:    strings.TrimRight(getenv("ELOCAL_BASE_URL", "https://www.elocal.com"), "/"),
			Username:   strings.TrimSpace(getenv("ELOCAL_USERNAME", "")),
			Password:   getenv("ELOCAL_PASSWORD", ""),
			BusinessID: strings.TrimSpace(getenv("ELOCAL_BUSINESS_ID", "11809158")),
			ChromePath: strings.TrimSpace(getenv("CHROME_PATH", "")),
		},
		Sync: SyncConfig{
			WindowDays:     getenvInt("SYNC_WINDOW_DAYS", 30),
			CallWindowDays: getenvInt("SYNC_CALL_WINDOW_DAYS", 30),
			SchedulerTick:  getenvDuration("SCHEDULER_TICK", time.Minute),
			EnabledJobs:    splitList(getenv("SCHEDULER_ENABLED_JOBS", "")),
		},
	}
}

// Validate fails fast when an enabled source has no credentials.
func Validate(cfg Config) error {
	var errs []error
	if cfg.Workiz.Enabled && cfg.Workiz.APIKey == "" {
		errs = append(errs, fmt.Errorf("%w: WORKIZ_API_KEY", ErrMissingCredential))
	}
	if cfg.Elocal.Enabled {
		if cfg.Elocal.Username == "" {
			errs = append(errs, fmt.Errorf("%w: ELOCAL_USERNAME", ErrMissingCredential))
		}
		if cfg.Elocal.Password == "" {
			errs = append(errs, fmt.Errorf("%w: ELOCAL_PASSWORD", ErrMissingCredential))
		}
		if cfg.Elocal.BusinessID == "" {
			errs = append(errs, fmt.Errorf("%w: ELOCAL_BUSINESS_ID", ErrMissingCredential))
		}
	}
	return errors.Join(errs...)
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

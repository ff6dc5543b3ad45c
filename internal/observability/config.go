package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/config"
)

const (
	defaultServiceName = "noble-ledger"
	defaultSampling    = 0.1

	defaultSlowQuery = 200 * time.Millisecond
	// Settlement and ledger statements run under the close lock, so they are
	// flagged at a lower latency than the rest of the schema.
	defaultLedgerSlowQuery = 50 * time.Millisecond
)

// Config holds observability configuration derived from environment variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	// DefaultClinicID tags log lines when a request carries no X-Clinic-Id.
	DefaultClinicID string

	LogLevel  string
	LogFormat string

	DBLogLevel          string
	DBSlowQuery         time.Duration
	DBLedgerSlowQuery   time.Duration
	DBIgnoreNotFoundLog bool

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	out := Config{
		ServiceName:     firstNonEmpty(cfg.AppName, defaultServiceName),
		Environment:     env("DEPLOYMENT_ENV", cfg.Environment),
		Version:         env("SERVICE_VERSION", cfg.AppVersion),
		DefaultClinicID: strings.TrimSpace(cfg.DefaultClinicID),

		LogLevel:  strings.ToLower(env("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(env("LOG_FORMAT", "json")),

		DBLogLevel:          strings.ToLower(env("DB_LOG_LEVEL", "warn")),
		DBSlowQuery:         envMillis("DB_SLOW_QUERY_MS", defaultSlowQuery),
		DBLedgerSlowQuery:   envMillis("DB_LEDGER_SLOW_QUERY_MS", defaultLedgerSlowQuery),
		DBIgnoreNotFoundLog: envBool("DB_IGNORE_NOT_FOUND_LOG", true),

		OtelExporterEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(env("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", env("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		OtelSamplingRatio:    envFloat("OTEL_SAMPLING_RATIO", defaultSampling),
	}
	if out.OtelSamplingRatio < 0 || out.OtelSamplingRatio > 1 {
		out.OtelSamplingRatio = defaultSampling
	}
	if out.DBLedgerSlowQuery > out.DBSlowQuery {
		out.DBLedgerSlowQuery = out.DBSlowQuery
	}
	out.OtelEnabled = envBool("OTEL_ENABLED", out.OtelExporterEndpoint != "")
	return out
}

// Debug is true for an explicit debug level or any development environment.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func env(key, def string) string {
	return firstNonEmpty(os.Getenv(key), def)
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

func envFloat(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return parsed
}

func envMillis(key string, def time.Duration) time.Duration {
	ms, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

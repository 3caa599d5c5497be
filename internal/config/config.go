// Package config centralizes the daemon's options: the store path,
// listener address, worker-pool sizing, and the observability stack
// (tracing, metrics, logging) wired on startup. Defaults are applied
// first, then a JSON file, then environment variables.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds the listener and admission-control settings.
type ServerConfig struct {
	Addr                string        `json:"addr"`                  // host:port to bind, e.g. ":5432"
	Backlog             int           `json:"backlog"`               // listen backlog, kept small
	WorkerCount         int           `json:"worker_count"`          // 0 = host CPU count
	QueueCapacity       int           `json:"queue_capacity"`        // must be a power of two
	ClientTimeout       time.Duration `json:"client_timeout"`        // applied to SO_RCVTIMEO/SO_SNDTIMEO
	MaxEnqueueRetries   int           `json:"max_enqueue_retries"`   // admission-path spin budget on a full queue
}

// StoreConfig holds the relational-store settings.
type StoreConfig struct {
	DatabasePath string `json:"database_path"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter"`     // otlp-http, log
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // moviedb
	SampleRate  float64 `json:"sample_rate"`  // 1.0
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`
	Namespace        string    `json:"namespace"`
	HistogramBuckets []float64 `json:"histogram_buckets"`
	ListenAddr       string    `json:"listen_addr"` // HTTP addr for /metrics scraping, "" disables
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `json:"level"`  // debug, info, warn, error
	Format         string `json:"format"` // text, json
	IncludeTraceID bool   `json:"include_trace_id"`
	OperationLog   string `json:"operation_log"` // optional JSONL audit trail path, "" disables
}

// ObservabilityConfig groups the ambient instrumentation settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// Config is the root configuration struct. DefaultConfig returns sensible
// defaults; LoadFromFile overlays a JSON document; LoadFromEnv overlays
// environment variables on top of whatever was loaded so far.
type Config struct {
	Server        ServerConfig        `json:"server"`
	Store         StoreConfig         `json:"store"`
	Observability ObservabilityConfig `json:"observability"`
}

// DefaultConfig returns the defaults: a database file in the working
// directory, worker_count left at 0 (the daemon resolves that to
// runtime.NumCPU()), and a queue capacity that is already a power of
// two.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":5432",
			Backlog:           16,
			WorkerCount:       0,
			QueueCapacity:     1024,
			ClientTimeout:     60 * time.Second,
			MaxEnqueueRetries: 64,
		},
		Store: StoreConfig{
			DatabasePath: "moviedb.sqlite",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "moviedb",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "moviedb",
				HistogramBuckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
				ListenAddr:       "",
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
				OperationLog:   "",
			},
		},
	}
}

// LoadFromFile loads configuration from a JSON file, starting from
// DefaultConfig so a partial file only overrides what it sets.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to cfg in place.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MOVIEDB_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("MOVIEDB_BACKLOG"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Backlog = n
		}
	}
	if v := os.Getenv("MOVIEDB_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.WorkerCount = n
		}
	}
	if v := os.Getenv("MOVIEDB_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.QueueCapacity = n
		}
	}
	if v := os.Getenv("MOVIEDB_CLIENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ClientTimeout = d
		}
	}
	if v := os.Getenv("MOVIEDB_MAX_ENQUEUE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxEnqueueRetries = n
		}
	}
	if v := os.Getenv("MOVIEDB_DATABASE_PATH"); v != "" {
		cfg.Store.DatabasePath = v
	}

	if v := os.Getenv("MOVIEDB_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("MOVIEDB_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("MOVIEDB_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("MOVIEDB_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("MOVIEDB_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("MOVIEDB_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("MOVIEDB_METRICS_LISTEN_ADDR"); v != "" {
		cfg.Observability.Metrics.ListenAddr = v
	}
	if v := os.Getenv("MOVIEDB_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("MOVIEDB_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("MOVIEDB_LOG_INCLUDE_TRACE_ID"); v != "" {
		cfg.Observability.Logging.IncludeTraceID = parseBool(v)
	}
	if v := os.Getenv("MOVIEDB_OPERATION_LOG"); v != "" {
		cfg.Observability.Logging.OperationLog = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

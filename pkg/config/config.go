// Package config loads engine and CLI settings from .env, the environment
// and YAML files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/WhileEndless/go-desync/pkg/collector"
	"github.com/WhileEndless/go-desync/pkg/constants"
	"github.com/WhileEndless/go-desync/pkg/engine"
	"github.com/WhileEndless/go-desync/pkg/tlsconfig"
	"github.com/WhileEndless/go-desync/pkg/transport"
)

// Config holds every tunable setting.
type Config struct {
	// Connection
	ConnTimeout        time.Duration `yaml:"conn_timeout"`
	DNSTimeout         time.Duration `yaml:"dns_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	TransactionTimeout time.Duration `yaml:"transaction_timeout"`
	ConnectIP          string        `yaml:"connect_ip"`
	SNI                string        `yaml:"sni"`
	TLSVersion         string        `yaml:"tls_version"`
	Fingerprint        string        `yaml:"fingerprint"`
	Proxy              string        `yaml:"proxy"`

	// Response collection
	ReadTimeout time.Duration `yaml:"read_timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	ReadPause   time.Duration `yaml:"read_pause"`
	EmptyPause  time.Duration `yaml:"empty_pause"`

	// Request handling
	SendAsTyped bool   `yaml:"send_as_typed"`
	ProbePath   string `yaml:"probe_path"`

	// Batch
	Workers int     `yaml:"workers"`
	RPS     float64 `yaml:"rps"`

	// Observability
	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		ConnTimeout:  constants.DefaultConnTimeout,
		DNSTimeout:   constants.DefaultDNSTimeout,
		WriteTimeout: constants.DefaultWriteTimeout,
		ReadTimeout:  constants.DefaultReadTimeout,
		MaxAttempts:  constants.DefaultMaxAttempts,
		ReadPause:    constants.DefaultReadPause,
		EmptyPause:   constants.DefaultEmptyPause,
		ProbePath:    constants.DefaultProbePath,
		Workers:      constants.DefaultBatchWorkers,
		LogLevel:     "info",
	}
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML config file, then applies environment overrides.
func LoadFile(path string) (*Config, error) {
	loadDotEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
}

func (c *Config) applyEnv() {
	c.ConnTimeout = getEnvDurationOrDefault("DESYNC_CONN_TIMEOUT", c.ConnTimeout)
	c.DNSTimeout = getEnvDurationOrDefault("DESYNC_DNS_TIMEOUT", c.DNSTimeout)
	c.WriteTimeout = getEnvDurationOrDefault("DESYNC_WRITE_TIMEOUT", c.WriteTimeout)
	c.TransactionTimeout = getEnvDurationOrDefault("DESYNC_TRANSACTION_TIMEOUT", c.TransactionTimeout)
	c.ConnectIP = getEnvOrDefault("DESYNC_CONNECT_IP", c.ConnectIP)
	c.SNI = getEnvOrDefault("DESYNC_SNI", c.SNI)
	c.TLSVersion = getEnvOrDefault("DESYNC_TLS_VERSION", c.TLSVersion)
	c.Fingerprint = getEnvOrDefault("DESYNC_FINGERPRINT", c.Fingerprint)
	c.Proxy = getEnvOrDefault("DESYNC_PROXY", c.Proxy)

	c.ReadTimeout = getEnvDurationOrDefault("DESYNC_READ_TIMEOUT", c.ReadTimeout)
	c.MaxAttempts = getEnvIntOrDefault("DESYNC_MAX_ATTEMPTS", c.MaxAttempts)
	c.ReadPause = getEnvDurationOrDefault("DESYNC_READ_PAUSE", c.ReadPause)
	c.EmptyPause = getEnvDurationOrDefault("DESYNC_EMPTY_PAUSE", c.EmptyPause)

	c.SendAsTyped = getEnvBoolOrDefault("DESYNC_SEND_AS_TYPED", c.SendAsTyped)
	c.ProbePath = getEnvOrDefault("DESYNC_PROBE_PATH", c.ProbePath)

	c.Workers = getEnvIntOrDefault("DESYNC_WORKERS", c.Workers)
	c.RPS = getEnvFloatOrDefault("DESYNC_RPS", c.RPS)

	c.LogFile = getEnvOrDefault("DESYNC_LOG_FILE", c.LogFile)
	c.LogLevel = getEnvOrDefault("DESYNC_LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getEnvOrDefault("DESYNC_METRICS_ADDR", c.MetricsAddr)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.ConnTimeout <= 0 {
		return fmt.Errorf("config: conn_timeout must be positive")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("config: read_timeout must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: max_attempts must be at least 1")
	}
	if c.ReadPause < 0 || c.EmptyPause < 0 {
		return fmt.Errorf("config: pauses cannot be negative")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1")
	}
	if c.RPS < 0 {
		return fmt.Errorf("config: rps cannot be negative")
	}
	if _, err := tlsconfig.ParseVersion(c.TLSVersion); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Fingerprint != "" {
		if _, ok := tlsconfig.LookupFingerprint(c.Fingerprint); !ok {
			return fmt.Errorf("config: unknown fingerprint %q", c.Fingerprint)
		}
	}
	if c.Proxy != "" {
		if _, err := transport.ParseProxyURL(c.Proxy); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// EngineOptions maps the settings onto engine options. Logger, metrics and
// tracer are left for the caller to attach.
func (c *Config) EngineOptions() (engine.Options, error) {
	version, err := tlsconfig.ParseVersion(c.TLSVersion)
	if err != nil {
		return engine.Options{}, fmt.Errorf("config: %w", err)
	}
	var proxy *transport.ProxyConfig
	if c.Proxy != "" {
		if proxy, err = transport.ParseProxyURL(c.Proxy); err != nil {
			return engine.Options{}, fmt.Errorf("config: %w", err)
		}
	}
	return engine.Options{
		ConnTimeout:        c.ConnTimeout,
		DNSTimeout:         c.DNSTimeout,
		WriteTimeout:       c.WriteTimeout,
		TransactionTimeout: c.TransactionTimeout,
		Collector: collector.Config{
			MaxAttempts: c.MaxAttempts,
			ReadTimeout: c.ReadTimeout,
			ReadPause:   c.ReadPause,
			EmptyPause:  c.EmptyPause,
			BufferSize:  constants.DefaultReadBufferSize,
		},
		SendAsTyped: c.SendAsTyped,
		ConnectIP:   c.ConnectIP,
		SNI:         c.SNI,
		TLSVersion:  version,
		Fingerprint: c.Fingerprint,
		Proxy:       proxy,
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

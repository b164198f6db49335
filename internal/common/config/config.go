// Package config provides configuration management for Homespun.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nick-boey/homespun/internal/common/logger"
)

// Config holds all configuration sections for Homespun.
type Config struct {
	Server   ServerConfig         `mapstructure:"server"`
	Logging  logger.LoggingConfig `mapstructure:"logging"`
	Claude   ClaudeConfig         `mapstructure:"claude"`
	Sessions SessionsConfig       `mapstructure:"sessions"`
	Worker   WorkerConfig         `mapstructure:"worker"`
	NATS     NATSConfig           `mapstructure:"nats"`
	Tracing  TracingConfig        `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Addr returns the host:port address to bind the server to.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ClaudeConfig holds Claude CLI integration configuration.
type ClaudeConfig struct {
	// CLIPath is an explicit path to the claude executable. When empty the
	// executable is discovered on PATH and in ~/.local/bin.
	CLIPath string `mapstructure:"cliPath"`

	// TranscriptsRoot is the directory holding per-project transcript
	// directories (default: ~/.claude).
	TranscriptsRoot string `mapstructure:"transcriptsRoot"`
}

// SessionsConfig holds session engine configuration.
type SessionsConfig struct {
	// MetadataPath is the JSON file holding durable session metadata
	// (default: ~/.homespun/sessions.json).
	MetadataPath string `mapstructure:"metadataPath"`

	// RequestTimeout bounds a single prompt/response cycle, in minutes.
	RequestTimeout int `mapstructure:"requestTimeout"`
}

// RequestTimeoutDuration returns the per-request timeout as a time.Duration.
func (s *SessionsConfig) RequestTimeoutDuration() time.Duration {
	if s.RequestTimeout <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.RequestTimeout) * time.Minute
}

// WorkerConfig holds containerized worker configuration.
type WorkerConfig struct {
	// Enabled switches session execution to the remote worker path.
	Enabled bool `mapstructure:"enabled"`

	// BaseURL is the worker endpoint when a worker is already running.
	// When empty and Enabled is true, a container is launched from Image.
	BaseURL string `mapstructure:"baseUrl"`

	Image            string  `mapstructure:"image"`
	DataVolumePath   string  `mapstructure:"dataVolumePath"`
	HostDataPath     string  `mapstructure:"hostDataPath"`
	MemoryLimitBytes int64   `mapstructure:"memoryLimitBytes"`
	CPULimit         float64 `mapstructure:"cpuLimit"`
	RequestTimeout   int     `mapstructure:"requestTimeout"` // in seconds
	DockerSocketPath string  `mapstructure:"dockerSocketPath"`
	NetworkName      string  `mapstructure:"networkName"`
}

// RequestTimeoutDuration returns the worker request timeout as a time.Duration.
func (w *WorkerConfig) RequestTimeoutDuration() time.Duration {
	if w.RequestTimeout <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(w.RequestTimeout) * time.Second
}

// NATSConfig holds NATS messaging configuration. Publishing is disabled
// when URL is empty.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"` // OTLP HTTP endpoint, host:port
}

// Load reads configuration from file and environment variables.
// Environment variables use the HOMESPUN_ prefix with underscores,
// e.g. HOMESPUN_SERVER_PORT=8080.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("homespun")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.homespun")
	v.AddConfigPath("/etc/homespun")

	v.SetEnvPrefix("HOMESPUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 1800)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logger.DetectFormat())
	v.SetDefault("logging.output_path", "stdout")

	v.SetDefault("claude.cliPath", "")
	v.SetDefault("claude.transcriptsRoot", "")

	v.SetDefault("sessions.metadataPath", "")
	v.SetDefault("sessions.requestTimeout", 30)

	v.SetDefault("worker.enabled", false)
	v.SetDefault("worker.dataVolumePath", "/data")
	v.SetDefault("worker.memoryLimitBytes", int64(2*1024*1024*1024))
	v.SetDefault("worker.cpuLimit", 2.0)
	v.SetDefault("worker.requestTimeout", 1800)
	v.SetDefault("worker.dockerSocketPath", "/var/run/docker.sock")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
}

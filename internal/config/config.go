// Package config loads the mcpwire server configuration from YAML files,
// with environment variable expansion and duration parsing.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete mcpwire server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Transport  TransportConfig  `yaml:"transport"`
	Filesystem FilesystemConfig `yaml:"filesystem"`
	Memory     MemoryConfig     `yaml:"memory"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig identifies the server and tunes its protocol behavior.
type ServerConfig struct {
	Name         string `yaml:"name"`
	Version      string `yaml:"version"`
	Instructions string `yaml:"instructions"`

	SendTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SendTimeoutRaw string `yaml:"send_timeout"`
}

// TransportConfig selects and configures the wire transport.
type TransportConfig struct {
	// Kind is either "stdio" or "sse".
	Kind string    `yaml:"kind"`
	SSE  SSEConfig `yaml:"sse"`
}

// SSEConfig holds the HTTP listen address and paths for the SSE transport.
type SSEConfig struct {
	Addr        string `yaml:"addr"`
	ConnectPath string `yaml:"connect_path"`
	MessagePath string `yaml:"message_path"`
	// BaseURL is the external URL clients reach the server at. Defaults to
	// http://<addr>.
	BaseURL string `yaml:"base_url"`
}

// FilesystemConfig enables the filesystem server over a set of roots.
type FilesystemConfig struct {
	Enabled bool     `yaml:"enabled"`
	Roots   []string `yaml:"roots"`
}

// MemoryConfig enables the knowledge-graph server.
type MemoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded
// before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given: a stdio
// transport with both demo servers disabled and text logging at info level.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "mcpwire",
			Version: "0.1.0",
		},
		Transport: TransportConfig{
			Kind: "stdio",
			SSE: SSEConfig{
				Addr:        "localhost:8080",
				ConnectPath: "/sse",
				MessagePath: "/message",
			},
		},
		Memory: MemoryConfig{
			Path: "memory.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that all required configuration fields are present and
// consistent. It returns an error describing the first failure encountered.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}

	switch c.Transport.Kind {
	case "stdio":
	case "sse":
		if c.Transport.SSE.Addr == "" {
			return fmt.Errorf("transport.sse.addr is required when transport.kind is sse")
		}
	default:
		return fmt.Errorf("transport.kind must be stdio or sse, got %q", c.Transport.Kind)
	}

	if c.Filesystem.Enabled && len(c.Filesystem.Roots) == 0 {
		return fmt.Errorf("filesystem.roots is required when filesystem is enabled")
	}
	if c.Memory.Enabled && c.Memory.Path == "" {
		return fmt.Errorf("memory.path is required when memory is enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// Logger builds a slog.Logger writing to w according to the logging
// configuration.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func parseDurations(cfg *Config) error {
	if cfg.Server.SendTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Server.SendTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing send_timeout %q: %w", cfg.Server.SendTimeoutRaw, err)
		}
		cfg.Server.SendTimeout = d
	}

	return nil
}

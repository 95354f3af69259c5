// Package config loads the ftpbridge YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	FTPServer FTPServerConfig `yaml:"ftp_server"`
	WebDAV    WebDAVConfig    `yaml:"webdav"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text or json
}

// ProxyConfig configures the HTTP relay.
type ProxyConfig struct {
	Listen       string    `yaml:"listen,omitempty"`
	FTP          FTPTarget `yaml:"ftp"`
	RemotePaths  []string  `yaml:"remote_paths,omitempty"`
	UploadDir    string    `yaml:"upload_dir,omitempty"`
	ListDir      string    `yaml:"list_dir,omitempty"`
	MemoryBudget int64     `yaml:"memory_budget,omitempty"`
	ExposeListed bool      `yaml:"expose_listed,omitempty"`
	MaxBandwidth int64     `yaml:"max_bandwidth,omitempty"` // bytes per second per download, 0 = unlimited
	MaxUpload    int64     `yaml:"max_upload,omitempty"`    // request body cap for /upload, 0 = unlimited
}

// FTPTarget is the upstream FTP server the relay talks to.
type FTPTarget struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port,omitempty"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ControlTimeout time.Duration `yaml:"control_timeout,omitempty"`
	StallTimeout   time.Duration `yaml:"stall_timeout,omitempty"`
}

// Addr returns host:port.
func (t FTPTarget) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// WatchdogConfig configures the task watchdog.
type WatchdogConfig struct {
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	FeedBytes int64         `yaml:"feed_bytes,omitempty"`
}

// FTPServerConfig configures the bundled FTP server.
type FTPServerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Listen         string        `yaml:"listen,omitempty"`
	Root           string        `yaml:"root,omitempty"`
	Username       string        `yaml:"username,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	PasswordHash   string        `yaml:"password_hash,omitempty"` // bcrypt
	Anonymous      bool          `yaml:"anonymous,omitempty"`
	PasvMinPort    int           `yaml:"pasv_min_port,omitempty"`
	PasvMaxPort    int           `yaml:"pasv_max_port,omitempty"`
	MaxConnections int           `yaml:"max_connections,omitempty"`
	MaxBandwidth   int64         `yaml:"max_bandwidth,omitempty"`
	IdleTimeout    time.Duration `yaml:"idle_timeout,omitempty"`
}

// WebDAVConfig configures the bundled WebDAV server.
type WebDAVConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Listen   string `yaml:"listen,omitempty"`
	Root     string `yaml:"root,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	ReadOnly bool   `yaml:"read_only,omitempty"`
}

// Default returns a configuration with every optional field populated.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Proxy: ProxyConfig{
			Listen: ":8000",
			FTP: FTPTarget{
				Port:           21,
				ControlTimeout: 5 * time.Second,
				StallTimeout:   30 * time.Second,
			},
			UploadDir:    "/",
			ListDir:      "/",
			MemoryBudget: 1 << 20,
		},
		Watchdog: WatchdogConfig{
			Timeout:   10 * time.Second,
			FeedBytes: 256 * 1024,
		},
		FTPServer: FTPServerConfig{
			Listen:         ":2121",
			Root:           "/sdcard",
			Username:       "admin",
			MaxConnections: 10,
			IdleTimeout:    5 * time.Minute,
		},
		WebDAV: WebDAVConfig{
			Listen: ":8081",
			Root:   "/sdcard",
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		bad("log.format must be text or json, got %q", c.Log.Format)
	}

	p := c.Proxy
	if p.FTP.Host == "" {
		bad("proxy.ftp.host is required")
	}
	if p.FTP.Port <= 0 || p.FTP.Port > 65535 {
		bad("proxy.ftp.port out of range: %d", p.FTP.Port)
	}
	if p.FTP.ControlTimeout <= 0 || p.FTP.StallTimeout <= 0 {
		bad("proxy.ftp timeouts must be positive")
	}
	if p.MemoryBudget <= 0 {
		bad("proxy.memory_budget must be positive")
	}
	for _, rp := range p.RemotePaths {
		if rp == "" || strings.HasPrefix(rp, "/") {
			bad("proxy.remote_paths entry %q must be a non-empty path without a leading slash", rp)
		}
	}

	if c.Watchdog.Timeout <= 0 {
		bad("watchdog.timeout must be positive")
	}

	if s := c.FTPServer; s.Enabled {
		if s.Root == "" {
			bad("ftp_server.root is required")
		}
		if !s.Anonymous && s.Username == "" {
			bad("ftp_server.username is required unless anonymous is set")
		}
		if !s.Anonymous && s.Password == "" && s.PasswordHash == "" {
			bad("ftp_server needs password or password_hash")
		}
		if (s.PasvMinPort == 0) != (s.PasvMaxPort == 0) || s.PasvMinPort > s.PasvMaxPort {
			bad("ftp_server passive port range %d-%d is invalid", s.PasvMinPort, s.PasvMaxPort)
		}
	}

	if c.WebDAV.Enabled && c.WebDAV.Root == "" {
		bad("webdav.root is required")
	}

	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return l, nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

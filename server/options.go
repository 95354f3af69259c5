package server

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithDriver sets the backend for authentication and file operations.
// It is required and can only be set once.
func WithDriver(driver Driver) Option {
	return func(s *Server) error {
		if s.driver != nil {
			return errors.New("driver already set")
		}
		s.driver = driver
		return nil
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithMaxIdleTime closes control connections that send nothing for d.
// Defaults to 5 minutes; zero disables the limit.
func WithMaxIdleTime(d time.Duration) Option {
	return func(s *Server) error {
		if d < 0 {
			return fmt.Errorf("negative idle time: %v", d)
		}
		s.maxIdleTime = d
		return nil
	}
}

// WithMaxConnections caps concurrent control connections. Clients over the
// limit get "421" and are disconnected. Zero means unlimited.
func WithMaxConnections(limit int) Option {
	return func(s *Server) error {
		if limit < 0 {
			return fmt.Errorf("negative connection limit: %d", limit)
		}
		s.maxConnections = limit
		return nil
	}
}

// WithSettings configures passive mode.
func WithSettings(settings Settings) Option {
	return func(s *Server) error {
		if settings.PasvMinPort < 0 || settings.PasvMaxPort > 65535 || settings.PasvMinPort > settings.PasvMaxPort {
			return fmt.Errorf("invalid passive port range %d-%d", settings.PasvMinPort, settings.PasvMaxPort)
		}
		s.settings = settings
		return nil
	}
}

// WithBandwidthLimit caps each transfer at bytesPerSecond. Zero means
// unlimited.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Server) error {
		if bytesPerSecond < 0 {
			return fmt.Errorf("negative bandwidth limit: %d", bytesPerSecond)
		}
		s.bandwidth = bytesPerSecond
		return nil
	}
}

// WithWelcomeMessage sets the text of the 220 greeting.
func WithWelcomeMessage(msg string) Option {
	return func(s *Server) error {
		s.welcomeMessage = msg
		return nil
	}
}

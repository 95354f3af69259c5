package ftp

import (
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Option is a functional option for configuring a Session.
type Option func(*Session) error

// WithTimeout sets the control channel timeout. It bounds the TCP connect,
// the greeting and every command reply. The default is 5 seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) error {
		s.timeout = timeout
		return nil
	}
}

// WithStallTimeout sets how long a data channel read may wait for the next
// byte before the transfer fails with ErrTimeout. The default is 30 seconds.
func WithStallTimeout(timeout time.Duration) Option {
	return func(s *Session) error {
		s.stallTimeout = timeout
		return nil
	}
}

// WithLogger enables debug logging using the provided logger.
// All FTP commands and replies are logged at debug level; passwords are masked.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithDialer sets a custom net.Dialer for control and data connections.
func WithDialer(dialer *net.Dialer) Option {
	return func(s *Session) error {
		s.dialer = dialer
		return nil
	}
}

// WithResolver sets the resolver used for the FTP host name.
func WithResolver(r *net.Resolver) Option {
	return func(s *Session) error {
		s.resolver = r
		return nil
	}
}

// WithReceiveBuffer sets SO_RCVBUF on control and data sockets.
// The default is 32 KiB; 0 leaves the system default.
func WithReceiveBuffer(bytes int) Option {
	return func(s *Session) error {
		if bytes < 0 {
			return fmt.Errorf("negative receive buffer: %d", bytes)
		}
		s.rcvBuf = bytes
		return nil
	}
}

// WithMaxReplyLine sets the control reply buffer size. Longer reply lines
// fail with ErrReplyTooLong. The default is 512 bytes.
func WithMaxReplyLine(bytes int) Option {
	return func(s *Session) error {
		if bytes < 16 {
			return fmt.Errorf("reply buffer too small: %d", bytes)
		}
		s.maxLine = bytes
		return nil
	}
}

// WithCustomListParser adds a directory listing parser that is tried before
// the built-in parsers (EPLF, DOS, Unix).
func WithCustomListParser(parser ListingParser) Option {
	return func(s *Session) error {
		s.parsers = append([]ListingParser{parser}, s.parsers...)
		return nil
	}
}

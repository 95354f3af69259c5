package relay

import (
	"errors"
	"log/slog"

	"github.com/gonzalop/ftpbridge/ftp"
	"github.com/gonzalop/ftpbridge/internal/bufpool"
	"github.com/gonzalop/ftpbridge/internal/watchdog"
)

// Option is a functional option for configuring a Handler.
type Option func(*Handler) error

// WithLogger sets the logger for request and transfer events.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) error {
		if logger != nil {
			h.logger = logger
		}
		return nil
	}
}

// WithFTPOptions passes options to every ftp.Connect the handler makes.
func WithFTPOptions(opts ...ftp.Option) Option {
	return func(h *Handler) error {
		h.ftpOpts = append(h.ftpOpts, opts...)
		return nil
	}
}

// WithBufferPool sets the memory budget staging buffers are drawn from.
// By default each Handler gets its own 1 MiB budget.
func WithBufferPool(p *bufpool.Pool) Option {
	return func(h *Handler) error {
		if p == nil {
			return errors.New("buffer pool must not be nil")
		}
		h.pool = p
		return nil
	}
}

// WithWatchdog registers each relay with w as "task/<n>", n counting requests,
// and feeds it every feedBytes bytes or half the watchdog timeout, whichever
// comes first.
func WithWatchdog(w *watchdog.Watchdog, task string, feedBytes int64) Option {
	return func(h *Handler) error {
		if task == "" {
			return errors.New("watchdog task name must not be empty")
		}
		h.wdt, h.wdtTask, h.feedBytes = w, task, feedBytes
		return nil
	}
}

// WithMaxBandwidth caps each download at bytesPerSecond. Zero means unlimited.
func WithMaxBandwidth(bytesPerSecond int64) Option {
	return func(h *Handler) error {
		if bytesPerSecond < 0 {
			return errors.New("bandwidth must not be negative")
		}
		h.maxBandwidth = bytesPerSecond
		return nil
	}
}

// WithUploadDir sets the remote directory uploads are stored in. Default "/".
func WithUploadDir(dir string) Option {
	return func(h *Handler) error {
		h.uploadDir = dir
		return nil
	}
}

// WithListDir sets the remote directory served by /list and /delete. Default "/".
func WithListDir(dir string) Option {
	return func(h *Handler) error {
		h.listDir = dir
		return nil
	}
}

// WithExposeListed enables GET /download/{name} for any file in the list
// directory, bypassing the allowlist.
func WithExposeListed(enabled bool) Option {
	return func(h *Handler) error {
		h.exposeListed = enabled
		return nil
	}
}

// WithMaxUpload caps the request body of /upload. Zero means unlimited.
func WithMaxUpload(n int64) Option {
	return func(h *Handler) error {
		h.maxUpload = n
		return nil
	}
}

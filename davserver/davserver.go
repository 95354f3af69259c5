// Package davserver exposes a local directory over WebDAV, next to the FTP
// relay, so desktop file managers can mount the same storage.
package davserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"golang.org/x/net/webdav"
)

// Option configures a Handler.
type Option func(*Handler) error

// WithPrefix serves the tree under prefix, e.g. "/dav".
func WithPrefix(prefix string) Option {
	return func(h *Handler) error {
		if prefix != "" && !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("prefix %q must start with /", prefix)
		}
		h.prefix = strings.TrimSuffix(prefix, "/")
		return nil
	}
}

// WithReadOnly rejects every method that could modify the tree with 403.
func WithReadOnly(readOnly bool) Option {
	return func(h *Handler) error {
		h.readOnly = readOnly
		return nil
	}
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		h.logger = logger
		return nil
	}
}

// Handler serves WebDAV requests for one directory.
type Handler struct {
	prefix   string
	readOnly bool
	logger   *slog.Logger
	dav      *webdav.Handler
}

// readMethods never change the tree.
var readMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	"PROPFIND":         true,
}

// New returns a Handler serving root, which must be an existing directory.
func New(root string, options ...Option) (*Handler, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("davserver: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("davserver: %s is not a directory", root)
	}

	h := &Handler{logger: slog.Default()}
	for _, opt := range options {
		if err := opt(h); err != nil {
			return nil, fmt.Errorf("davserver: %w", err)
		}
	}
	h.dav = &webdav.Handler{
		Prefix:     h.prefix,
		FileSystem: webdav.Dir(root),
		LockSystem: webdav.NewMemLS(),
		Logger:     h.logRequest,
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.readOnly && !readMethods[r.Method] {
		h.logger.Warn("webdav_write_rejected", "method", r.Method, "path", r.URL.Path, "remote_ip", r.RemoteAddr)
		http.Error(w, "read-only", http.StatusForbidden)
		return
	}
	h.dav.ServeHTTP(w, r)
}

func (h *Handler) logRequest(r *http.Request, err error) {
	switch {
	case err == nil:
		h.logger.Debug("webdav_request", "method", r.Method, "path", r.URL.Path)
	case errors.Is(err, os.ErrNotExist):
		h.logger.Debug("webdav_request", "method", r.Method, "path", r.URL.Path, "error", err)
	default:
		h.logger.Warn("webdav_request_failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
}

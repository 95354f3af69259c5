// Package relay serves files from an FTP server over HTTP.
//
// Each request opens its own FTP session, streams the file through a
// fixed-size staging buffer and closes the session before returning.
// Status and headers are committed only once the server has accepted RETR;
// a failure after that point aborts the HTTP connection so clients never
// mistake a truncated body for a complete one.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"golang.org/x/sync/singleflight"

	"github.com/gonzalop/ftpbridge/ftp"
	"github.com/gonzalop/ftpbridge/internal/bufpool"
	"github.com/gonzalop/ftpbridge/internal/ratelimit"
	"github.com/gonzalop/ftpbridge/internal/ringbuf"
	"github.com/gonzalop/ftpbridge/internal/watchdog"
)

// Upstream identifies the FTP server and account the relay uses.
type Upstream struct {
	Addr     string // host or host:port
	Username string
	Password string
}

// Handler is the HTTP side of the bridge. It is safe for concurrent use.
type Handler struct {
	upstream Upstream
	allowed  map[string]struct{}

	logger       *slog.Logger
	ftpOpts      []ftp.Option
	pool         *bufpool.Pool
	wdt          *watchdog.Watchdog
	wdtTask      string
	feedBytes    int64
	maxBandwidth int64
	uploadDir    string
	listDir      string
	exposeListed bool
	maxUpload    int64

	sizes  singleflight.Group
	router *mux.Router
	seq    atomic.Uint64
}

// New returns a Handler that relays exactly the given remote paths.
// Paths are matched against the request path without its leading slash.
func New(upstream Upstream, remotePaths []string, options ...Option) (*Handler, error) {
	if upstream.Addr == "" {
		return nil, errors.New("relay: upstream address is required")
	}
	h := &Handler{
		upstream:  upstream,
		allowed:   make(map[string]struct{}, len(remotePaths)),
		logger:    slog.Default(),
		uploadDir: "/",
		listDir:   "/",
	}
	for _, p := range remotePaths {
		h.allowed[strings.TrimPrefix(p, "/")] = struct{}{}
	}
	for _, opt := range options {
		if err := opt(h); err != nil {
			return nil, fmt.Errorf("relay: failed to apply option: %w", err)
		}
	}
	if h.pool == nil {
		p, err := bufpool.New(1 << 20)
		if err != nil {
			return nil, err
		}
		h.pool = p
	}

	r := mux.NewRouter()
	r.HandleFunc("/", h.serveIndex).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/list", h.serveList).Methods(http.MethodGet)
	r.HandleFunc("/delete/{name}", h.serveDelete).Methods(http.MethodDelete)
	r.HandleFunc("/upload", h.serveUpload).Methods(http.MethodPost)
	if h.exposeListed {
		r.HandleFunc("/download/{name}", h.serveDownload).Methods(http.MethodGet)
	}
	r.PathPrefix("/").HandlerFunc(h.serveFile).Methods(http.MethodGet)
	h.router = r
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// serveFile relays an allowlisted path. Anything else is a 404 without
// contacting the FTP server.
func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request) {
	remote := strings.TrimPrefix(r.URL.Path, "/")
	if _, ok := h.allowed[remote]; !ok {
		h.logger.Warn("path_not_allowed", "path", remote, "remote_ip", r.RemoteAddr)
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	h.relay(w, r, remote)
}

func (h *Handler) connect(ctx context.Context) (*ftp.Session, error) {
	opts := append([]ftp.Option{ftp.WithLogger(h.logger.With("component", "ftp"))}, h.ftpOpts...)
	return ftp.Connect(ctx, h.upstream.Addr, h.upstream.Username, h.upstream.Password, opts...)
}

func (h *Handler) relay(w http.ResponseWriter, r *http.Request, remote string) {
	w.Header().Set("Accept-Ranges", "bytes")
	ctx := r.Context()
	t := Classify(remote)
	prof := t.Kind.profile()
	log := h.logger.With("path", remote, "kind", t.Kind.String())
	start := time.Now()

	buf, err := h.pool.Acquire(prof.ring)
	if err != nil {
		h.fail(w, log, "buffer_unavailable", err)
		return
	}
	defer buf.Release()
	ring, err := ringbuf.NewWithBacking(buf.B)
	if err != nil {
		h.fail(w, log, "buffer_unavailable", err)
		return
	}

	// One task per request, named <task>/<n>.
	task := fmt.Sprintf("%s/%d", h.wdtTask, h.seq.Add(1))
	if h.wdt.Add(task) {
		defer h.wdt.Delete(task)
	}

	sess, err := h.connect(ctx)
	if err != nil {
		h.fail(w, log, "ftp_connect_failed", err)
		return
	}
	defer sess.Close()

	rng, ranged, err := h.resolveRange(log, sess, r.Header.Get("Range"), remote)
	if errors.Is(err, errUnsatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", rng.size))
		http.Error(w, http.StatusText(http.StatusRequestedRangeNotSatisfiable), http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if err != nil {
		h.fail(w, log, "ftp_size_failed", err)
		return
	}

	var offset int64
	limit := int64(-1)
	if ranged {
		offset, limit = rng.start, rng.length
	}

	dl, err := sess.Retrieve(ctx, remote, offset)
	if err != nil {
		h.fail(w, log, "ftp_retrieve_failed", err)
		return
	}

	// The server accepted RETR: commit status and headers.
	hdr := w.Header()
	hdr.Set("Content-Type", t.ContentType)
	if d := t.Disposition(); d != "" {
		hdr.Set("Content-Disposition", d)
	}
	status := http.StatusOK
	if ranged {
		hdr.Set("Content-Range", rng.contentRange())
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	rc := http.NewResponseController(w)
	flush := func() error {
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}
	// Headers go out now; an empty file still gets a chunked body.
	_ = flush()

	p := &pump{
		src:   ratelimit.NewReader(ctx, dl, ratelimit.New(h.maxBandwidth)),
		dst:   w,
		flush: flush,
		ring:  ring,
		prof:  prof,
		feed:  h.wdt.NewFeeder(task, h.feedBytes, 0),
		limit: limit,
	}
	n, err := p.run(ctx)

	if err == nil && ranged && n < limit {
		// Content-Range promised more than the server had.
		_ = dl.Abort()
		log.Error("transfer_unconfirmed", "bytes", n, "want", limit, "content_range", rng.contentRange())
		panic(http.ErrAbortHandler)
	}

	switch {
	case err == nil:
		// A range may stop before the server is done sending; the final
		// reply then says nothing about the bytes we relayed.
		if ranged {
			_ = dl.Abort()
		} else if ferr := dl.Finish(); ferr != nil {
			log.Warn("transfer_unconfirmed", "bytes", n, "error", ferr)
		}
		log.Info("transfer_complete",
			"status", status,
			"bytes", n,
			"size", humanize.Bytes(uint64(n)),
			"duration_ms", time.Since(start).Milliseconds())
	case errors.Is(err, ftp.ErrClientGone):
		_ = dl.Abort()
		log.Debug("client_disconnected", "bytes", n, "error", err)
	default:
		_ = dl.Abort()
		log.Error("transfer_failed", "bytes", n, "state", dl.State().String(), "error", err)
		panic(http.ErrAbortHandler)
	}
}

// resolveRange probes the file size when the request carries a Range
// header. Concurrent probes for the same path share one SIZE round trip.
func (h *Handler) resolveRange(log *slog.Logger, sess *ftp.Session, header, remote string) (byteRange, bool, error) {
	if header == "" {
		return byteRange{}, false, nil
	}
	v, err, _ := h.sizes.Do(remote, func() (any, error) {
		return sess.Size(remote)
	})
	size := int64(-1)
	switch {
	case errors.Is(err, ftp.ErrNotFound):
		return byteRange{}, false, err
	case err != nil:
		log.Debug("size_unavailable", "error", err)
	default:
		size = v.(int64)
	}
	r, ok, err := parseRange(header, size)
	if errors.Is(err, errUnsatisfiable) {
		r.size = size
	}
	return r, ok, err
}

// fail answers a request that failed before the response was committed.
func (h *Handler) fail(w http.ResponseWriter, log *slog.Logger, event string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ftp.ErrNotFound) {
		status = http.StatusNotFound
	}
	if errors.Is(err, context.Canceled) {
		log.Debug("client_disconnected", "event", event, "error", err)
	} else {
		log.Error(event, "status", status, "error", err)
	}
	http.Error(w, http.StatusText(status), status)
}

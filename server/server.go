package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Server is a small FTP server exposing one Driver.
//
// Each control connection runs in its own goroutine. Shutdown closes the
// listener and every open control and data connection.
//
//	driver, _ := server.NewFSDriver("/srv/ftp", server.WithAccount("admin", "secret"))
//	s, err := server.NewServer(":2121", server.WithDriver(driver))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	addr   string
	driver Driver
	logger *slog.Logger

	welcomeMessage string
	maxIdleTime    time.Duration
	maxConnections int
	bandwidth      int64
	settings       Settings

	// nextPassivePort rotates through the passive range.
	nextPassivePort atomic.Int32
	activeConns     atomic.Int32

	ctx    context.Context // cancelled by Shutdown
	cancel context.CancelFunc

	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	inShutdown atomic.Bool
}

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("ftp: Server closed")

// NewServer creates a server for addr (":port" or "host:port").
// WithDriver is required.
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:           addr,
		logger:         slog.Default(),
		welcomeMessage: "FTP Server Ready",
		maxIdleTime:    5 * time.Minute,
		conns:          make(map[net.Conn]struct{}),
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.driver == nil {
		return nil, errors.New("driver is required (use WithDriver option)")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.logger.Info("ftp_server_listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// Addr returns the listener address once Serve is running, or the
// configured address otherwise.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Serve accepts connections on l until Shutdown. It always returns a
// non-nil error.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	var delay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				delay = min(max(2*delay, 5*time.Millisecond), time.Second)
				s.logger.Warn("accept_error", "error", err, "retry_in", delay)
				time.Sleep(delay)
				continue
			}
			return err
		}
		delay = 0
		go s.handleConnection(conn)
	}
}

// Shutdown stops accepting connections and closes the open ones.
func (s *Server) Shutdown() error {
	s.inShutdown.Store(true)
	s.cancel()

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for conn := range conns {
		conn.Close()
	}
	return err
}

func (s *Server) handleConnection(conn net.Conn) {
	if !s.trackConnection(conn, true) {
		return
	}
	defer s.trackConnection(conn, false)

	if s.maxConnections > 0 && s.activeConns.Load() >= int32(s.maxConnections) {
		ip, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		s.logger.Warn("connection_rejected",
			"remote_ip", ip,
			"reason", "global_limit_reached",
			"limit", s.maxConnections,
		)
		fmt.Fprintf(conn, "421 Too many users, sorry.\r\n")
		conn.Close()
		return
	}
	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	newSession(s, conn).serve()
}

// trackConnection registers or forgets conn. It refuses, and closes conn,
// once the server is shutting down.
func (s *Server) trackConnection(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !add {
		delete(s.conns, conn)
		return true
	}
	if s.inShutdown.Load() {
		conn.Close()
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

// trackingConn forgets its connection on Close.
type trackingConn struct {
	net.Conn
	server *Server
}

func (c *trackingConn) Close() error {
	c.server.trackConnection(c.Conn, false)
	return c.Conn.Close()
}

package ftp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Defaults applied by Dial.
const (
	DefaultPort          = 21
	DefaultTimeout       = 5 * time.Second
	DefaultStallTimeout  = 30 * time.Second
	DefaultReceiveBuffer = 32 * 1024
	DefaultMaxReplyLine  = 512
	maxReplyLines        = 64
)

// State is the lifecycle state of a control session.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// Session is one FTP control connection.
//
// Commands are serialized; a Session runs one command or one data transfer
// at a time. Close may be called from any goroutine and more than once.
type Session struct {
	conn   net.Conn
	reader *replyReader

	hostname string
	ip       netip.Addr
	port     int

	timeout      time.Duration
	stallTimeout time.Duration
	rcvBuf       int
	maxLine      int

	logger   *slog.Logger
	dialer   *net.Dialer
	resolver *net.Resolver
	parsers  []ListingParser

	// mu protects the control channel and the fields below.
	mu          sync.Mutex
	state       State
	broken      bool
	currentType string
	active      *Download

	closeOnce sync.Once
	closeErr  error
}

// Connect dials addr, logs in and switches to binary mode. addr is "host"
// or "host:port"; the port defaults to 21. On any failure the connection is
// closed before Connect returns. No retry is attempted.
func Connect(ctx context.Context, addr, user, pass string, options ...Option) (*Session, error) {
	s, err := Dial(ctx, addr, options...)
	if err != nil {
		return nil, err
	}

	stop := s.watch(ctx)
	defer stop()

	if err := s.Login(user, pass); err != nil {
		_ = s.Close()
		return nil, ctxErr(ctx, err)
	}
	if err := s.Type("I"); err != nil {
		_ = s.Close()
		return nil, ctxErr(ctx, err)
	}
	return s, nil
}

// Dial resolves the host (IPv4 only), opens the control connection and
// waits for the 220 greeting.
func Dial(ctx context.Context, addr string, options ...Option) (*Session, error) {
	host, port, err := splitAddr(addr)
	if err != nil {
		return nil, err
	}

	s := &Session{
		hostname:     host,
		port:         port,
		timeout:      DefaultTimeout,
		stallTimeout: DefaultStallTimeout,
		rcvBuf:       DefaultReceiveBuffer,
		maxLine:      DefaultMaxReplyLine,
		logger:       slog.New(slog.DiscardHandler),
		dialer:       &net.Dialer{KeepAlive: 15 * time.Second},
		resolver:     net.DefaultResolver,
		parsers: []ListingParser{
			&EPLFParser{},
			&DOSParser{},
			&UnixParser{},
		},
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if s.ip, err = s.resolve(ctx, host); err != nil {
		return nil, err
	}
	target := netip.AddrPortFrom(s.ip, uint16(port)).String()
	s.logger.Debug("connecting to ftp server", "host", host, "addr", target)

	conn, err := s.dial(ctx, target)
	if err != nil {
		return nil, classify("connect "+target, err)
	}

	s.conn = conn
	s.reader = &replyReader{br: bufio.NewReaderSize(conn, s.maxLine), maxLines: maxReplyLines}
	s.state = StateConnected

	stop := s.watch(ctx)
	defer stop()

	resp, err := s.readReply("CONNECT")
	if err == nil && resp.Code != 220 {
		err = unexpected("CONNECT", resp)
	}
	if err != nil {
		s.abandon()
		return nil, ctxErr(ctx, err)
	}
	s.logger.Debug("ftp greeting", "code", resp.Code, "message", resp.Message)
	return s, nil
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		var ae *net.AddrError
		if errors.As(err, &ae) && strings.Contains(ae.Err, "missing port") {
			return addr, DefaultPort, nil
		}
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if portStr == "" {
		return host, DefaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	return host, port, nil
}

func (s *Session) resolve(ctx context.Context, host string) (netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		ip = ip.Unmap()
		if !ip.Is4() {
			return netip.Addr{}, fmt.Errorf("%w: %s is not an IPv4 address", ErrDNS, host)
		}
		return ip, nil
	}

	lookupCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ips, err := s.resolver.LookupNetIP(lookupCtx, "ip4", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %w", ErrDNS, host, err)
	}
	if len(ips) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: %s has no IPv4 address", ErrDNS, host)
	}
	return ips[0].Unmap(), nil
}

// dial opens a TCP connection bounded by the control timeout.
func (s *Session) dial(ctx context.Context, addr string) (net.Conn, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	conn, err := s.dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		return nil, err
	}
	tuneSocket(conn, s.rcvBuf)
	return conn, nil
}

// watch interrupts blocked control reads when ctx is cancelled.
func (s *Session) watch(ctx context.Context) func() bool {
	conn := s.conn
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
}

// ctxErr prefers the context's verdict over the I/O error it provoked.
func ctxErr(ctx context.Context, err error) error {
	switch ctx.Err() {
	case nil:
		return err
	case context.DeadlineExceeded:
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	default:
		return fmt.Errorf("ftp: %w", ctx.Err())
	}
}

// abandon closes the socket without QUIT, used when the session never got
// past the greeting.
func (s *Session) abandon() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closeErr = s.conn.Close()
		s.state = StateDisconnected
	})
}

// Login authenticates with USER and, when the server asks for it, PASS.
func (s *Session) Login(username, password string) error {
	resp, err := s.sendCommand("USER", username)
	if err != nil {
		return err
	}
	switch resp.Code {
	case 230:
	case 331:
		if _, err := s.expect("PASS", []string{password}, 230); err != nil {
			return err
		}
	default:
		return unexpected("USER", resp)
	}

	s.mu.Lock()
	s.state = StateAuthenticated
	s.mu.Unlock()
	s.logger.Debug("ftp login complete", "user", username)
	return nil
}

// Type sets the transfer type ("I" or "A"). Repeating the current type is a no-op.
func (s *Session) Type(transferType string) error {
	s.mu.Lock()
	same := s.currentType == transferType
	s.mu.Unlock()
	if same {
		return nil
	}
	if _, err := s.expect("TYPE", []string{transferType}, 200); err != nil {
		return err
	}
	s.mu.Lock()
	s.currentType = transferType
	s.mu.Unlock()
	return nil
}

// SendCommand sends a raw command and returns the reply whatever its code.
func (s *Session) SendCommand(command string, args ...string) (*Response, error) {
	return s.sendCommand(command, args...)
}

// Size returns the size of a file using SIZE. The reply must be 213.
func (s *Session) Size(path string) (int64, error) {
	resp, err := s.expect("SIZE", []string{path}, 213)
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(resp.Message), 10, 64)
	if err != nil || size < 0 {
		return 0, unexpected("SIZE", resp)
	}
	return size, nil
}

// Delete removes a file using DELE. Only 250 counts as success.
func (s *Session) Delete(path string) error {
	_, err := s.expect("DELE", []string{path}, 250)
	return err
}

// Noop sends NOOP, useful to check that the control channel is alive.
func (s *Session) Noop() error {
	_, err := s.expect("NOOP", nil, 200)
	return err
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteIP returns the resolved IPv4 address of the server.
func (s *Session) RemoteIP() netip.Addr { return s.ip }

// Close sends QUIT when the control channel is still healthy and closes the
// connection. An in-flight data transfer is torn down first. Close is
// idempotent and returns the same result on every call.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		active := s.active
		s.mu.Unlock()
		if active != nil {
			active.closeData()
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.broken && s.state != StateDisconnected {
			quit := time.Second
			if s.timeout > 0 {
				quit = min(s.timeout, quit)
			}
			_ = s.conn.SetDeadline(time.Now().Add(quit))
			if _, err := s.conn.Write([]byte("QUIT\r\n")); err == nil {
				_, _ = s.reader.read()
			}
		}
		s.closeErr = s.conn.Close()
		s.state = StateDisconnected
		s.logger.Debug("ftp session closed", "host", s.hostname)
	})
	return s.closeErr
}

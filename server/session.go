package server

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

// MaxCommandLength is the longest command line accepted, CRLF included.
const MaxCommandLength = 4096

var errCommandTooLong = errors.New("command too long")

// session is one control connection. Commands are handled one at a time
// on the connection's goroutine, so its fields need no locking.
type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	ctx    context.Context
	cancel context.CancelFunc

	sessionID string
	remoteIP  string

	user          string
	fs            ClientContext // nil until PASS succeeds
	renameFrom    string
	restartOffset int64
	pasvList      net.Listener
}

type handler func(*session, string)

// commandHandlers lists every command accepted after login.
var commandHandlers = map[string]handler{
	"SYST": (*session).handleSYST,
	"FEAT": (*session).handleFEAT,
	"OPTS": (*session).handleOPTS,
	"TYPE": (*session).handleTYPE,

	"PWD":  (*session).handlePWD,
	"CWD":  (*session).handleCWD,
	"CDUP": (*session).handleCDUP,
	"MKD":  (*session).handleMKD,
	"RMD":  (*session).handleRMD,
	"DELE": (*session).handleDELE,
	"RNFR": (*session).handleRNFR,
	"RNTO": (*session).handleRNTO,
	"SIZE": (*session).handleSIZE,
	"MDTM": (*session).handleMDTM,

	"PASV": (*session).handlePASV,
	"EPSV": (*session).handleEPSV,
	"REST": (*session).handleREST,
	"LIST": (*session).handleLIST,
	"NLST": (*session).handleNLST,
	"RETR": (*session).handleRETR,
	"STOR": (*session).handleSTOR,
}

// preLogin may run before authentication.
var preLogin = map[string]bool{
	"USER": true, "PASS": true, "QUIT": true, "NOOP": true,
	"SYST": true, "FEAT": true, "OPTS": true,
}

func generateSessionID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%08x", b)
}

func newSession(server *Server, conn net.Conn) *session {
	remoteIP, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		remoteIP = conn.RemoteAddr().String()
	}
	ctx, cancel := context.WithCancel(server.ctx)
	return &session{
		server:    server,
		conn:      conn,
		reader:    bufio.NewReaderSize(conn, 512),
		writer:    bufio.NewWriter(conn),
		ctx:       ctx,
		cancel:    cancel,
		sessionID: generateSessionID(),
		remoteIP:  remoteIP,
	}
}

func (s *session) serve() {
	defer s.close()

	s.reply(220, s.server.welcomeMessage)
	s.server.logger.Info("session_started",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
	)

	for {
		if s.server.maxIdleTime > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.server.maxIdleTime))
		}
		line, err := s.readCommand()
		if err != nil {
			switch {
			case errors.Is(err, errCommandTooLong):
				s.reply(500, "Command line too long.")
			case errors.Is(err, os.ErrDeadlineExceeded):
				s.reply(421, "Idle timeout, closing control connection.")
				s.server.logger.Info("session_idle_timeout", "session_id", s.sessionID)
			case !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed):
				s.server.logger.Warn("read_error",
					"session_id", s.sessionID,
					"remote_ip", s.remoteIP,
					"error", err,
				)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Time{})
		if !s.handleCommand(line) {
			return
		}
	}
}

// readCommand returns one line without its terminator.
func (s *session) readCommand() (string, error) {
	var line []byte
	for {
		frag, err := s.reader.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > MaxCommandLength {
			return "", errCommandTooLong
		}
		if err == nil {
			return strings.TrimRight(string(line), "\r\n"), nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return "", err
		}
	}
}

func (s *session) close() {
	s.cancel()
	if s.fs != nil {
		s.fs.Close()
	}
	if s.pasvList != nil {
		s.pasvList.Close()
	}
	s.conn.Close()
	s.server.logger.Debug("session_closed",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
	)
}

// handleCommand dispatches line and reports whether the session goes on.
func (s *session) handleCommand(line string) bool {
	if line == "" {
		return true
	}
	cmd, arg, _ := strings.Cut(line, " ")
	cmd = strings.ToUpper(cmd)

	logArg := arg
	if cmd == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command_received",
		"session_id", s.sessionID,
		"user", s.user,
		"cmd", cmd,
		"arg", logArg,
	)

	if s.fs == nil && !preLogin[cmd] {
		if _, known := commandHandlers[cmd]; known {
			s.reply(530, "Please login with USER and PASS.")
			return true
		}
	}

	switch cmd {
	case "QUIT":
		s.reply(221, "Service closing control connection.")
		return false
	case "NOOP":
		s.reply(200, "OK.")
	case "USER":
		s.handleUSER(arg)
	case "PASS":
		s.handlePASS(arg)
	default:
		h, ok := commandHandlers[cmd]
		if !ok {
			s.reply(502, "Command not implemented.")
			return true
		}
		h(s, arg)
	}
	return true
}

// replyError maps a driver error to a 550 reply.
func (s *session) replyError(err error) {
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.reply(550, "File not found.")
	case errors.Is(err, os.ErrPermission):
		s.reply(550, "Permission denied.")
	case errors.Is(err, os.ErrExist):
		s.reply(550, "File already exists.")
	default:
		s.reply(550, "Requested action not taken.")
		s.server.logger.Debug("action_failed", "session_id", s.sessionID, "error", err)
	}
}

func (s *session) reply(code int, message string) {
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	_ = s.writer.Flush()
}

// replyLines sends a multi-line reply: code-first, body lines, code last.
func (s *session) replyLines(code int, first string, lines []string, last string) {
	fmt.Fprintf(s.writer, "%d-%s\r\n", code, first)
	for _, l := range lines {
		fmt.Fprintf(s.writer, " %s\r\n", l)
	}
	fmt.Fprintf(s.writer, "%d %s\r\n", code, last)
	_ = s.writer.Flush()
}

package ftp

import (
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockServer provides a simple way to script server responses.
type mockServer struct {
	t        *testing.T
	listener net.Listener
	addr     string

	// banner is sent on accept; an empty banner sends nothing.
	banner string

	// handlers override the default reply for a command.
	handlers map[string]func(conn *textproto.Conn, args string)

	// dataListener backs PASV replies.
	dataListener net.Listener

	mu       sync.Mutex
	received []string

	// clientGone is closed when the client closes the control connection.
	clientGone chan struct{}
	done       chan struct{}
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return &mockServer{
		t:          t,
		listener:   l,
		addr:       l.Addr().String(),
		banner:     "220 Service ready",
		handlers:   make(map[string]func(*textproto.Conn, string)),
		clientGone: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// pasvReply opens the data listener and returns a 227 reply naming it,
// using host as the announced address.
func (s *mockServer) pasvReply(host string) string {
	s.t.Helper()
	if s.dataListener == nil {
		l, err := net.Listen("tcp4", "127.0.0.1:0")
		if err != nil {
			s.t.Fatal(err)
		}
		s.dataListener = l
	}
	port := s.dataListener.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("227 Entering Passive Mode (%s,%d,%d).",
		strings.ReplaceAll(host, ".", ","), port/256, port%256)
}

// enablePASV installs a PASV handler announcing 127.0.0.1.
func (s *mockServer) enablePASV() {
	reply := s.pasvReply("127.0.0.1")
	s.handlers["PASV"] = func(c *textproto.Conn, _ string) {
		_ = c.PrintfLine("%s", reply)
	}
}

// acceptData accepts the next data connection.
func (s *mockServer) acceptData() net.Conn {
	if tl, ok := s.dataListener.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(5 * time.Second))
	}
	conn, err := s.dataListener.Accept()
	if err != nil {
		s.t.Errorf("mock server failed to accept data conn: %v", err)
		return nil
	}
	return conn
}

// serveFile installs a RETR handler that sends payload and then final.
func (s *mockServer) serveFile(payload []byte, final string) {
	s.handlers["RETR"] = func(c *textproto.Conn, _ string) {
		_ = c.PrintfLine("150 Opening BINARY mode data connection.")
		dconn := s.acceptData()
		if dconn == nil {
			return
		}
		_, _ = dconn.Write(payload)
		dconn.Close()
		_ = c.PrintfLine("%s", final)
	}
}

func (s *mockServer) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *mockServer) start() {
	go func() {
		defer close(s.done)
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer close(s.clientGone)

		if s.banner != "" {
			fmt.Fprintf(conn, "%s\r\n", s.banner)
		}

		textConn := textproto.NewConn(conn)
		for {
			line, err := textConn.ReadLine()
			if err != nil {
				return
			}

			cmd, args, _ := strings.Cut(line, " ")
			cmd = strings.ToUpper(cmd)

			s.mu.Lock()
			s.received = append(s.received, cmd)
			s.mu.Unlock()

			if handler, ok := s.handlers[cmd]; ok {
				handler(textConn, args)
				continue
			}
			switch cmd {
			case "USER":
				_ = textConn.PrintfLine("331 User name okay, need password.")
			case "PASS":
				_ = textConn.PrintfLine("230 User logged in, proceed.")
			case "QUIT":
				_ = textConn.PrintfLine("221 Service closing control connection.")
				// Wait for the client to hang up so clientGone reflects its close.
				_, _ = io.Copy(io.Discard, conn)
				return
			case "TYPE":
				_ = textConn.PrintfLine("200 Command okay.")
			case "NOOP":
				_ = textConn.PrintfLine("200 NOOP ok.")
			default:
				_ = textConn.PrintfLine("502 Command not implemented.")
			}
		}
	}()
}

func (s *mockServer) stop() {
	s.listener.Close()
	if s.dataListener != nil {
		s.dataListener.Close()
	}
	<-s.done
}

// waitClientGone fails the test if the client keeps the control connection open.
func (s *mockServer) waitClientGone(t *testing.T) {
	t.Helper()
	select {
	case <-s.clientGone:
	case <-time.After(3 * time.Second):
		t.Fatal("client did not close the control connection")
	}
}

package ftp

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Response represents an FTP server reply.
type Response struct {
	// Code is the three-digit reply code (e.g., 220, 550)
	Code int

	// Message is the text after the code; multi-line replies are joined with "\n".
	Message string

	// Lines contains all raw lines of the reply, without CRLF.
	Lines []string
}

// Is1xx reports a positive preliminary reply.
func (r *Response) Is1xx() bool { return r.Code >= 100 && r.Code < 200 }

// Is2xx reports a positive completion reply.
func (r *Response) Is2xx() bool { return r.Code >= 200 && r.Code < 300 }

// String returns the full reply as received.
func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

// replyReader reads FTP replies through a fixed-size buffer. A line that does
// not fit the buffer fails with ErrReplyTooLong rather than growing memory.
type replyReader struct {
	br       *bufio.Reader
	maxLines int
}

func (rr *replyReader) readLine() (string, error) {
	b, err := rr.br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", fmt.Errorf("%w (limit %d bytes)", ErrReplyTooLong, rr.br.Size())
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// read reads one complete reply.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"220-Welcome to FTP\r\n"
//	"220-This is line 2\r\n"
//	"220 Ready\r\n"
//
// The reply is complete when a line starts with the code followed by a space.
func (rr *replyReader) read() (*Response, error) {
	line, err := rr.readLine()
	if err != nil {
		return nil, err
	}
	code, sep, err := splitReplyLine(line)
	if err != nil {
		return nil, err
	}

	lines := []string{line}
	if sep == ' ' {
		var msg string
		if len(line) > 4 {
			msg = line[4:]
		}
		return &Response{Code: code, Message: msg, Lines: lines}, nil
	}

	prefix := line[:3]
	for {
		if rr.maxLines > 0 && len(lines) >= rr.maxLines {
			return nil, fmt.Errorf("%w: more than %d lines", ErrReplyTooLong, rr.maxLines)
		}
		next, err := rr.readLine()
		if err != nil {
			return nil, err
		}
		lines = append(lines, next)
		if len(next) >= 4 && next[:3] == prefix && next[3] == ' ' {
			break
		}
	}

	msg := make([]string, 0, len(lines))
	for _, l := range lines {
		if len(l) >= 4 && l[:3] == prefix && (l[3] == ' ' || l[3] == '-') {
			msg = append(msg, l[4:])
		} else {
			msg = append(msg, strings.TrimLeft(l, " "))
		}
	}
	return &Response{Code: code, Message: strings.Join(msg, "\n"), Lines: lines}, nil
}

func splitReplyLine(line string) (int, byte, error) {
	if len(line) < 3 {
		return 0, 0, &ProtocolError{Command: "REPLY", Response: line}
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil || code < 100 || code > 599 {
		return 0, 0, &ProtocolError{Command: "REPLY", Response: line}
	}
	if len(line) == 3 {
		return code, ' ', nil
	}
	if line[3] != ' ' && line[3] != '-' {
		return 0, 0, &ProtocolError{Command: "REPLY", Response: line, Code: code}
	}
	return code, line[3], nil
}

// formatCommand builds the wire form of a command, refusing embedded line
// breaks that would smuggle a second command onto the control channel.
func formatCommand(command string, args ...string) (string, error) {
	cmd := command
	if len(args) > 0 {
		cmd = command + " " + strings.Join(args, " ")
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return "", fmt.Errorf("ftp: %s: argument contains a line break", command)
	}
	return cmd, nil
}

// sendCommand writes one command and reads its reply.
func (s *Session) sendCommand(command string, args ...string) (*Response, error) {
	cmd, err := formatCommand(command, args...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return nil, ErrClosed
	}
	if s.broken {
		return nil, fmt.Errorf("%w: control channel unusable after earlier failure", ErrSocket)
	}

	if command == "PASS" {
		s.logger.Debug("ftp command", "cmd", "PASS ****")
	} else {
		s.logger.Debug("ftp command", "cmd", cmd)
	}

	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, s.fail("set write deadline", err)
		}
	}
	if _, err := s.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return nil, s.fail("send "+command, err)
	}

	return s.readReplyLocked(command)
}

// readReply reads a reply that was not triggered by a new command, such as
// the final reply after a data transfer.
func (s *Session) readReply(op string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return nil, ErrClosed
	}
	if s.broken {
		return nil, fmt.Errorf("%w: control channel unusable after earlier failure", ErrSocket)
	}
	return s.readReplyLocked(op)
}

func (s *Session) readReplyLocked(op string) (*Response, error) {
	if s.timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, s.fail("set read deadline", err)
		}
	}
	resp, err := s.reader.read()
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			s.broken = true
			pe.Command = op
			return nil, pe
		}
		return nil, s.fail("read "+op+" reply", err)
	}
	s.logger.Debug("ftp response", "code", resp.Code, "message", resp.Message)
	return resp, nil
}

// fail marks the control channel unusable and classifies err.
// It must be called with mu held.
func (s *Session) fail(op string, err error) error {
	s.broken = true
	return classify(op, err)
}

// expect sends a command and requires one of the given reply codes.
func (s *Session) expect(command string, args []string, codes ...int) (*Response, error) {
	resp, err := s.sendCommand(command, args...)
	if err != nil {
		return nil, err
	}
	for _, c := range codes {
		if resp.Code == c {
			return resp, nil
		}
	}
	return resp, unexpected(command, resp)
}

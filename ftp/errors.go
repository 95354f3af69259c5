package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Failure classes reported by Session and Download. Match them with errors.Is;
// the concrete error usually wraps the underlying network error as well.
var (
	// ErrDNS means the FTP host name could not be resolved to an IPv4 address.
	ErrDNS = errors.New("ftp: host lookup failed")

	// ErrSocket means a TCP connection could not be established or was reset.
	ErrSocket = errors.New("ftp: socket error")

	// ErrTimeout means a control reply or data read did not arrive in time.
	ErrTimeout = errors.New("ftp: timeout")

	// ErrClientGone means the downstream consumer stopped accepting bytes.
	ErrClientGone = errors.New("ftp: client disconnected")

	// ErrNotFound means the server rejected a path with 550.
	ErrNotFound = errors.New("ftp: file not found")

	// ErrReplyTooLong means a control reply line exceeded the reply buffer.
	ErrReplyTooLong = errors.New("ftp: reply line too long")

	// ErrClosed means the session was already closed.
	ErrClosed = errors.New("ftp: session closed")

	// ErrUploadIncomplete means STOR was cut short after the server accepted
	// it. The server may still hold a partial file under the target name.
	ErrUploadIncomplete = errors.New("ftp: upload incomplete")
)

// ProtocolError represents an FTP protocol error with full context of the
// command/response conversation.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "RETR"), or CONNECT for the greeting.
	Command string

	// Response is the raw response received from the server (e.g., "550 No such file")
	Response string

	// Code is the numeric FTP response code (e.g., 550). It is 0 when the
	// reply could not be parsed at all.
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// Is lets errors.Is(err, ErrNotFound) match a 550 reply.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrNotFound && e.Code == 550
}

// IsTemporary returns true if the error is a temporary failure (4xx).
func (e *ProtocolError) IsTemporary() bool {
	return e.Code >= 400 && e.Code < 500
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Code >= 500 && e.Code < 600
}

func unexpected(cmd string, resp *Response) *ProtocolError {
	return &ProtocolError{Command: cmd, Response: resp.Message, Code: resp.Code}
}

// classify wraps a network error with the matching failure class.
// Cancellation passes through so callers can tell it apart from a timeout.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrSocket), errors.Is(err, ErrReplyTooLong):
		return err
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("ftp: %s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrSocket, op, err)
}

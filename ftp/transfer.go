package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
)

// TransferState tracks a data transfer through its lifecycle.
type TransferState int

const (
	TransferIdle TransferState = iota
	TransferControlConnected
	TransferPasvNegotiated
	TransferDataConnected
	TransferStreaming
	TransferCompleted
	TransferFailed
)

func (t TransferState) String() string {
	return [...]string{
		"idle", "control_connected", "pasv_negotiated", "data_connected",
		"streaming", "completed", "failed",
	}[t]
}

// Download is an in-progress RETR. Read streams the file; Finish or Abort
// must be called exactly once the caller is done, and both are idempotent.
type Download struct {
	s    *Session
	ctx  context.Context
	conn net.Conn
	stop func() bool

	mu    sync.Mutex
	state TransferState
	n     int64

	closeOnce sync.Once
	endOnce   sync.Once
	endErr    error
	final     *Response
}

// Retrieve starts downloading path, skipping offset bytes when offset > 0.
// The sequence is PASV, data connect, REST (expects 350) and RETR (expects
// 150 or 125). Cancelling ctx closes the data connection.
func (s *Session) Retrieve(ctx context.Context, path string, offset int64) (*Download, error) {
	d := &Download{s: s, ctx: ctx, state: TransferIdle}
	failed := func(err error) (*Download, error) {
		s.logger.Debug("ftp download failed", "path", path, "state", d.State().String(), "error", err)
		d.setState(TransferFailed)
		return nil, err
	}

	if err := s.Type("I"); err != nil {
		return failed(err)
	}
	d.setState(TransferControlConnected)

	var rest []string
	if offset > 0 {
		rest = []string{strconv.FormatInt(offset, 10)}
	}
	conn, err := s.openData(ctx, d.setState, "RETR", []string{path}, rest)
	if err != nil {
		return failed(err)
	}

	d.conn = conn
	d.stop = context.AfterFunc(ctx, d.closeData)
	d.setState(TransferStreaming)

	s.mu.Lock()
	s.active = d
	s.mu.Unlock()
	return d, nil
}

// Read reads file bytes from the data channel. A stall longer than the
// session's stall timeout fails with ErrTimeout; io.EOF marks a complete file.
func (d *Download) Read(p []byte) (int, error) {
	n, err := d.conn.Read(p)
	if n > 0 {
		d.mu.Lock()
		d.n += int64(n)
		d.mu.Unlock()
	}
	if err == nil || err == io.EOF {
		return n, err
	}
	if d.ctx.Err() != nil {
		return n, ctxErr(d.ctx, err)
	}
	return n, classify("read data", err)
}

// Bytes returns the number of bytes read so far.
func (d *Download) Bytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// State returns the current transfer state.
func (d *Download) State() TransferState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Reply returns the final transfer reply once Finish or Abort has read it.
func (d *Download) Reply() *Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.final
}

// Finish closes the data connection and reads the final reply, which must
// be 226 or 250.
func (d *Download) Finish() error {
	d.end(true)
	return d.endErr
}

// Abort closes the data connection and drains the final reply without
// judging it. The transfer is marked failed.
func (d *Download) Abort() error {
	d.end(false)
	return d.endErr
}

func (d *Download) end(judge bool) {
	d.endOnce.Do(func() {
		d.stop()
		d.closeData()

		d.s.mu.Lock()
		if d.s.active == d {
			d.s.active = nil
		}
		d.s.mu.Unlock()

		resp, err := d.s.readReply("RETR")
		d.mu.Lock()
		d.final = resp
		d.mu.Unlock()

		switch {
		case !judge:
			d.setState(TransferFailed)
		case err != nil:
			d.endErr = err
			d.setState(TransferFailed)
		case resp.Code != 226 && resp.Code != 250:
			d.endErr = unexpected("RETR", resp)
			d.setState(TransferFailed)
		default:
			d.setState(TransferCompleted)
		}
		d.s.logger.Debug("ftp download finished", "bytes", d.Bytes(), "state", d.State().String())
	})
}

func (d *Download) closeData() {
	d.closeOnce.Do(func() {
		if d.conn != nil {
			_ = d.conn.Close()
		}
	})
}

func (d *Download) setState(st TransferState) {
	d.mu.Lock()
	d.state = st
	d.mu.Unlock()
}

// Store uploads r to path with STOR and returns the number of bytes sent.
// When reading r or writing the data channel fails midway, the data
// connection is reset and the error matches ErrUploadIncomplete.
func (s *Session) Store(ctx context.Context, path string, r io.Reader) (int64, error) {
	if err := s.Type("I"); err != nil {
		return 0, err
	}
	conn, err := s.openData(ctx, nil, "STOR", []string{path}, nil)
	if err != nil {
		return 0, err
	}

	var once sync.Once
	closeConn := func() { once.Do(func() { _ = conn.Close() }) }
	stop := context.AfterFunc(ctx, closeConn)

	n, copyErr := io.Copy(conn, r)
	stop()
	if copyErr != nil {
		resetOnClose(conn)
	}
	closeConn()

	resp, finErr := s.readReply("STOR")
	if copyErr != nil {
		if ctx.Err() != nil {
			copyErr = ctxErr(ctx, copyErr)
		} else {
			copyErr = classify("write data", copyErr)
		}
		return n, fmt.Errorf("%w after %d bytes: %w", ErrUploadIncomplete, n, copyErr)
	}
	if finErr != nil {
		return n, finErr
	}
	if resp.Code != 226 && resp.Code != 250 {
		return n, unexpected("STOR", resp)
	}
	s.logger.Debug("ftp upload finished", "path", path, "bytes", n)
	return n, nil
}

// openData negotiates a passive data connection and issues cmd.
// When rest is non-empty, REST is sent between the data connect and cmd.
// progress, when non-nil, observes the intermediate states.
func (s *Session) openData(ctx context.Context, progress func(TransferState), cmd string, args, rest []string) (net.Conn, error) {
	step := func(st TransferState) {
		if progress != nil {
			progress(st)
		}
	}

	if err := s.idle(); err != nil {
		return nil, err
	}
	resp, err := s.sendCommand("PASV")
	if err != nil {
		return nil, err
	}
	if resp.Code != 227 {
		return nil, unexpected("PASV", resp)
	}
	dc, err := ParsePASV(resp.String())
	if err != nil {
		return nil, err
	}
	if dc.IP.IsUnspecified() {
		dc.IP = s.ip
	}
	step(TransferPasvNegotiated)

	conn, err := s.dial(ctx, dc.Addr())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctxErr(ctx, err)
		}
		return nil, classify("connect data "+dc.Addr(), err)
	}
	if s.stallTimeout > 0 {
		conn = &deadlineConn{Conn: conn, timeout: s.stallTimeout}
	}
	step(TransferDataConnected)

	if len(rest) > 0 {
		if _, err := s.expect("REST", rest, 350); err != nil {
			conn.Close()
			return nil, err
		}
	}

	resp, err = s.sendCommand(cmd, args...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if resp.Code != 150 && resp.Code != 125 {
		conn.Close()
		return nil, unexpected(cmd, resp)
	}
	return conn, nil
}

// errTransferInProgress guards against issuing commands mid-transfer.
var errTransferInProgress = errors.New("ftp: a data transfer is in progress")

func (s *Session) idle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return errTransferInProgress
	}
	return nil
}

package ftp

import (
	"net"
	"time"
)

// deadlineConn wraps a data connection and arms a fresh deadline before every
// operation, so the timeout measures a stall rather than the whole transfer.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// tuneSocket enables keep-alive and sizes the receive buffer. Failures are
// ignored; the connection still works with system defaults.
func tuneSocket(c net.Conn, rcvBuf int) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetKeepAlive(true)
	if rcvBuf > 0 {
		_ = tc.SetReadBuffer(rcvBuf)
	}
}

// resetOnClose makes the next Close send a TCP reset instead of a FIN, so the
// server sees a failed transfer rather than the end of the file.
func resetOnClose(c net.Conn) {
	if dc, ok := c.(*deadlineConn); ok {
		c = dc.Conn
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
}

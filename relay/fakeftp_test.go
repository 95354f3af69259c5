package relay

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeFTP is a scripted multi-connection FTP server holding files in memory.
type fakeFTP struct {
	t    *testing.T
	ln   net.Listener
	addr string

	// banner is sent on accept; an empty banner sends nothing and waits
	// for the client to hang up.
	banner string

	// deleteReply, when set, answers every DELE.
	deleteReply string

	// noSize makes SIZE unsupported.
	noSize bool

	mu      sync.Mutex
	files   map[string][]byte
	endless map[string]bool // stream until the client closes the data channel
	stall   map[string]bool // send the file, then go quiet with the data channel open
	cmds    []string

	accepted atomic.Int32
	closed   chan struct{} // one value per finished control connection
}

func newFakeFTP(t *testing.T) *fakeFTP {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeFTP{
		t:       t,
		ln:      ln,
		addr:    ln.Addr().String(),
		banner:  "220 fake ready",
		files:   make(map[string][]byte),
		endless: make(map[string]bool),
		stall:   make(map[string]bool),
		closed:  make(chan struct{}, 64),
	}
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeFTP) put(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = data
}

func (f *fakeFTP) file(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[name]
	return data, ok
}

func (f *fakeFTP) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func (f *fakeFTP) start() {
	go func() {
		for {
			conn, err := f.ln.Accept()
			if err != nil {
				return
			}
			f.accepted.Add(1)
			go f.serve(conn)
		}
	}()
}

// waitClosed waits until n control connections have been closed.
func (f *fakeFTP) waitClosed(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-f.closed:
		case <-time.After(5 * time.Second):
			t.Fatal("control connection was not closed")
		}
	}
}

func (f *fakeFTP) serve(conn net.Conn) {
	defer func() {
		conn.Close()
		f.closed <- struct{}{}
	}()

	if f.banner == "" {
		_, _ = io.Copy(io.Discard, conn)
		return
	}

	tc := textproto.NewConn(conn)
	_ = tc.PrintfLine("%s", f.banner)

	var dataLn net.Listener
	defer func() {
		if dataLn != nil {
			dataLn.Close()
		}
	}()
	var offset int64

	for {
		line, err := tc.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")
		cmd = strings.ToUpper(cmd)
		f.mu.Lock()
		f.cmds = append(f.cmds, cmd)
		f.mu.Unlock()

		switch cmd {
		case "USER":
			_ = tc.PrintfLine("331 Password required")
		case "PASS":
			_ = tc.PrintfLine("230 Logged in")
		case "TYPE", "NOOP":
			_ = tc.PrintfLine("200 OK")
		case "QUIT":
			_ = tc.PrintfLine("221 Bye")
			return
		case "PASV":
			if dataLn != nil {
				dataLn.Close()
			}
			if dataLn, err = net.Listen("tcp4", "127.0.0.1:0"); err != nil {
				_ = tc.PrintfLine("425 Cannot open data connection")
				continue
			}
			port := dataLn.Addr().(*net.TCPAddr).Port
			_ = tc.PrintfLine("227 Entering Passive Mode (127,0,0,1,%d,%d)", port/256, port%256)
		case "REST":
			offset, _ = strconv.ParseInt(arg, 10, 64)
			_ = tc.PrintfLine("350 Restarting at %d", offset)
		case "SIZE":
			if f.noSize {
				_ = tc.PrintfLine("502 Command not implemented")
			} else if data, ok := f.file(arg); ok {
				_ = tc.PrintfLine("213 %d", len(data))
			} else {
				_ = tc.PrintfLine("550 No such file")
			}
		case "RETR":
			f.retr(tc, dataLn, arg, offset)
			offset = 0
		case "STOR":
			_ = tc.PrintfLine("150 Ready to receive")
			dc := acceptData(dataLn)
			if dc == nil {
				_ = tc.PrintfLine("425 No data connection")
				continue
			}
			// Like real servers, keep whatever arrived even when the
			// transfer broke off.
			data, err := io.ReadAll(dc)
			dc.Close()
			f.put(arg, data)
			if err != nil {
				_ = tc.PrintfLine("426 Connection closed; transfer aborted")
				continue
			}
			_ = tc.PrintfLine("226 Transfer complete")
		case "LIST":
			_ = tc.PrintfLine("150 Here comes the listing")
			dc := acceptData(dataLn)
			if dc == nil {
				_ = tc.PrintfLine("425 No data connection")
				continue
			}
			fmt.Fprintf(dc, "drwxr-xr-x    2 owner    group        4096 Jan 01 12:00 subdir\r\n")
			for _, name := range f.names() {
				data, _ := f.file(name)
				fmt.Fprintf(dc, "-rw-r--r--    1 owner    group    %8d Jan 01 12:00 %s\r\n", len(data), strings.TrimPrefix(name, "/"))
			}
			dc.Close()
			_ = tc.PrintfLine("226 Directory send OK")
		case "DELE":
			switch {
			case f.deleteReply != "":
				_ = tc.PrintfLine("%s", f.deleteReply)
			case f.remove(arg):
				_ = tc.PrintfLine("250 Deleted")
			default:
				_ = tc.PrintfLine("550 No such file")
			}
		default:
			_ = tc.PrintfLine("502 Not implemented")
		}
	}
}

func (f *fakeFTP) retr(tc *textproto.Conn, dataLn net.Listener, name string, offset int64) {
	data, ok := f.file(name)
	if !ok {
		_ = tc.PrintfLine("550 No such file")
		return
	}
	f.mu.Lock()
	endless, stall := f.endless[name], f.stall[name]
	f.mu.Unlock()

	_ = tc.PrintfLine("150 Opening BINARY mode data connection")
	dc := acceptData(dataLn)
	if dc == nil {
		_ = tc.PrintfLine("425 No data connection")
		return
	}
	defer dc.Close()

	switch {
	case endless:
		for {
			if _, err := dc.Write(data); err != nil {
				break
			}
		}
		_ = tc.PrintfLine("426 Connection closed; transfer aborted")
	case stall:
		_, _ = dc.Write(data[offset:])
		// Block until the client gives up on the data channel.
		_, _ = io.Copy(io.Discard, dc)
		_ = tc.PrintfLine("426 Connection closed; transfer aborted")
	default:
		_, _ = io.Copy(dc, bytes.NewReader(data[min(offset, int64(len(data))):]))
		dc.Close()
		_ = tc.PrintfLine("226 Transfer complete")
	}
}

func (f *fakeFTP) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.files))
	for name := range f.files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (f *fakeFTP) remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[name]; !ok {
		return false
	}
	delete(f.files, name)
	return true
}

func acceptData(ln net.Listener) net.Conn {
	if ln == nil {
		return nil
	}
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(5 * time.Second))
	}
	conn, err := ln.Accept()
	if err != nil {
		return nil
	}
	return conn
}

// logBuffer collects log output from concurrent handlers.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

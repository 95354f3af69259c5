package server

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gonzalop/ftpbridge/internal/ratelimit"
)

// dataAcceptTimeout bounds the wait for the client to dial the passive port.
const dataAcceptTimeout = 10 * time.Second

func (s *session) handleREST(arg string) {
	offset, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || offset < 0 {
		s.reply(501, "Invalid offset.")
		return
	}
	s.restartOffset = offset
	s.reply(350, fmt.Sprintf("Restarting at %d. Send STOR or RETR to initiate transfer.", offset))
}

// takeOffset returns the pending REST offset and clears it.
func (s *session) takeOffset() int64 {
	off := s.restartOffset
	s.restartOffset = 0
	return off
}

func (s *session) handleRETR(path string) {
	offset := s.takeOffset()

	file, err := s.fs.OpenFile(path, os.O_RDONLY)
	if err != nil {
		s.replyError(err)
		return
	}
	defer file.Close()

	if info, err := s.fs.GetFileInfo(path); err == nil && info.IsDir() {
		s.reply(550, "Not a plain file.")
		return
	}
	if offset > 0 {
		seeker, ok := file.(io.Seeker)
		if !ok {
			s.reply(550, "Resume not supported for this file.")
			return
		}
		if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
			s.replyError(err)
			return
		}
	}

	s.transfer("RETR", path, offset, file, nil)
}

func (s *session) handleSTOR(path string) {
	offset := s.takeOffset()

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if offset > 0 {
		flags = os.O_WRONLY | os.O_CREATE
	}
	file, err := s.fs.OpenFile(path, flags)
	if err != nil {
		s.replyError(err)
		return
	}
	defer file.Close()

	if offset > 0 {
		seeker, ok := file.(io.Seeker)
		if !ok {
			s.reply(550, "Resume not supported for this file.")
			return
		}
		if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
			s.replyError(err)
			return
		}
	}

	s.transfer("STOR", path, offset, nil, file)
}

// transfer copies src to the data connection (RETR) or the data connection
// to dst (STOR), paced by the server's bandwidth limit.
func (s *session) transfer(op, path string, offset int64, src io.Reader, dst io.Writer) {
	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer conn.Close()

	if offset > 0 {
		s.reply(150, fmt.Sprintf("Opening data connection for %s (restarting at %d).", op, offset))
	} else {
		s.reply(150, "Opening data connection for "+op+".")
	}

	limiter := ratelimit.New(s.server.bandwidth)
	if src == nil {
		src = ratelimit.NewReader(s.ctx, conn, limiter)
	} else {
		dst = ratelimit.NewWriter(s.ctx, conn, limiter)
	}

	start := time.Now()
	n, err := io.Copy(dst, src)
	if err != nil {
		s.server.logger.Warn("transfer_failed",
			"session_id", s.sessionID,
			"operation", op,
			"path", path,
			"bytes", n,
			"error", err,
		)
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}
	duration := time.Since(start)
	s.server.logger.Info("transfer_complete",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"operation", op,
		"path", path,
		"bytes", n,
		"duration_ms", duration.Milliseconds(),
	)
	s.reply(226, "Transfer complete.")
}

func (s *session) connData() (net.Conn, error) {
	ln := s.pasvList
	if ln == nil {
		return nil, fmt.Errorf("no data connection setup")
	}
	s.pasvList = nil
	defer ln.Close()

	if t, ok := ln.(*net.TCPListener); ok {
		_ = t.SetDeadline(time.Now().Add(dataAcceptTimeout))
	}
	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	if !s.server.trackConnection(conn, true) {
		return nil, ErrServerClosed
	}
	return &trackingConn{Conn: conn, server: s.server}, nil
}

func (s *session) listenPassive() (net.Listener, error) {
	if s.pasvList != nil {
		s.pasvList.Close()
		s.pasvList = nil
	}
	host, _, _ := net.SplitHostPort(s.conn.LocalAddr().String())

	set := s.server.settings
	if set.PasvMinPort <= 0 || set.PasvMaxPort < set.PasvMinPort {
		return net.Listen("tcp", net.JoinHostPort(host, "0"))
	}
	span := int32(set.PasvMaxPort - set.PasvMinPort + 1)
	first := s.server.nextPassivePort.Add(1)
	for i := range span {
		port := set.PasvMinPort + int((first+i)%span)
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
	}
	return nil, fmt.Errorf("no available ports in range [%d, %d]", set.PasvMinPort, set.PasvMaxPort)
}

// pasvHost returns the IPv4 address to advertise in a PASV reply.
func (s *session) pasvHost() net.IP {
	host, _, _ := net.SplitHostPort(s.conn.LocalAddr().String())
	if s.server.settings.PublicHost != "" {
		host = s.server.settings.PublicHost
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.To4()
	}
	ips, err := net.DefaultResolver.LookupIP(s.ctx, "ip4", host)
	if err != nil || len(ips) == 0 {
		return nil
	}
	return ips[0].To4()
}

func (s *session) handlePASV(_ string) {
	ip := s.pasvHost()
	if ip == nil {
		s.reply(425, "Can't open passive connection, use EPSV.")
		return
	}
	ln, err := s.listenPassive()
	if err != nil {
		s.server.logger.Warn("passive_listen_failed", "session_id", s.sessionID, "error", err)
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.pasvList = ln

	port := ln.Addr().(*net.TCPAddr).Port
	s.reply(227, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d).",
		ip[0], ip[1], ip[2], ip[3], port/256, port%256))
}

func (s *session) handleEPSV(_ string) {
	ln, err := s.listenPassive()
	if err != nil {
		s.server.logger.Warn("passive_listen_failed", "session_id", s.sessionID, "error", err)
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.pasvList = ln
	s.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", ln.Addr().(*net.TCPAddr).Port))
}

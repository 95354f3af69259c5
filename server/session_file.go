package server

import (
	"fmt"
	"os"
	"strings"
	"time"
)

func (s *session) handlePWD(_ string) {
	s.reply(257, quotePath(s.fs.GetWd())+" is the current directory.")
}

// quotePath quotes p per RFC 959, doubling embedded quotes.
func quotePath(p string) string {
	return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
}

func (s *session) handleCWD(path string) {
	if err := s.fs.ChangeDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Directory successfully changed.")
}

func (s *session) handleCDUP(_ string) {
	s.handleCWD("..")
}

func (s *session) handleMKD(path string) {
	if err := s.fs.MakeDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("directory_created",
		"session_id", s.sessionID,
		"user", s.user,
		"path", path,
	)
	s.reply(257, quotePath(path)+" created.")
}

func (s *session) handleRMD(path string) {
	if err := s.fs.RemoveDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("directory_removed",
		"session_id", s.sessionID,
		"user", s.user,
		"path", path,
	)
	s.reply(250, "Directory removed.")
}

func (s *session) handleDELE(path string) {
	if err := s.fs.DeleteFile(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("file_deleted",
		"session_id", s.sessionID,
		"user", s.user,
		"path", path,
	)
	s.reply(250, "File deleted.")
}

func (s *session) handleRNFR(path string) {
	if _, err := s.fs.GetFileInfo(path); err != nil {
		s.replyError(err)
		return
	}
	s.renameFrom = path
	s.reply(350, "Requested file action pending further information.")
}

func (s *session) handleRNTO(path string) {
	from := s.renameFrom
	s.renameFrom = ""
	if from == "" {
		s.reply(503, "Bad sequence of commands. Send RNFR first.")
		return
	}
	if err := s.fs.Rename(from, path); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Requested file action successful, file renamed.")
}

// listTarget drops ls-style flags ("-la") some clients send with LIST.
func listTarget(arg string) string {
	for {
		arg = strings.TrimSpace(arg)
		if !strings.HasPrefix(arg, "-") {
			return arg
		}
		_, rest, _ := strings.Cut(arg, " ")
		arg = rest
	}
}

// listLine formats info like "ls -l".
func listLine(info os.FileInfo, now time.Time) string {
	stamp := info.ModTime().Format("Jan _2 15:04")
	if now.Sub(info.ModTime()) > 180*24*time.Hour || info.ModTime().After(now) {
		stamp = info.ModTime().Format("Jan _2  2006")
	}
	kind := "-"
	switch {
	case info.IsDir():
		kind = "d"
	case info.Mode()&os.ModeSymlink != 0:
		kind = "l"
	}
	perm := info.Mode().Perm().String()[1:]
	return fmt.Sprintf("%s%s 1 owner group %12d %s %s", kind, perm, info.Size(), stamp, info.Name())
}

func (s *session) handleLIST(arg string) {
	entries, err := s.fs.ListDir(listTarget(arg))
	if err != nil {
		s.replyError(err)
		return
	}
	now := time.Now()
	s.sendList("directory listing", func(i int) string { return listLine(entries[i], now) }, len(entries))
}

func (s *session) handleNLST(arg string) {
	entries, err := s.fs.ListDir(listTarget(arg))
	if err != nil {
		s.replyError(err)
		return
	}
	s.sendList("file list", func(i int) string { return entries[i].Name() }, len(entries))
}

func (s *session) sendList(what string, line func(int) string, n int) {
	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer conn.Close()

	s.reply(150, "Here comes the "+what+".")
	for i := range n {
		if _, err := fmt.Fprintf(conn, "%s\r\n", line(i)); err != nil {
			s.reply(426, "Connection closed; transfer aborted.")
			return
		}
	}
	s.reply(226, "Directory send OK.")
}

package server

import (
	"strconv"
	"strings"
)

// features advertised by FEAT.
var features = []string{
	"SIZE",
	"MDTM",
	"EPSV",
	"REST STREAM",
	"UTF8",
}

func (s *session) handleSYST(_ string) {
	s.reply(215, "UNIX Type: L8")
}

func (s *session) handleFEAT(_ string) {
	s.replyLines(211, "Features:", features, "End")
}

func (s *session) handleOPTS(arg string) {
	if strings.EqualFold(strings.TrimSpace(arg), "UTF8 ON") {
		s.reply(200, "Always in UTF8 mode.")
		return
	}
	s.reply(501, "Option not understood.")
}

func (s *session) handleTYPE(arg string) {
	// ASCII is accepted for compatibility but transferred as image.
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "I", "L 8":
		s.reply(200, "Type set to I.")
	case "A", "A N":
		s.reply(200, "Type set to A.")
	default:
		s.reply(504, "Type not supported.")
	}
}

func (s *session) handleSIZE(path string) {
	info, err := s.fs.GetFileInfo(path)
	if err != nil || info.IsDir() {
		s.reply(550, "Could not get file size.")
		return
	}
	s.reply(213, strconv.FormatInt(info.Size(), 10))
}

func (s *session) handleMDTM(path string) {
	info, err := s.fs.GetFileInfo(path)
	if err != nil {
		s.reply(550, "Could not get file modification time.")
		return
	}
	// RFC 3659: always UTC.
	s.reply(213, info.ModTime().UTC().Format("20060102150405"))
}

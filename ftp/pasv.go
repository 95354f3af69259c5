package ftp

import (
	"net/netip"
	"strconv"
	"strings"
)

// DataChannel is the endpoint announced by a 227 reply.
type DataChannel struct {
	IP   netip.Addr
	Port int
}

// Addr returns the endpoint in host:port form.
func (d DataChannel) Addr() string {
	return netip.AddrPortFrom(d.IP, uint16(d.Port)).String()
}

// ParsePASV extracts the data endpoint from a PASV reply such as
// "227 Entering Passive Mode (192,168,1,1,195,149)".
//
// The reply must carry code 227 and a parenthesised tuple of exactly six
// decimal fields, each in 0..255. The port is p1*256+p2. Any violation
// returns a *ProtocolError and a zero DataChannel.
func ParsePASV(reply string) (DataChannel, error) {
	bad := func() (DataChannel, error) {
		return DataChannel{}, &ProtocolError{Command: "PASV", Response: reply, Code: pasvCode(reply)}
	}

	if len(reply) < 4 || reply[:3] != "227" || (reply[3] != ' ' && reply[3] != '-') {
		return bad()
	}
	open := strings.IndexByte(reply, '(')
	if open < 0 {
		return bad()
	}
	end := strings.IndexByte(reply[open:], ')')
	if end < 0 {
		return bad()
	}
	fields := strings.Split(reply[open+1:open+end], ",")
	if len(fields) != 6 {
		return bad()
	}

	var v [6]byte
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || len(f) > 3 {
			return bad()
		}
		for j := 0; j < len(f); j++ {
			if f[j] < '0' || f[j] > '9' {
				return bad()
			}
		}
		n, err := strconv.Atoi(f)
		if err != nil || n > 255 {
			return bad()
		}
		v[i] = byte(n)
	}

	return DataChannel{
		IP:   netip.AddrFrom4([4]byte{v[0], v[1], v[2], v[3]}),
		Port: int(v[4])*256 + int(v[5]),
	}, nil
}

func pasvCode(reply string) int {
	if len(reply) < 3 {
		return 0
	}
	code, err := strconv.Atoi(reply[:3])
	if err != nil {
		return 0
	}
	return code
}

package ftp

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Entry types reported by List.
const (
	EntryFile    = "file"
	EntryDir     = "dir"
	EntryLink    = "link"
	EntryUnknown = "unknown"
)

// Entry is one line of a LIST reply.
type Entry struct {
	Name   string
	Type   string // EntryFile, EntryDir, EntryLink or EntryUnknown
	Size   int64
	Target string // symlink target, if any
	Raw    string
}

// IsFile reports whether the entry is a regular file.
func (e *Entry) IsFile() bool { return e.Type == EntryFile }

// List runs LIST on dir (the working directory when empty) and parses the
// Unix, DOS and EPLF listing formats. Lines that no parser understands are
// returned with Type EntryUnknown.
func (s *Session) List(ctx context.Context, dir string) ([]*Entry, error) {
	var args []string
	if dir != "" {
		args = []string{dir}
	}
	conn, err := s.openData(ctx, nil, "LIST", args, nil)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	var entries []*Entry
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		if e := parseListLine(sc.Text(), s.parsers); e != nil {
			entries = append(entries, e)
		}
	}
	scanErr := sc.Err()
	stop()
	_ = conn.Close()

	resp, err := s.readReply("LIST")
	if scanErr != nil {
		return nil, fmt.Errorf("failed to read directory listing: %w", ctxErr(ctx, classify("read listing", scanErr)))
	}
	if err != nil {
		return nil, err
	}
	if !resp.Is2xx() {
		return nil, unexpected("LIST", resp)
	}
	return entries, nil
}

// ListingParser parses a single LIST line.
type ListingParser interface {
	Parse(line string) (*Entry, bool)
}

func parseListLine(line string, parsers []ListingParser) *Entry {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	for _, p := range parsers {
		if e, ok := p.Parse(trimmed); ok {
			return e
		}
	}
	return &Entry{Raw: line, Name: trimmed, Type: EntryUnknown}
}

// UnixParser parses "ls -l" style lines, with or without the group column,
// and with symbolic or octal permissions.
type UnixParser struct{}

func (UnixParser) Parse(line string) (*Entry, bool) {
	f := strings.Fields(line)
	if len(f) < 8 {
		return nil, false
	}

	typ, ok := unixType(f[0])
	if !ok {
		return nil, false
	}

	// perms links owner group size month day time name...
	// perms links owner size month day time name...
	sizeAt, nameAt := 4, 8
	if len(f) < 9 || !isDecimal(f[4]) {
		sizeAt, nameAt = 3, 7
	}
	if !isDecimal(f[sizeAt]) {
		return nil, false
	}
	size, err := strconv.ParseInt(f[sizeAt], 10, 64)
	if err != nil {
		return nil, false
	}

	e := &Entry{Raw: line, Type: typ, Size: size, Name: strings.Join(f[nameAt:], " ")}
	if typ == EntryLink {
		if name, target, found := strings.Cut(e.Name, " -> "); found {
			e.Name, e.Target = name, target
		}
	}
	return e, true
}

func unixType(perms string) (string, bool) {
	switch perms[0] {
	case 'd':
		return EntryDir, true
	case 'l':
		return EntryLink, true
	case '-', 'b', 'c', 'p', 's':
		return EntryFile, true
	}
	if (len(perms) == 3 || len(perms) == 4) && strings.Trim(perms, "01234567") == "" {
		return EntryFile, true
	}
	return "", false
}

// DOSParser parses IIS style lines such as
// "12-14-23  12:22PM   1037794 report.pdf" and "09-24-24  10:30AM  <DIR>  logs".
type DOSParser struct{}

func (DOSParser) Parse(line string) (*Entry, bool) {
	f := strings.Fields(line)
	if len(f) < 4 || !isDOSDate(f[0]) {
		return nil, false
	}
	e := &Entry{Raw: line, Name: strings.Join(f[3:], " ")}
	if f[2] == "<DIR>" {
		e.Type = EntryDir
		return e, true
	}
	size, err := strconv.ParseInt(f[2], 10, 64)
	if err != nil {
		return nil, false
	}
	e.Type, e.Size = EntryFile, size
	return e, true
}

func isDOSDate(s string) bool {
	sep := "-"
	if !strings.Contains(s, sep) {
		sep = "/"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return false
	}
	for i, p := range parts {
		if !isDecimal(p) {
			return false
		}
		if i < 2 && len(p) > 2 {
			return false
		}
		if i == 2 && len(p) != 2 && len(p) != 4 {
			return false
		}
	}
	return true
}

// EPLFParser parses Easily Parsed LIST Format lines,
// e.g. "+i8388621.48594,m825718503,r,s280,\tdjb.html".
type EPLFParser struct{}

func (EPLFParser) Parse(line string) (*Entry, bool) {
	if !strings.HasPrefix(line, "+") {
		return nil, false
	}
	idx := strings.IndexAny(line, "\t ")
	if idx < 0 {
		return nil, false
	}
	name := strings.TrimSpace(line[idx+1:])
	if name == "" {
		return nil, false
	}

	e := &Entry{Raw: line, Name: name, Type: EntryFile}
	for fact := range strings.SplitSeq(line[1:idx], ",") {
		switch {
		case fact == "/":
			e.Type = EntryDir
		case strings.HasPrefix(fact, "s"):
			if size, err := strconv.ParseInt(fact[1:], 10, 64); err == nil {
				e.Size = size
			}
		}
	}
	return e, true
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

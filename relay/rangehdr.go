package relay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errUnsatisfiable = errors.New("range not satisfiable")

// byteRange is one resolved range of a file. length is the number of bytes
// to relay starting at start; size is the total file size or -1 if unknown.
type byteRange struct {
	start  int64
	length int64
	size   int64
}

func (r byteRange) end() int64 { return r.start + r.length - 1 }

// contentRange formats the Content-Range header value.
func (r byteRange) contentRange() string {
	total := "*"
	if r.size >= 0 {
		total = strconv.FormatInt(r.size, 10)
	}
	return fmt.Sprintf("bytes %d-%d/%s", r.start, r.end(), total)
}

// parseRange resolves a single-range Range header against size (-1 when the
// size is unknown). ok is false when the header should be ignored and the
// whole file served: absent, malformed, multiple ranges, or an open-ended
// range on a file of unknown size.
func parseRange(header string, size int64) (r byteRange, ok bool, err error) {
	set, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(set, ",") {
		return byteRange{}, false, nil
	}
	first, last, found := strings.Cut(strings.TrimSpace(set), "-")
	if !found {
		return byteRange{}, false, nil
	}

	r.size = size
	switch {
	case first == "":
		// Suffix range: the final n bytes.
		n, perr := strconv.ParseInt(last, 10, 64)
		if perr != nil || n < 0 || size < 0 {
			return byteRange{}, false, nil
		}
		if n == 0 || size == 0 {
			return byteRange{}, false, errUnsatisfiable
		}
		n = min(n, size)
		r.start, r.length = size-n, n
		return r, true, nil

	case last == "":
		start, perr := strconv.ParseInt(first, 10, 64)
		if perr != nil || start < 0 || size < 0 {
			return byteRange{}, false, nil
		}
		if start >= size {
			return byteRange{}, false, errUnsatisfiable
		}
		r.start, r.length = start, size-start
		return r, true, nil
	}

	start, perr := strconv.ParseInt(first, 10, 64)
	if perr != nil || start < 0 {
		return byteRange{}, false, nil
	}
	end, perr := strconv.ParseInt(last, 10, 64)
	if perr != nil || end < start {
		return byteRange{}, false, nil
	}
	if size >= 0 {
		if start >= size {
			return byteRange{}, false, errUnsatisfiable
		}
		end = min(end, size-1)
	}
	r.start, r.length = start, end-start+1
	return r, true, nil
}

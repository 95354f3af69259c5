package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/gonzalop/ftpbridge/ftp"
	"github.com/gonzalop/ftpbridge/internal/ringbuf"
	"github.com/gonzalop/ftpbridge/internal/watchdog"
)

// pump moves bytes from the data channel to the HTTP response.
type pump struct {
	src   io.Reader
	dst   io.Writer
	flush func() error
	ring  *ringbuf.Buffer
	prof  profile
	feed  *watchdog.Feeder
	limit int64 // -1 relays until EOF
}

// run relays until EOF or until limit bytes were sent, in the order they
// were read. It returns the number of bytes written to dst.
//
// A failure to write or flush the response, or a cancelled request, is
// reported as ftp.ErrClientGone. A read failure is returned classified by
// the ftp package (ftp.ErrTimeout for a stalled data channel).
func (p *pump) run(ctx context.Context) (int64, error) {
	var sent, sinceYield int64
	eof := false

	for {
		if !eof && !p.ring.IsFull() {
			want := p.prof.chunk
			if p.limit >= 0 {
				left := p.limit - sent - int64(p.ring.Len())
				if left <= 0 {
					eof = true
				} else {
					want = int(min(int64(want), left))
				}
			}
			if !eof {
				_, err := p.ring.Fill(p.src, want)
				switch {
				case errors.Is(err, io.EOF):
					eof = true
				case err != nil:
					if ctx.Err() != nil {
						return sent, fmt.Errorf("%w: %w", ftp.ErrClientGone, ctx.Err())
					}
					return sent, err
				}
			}
		}

		if p.ring.IsEmpty() {
			if eof {
				return sent, nil
			}
			continue
		}

		n, err := p.ring.Drain(p.dst, p.prof.chunk)
		sent += int64(n)
		if err == nil {
			err = p.flush()
		}
		if err != nil {
			return sent, fmt.Errorf("%w: %w", ftp.ErrClientGone, err)
		}

		p.feed.Feed(n)
		sinceYield += int64(n)
		if sinceYield >= p.prof.yieldEvery {
			sinceYield = 0
			runtime.Gosched()
		}
	}
}

package relay

import (
	"errors"
	"io"
)

// ErrResponseTooLarge is returned by a byte-limit reader once the response
// ceiling is crossed. By the time it surfaces the status line is already
// committed downstream, so the relay loop turns it into an abnormal
// connection abort (truncation) rather than an error response.
var ErrResponseTooLarge = errors.New("upstream response exceeds the configured limit")

// byteLimitReadCloser counts bytes as they are read from upstream and fails
// the read that would cross the ceiling. The check runs before bytes are
// handed downstream, which is what bounds memory use against an oversized
// or infinite upstream stream: nothing is buffered beyond one read.
type byteLimitReadCloser struct {
	rc        io.ReadCloser
	remaining int64
}

// NewByteLimitReadCloser wraps rc so that at most limit bytes can be read.
// A stream of exactly limit bytes completes normally; the first byte past
// the ceiling causes ErrResponseTooLarge and is never delivered.
func NewByteLimitReadCloser(rc io.ReadCloser, limit int64) io.ReadCloser {
	return &byteLimitReadCloser{rc: rc, remaining: limit}
}

func (b *byteLimitReadCloser) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		// At the ceiling. Only reading ahead can tell a stream that ends
		// exactly at the limit from one that exceeds it. Readers may
		// legally return (0, nil), so keep reading until a byte or an
		// error settles it.
		var buf [1]byte
		for {
			n, err := b.rc.Read(buf[:])
			if n > 0 {
				return 0, ErrResponseTooLarge
			}
			if err != nil {
				return 0, err
			}
		}
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	return n, err
}

func (b *byteLimitReadCloser) Close() error {
	return b.rc.Close()
}

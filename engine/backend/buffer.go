package backend

import "bytes"

// OutputBuffer captures command output up to a byte limit. Writes past the
// limit are counted but dropped, and the buffer is marked truncated; the
// operation itself never fails because of output volume.
type OutputBuffer struct {
	limit     int64
	buffer    bytes.Buffer
	truncated bool
	written   int64
}

// NewOutputBuffer builds a capped buffer. A non-positive limit disables the
// cap entirely.
func NewOutputBuffer(limit int64) *OutputBuffer {
	return &OutputBuffer{limit: limit}
}

func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.written += int64(len(p))
	if b.limit <= 0 {
		return b.buffer.Write(p)
	}
	remaining := b.limit - int64(b.buffer.Len())
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		_, _ = b.buffer.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buffer.Write(p)
}

func (b *OutputBuffer) String() string {
	return b.buffer.String()
}

func (b *OutputBuffer) Bytes() []byte {
	return b.buffer.Bytes()
}

func (b *OutputBuffer) Truncated() bool {
	return b.truncated
}

// Written reports the total bytes offered, including dropped ones.
func (b *OutputBuffer) Written() int64 {
	return b.written
}

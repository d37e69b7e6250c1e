package commandline

import "strings"

// limitedBuffer captures the head of a command's output. Bytes past limit
// are counted and dropped; a limit of zero or less keeps everything.
type limitedBuffer struct {
	limit   int64
	head    strings.Builder
	written int64
}

func newLimitedBuffer(limit int64) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

// Write never fails so the command is not interrupted by a full buffer.
func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.written += int64(len(p))
	keep := p
	if b.limit > 0 {
		room := max(b.limit-int64(b.head.Len()), 0)
		keep = p[:min(int64(len(p)), room)]
	}
	b.head.Write(keep)
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.head.String() }

// Truncated reports whether any output was dropped.
func (b *limitedBuffer) Truncated() bool { return b.written > int64(b.head.Len()) }

func (b *limitedBuffer) Written() int64 { return b.written }

package buffer

import "errors"

// ErrTooSmall reports that the remaining capacity cannot hold a value and its
// terminator. It is distinct from a value being absent.
var ErrTooSmall = errors.New("buffer too small")

// Span is a string stored inside an OutputBuffer. The zero Span is an unset
// field.
type Span struct {
	b []byte
}

// Bytes returns the stored value without its terminator. The slice aliases
// the caller's buffer.
func (s Span) Bytes() []byte { return s.b }

func (s Span) String() string { return string(s.b) }

func (s Span) Len() int { return len(s.b) }

// IsSet reports whether the span was written, even if the value is empty.
func (s Span) IsSet() bool { return s.b != nil }

// OutputBuffer tracks the write position inside a caller-supplied slice.
type OutputBuffer struct {
	p   []byte
	pos int
}

func New(p []byte) *OutputBuffer {
	return &OutputBuffer{p: p}
}

// TryWrite copies value plus a NUL terminator at the cursor and advances it.
// On ErrTooSmall the buffer is left untouched.
func (o *OutputBuffer) TryWrite(value string) (Span, error) {
	n := Need(value)
	if o.Remaining() < n {
		return Span{}, ErrTooSmall
	}
	start := o.pos
	copy(o.p[start:], value)
	o.p[start+len(value)] = 0
	o.pos += n
	// Cap the span so appends on it cannot run into later fields.
	return Span{b: o.p[start : start+len(value) : start+len(value)]}, nil
}

// Remaining is the number of bytes still available.
func (o *OutputBuffer) Remaining() int {
	return len(o.p) - o.pos
}

// Len is the number of bytes written so far, terminators included.
func (o *OutputBuffer) Len() int {
	return o.pos
}

// Need is the number of bytes TryWrite consumes for value.
func Need(value string) int {
	return len(value) + 1
}

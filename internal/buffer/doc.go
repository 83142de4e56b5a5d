// Package buffer implements the caller-owned output buffer used by every
// lookup.
//
// A lookup never allocates memory for the strings it returns. Each value is
// copied, NUL terminated, into the remaining region of the caller's slice and
// the result field keeps a Span that aliases that region. When the value does
// not fit, nothing is written and ErrTooSmall is returned so the caller can
// grow its buffer and retry.
package buffer

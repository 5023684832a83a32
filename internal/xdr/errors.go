package xdr

import "errors"

var (
	// ErrMalformedMessage indicates a decode past the end of the buffer or a
	// declared length that is inconsistent with the remaining bytes or the
	// configured maximum message size. The error is fatal to the current
	// message only; the connection remains usable.
	ErrMalformedMessage = errors.New("xdr: malformed message")

	// ErrBufferOverflow indicates a write past the buffer's capacity ceiling.
	ErrBufferOverflow = errors.New("xdr: buffer overflow")
)

// Package xdr implements the XDR (External Data Representation) primitives
// used by the RPC engine, as specified in RFC 4506.
//
// The central type is Buffer: a bounded byte region with independent read and
// write cursors. A Buffer is either constructed empty for encoding an outbound
// message, or wrapped around inbound bytes for decoding. All integers are
// encoded in network byte order, and all variable-length data is padded with
// zeros to the next 4-byte boundary.
package xdr

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxMessageSize is the message-size ceiling applied when callers do
// not configure one explicitly. A single RPC message larger than this is
// rejected as malformed.
const DefaultMaxMessageSize = 1024 * 1024 // 1 MB

// Buffer is an XDR encoding/decoding buffer with independent read and write
// cursors and a capacity ceiling.
//
// Encoding session:
//
//	x := xdr.NewBuffer(maxSize)
//	x.BeginEncoding()
//	... Encode* calls ...
//	x.EndEncoding()
//	frame := x.Body()
//
// Decoding starts implicitly at construction via Wrap. EndDecoding asserts
// that the message has been fully consumed.
//
// Buffer also implements io.Reader and io.Writer over its cursors so that
// struct-level XDR marshalling (rasky/go-xdr) can layer on top of it.
type Buffer struct {
	buf  []byte
	rpos int
	max  int
}

// NewBuffer creates an empty Buffer for encoding, bounded by max bytes.
// A max of 0 selects DefaultMaxMessageSize.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultMaxMessageSize
	}
	return &Buffer{buf: make([]byte, 0, 256), max: max}
}

// Wrap creates a Buffer for decoding the given inbound bytes.
// A max of 0 selects DefaultMaxMessageSize.
func Wrap(data []byte, max int) *Buffer {
	if max <= 0 {
		max = DefaultMaxMessageSize
	}
	return &Buffer{buf: data, max: max}
}

// BeginEncoding starts a scoped write session. Both cursors are reset, so a
// buffer that was used to decode an inbound call can be reused to encode the
// reply (the contents of the inbound message are discarded).
func (x *Buffer) BeginEncoding() {
	x.buf = x.buf[:0]
	x.rpos = 0
}

// EndEncoding closes the write session. The encoded frame is the exact byte
// range written since BeginEncoding and is returned by Body.
func (x *Buffer) EndEncoding() {}

// EndDecoding asserts that no unconsumed trailing bytes belong to this
// message. Callers that intentionally read only a prefix (for example the
// call-header decoder, which leaves the argument payload for the dispatcher)
// simply do not call it.
//
// Returns ErrMalformedMessage if trailing bytes remain.
func (x *Buffer) EndDecoding() error {
	if rem := len(x.buf) - x.rpos; rem != 0 {
		return fmt.Errorf("%w: %d trailing bytes after message", ErrMalformedMessage, rem)
	}
	return nil
}

// Body returns the bytes written since BeginEncoding.
func (x *Buffer) Body() []byte {
	return x.buf
}

// Remaining returns the number of undecoded bytes.
func (x *Buffer) Remaining() int {
	return len(x.buf) - x.rpos
}

// grow checks the capacity ceiling before a write of n bytes.
func (x *Buffer) grow(n int) error {
	if len(x.buf)+n > x.max {
		return fmt.Errorf("%w: write of %d bytes exceeds %d byte limit", ErrBufferOverflow, n, x.max)
	}
	return nil
}

// EncodeUint32 writes a 4-byte unsigned integer in network byte order.
// Per RFC 4506 Section 4.2 (Unsigned Integer).
func (x *Buffer) EncodeUint32(v uint32) error {
	if err := x.grow(4); err != nil {
		return err
	}
	x.buf = binary.BigEndian.AppendUint32(x.buf, v)
	return nil
}

// DecodeUint32 reads a 4-byte unsigned integer in network byte order.
func (x *Buffer) DecodeUint32() (uint32, error) {
	if x.Remaining() < 4 {
		return 0, fmt.Errorf("%w: need 4 bytes, have %d", ErrMalformedMessage, x.Remaining())
	}
	v := binary.BigEndian.Uint32(x.buf[x.rpos:])
	x.rpos += 4
	return v, nil
}

// EncodeInt32 writes a 4-byte signed integer in network byte order.
// Per RFC 4506 Section 4.1 (Integer).
func (x *Buffer) EncodeInt32(v int32) error {
	return x.EncodeUint32(uint32(v))
}

// DecodeInt32 reads a 4-byte signed integer in network byte order.
func (x *Buffer) DecodeInt32() (int32, error) {
	v, err := x.DecodeUint32()
	return int32(v), err
}

// EncodeOpaque writes fixed-length opaque data with no length prefix.
// The caller is responsible for any alignment of the overall layout.
// Per RFC 4506 Section 4.9 (Fixed-Length Opaque Data).
func (x *Buffer) EncodeOpaque(data []byte) error {
	if err := x.grow(len(data)); err != nil {
		return err
	}
	x.buf = append(x.buf, data...)
	return nil
}

// DecodeOpaque reads exactly n bytes of fixed-length opaque data.
func (x *Buffer) DecodeOpaque(n int) ([]byte, error) {
	if n < 0 || x.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformedMessage, n, x.Remaining())
	}
	data := make([]byte, n)
	copy(data, x.buf[x.rpos:])
	x.rpos += n
	return data, nil
}

// EncodeDynamicOpaque writes variable-length opaque data: a 4-byte length
// prefix, the bytes, then zero padding to the next 4-byte boundary.
// Per RFC 4506 Section 4.10 (Variable-Length Opaque Data).
func (x *Buffer) EncodeDynamicOpaque(data []byte) error {
	length := uint32(len(data))
	if err := x.EncodeUint32(length); err != nil {
		return err
	}
	if err := x.EncodeOpaque(data); err != nil {
		return err
	}
	for i := uint32(0); i < Padding(length); i++ {
		if err := x.grow(1); err != nil {
			return err
		}
		x.buf = append(x.buf, 0)
	}
	return nil
}

// DecodeDynamicOpaque reads variable-length opaque data written by
// EncodeDynamicOpaque. The declared length is rejected as malformed when it
// exceeds the remaining buffer or the configured maximum message size. The
// padding bytes are consumed and discarded.
func (x *Buffer) DecodeDynamicOpaque() ([]byte, error) {
	length, err := x.DecodeUint32()
	if err != nil {
		return nil, err
	}
	if int(length) > x.max {
		return nil, fmt.Errorf("%w: declared length %d exceeds %d byte limit", ErrMalformedMessage, length, x.max)
	}
	data, err := x.DecodeOpaque(int(length))
	if err != nil {
		return nil, err
	}
	pad := int(Padding(length))
	if x.Remaining() < pad {
		return nil, fmt.Errorf("%w: missing %d padding bytes", ErrMalformedMessage, pad)
	}
	x.rpos += pad
	return data, nil
}

// EncodeString writes an XDR string. Strings share the wire shape of dynamic
// opaque data and are interpreted as UTF-8. Per RFC 4506 Section 4.11.
func (x *Buffer) EncodeString(s string) error {
	return x.EncodeDynamicOpaque([]byte(s))
}

// DecodeString reads an XDR string.
func (x *Buffer) DecodeString() (string, error) {
	data, err := x.DecodeDynamicOpaque()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write implements io.Writer over the write cursor, bounded by the capacity
// ceiling. Used by struct-level XDR marshalling.
func (x *Buffer) Write(p []byte) (int, error) {
	if err := x.grow(len(p)); err != nil {
		return 0, err
	}
	x.buf = append(x.buf, p...)
	return len(p), nil
}

// Read implements io.Reader over the read cursor. Used by struct-level XDR
// unmarshalling; the cursor advances only by what the unmarshaller consumes.
func (x *Buffer) Read(p []byte) (int, error) {
	if x.Remaining() == 0 {
		return 0, io.EOF
	}
	n := copy(p, x.buf[x.rpos:])
	x.rpos += n
	return n, nil
}

// Padding returns the number of zero bytes needed to align variable-length
// data of the given length to a 4-byte boundary: (4 - length%4) % 4.
func Padding(length uint32) uint32 {
	return (4 - (length % 4)) % 4
}

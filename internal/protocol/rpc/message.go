package rpc

import (
	"fmt"

	"github.com/marmos91/dittorpc/internal/xdr"
)

// Message is the pair every RPC frame begins with: the transaction id that
// correlates a call to its reply, and the message type tag.
//
// Wire Format (XDR encoding):
//   - XID:  4 bytes (transaction identifier)
//   - Type: 4 bytes (0 = CALL, 1 = REPLY)
//
// Reference: RFC 5531 Section 9 (RPC Message Protocol)
type Message struct {
	// XID uniquely identifies a call among the originator's in-flight calls.
	// The server echoes it back in the reply, which is what allows
	// concurrent calls to share one transport.
	XID uint32

	// Type is MessageTypeCall or MessageTypeReply.
	Type uint32
}

// Encode writes the xid followed by the type tag.
func (m *Message) Encode(x *xdr.Buffer) error {
	if err := x.EncodeUint32(m.XID); err != nil {
		return fmt.Errorf("encode xid: %w", err)
	}
	if err := x.EncodeUint32(m.Type); err != nil {
		return fmt.Errorf("encode message type: %w", err)
	}
	return nil
}

// Decode reads the xid and type tag. The remainder of the frame (call body or
// reply body) stays in the buffer for the type-specific decoder.
func (m *Message) Decode(x *xdr.Buffer) error {
	var err error
	if m.XID, err = x.DecodeUint32(); err != nil {
		return fmt.Errorf("decode xid: %w", err)
	}
	if m.Type, err = x.DecodeUint32(); err != nil {
		return fmt.Errorf("decode message type: %w", err)
	}
	return nil
}

package rpc

import (
	"fmt"

	gox "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/dittorpc/internal/xdr"
)

// Payload is implemented by procedure arguments, procedure results, and the
// fixed bodies of error replies. Implementations own their wire shape.
type Payload interface {
	Encode(x *xdr.Buffer) error
	Decode(x *xdr.Buffer) error
}

// Void is the empty payload, used for procedures without arguments or results
// and for error replies with empty bodies.
type Void struct{}

func (Void) Encode(x *xdr.Buffer) error { return nil }
func (Void) Decode(x *xdr.Buffer) error { return nil }

// MismatchInfo is the body of PROG_MISMATCH and RPC_MISMATCH replies: the
// lowest and highest version the server supports.
type MismatchInfo struct {
	Low  uint32
	High uint32
}

func (m *MismatchInfo) Encode(x *xdr.Buffer) error {
	if err := x.EncodeUint32(m.Low); err != nil {
		return err
	}
	return x.EncodeUint32(m.High)
}

func (m *MismatchInfo) Decode(x *xdr.Buffer) error {
	var err error
	if m.Low, err = x.DecodeUint32(); err != nil {
		return err
	}
	m.High, err = x.DecodeUint32()
	return err
}

// Struct adapts an arbitrary Go struct to the Payload interface through XDR
// reflection marshalling. V must be a pointer for decoding. Struct tags
// (`xdr:"opaque"` and friends) control the wire shape of individual fields.
//
// Example usage:
//
//	type EchoArgs struct {
//		Message string
//	}
//
//	args := rpc.Struct{V: &EchoArgs{Message: "hello"}}
//	var out EchoArgs
//	result := rpc.Struct{V: &out}
//	err := client.Call(ctx, procEcho, args, result, 5*time.Second)
type Struct struct {
	V any
}

func (s Struct) Encode(x *xdr.Buffer) error {
	if _, err := gox.Marshal(x, s.V); err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return nil
}

func (s Struct) Decode(x *xdr.Buffer) error {
	if _, err := gox.Unmarshal(x, s.V); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

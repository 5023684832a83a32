package rpc

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/internal/protocol/rpc/auth"
	"github.com/marmos91/dittorpc/internal/xdr"
)

// nextXID generates transaction ids for every client call in the process.
// It wraps around at 2^32; the range makes reuse of a still-in-flight value
// negligible, and RegisterKey refuses the collision if it ever happens.
var nextXID atomic.Uint32

// maxXIDAttempts bounds the retry loop when a freshly generated xid collides
// with one that is still in flight.
const maxXIDAttempts = 8

// Client issues calls for one program/version pair over a transport. The
// credential and verifier are attached to every outbound call. A Client holds
// no per-call state and is safe for concurrent use; each Call owns its own
// buffer and pending slot.
type Client struct {
	program   uint32
	version   uint32
	cred      auth.Auth
	verf      auth.Auth
	transport Transport
}

// NewClient creates a client for the given program and version. Nil cred or
// verf default to AUTH_NONE.
func NewClient(program, version uint32, cred, verf auth.Auth, t Transport) *Client {
	if cred == nil {
		cred = &auth.None{}
	}
	if verf == nil {
		verf = &auth.None{}
	}
	return &Client{
		program:   program,
		version:   version,
		cred:      cred,
		verf:      verf,
		transport: t,
	}
}

// Call performs one remote procedure call and blocks until the reply
// arrives, the timeout elapses, or ctx is cancelled.
//
// Exactly one frame is sent per invocation; there is no automatic retry at
// this layer. The distinct outcomes are:
//
//   - nil: the reply was accepted with SUCCESS and the result payload was
//     decoded into result.
//   - *AcceptedError: the server accepted the call but execution failed
//     (PROG_UNAVAIL, PROG_MISMATCH with version range, PROC_UNAVAIL,
//     GARBAGE_ARGS, SYSTEM_ERR).
//   - *RejectedError: the server denied the call (RPC_MISMATCH or
//     AUTH_ERROR).
//   - ErrTimeout: no reply arrived in time; the pending slot was removed.
func (c *Client) Call(ctx context.Context, procedure uint32, args, result Payload, timeout time.Duration) error {
	queue := c.transport.ReplyQueue()

	// Registration must strictly precede the send, otherwise a fast reply
	// could arrive before anyone is waiting for it. A collision means the
	// generated xid is still in flight; take another.
	var xid uint32
	registered := false
	for attempt := 0; attempt < maxXIDAttempts; attempt++ {
		xid = nextXID.Add(1)
		if err := queue.RegisterKey(xid); err == nil {
			registered = true
			break
		}
		logger.Warn("xid 0x%x still in flight, generating a new one", xid)
	}
	if !registered {
		return fmt.Errorf("rpc: no free xid after %d attempts: %w", maxXIDAttempts, ErrDuplicateXID)
	}

	x := xdr.NewBuffer(0)
	if err := c.encodeCall(x, xid, procedure, args); err != nil {
		queue.discard(xid)
		return fmt.Errorf("encode call: %w", err)
	}

	if err := c.transport.Send(x.Body()); err != nil {
		queue.discard(xid)
		return fmt.Errorf("send call: %w", err)
	}

	reply, err := queue.Get(ctx, xid, timeout)
	if err != nil {
		return err
	}

	if reply.Accepted() {
		if reply.AcceptStat == AcceptSuccess {
			return reply.Result(result)
		}
		return &AcceptedError{Status: reply.AcceptStat, Low: reply.Low, High: reply.High}
	}
	return &RejectedError{
		Status:   reply.RejectStat,
		Low:      reply.Low,
		High:     reply.High,
		AuthStat: reply.AuthStat,
	}
}

// encodeCall writes the full outbound frame: message header, rpc version,
// program, version, procedure, credential, verifier, argument payload.
func (c *Client) encodeCall(x *xdr.Buffer, xid, procedure uint32, args Payload) error {
	x.BeginEncoding()

	header := Message{XID: xid, Type: MessageTypeCall}
	if err := header.Encode(x); err != nil {
		return err
	}
	for _, v := range []uint32{RPCVersion, c.program, c.version, procedure} {
		if err := x.EncodeUint32(v); err != nil {
			return err
		}
	}
	if err := c.cred.Encode(x); err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := c.verf.Encode(x); err != nil {
		return fmt.Errorf("encode verifier: %w", err)
	}
	if err := args.Encode(x); err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}

	x.EndEncoding()
	return nil
}

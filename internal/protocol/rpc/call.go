package rpc

import (
	"fmt"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/internal/protocol/rpc/auth"
	"github.com/marmos91/dittorpc/internal/xdr"
)

// ServerCall is one inbound RPC call on the server side. It is created by the
// transport's dispatch path from a decoded frame, handed to the application
// dispatcher, and discarded after its single reply has been sent. A ServerCall
// is owned by the goroutine that processes it and is never shared.
type ServerCall struct {
	xid       uint32
	program   uint32
	version   uint32
	procedure uint32
	cred      auth.Auth
	verf      auth.Auth

	x         *xdr.Buffer
	transport Transport
	observer  ReplyObserver
}

// AcceptCall decodes the call body of an inbound frame whose xid and message
// type have already been consumed from x.
//
// The fields are decoded in fixed order: rpc version, program, version,
// procedure, credential, verifier. The first failure aborts the chain with
// the most specific available error:
//
//   - rpc version ≠ 2 yields *VersionMismatchError without touching any later
//     field, so the caller can still answer with an RPC_MISMATCH rejection
//     referencing the known xid.
//   - an unrecognized or malformed credential or verifier yields *auth.Error,
//     leaving procedure arguments undecoded.
//
// The argument payload stays in the buffer for RetrieveArguments. The
// observer may be nil.
func AcceptCall(xid uint32, x *xdr.Buffer, t Transport, observer ReplyObserver) (*ServerCall, error) {
	c := &ServerCall{xid: xid, x: x, transport: t, observer: observer}

	rpcvers, err := x.DecodeUint32()
	if err != nil {
		return nil, fmt.Errorf("decode rpc version: %w", err)
	}
	if rpcvers != RPCVersion {
		return nil, &VersionMismatchError{Low: RPCVersion, High: RPCVersion}
	}

	if c.program, err = x.DecodeUint32(); err != nil {
		return nil, fmt.Errorf("decode program: %w", err)
	}
	if c.version, err = x.DecodeUint32(); err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	if c.procedure, err = x.DecodeUint32(); err != nil {
		return nil, fmt.Errorf("decode procedure: %w", err)
	}

	if c.cred, err = auth.Decode(x); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	if c.verf, err = auth.Decode(x); err != nil {
		return nil, fmt.Errorf("decode verifier: %w", err)
	}

	return c, nil
}

// XID returns the call's transaction id.
func (c *ServerCall) XID() uint32 { return c.xid }

// Program returns the requested RPC program number.
func (c *ServerCall) Program() uint32 { return c.program }

// Version returns the requested program version.
func (c *ServerCall) Version() uint32 { return c.version }

// Procedure returns the requested procedure number within the program.
func (c *ServerCall) Procedure() uint32 { return c.procedure }

// Credential returns the caller's decoded credential.
func (c *ServerCall) Credential() auth.Auth { return c.cred }

// Verifier returns the caller's decoded verifier.
func (c *ServerCall) Verifier() auth.Auth { return c.verf }

func (c *ServerCall) String() string {
	return fmt.Sprintf("call xid=0x%x prog=%d vers=%d proc=%d cred=%v verf=%v",
		c.xid, c.program, c.version, c.procedure, c.cred, c.verf)
}

// RetrieveArguments decodes the call's argument payload into the supplied
// holder and finalizes decoding, asserting that no trailing bytes remain.
// The dispatcher must invoke it exactly once, before any reply operation.
func (c *ServerCall) RetrieveArguments(args Payload) error {
	if err := args.Decode(c.x); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if err := c.x.EndDecoding(); err != nil {
		return fmt.Errorf("finalize arguments: %w", err)
	}
	return nil
}

// Reply sends an accepted SUCCESS reply carrying the procedure result.
func (c *ServerCall) Reply(result Payload) {
	c.acceptedReply(AcceptSuccess, result)
}

// FailProgramMismatch sends an accepted PROG_MISMATCH reply carrying the
// supported version range.
func (c *ServerCall) FailProgramMismatch(min, max uint32) {
	c.acceptedReply(AcceptProgMismatch, &MismatchInfo{Low: min, High: max})
}

// FailProgramUnavailable sends an accepted PROG_UNAVAIL reply.
func (c *ServerCall) FailProgramUnavailable() {
	c.acceptedReply(AcceptProgUnavail, Void{})
}

// FailProcedureUnavailable sends an accepted PROC_UNAVAIL reply.
func (c *ServerCall) FailProcedureUnavailable() {
	c.acceptedReply(AcceptProcUnavail, Void{})
}

// FailGarbageArgs sends an accepted GARBAGE_ARGS reply. Dispatchers use it
// when RetrieveArguments fails.
func (c *ServerCall) FailGarbageArgs() {
	c.acceptedReply(AcceptGarbageArgs, Void{})
}

// FailSystemError sends an accepted SYSTEM_ERR reply, for failures unrelated
// to the call itself (resource exhaustion, overload shedding).
func (c *ServerCall) FailSystemError() {
	c.acceptedReply(AcceptSystemErr, Void{})
}

// acceptedReply encodes and sends one accepted reply frame: REPLY header with
// the original xid, MSG_ACCEPTED, the stored verifier, the accept status and
// the status-specific body.
//
// Reply delivery is best-effort: an encoding or transport failure is logged
// and reported to the observer but not re-raised, since the call is
// terminally failed either way and a second reply must never be produced.
func (c *ServerCall) acceptedReply(stat uint32, body Payload) {
	x := c.x
	x.BeginEncoding()

	err := func() error {
		header := Message{XID: c.xid, Type: MessageTypeReply}
		if err := header.Encode(x); err != nil {
			return err
		}
		if err := x.EncodeUint32(ReplyStateAccepted); err != nil {
			return err
		}
		if err := c.verf.Encode(x); err != nil {
			return err
		}
		if err := x.EncodeUint32(stat); err != nil {
			return err
		}
		return body.Encode(x)
	}()
	if err != nil {
		logger.Warn("Failed to encode %s reply for xid=0x%x: %v", acceptStatName(stat), c.xid, err)
		c.dropped("encode", err)
		return
	}
	x.EndEncoding()

	if err := c.transport.Send(x.Body()); err != nil {
		logger.Error("Failed to send %s reply for xid=0x%x: %v", acceptStatName(stat), c.xid, err)
		c.dropped("send", err)
		return
	}
	if c.observer != nil {
		c.observer.ReplySent(c.xid)
	}
}

func (c *ServerCall) dropped(stage string, err error) {
	if c.observer != nil {
		c.observer.ReplyDropped(c.xid, stage, err)
	}
}

// SendRejection encodes and sends a MSG_DENIED reply for the given xid. It is
// used by the transport dispatch path for calls that failed before a
// ServerCall could be built: RPC_MISMATCH rejections carry the supported
// version range, AUTH_ERROR rejections carry the auth_stat code.
func SendRejection(t Transport, xid uint32, rejectStat uint32, body Payload) error {
	x := xdr.NewBuffer(0)
	x.BeginEncoding()

	header := Message{XID: xid, Type: MessageTypeReply}
	if err := header.Encode(x); err != nil {
		return err
	}
	if err := x.EncodeUint32(ReplyStateDenied); err != nil {
		return err
	}
	if err := x.EncodeUint32(rejectStat); err != nil {
		return err
	}
	if err := body.Encode(x); err != nil {
		return err
	}
	x.EndEncoding()

	if err := t.Send(x.Body()); err != nil {
		return fmt.Errorf("send rejection: %w", err)
	}
	return nil
}

// authStat is the body of an AUTH_ERROR rejection.
type authStat uint32

func (a authStat) Encode(x *xdr.Buffer) error { return x.EncodeUint32(uint32(a)) }
func (a authStat) Decode(x *xdr.Buffer) error { return nil }

// DenyVersionMismatch sends an RPC_MISMATCH rejection for xid.
func DenyVersionMismatch(t Transport, xid uint32, low, high uint32) error {
	return SendRejection(t, xid, RejectRPCMismatch, &MismatchInfo{Low: low, High: high})
}

// DenyAuthError sends an AUTH_ERROR rejection for xid.
func DenyAuthError(t Transport, xid uint32, stat uint32) error {
	return SendRejection(t, xid, RejectAuthError, authStat(stat))
}

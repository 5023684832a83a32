package rpc

import (
	"fmt"

	"github.com/marmos91/dittorpc/internal/protocol/rpc/auth"
	"github.com/marmos91/dittorpc/internal/xdr"
)

// Reply is one decoded inbound REPLY frame.
//
// Wire Format (XDR encoding), after the xid/type header:
//   - ReplyState: 4 bytes (0 = MSG_ACCEPTED, 1 = MSG_DENIED)
//   - if MSG_ACCEPTED: verifier auth block, accept status, then either the
//     result payload (SUCCESS), a low/high version range (PROG_MISMATCH) or
//     nothing.
//   - if MSG_DENIED: reject status, then a low/high range (RPC_MISMATCH) or
//     an auth_stat code (AUTH_ERROR).
//
// Reference: RFC 5531 Section 9 (Reply Message)
type Reply struct {
	XID        uint32
	ReplyState uint32
	Verf       auth.Auth
	AcceptStat uint32
	RejectStat uint32
	AuthStat   uint32

	// Low and High carry the version range of PROG_MISMATCH and
	// RPC_MISMATCH replies.
	Low  uint32
	High uint32

	// body holds the undecoded SUCCESS result payload.
	body *xdr.Buffer
}

// DecodeReply decodes the body of a REPLY frame whose xid and message type
// have already been consumed from x. For SUCCESS replies the result payload
// is left in place for Result.
func DecodeReply(xid uint32, x *xdr.Buffer) (*Reply, error) {
	r := &Reply{XID: xid, body: x}

	var err error
	if r.ReplyState, err = x.DecodeUint32(); err != nil {
		return nil, fmt.Errorf("decode reply state: %w", err)
	}

	switch r.ReplyState {
	case ReplyStateAccepted:
		if r.Verf, err = auth.Decode(x); err != nil {
			return nil, fmt.Errorf("decode reply verifier: %w", err)
		}
		if r.AcceptStat, err = x.DecodeUint32(); err != nil {
			return nil, fmt.Errorf("decode accept status: %w", err)
		}
		if r.AcceptStat == AcceptProgMismatch {
			var info MismatchInfo
			if err := info.Decode(x); err != nil {
				return nil, fmt.Errorf("decode mismatch info: %w", err)
			}
			r.Low, r.High = info.Low, info.High
		}

	case ReplyStateDenied:
		if r.RejectStat, err = x.DecodeUint32(); err != nil {
			return nil, fmt.Errorf("decode reject status: %w", err)
		}
		switch r.RejectStat {
		case RejectRPCMismatch:
			var info MismatchInfo
			if err := info.Decode(x); err != nil {
				return nil, fmt.Errorf("decode mismatch info: %w", err)
			}
			r.Low, r.High = info.Low, info.High
		case RejectAuthError:
			if r.AuthStat, err = x.DecodeUint32(); err != nil {
				return nil, fmt.Errorf("decode auth status: %w", err)
			}
		default:
			return nil, fmt.Errorf("%w: unknown reject status %d", xdr.ErrMalformedMessage, r.RejectStat)
		}

	default:
		return nil, fmt.Errorf("%w: unknown reply state %d", xdr.ErrMalformedMessage, r.ReplyState)
	}

	return r, nil
}

// Accepted reports whether the server accepted the call.
func (r *Reply) Accepted() bool {
	return r.ReplyState == ReplyStateAccepted
}

// Result decodes the SUCCESS payload into the caller-supplied holder and
// asserts that the frame is fully consumed.
func (r *Reply) Result(result Payload) error {
	if !r.Accepted() || r.AcceptStat != AcceptSuccess {
		return fmt.Errorf("rpc: reply carries no result (state=%d stat=%s)",
			r.ReplyState, acceptStatName(r.AcceptStat))
	}
	if err := result.Decode(r.body); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if err := r.body.EndDecoding(); err != nil {
		return fmt.Errorf("finalize result: %w", err)
	}
	return nil
}

func (r *Reply) String() string {
	if r.Accepted() {
		return fmt.Sprintf("reply xid=0x%x MSG_ACCEPTED %s", r.XID, acceptStatName(r.AcceptStat))
	}
	return fmt.Sprintf("reply xid=0x%x MSG_DENIED %s", r.XID, rejectStatName(r.RejectStat))
}

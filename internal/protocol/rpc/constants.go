package rpc

// RPCVersion is the supported RPC protocol version. Every call carries it and
// the server rejects anything else with RPC_MISMATCH.
//
// Reference: RFC 5531 Section 9 (RPC Protocol Specification Version 2)
const RPCVersion = 2

// RPC Message Types
//
// These constants identify whether an RPC message is a call (request)
// from a client or a reply (response) from a server.
const (
	// MessageTypeCall indicates an RPC call message.
	MessageTypeCall = 0

	// MessageTypeReply indicates an RPC reply message.
	MessageTypeReply = 1
)

// RPC Reply States
//
// After receiving an RPC call, the server sends a reply that is either
// accepted or denied.
const (
	// ReplyStateAccepted (MSG_ACCEPTED) indicates the server recognized the
	// call and attempted to execute it. The accept status that follows says
	// whether execution succeeded.
	ReplyStateAccepted = 0

	// ReplyStateDenied (MSG_DENIED) indicates the server rejected the call,
	// either for an RPC version mismatch or an authentication failure.
	ReplyStateDenied = 1
)

// RPC Accept Status
//
// When a call is accepted, the accept_stat field indicates whether the
// procedure executed or why it could not.
//
// Reference: RFC 5531 Section 9 (accept_stat)
const (
	// AcceptSuccess indicates the procedure executed successfully and the
	// reply carries its results.
	AcceptSuccess = 0

	// AcceptProgUnavail indicates the requested program is not served here.
	AcceptProgUnavail = 1

	// AcceptProgMismatch indicates the program is served but not at the
	// requested version. The reply carries the supported low/high range.
	AcceptProgMismatch = 2

	// AcceptProcUnavail indicates the program does not implement the
	// requested procedure number.
	AcceptProcUnavail = 3

	// AcceptGarbageArgs indicates the procedure arguments could not be
	// decoded.
	AcceptGarbageArgs = 4

	// AcceptSystemErr indicates an unexpected error on the server.
	AcceptSystemErr = 5
)

// RPC Reject Status
//
// When a call is denied, the reject_stat field carries the reason.
//
// Reference: RFC 5531 Section 9 (reject_stat)
const (
	// RejectRPCMismatch indicates the RPC protocol version was not 2. The
	// reply carries the supported low/high range.
	RejectRPCMismatch = 0

	// RejectAuthError indicates the server could not authenticate the
	// caller. The reply carries an auth_stat code.
	RejectAuthError = 1
)

func acceptStatName(stat uint32) string {
	switch stat {
	case AcceptSuccess:
		return "SUCCESS"
	case AcceptProgUnavail:
		return "PROG_UNAVAIL"
	case AcceptProgMismatch:
		return "PROG_MISMATCH"
	case AcceptProcUnavail:
		return "PROC_UNAVAIL"
	case AcceptGarbageArgs:
		return "GARBAGE_ARGS"
	case AcceptSystemErr:
		return "SYSTEM_ERR"
	default:
		return "ACCEPT_STAT_UNKNOWN"
	}
}

func rejectStatName(stat uint32) string {
	switch stat {
	case RejectRPCMismatch:
		return "RPC_MISMATCH"
	case RejectAuthError:
		return "AUTH_ERROR"
	default:
		return "REJECT_STAT_UNKNOWN"
	}
}

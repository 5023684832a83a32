package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates no reply arrived within the call's deadline. The
	// pending slot has been removed; callers that retry must do so with a
	// fresh call (and therefore a fresh xid).
	ErrTimeout = errors.New("rpc: call timed out")

	// ErrDuplicateXID indicates an attempt to register a transaction id that
	// is still in flight. Duplicate in-flight use of one xid is a programming
	// error on the caller's side.
	ErrDuplicateXID = errors.New("rpc: xid already registered")
)

// VersionMismatchError reports a call whose RPC protocol version is not 2.
// It carries the supported version range so a well-formed RPC_MISMATCH
// rejection can be produced for the already-decoded xid.
type VersionMismatchError struct {
	Low  uint32
	High uint32
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("rpc: version mismatch, supported versions %d..%d", e.Low, e.High)
}

// AcceptedError is the client-side outcome of a reply that was accepted by
// the server with a status other than SUCCESS. For PROG_MISMATCH, Low and
// High carry the server's supported version range.
type AcceptedError struct {
	Status uint32
	Low    uint32
	High   uint32
}

func (e *AcceptedError) Error() string {
	if e.Status == AcceptProgMismatch {
		return fmt.Sprintf("rpc: call failed: %s, supported versions %d..%d",
			acceptStatName(e.Status), e.Low, e.High)
	}
	return fmt.Sprintf("rpc: call failed: %s", acceptStatName(e.Status))
}

// RejectedError is the client-side outcome of a reply that was denied by the
// server. For RPC_MISMATCH, Low and High carry the supported RPC version
// range; for AUTH_ERROR, AuthStat carries the auth_stat code.
type RejectedError struct {
	Status   uint32
	Low      uint32
	High     uint32
	AuthStat uint32
}

func (e *RejectedError) Error() string {
	switch e.Status {
	case RejectRPCMismatch:
		return fmt.Sprintf("rpc: call rejected: %s, supported versions %d..%d",
			rejectStatName(e.Status), e.Low, e.High)
	case RejectAuthError:
		return fmt.Sprintf("rpc: call rejected: %s (auth_stat %d)",
			rejectStatName(e.Status), e.AuthStat)
	default:
		return fmt.Sprintf("rpc: call rejected: %s", rejectStatName(e.Status))
	}
}

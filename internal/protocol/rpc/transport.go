package rpc

// Transport is the byte-level connection this engine runs over. The engine
// encodes and correlates messages; the transport owns framing, connection
// setup and teardown.
type Transport interface {
	// Send transmits one encoded RPC message.
	Send(data []byte) error

	// ReplyQueue returns the reply-correlation queue shared by every call in
	// flight on this transport. One queue instance per connection.
	ReplyQueue() *ReplyQueue
}

// ReplyObserver is notified of server-side reply outcomes. Encoding or
// sending a reply is best-effort: a failure is reported here and logged, but
// never re-raised to the dispatcher, so silently dropped replies stay
// operationally visible (a metrics implementation typically backs this).
type ReplyObserver interface {
	// ReplySent is called after a reply frame was handed to the transport.
	ReplySent(xid uint32)

	// ReplyDropped is called when a reply frame could not be produced or
	// transmitted. Stage is "encode" or "send".
	ReplyDropped(xid uint32, stage string, err error)
}

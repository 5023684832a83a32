package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittorpc/internal/protocol/rpc/auth"
	"github.com/marmos91/dittorpc/internal/xdr"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// recordingTransport captures sent frames for inspection.
type recordingTransport struct {
	queue *ReplyQueue
	sent  [][]byte
	err   error
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{queue: NewReplyQueue()}
}

func (t *recordingTransport) Send(data []byte) error {
	if t.err != nil {
		return t.err
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	t.sent = append(t.sent, frame)
	return nil
}

func (t *recordingTransport) ReplyQueue() *ReplyQueue { return t.queue }

type pingArgs struct {
	Message string
}

// encodeCallFrame builds a complete CALL frame body.
func encodeCallFrame(t *testing.T, xid, rpcvers, prog, vers, proc uint32, args Payload) []byte {
	t.Helper()

	x := xdr.NewBuffer(0)
	x.BeginEncoding()

	header := Message{XID: xid, Type: MessageTypeCall}
	require.NoError(t, header.Encode(x))
	for _, v := range []uint32{rpcvers, prog, vers, proc} {
		require.NoError(t, x.EncodeUint32(v))
	}
	none := &auth.None{}
	require.NoError(t, none.Encode(x))
	require.NoError(t, none.Encode(x))
	if args != nil {
		require.NoError(t, args.Encode(x))
	}
	x.EndEncoding()

	frame := make([]byte, len(x.Body()))
	copy(frame, x.Body())
	return frame
}

// acceptInbound consumes the message header of frame and decodes the call.
func acceptInbound(t *testing.T, frame []byte, transport Transport) (*ServerCall, error) {
	t.Helper()

	x := xdr.Wrap(frame, 0)
	var header Message
	require.NoError(t, header.Decode(x))
	require.Equal(t, uint32(MessageTypeCall), header.Type)

	return AcceptCall(header.XID, x, transport, nil)
}

// decodeReplyFrame consumes the message header of frame and decodes the reply.
func decodeReplyFrame(t *testing.T, frame []byte) *Reply {
	t.Helper()

	x := xdr.Wrap(frame, 0)
	var header Message
	require.NoError(t, header.Decode(x))
	require.Equal(t, uint32(MessageTypeReply), header.Type)

	reply, err := DecodeReply(header.XID, x)
	require.NoError(t, err)
	return reply
}

// ============================================================================
// Message Header Tests
// ============================================================================

func TestMessage(t *testing.T) {
	t.Run("RoundTrips", func(t *testing.T) {
		original := Message{XID: 0xdeadbeef, Type: MessageTypeReply}

		x := xdr.NewBuffer(0)
		x.BeginEncoding()
		require.NoError(t, original.Encode(x))
		x.EndEncoding()

		var decoded Message
		require.NoError(t, decoded.Decode(xdr.Wrap(x.Body(), 0)))
		assert.Equal(t, original, decoded)
	})

	t.Run("FailsOnTruncatedFrame", func(t *testing.T) {
		var m Message
		err := m.Decode(xdr.Wrap([]byte{0, 0, 0, 1}, 0))
		require.Error(t, err)
	})
}

// ============================================================================
// AcceptCall Tests
// ============================================================================

func TestAcceptCall(t *testing.T) {
	t.Run("DecodesHeaderFields", func(t *testing.T) {
		frame := encodeCallFrame(t, 7, RPCVersion, 100005, 3, 1, Struct{V: &pingArgs{Message: "hi"}})

		call, err := acceptInbound(t, frame, newRecordingTransport())
		require.NoError(t, err)

		assert.Equal(t, uint32(7), call.XID())
		assert.Equal(t, uint32(100005), call.Program())
		assert.Equal(t, uint32(3), call.Version())
		assert.Equal(t, uint32(1), call.Procedure())
		assert.Equal(t, uint32(auth.FlavorNone), call.Credential().Flavor())
		assert.Equal(t, uint32(auth.FlavorNone), call.Verifier().Flavor())

		var args pingArgs
		require.NoError(t, call.RetrieveArguments(Struct{V: &args}))
		assert.Equal(t, "hi", args.Message)
	})

	t.Run("RejectsWrongRPCVersion", func(t *testing.T) {
		frame := encodeCallFrame(t, 7, 3, 100005, 3, 1, nil)

		_, err := acceptInbound(t, frame, newRecordingTransport())
		require.Error(t, err)

		var mismatch *VersionMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, uint32(RPCVersion), mismatch.Low)
		assert.Equal(t, uint32(RPCVersion), mismatch.High)
	})

	t.Run("SurfacesAuthErrorForUnknownFlavor", func(t *testing.T) {
		x := xdr.NewBuffer(0)
		x.BeginEncoding()
		header := Message{XID: 9, Type: MessageTypeCall}
		require.NoError(t, header.Encode(x))
		for _, v := range []uint32{RPCVersion, 100005, 3, 1} {
			require.NoError(t, x.EncodeUint32(v))
		}
		require.NoError(t, x.EncodeUint32(42)) // unknown flavor
		require.NoError(t, x.EncodeDynamicOpaque(nil))
		x.EndEncoding()

		_, err := acceptInbound(t, x.Body(), newRecordingTransport())
		require.Error(t, err)

		var authErr *auth.Error
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, uint32(auth.StatBadCred), authErr.Stat)
	})

	t.Run("RejectsTrailingBytesAfterArguments", func(t *testing.T) {
		x := xdr.NewBuffer(0)
		x.BeginEncoding()
		header := Message{XID: 3, Type: MessageTypeCall}
		require.NoError(t, header.Encode(x))
		for _, v := range []uint32{RPCVersion, 100005, 3, 0} {
			require.NoError(t, x.EncodeUint32(v))
		}
		none := &auth.None{}
		require.NoError(t, none.Encode(x))
		require.NoError(t, none.Encode(x))
		require.NoError(t, x.EncodeUint32(0xffffffff)) // junk after void args
		x.EndEncoding()

		call, err := acceptInbound(t, x.Body(), newRecordingTransport())
		require.NoError(t, err)

		err = call.RetrieveArguments(Void{})
		require.Error(t, err)
		assert.ErrorIs(t, err, xdr.ErrMalformedMessage)
	})
}

// ============================================================================
// Server Reply Tests
// ============================================================================

func TestServerCallReplies(t *testing.T) {
	acceptedCall := func(t *testing.T, transport Transport) *ServerCall {
		frame := encodeCallFrame(t, 21, RPCVersion, 100005, 3, 1, Struct{V: &pingArgs{Message: "x"}})
		call, err := acceptInbound(t, frame, transport)
		require.NoError(t, err)
		var args pingArgs
		require.NoError(t, call.RetrieveArguments(Struct{V: &args}))
		return call
	}

	t.Run("SuccessCarriesResultPayload", func(t *testing.T) {
		transport := newRecordingTransport()
		call := acceptedCall(t, transport)

		call.Reply(Struct{V: &pingArgs{Message: "pong"}})

		require.Len(t, transport.sent, 1)
		reply := decodeReplyFrame(t, transport.sent[0])
		assert.Equal(t, uint32(21), reply.XID)
		require.True(t, reply.Accepted())
		assert.Equal(t, uint32(AcceptSuccess), reply.AcceptStat)

		var result pingArgs
		require.NoError(t, reply.Result(Struct{V: &result}))
		assert.Equal(t, "pong", result.Message)
	})

	t.Run("ProgMismatchCarriesVersionRange", func(t *testing.T) {
		transport := newRecordingTransport()
		call := acceptedCall(t, transport)

		call.FailProgramMismatch(2, 4)

		require.Len(t, transport.sent, 1)
		reply := decodeReplyFrame(t, transport.sent[0])
		require.True(t, reply.Accepted())
		assert.Equal(t, uint32(AcceptProgMismatch), reply.AcceptStat)
		assert.Equal(t, uint32(2), reply.Low)
		assert.Equal(t, uint32(4), reply.High)
	})

	t.Run("ErrorRepliesHaveEmptyBodies", func(t *testing.T) {
		cases := []struct {
			name string
			fail func(*ServerCall)
			stat uint32
		}{
			{"ProgUnavail", (*ServerCall).FailProgramUnavailable, AcceptProgUnavail},
			{"ProcUnavail", (*ServerCall).FailProcedureUnavailable, AcceptProcUnavail},
			{"GarbageArgs", (*ServerCall).FailGarbageArgs, AcceptGarbageArgs},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				transport := newRecordingTransport()
				call := acceptedCall(t, transport)

				tc.fail(call)

				require.Len(t, transport.sent, 1)
				reply := decodeReplyFrame(t, transport.sent[0])
				require.True(t, reply.Accepted())
				assert.Equal(t, tc.stat, reply.AcceptStat)
			})
		}
	})

	t.Run("SendFailureIsSwallowed", func(t *testing.T) {
		transport := newRecordingTransport()
		call := acceptedCall(t, transport)

		transport.err = errors.New("broken pipe")
		call.Reply(Void{})

		assert.Empty(t, transport.sent)
	})
}

// ============================================================================
// Rejection Tests
// ============================================================================

func TestRejections(t *testing.T) {
	t.Run("VersionMismatchRejection", func(t *testing.T) {
		transport := newRecordingTransport()

		require.NoError(t, DenyVersionMismatch(transport, 5, RPCVersion, RPCVersion))

		require.Len(t, transport.sent, 1)
		reply := decodeReplyFrame(t, transport.sent[0])
		assert.Equal(t, uint32(5), reply.XID)
		require.False(t, reply.Accepted())
		assert.Equal(t, uint32(RejectRPCMismatch), reply.RejectStat)
		assert.Equal(t, uint32(RPCVersion), reply.Low)
		assert.Equal(t, uint32(RPCVersion), reply.High)
	})

	t.Run("AuthErrorRejection", func(t *testing.T) {
		transport := newRecordingTransport()

		require.NoError(t, DenyAuthError(transport, 6, auth.StatTooWeak))

		require.Len(t, transport.sent, 1)
		reply := decodeReplyFrame(t, transport.sent[0])
		require.False(t, reply.Accepted())
		assert.Equal(t, uint32(RejectAuthError), reply.RejectStat)
		assert.Equal(t, uint32(auth.StatTooWeak), reply.AuthStat)
	})
}

// ============================================================================
// DecodeReply Tests
// ============================================================================

func TestDecodeReply(t *testing.T) {
	t.Run("RejectsUnknownReplyState", func(t *testing.T) {
		x := xdr.NewBuffer(0)
		x.BeginEncoding()
		require.NoError(t, x.EncodeUint32(7))
		x.EndEncoding()

		_, err := DecodeReply(1, xdr.Wrap(x.Body(), 0))
		require.Error(t, err)
		assert.ErrorIs(t, err, xdr.ErrMalformedMessage)
	})

	t.Run("RejectsUnknownRejectStatus", func(t *testing.T) {
		x := xdr.NewBuffer(0)
		x.BeginEncoding()
		require.NoError(t, x.EncodeUint32(ReplyStateDenied))
		require.NoError(t, x.EncodeUint32(9))
		x.EndEncoding()

		_, err := DecodeReply(1, xdr.Wrap(x.Body(), 0))
		require.Error(t, err)
		assert.ErrorIs(t, err, xdr.ErrMalformedMessage)
	})

	t.Run("ResultRefusesNonSuccessReply", func(t *testing.T) {
		transport := newRecordingTransport()
		frame := encodeCallFrame(t, 2, RPCVersion, 100005, 3, 0, nil)
		call, err := acceptInbound(t, frame, transport)
		require.NoError(t, err)
		require.NoError(t, call.RetrieveArguments(Void{}))

		call.FailProgramUnavailable()

		reply := decodeReplyFrame(t, transport.sent[0])
		err = reply.Result(Void{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no result")
	})
}

// ============================================================================
// Client Tests
// ============================================================================

// loopbackTransport hands every sent call to a server-side handler running on
// a second goroutine, and feeds the handler's reply back through the queue.
type loopbackTransport struct {
	queue  *ReplyQueue
	handle func(call *ServerCall)
}

func newLoopbackTransport(handle func(call *ServerCall)) *loopbackTransport {
	return &loopbackTransport{queue: NewReplyQueue(), handle: handle}
}

func (t *loopbackTransport) ReplyQueue() *ReplyQueue { return t.queue }

func (t *loopbackTransport) Send(data []byte) error {
	frame := make([]byte, len(data))
	copy(frame, data)

	go func() {
		x := xdr.Wrap(frame, 0)
		var header Message
		if err := header.Decode(x); err != nil {
			return
		}

		call, err := AcceptCall(header.XID, x, replySink{t.queue}, nil)
		if err != nil {
			return
		}
		t.handle(call)
	}()
	return nil
}

// replySink routes the server-side reply frame straight into the client queue.
type replySink struct {
	queue *ReplyQueue
}

func (s replySink) ReplyQueue() *ReplyQueue { return s.queue }

func (s replySink) Send(data []byte) error {
	x := xdr.Wrap(data, 0)
	var header Message
	if err := header.Decode(x); err != nil {
		return err
	}
	reply, err := DecodeReply(header.XID, x)
	if err != nil {
		return err
	}
	s.queue.Fulfil(header.XID, reply)
	return nil
}

func TestClientCall(t *testing.T) {
	t.Run("RoundTripsSuccessReply", func(t *testing.T) {
		transport := newLoopbackTransport(func(call *ServerCall) {
			var args pingArgs
			if err := call.RetrieveArguments(Struct{V: &args}); err != nil {
				call.FailGarbageArgs()
				return
			}
			call.Reply(Struct{V: &pingArgs{Message: args.Message + "!"}})
		})

		client := NewClient(100005, 3, nil, nil, transport)

		var result pingArgs
		err := client.Call(context.Background(), 1, Struct{V: &pingArgs{Message: "ping"}}, Struct{V: &result}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "ping!", result.Message)
	})

	t.Run("SurfacesProgMismatchAsAcceptedError", func(t *testing.T) {
		transport := newLoopbackTransport(func(call *ServerCall) {
			_ = call.RetrieveArguments(Void{})
			call.FailProgramMismatch(1, 3)
		})

		client := NewClient(100005, 9, nil, nil, transport)

		err := client.Call(context.Background(), 0, Void{}, Void{}, time.Second)
		require.Error(t, err)

		var accepted *AcceptedError
		require.ErrorAs(t, err, &accepted)
		assert.Equal(t, uint32(AcceptProgMismatch), accepted.Status)
		assert.Equal(t, uint32(1), accepted.Low)
		assert.Equal(t, uint32(3), accepted.High)
	})

	t.Run("SurfacesAuthRejectionAsRejectedError", func(t *testing.T) {
		queue := NewReplyQueue()
		transport := &rejectingTransport{queue: queue}

		client := NewClient(100005, 3, nil, nil, transport)

		err := client.Call(context.Background(), 0, Void{}, Void{}, time.Second)
		require.Error(t, err)

		var rejected *RejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, uint32(RejectAuthError), rejected.Status)
		assert.Equal(t, uint32(auth.StatBadCred), rejected.AuthStat)
	})

	t.Run("TimesOutWithoutReply", func(t *testing.T) {
		transport := newRecordingTransport()
		client := NewClient(100005, 3, nil, nil, transport)

		err := client.Call(context.Background(), 0, Void{}, Void{}, 20*time.Millisecond)
		require.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("HonoursContextCancellation", func(t *testing.T) {
		transport := newRecordingTransport()
		client := NewClient(100005, 3, nil, nil, transport)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		err := client.Call(ctx, 0, Void{}, Void{}, time.Minute)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("SendFailureRemovesPendingSlot", func(t *testing.T) {
		transport := newRecordingTransport()
		transport.err = errors.New("connection reset")
		client := NewClient(100005, 3, nil, nil, transport)

		err := client.Call(context.Background(), 0, Void{}, Void{}, time.Second)
		require.Error(t, err)

		// No residual registration may survive a failed send.
		transport.queue.mu.Lock()
		assert.Empty(t, transport.queue.pending)
		transport.queue.mu.Unlock()
	})

	t.Run("AttachesUnixCredential", func(t *testing.T) {
		seen := make(chan auth.Auth, 1)
		transport := newLoopbackTransport(func(call *ServerCall) {
			seen <- call.Credential()
			_ = call.RetrieveArguments(Void{})
			call.Reply(Void{})
		})

		cred := &auth.Unix{Stamp: 99, MachineName: "client", UID: 1000, GID: 1000}
		client := NewClient(100005, 3, cred, nil, transport)

		require.NoError(t, client.Call(context.Background(), 0, Void{}, Void{}, time.Second))

		got := <-seen
		parsed, ok := got.(*auth.Unix)
		require.True(t, ok)
		assert.Equal(t, "client", parsed.MachineName)
		assert.Equal(t, uint32(1000), parsed.UID)
	})
}

// rejectingTransport denies every call with AUTH_ERROR on send.
type rejectingTransport struct {
	queue *ReplyQueue
}

func (t *rejectingTransport) ReplyQueue() *ReplyQueue { return t.queue }

func (t *rejectingTransport) Send(data []byte) error {
	x := xdr.Wrap(data, 0)
	var header Message
	if err := header.Decode(x); err != nil {
		return err
	}
	return DenyAuthError(replySink{t.queue}, header.XID, auth.StatBadCred)
}

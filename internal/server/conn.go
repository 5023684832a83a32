package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/internal/protocol/rpc"
	"github.com/marmos91/dittorpc/internal/protocol/rpc/auth"
	"github.com/marmos91/dittorpc/internal/ratelimiter"
	"github.com/marmos91/dittorpc/internal/xdr"
	"github.com/marmos91/dittorpc/pkg/metrics"
)

const (
	// lastFragmentFlag marks the final fragment of a record (RFC 5531 §11).
	lastFragmentFlag = 0x80000000

	// fragmentLengthMask extracts the 31-bit fragment length.
	fragmentLengthMask = 0x7fffffff
)

// Conn is a single record-marked TCP connection. It implements
// rpc.Transport: outbound messages are framed with a fragment header, and
// inbound replies are routed through the connection's reply queue.
type Conn struct {
	id             string
	conn           net.Conn
	dispatcher     Dispatcher
	queue          *rpc.ReplyQueue
	metrics        rpcObserver
	limiter        *ratelimiter.CallLimiter
	maxMessageSize int

	writeMu sync.Mutex
}

func newConn(tcpConn net.Conn, dispatcher Dispatcher, maxMessageSize int, m metrics.RPCMetrics, limiter *ratelimiter.CallLimiter) *Conn {
	if maxMessageSize <= 0 {
		maxMessageSize = xdr.DefaultMaxMessageSize
	}
	return &Conn{
		id:             uuid.New().String(),
		conn:           tcpConn,
		dispatcher:     dispatcher,
		queue:          rpc.NewReplyQueue(),
		metrics:        rpcObserver{m},
		limiter:        limiter,
		maxMessageSize: maxMessageSize,
	}
}

// ID returns the connection identifier used for log correlation.
func (c *Conn) ID() string {
	return c.id
}

// ReplyQueue returns the reply-correlation queue bound to this connection.
func (c *Conn) ReplyQueue() *rpc.ReplyQueue {
	return c.queue
}

// Send frames data as a single last-fragment record and writes it out.
// Concurrent senders are serialized so fragments never interleave.
func (c *Conn) Send(data []byte) error {
	if len(data) > fragmentLengthMask {
		return fmt.Errorf("message of %d bytes exceeds record mark limit", len(data))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], lastFragmentFlag|uint32(len(data)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write record mark: %w", err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close tears down the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// serve reads records off the connection and dispatches them until the
// connection closes or ctx is cancelled.
func (c *Conn) serve(ctx context.Context) {
	defer c.conn.Close()

	logger.Debug("[%s] Connection opened (remote %s)", c.id, c.conn.RemoteAddr())

	// The watcher must not outlive the connection, or every closed
	// connection would pin a goroutine until server shutdown.
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	for {
		message, err := c.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Debug("[%s] Connection closed", c.id)
			} else {
				logger.Warn("[%s] Read error: %v", c.id, err)
			}
			return
		}

		c.handleMessage(message)
	}
}

// readMessage reassembles one record from its fragments.
func (c *Conn) readMessage() ([]byte, error) {
	var message []byte

	for {
		var header [4]byte
		if _, err := io.ReadFull(c.conn, header[:]); err != nil {
			return nil, err
		}

		mark := binary.BigEndian.Uint32(header[:])
		length := int(mark & fragmentLengthMask)
		last := mark&lastFragmentFlag != 0

		if len(message)+length > c.maxMessageSize {
			return nil, fmt.Errorf("message exceeds maximum size of %d bytes", c.maxMessageSize)
		}

		fragment := make([]byte, length)
		if _, err := io.ReadFull(c.conn, fragment); err != nil {
			return nil, fmt.Errorf("failed to read fragment of %d bytes: %w", length, err)
		}

		if message == nil && last {
			return fragment, nil
		}

		message = append(message, fragment...)
		if last {
			return message, nil
		}
	}
}

// handleMessage decodes the RPC header and routes the message: replies are
// fulfilled on the queue, calls go to the dispatcher.
func (c *Conn) handleMessage(data []byte) {
	x := xdr.Wrap(data, c.maxMessageSize)

	var header rpc.Message
	if err := header.Decode(x); err != nil {
		logger.Warn("[%s] Malformed message header: %v", c.id, err)
		return
	}

	switch header.Type {
	case rpc.MessageTypeReply:
		reply, err := rpc.DecodeReply(header.XID, x)
		if err != nil {
			logger.Warn("[%s] Malformed reply for xid %d: %v", c.id, header.XID, err)
			return
		}
		c.queue.Fulfil(header.XID, reply)

	case rpc.MessageTypeCall:
		c.handleCall(header.XID, x)

	default:
		logger.Warn("[%s] Unknown message type %d for xid %d", c.id, header.Type, header.XID)
	}
}

func (c *Conn) handleCall(xid uint32, x *xdr.Buffer) {
	call, err := rpc.AcceptCall(xid, x, c, c.metrics)
	if err != nil {
		var mismatch *rpc.VersionMismatchError
		var authErr *auth.Error

		switch {
		case errors.As(err, &mismatch):
			logger.Debug("[%s] RPC version mismatch on xid %d: %v", c.id, xid, err)
			if err := rpc.DenyVersionMismatch(c, xid, mismatch.Low, mismatch.High); err != nil {
				c.metrics.ReplyDropped(xid, "send", err)
			}
		case errors.As(err, &authErr):
			logger.Debug("[%s] Bad credentials on xid %d: %v", c.id, xid, err)
			if err := rpc.DenyAuthError(c, xid, authErr.Stat); err != nil {
				c.metrics.ReplyDropped(xid, "send", err)
			}
		default:
			logger.Warn("[%s] Malformed call for xid %d: %v", c.id, xid, err)
		}
		return
	}

	if c.dispatcher == nil {
		call.FailProgramUnavailable()
		return
	}

	if c.limiter != nil && !c.limiter.Allow() {
		logger.Warn("[%s] Shedding call xid %d, rate limit exceeded", c.id, xid)
		call.FailSystemError()
		return
	}

	start := time.Now()
	c.dispatcher.Dispatch(call)
	c.metrics.m.RecordCall(call.Program(), time.Since(start))
}

// rpcObserver adapts the metrics recorder to the reply observer the protocol
// layer expects.
type rpcObserver struct {
	m metrics.RPCMetrics
}

func (o rpcObserver) ReplySent(xid uint32) {
	if o.m != nil {
		o.m.RecordReplySent()
	}
}

func (o rpcObserver) ReplyDropped(xid uint32, stage string, err error) {
	logger.Warn("Reply for xid %d dropped at %s: %v", xid, stage, err)
	if o.m != nil {
		o.m.RecordReplyDropped(stage)
	}
}

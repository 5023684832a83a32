package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/internal/protocol/rpc"
	"github.com/marmos91/dittorpc/internal/ratelimiter"
	"github.com/marmos91/dittorpc/pkg/metrics"
)

// Dispatcher handles decoded inbound calls. Implementations inspect program,
// version and procedure, retrieve the arguments exactly once and answer with
// exactly one reply operation.
type Dispatcher interface {
	Dispatch(call *rpc.ServerCall)
}

// Server accepts transport connections and runs the inbound-dispatch loop for
// each of them.
type Server struct {
	addr           string
	maxMessageSize int
	listener       net.Listener
	dispatcher     Dispatcher
	metrics        metrics.RPCMetrics
	limiter        *ratelimiter.CallLimiter
	active         atomic.Int32
}

// New creates a server listening on addr once Serve is called. A nil
// Dispatcher answers every call with PROG_UNAVAIL; nil metrics selects the
// no-op implementation. A maxMessageSize of 0 selects the default ceiling.
func New(addr string, maxMessageSize int, dispatcher Dispatcher, m metrics.RPCMetrics) *Server {
	if m == nil {
		m = metrics.NewRPCMetrics()
	}
	return &Server{
		addr:           addr,
		maxMessageSize: maxMessageSize,
		dispatcher:     dispatcher,
		metrics:        m,
	}
}

// SetRateLimit caps the rate of dispatched calls across all connections.
// Calls over the limit are answered with SYSTEM_ERR. A rate of 0 removes the
// cap. Must be called before Serve.
func (s *Server) SetRateLimit(callsPerSecond, burst uint) {
	if callsPerSecond == 0 {
		s.limiter = nil
		return
	}
	s.limiter = ratelimiter.New(callsPerSecond, burst)
}

// Addr returns the bound listener address, valid once Serve has started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve listens and accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	s.listener = listener
	logger.Info("RPC server listening on %s", listener.Addr())

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		tcpConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Debug("Error accepting connection: %v", err)
				continue
			}
		}

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(s.active.Add(1))

		conn := newConn(tcpConn, s.dispatcher, s.maxMessageSize, s.metrics, s.limiter)
		go func() {
			conn.serve(ctx)
			s.metrics.RecordConnectionClosed()
			s.metrics.SetActiveConnections(s.active.Add(-1))
		}()
	}
}

// Stop closes the listener. In-flight connections drain on their own.
func (s *Server) Stop() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Dial opens a client connection to addr and starts its inbound-dispatch
// loop. The returned Conn implements rpc.Transport; close it when done.
func Dial(ctx context.Context, addr string, maxMessageSize int) (*Conn, error) {
	var d net.Dialer
	tcpConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// No dispatcher: inbound calls on a pure client connection are answered
	// with PROG_UNAVAIL by the conn loop.
	conn := newConn(tcpConn, nil, maxMessageSize, metrics.NewRPCMetrics(), nil)
	go conn.serve(ctx)
	return conn, nil
}

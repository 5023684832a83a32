package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ReplyQueue correlates outstanding calls to their replies. It is shared by
// every concurrently in-flight call on one transport: calling goroutines
// register and wait, the transport's single inbound-dispatch path fulfils.
//
// All three operations are linearizable with respect to each other; the
// buffered per-slot channel is created and written under the same mutex, so
// a fulfilment that happens after RegisterKey returns can never be missed by
// a Get that blocks later (no lost-wakeup window).
type ReplyQueue struct {
	mu      sync.Mutex
	pending map[uint32]chan *Reply
}

// NewReplyQueue creates an empty queue.
func NewReplyQueue() *ReplyQueue {
	return &ReplyQueue{pending: make(map[uint32]chan *Reply)}
}

// RegisterKey creates a waiting slot for xid. It must be called strictly
// before the call frame is transmitted, so a fast reply cannot arrive while
// nobody is waiting for it.
//
// Registering an xid that is still pending returns ErrDuplicateXID: two
// in-flight calls must never share a transaction id.
func (q *ReplyQueue) RegisterKey(xid uint32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[xid]; ok {
		return fmt.Errorf("%w: 0x%x", ErrDuplicateXID, xid)
	}
	q.pending[xid] = make(chan *Reply, 1)
	return nil
}

// Get blocks until the reply for xid is delivered, the timeout elapses, or
// ctx is cancelled. On timeout it removes the slot and returns ErrTimeout;
// on cancellation it removes the slot and returns the context error. Either
// way no residual entry for xid is left behind.
func (q *ReplyQueue) Get(ctx context.Context, xid uint32, timeout time.Duration) (*Reply, error) {
	q.mu.Lock()
	ch, ok := q.pending[xid]
	q.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("rpc: xid 0x%x was never registered", xid)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r, nil
	case <-timer.C:
		if r := q.takeRaced(xid, ch); r != nil {
			return r, nil
		}
		return nil, ErrTimeout
	case <-ctx.Done():
		if r := q.takeRaced(xid, ch); r != nil {
			return r, nil
		}
		return nil, ctx.Err()
	}
}

// takeRaced resolves the race between an expiring waiter and a concurrent
// Fulfil. If the waiter's own slot is still pending it removes it and gives
// up; otherwise Fulfil already buffered the reply and the waiter takes it.
//
// The slot is matched by channel identity, not xid alone: after a wraparound
// the xid may have been fulfilled and re-registered by a newer call, whose
// slot must not be touched by the old waiter.
func (q *ReplyQueue) takeRaced(xid uint32, ch chan *Reply) *Reply {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, pending := q.pending[xid]; pending && cur == ch {
		delete(q.pending, xid)
		return nil
	}
	return <-ch
}

// Fulfil delivers a reply to the single waiter for xid and removes the slot.
// A reply for an unknown xid (never registered, already fulfilled, or already
// timed out) is silently discarded: stale and duplicate network deliveries
// are expected, not an error.
func (q *ReplyQueue) Fulfil(xid uint32, r *Reply) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.pending[xid]
	if !ok {
		return
	}
	delete(q.pending, xid)
	ch <- r
}

// Pending reports whether a slot for xid exists.
func (q *ReplyQueue) Pending(xid uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[xid]
	return ok
}

// discard removes the slot for xid without delivering anything. Used when a
// registered call fails before it starts waiting (encode or send failure).
func (q *ReplyQueue) discard(xid uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, xid)
}

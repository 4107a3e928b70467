package gateway

import (
	"sync"

	"github.com/mindspace/group-meditation/internal/api/metrics"
	"github.com/mindspace/group-meditation/internal/core/domain"
)

const defaultSendQueueSize = 64

// Connection is one authenticated client session on this process. Its
// identity is fixed at the handshake.
//
// send is never closed: broadcasters may still hold a reference after the
// connection went away. done signals shutdown instead.
type Connection struct {
	ref      domain.ConnectionRef
	identity domain.Identity
	send     chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection builds a connection with a bounded send queue.
func NewConnection(ref domain.ConnectionRef, identity domain.Identity, sendQueueSize int) *Connection {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Connection{
		ref:      ref,
		identity: identity,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}
}

func (c *Connection) Ref() domain.ConnectionRef { return c.ref }

// Caller identifies this connection to the coordinator.
func (c *Connection) Caller() domain.Caller {
	return domain.Caller{Identity: c.identity, Conn: c.ref}
}

// Enqueue queues a frame for the writer without blocking. It reports false
// when the frame was dropped.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		metrics.BroadcastDroppedTotal.WithLabelValues("closed").Inc()
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		metrics.BroadcastDroppedTotal.WithLabelValues("queue_full").Inc()
		return false
	}
}

// Done is closed once the connection is shutting down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close signals the connection goroutines to stop. Safe to call repeatedly.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

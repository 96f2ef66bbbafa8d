// Package presence tracks which users are connected and which chats they take
// part in, and fans events out to their live connections. All state is
// in-process and sharded so that operations on different users never contend
// on a shared lock.
package presence

import (
	"context"
	"errors"
	"sync"
)

// ErrChannelClosed is returned when sending to or receiving from a closed
// channel.
var ErrChannelClosed = errors.New("presence: channel closed")

// Channel is an unbounded FIFO of serialized events destined for one socket.
// Producers never block; a single consumer drains it in enqueue order.
// Channels are compared by pointer identity.
type Channel struct {
	mu     sync.Mutex
	queue  [][]byte
	notify chan struct{}
	closed bool
}

// NewChannel returns an empty open channel.
func NewChannel() *Channel {
	return &Channel{notify: make(chan struct{}, 1)}
}

// Send enqueues event.
func (c *Channel) Send(event []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.queue = append(c.queue, event)
	c.mu.Unlock()

	c.wake()
	return nil
}

// Receive blocks until an event is available, the channel is closed or ctx
// is done. Events still queued when the channel closes are discarded.
func (c *Channel) Receive(ctx context.Context) ([]byte, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrChannelClosed
		}
		if len(c.queue) > 0 {
			ev := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			if len(c.queue) == 0 {
				c.queue = nil
			}
			c.mu.Unlock()
			return ev, nil
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close marks the channel closed and wakes the consumer. It is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	c.mu.Unlock()

	c.wake()
}

// Len returns the number of queued events.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Channel) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

package core

import (
	"sync"

	"github.com/vovakirdan/relaychat/internal/errs"
)

// DefaultClientBuffer is the outbound queue size used when none is configured.
const DefaultClientBuffer = 32

// Client is a live connection handle as seen by the core layer.
// The transport drains Events; the core only ever enqueues without blocking.
type Client struct {
	ID     string
	Events chan *Event

	done chan struct{}
	once sync.Once
}

// NewClient constructs a client with an initialized outbound queue.
func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Client{
		ID:     id,
		Events: make(chan *Event, buffer),
		done:   make(chan struct{}),
	}
}

// Deliver enqueues an event for the transport. It never blocks.
func (c *Client) Deliver(event *Event) error {
	select {
	case <-c.done:
		return errs.ErrConnectionClosed
	default:
	}

	select {
	case c.Events <- event:
		return nil
	default:
		return errs.ErrSlowConsumer
	}
}

// Close marks the client as gone. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

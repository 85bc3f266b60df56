package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"trustlines-relay/internal/events"
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrSlowClient   = errors.New("client buffer full")
)

// Client receives the events published to the subjects it is subscribed to.
type Client interface {
	Deliver(ctx context.Context, ev events.Event) error
	Close() error
}

// ChannelClient buffers events for a consumer reading Events. Events that do
// not fit into the buffer are dropped and reported as ErrSlowClient.
type ChannelClient struct {
	mu     sync.Mutex
	ch     chan events.Event
	closed bool
}

func NewChannelClient(buffer int) *ChannelClient {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelClient{ch: make(chan events.Event, buffer)}
}

// Events is closed when the client is closed.
func (c *ChannelClient) Events() <-chan events.Event {
	return c.ch
}

func (c *ChannelClient) Deliver(_ context.Context, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.ch <- ev:
		return nil
	default:
		return ErrSlowClient
	}
}

func (c *ChannelClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}

// DefaultPushTimeout bounds a single push delivery.
const DefaultPushTimeout = 10 * time.Second

// PushBackend delivers notifications to devices identified by a client token.
type PushBackend interface {
	ValidateToken(ctx context.Context, token string) (bool, error)
	Send(ctx context.Context, token string, ev events.Event) error
}

// PushClient forwards user-facing events to a push backend.
type PushClient struct {
	token   string
	backend PushBackend
	timeout time.Duration
}

func NewPushClient(token string, backend PushBackend) *PushClient {
	return &PushClient{token: token, backend: backend, timeout: DefaultPushTimeout}
}

func (c *PushClient) Token() string {
	return c.token
}

func (c *PushClient) Deliver(ctx context.Context, ev events.Event) error {
	if !Pushable(ev.Type) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.backend.Send(ctx, c.token, ev)
}

func (c *PushClient) Close() error {
	return nil
}

// Pushable reports whether events of a type are sent as push notifications.
func Pushable(eventType string) bool {
	switch eventType {
	case events.TypeTransfer, events.TypeTrustlineRequest, events.TypeTrustlineUpdate, events.TypeTrustlineRequestCancel:
		return true
	default:
		return false
	}
}

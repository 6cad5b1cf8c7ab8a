// Package correlator matches asynchronous replies to the request that caused
// them.
//
// Requests and replies share a device topic, so the topic is the correlation
// key. Each topic has at most one armed registration, a single-slot
// rendezvous: the first accepted message on the topic fills the slot and
// disarms it. A registration must be made before the request is published,
// otherwise a fast reply can arrive while nobody is waiting and be dropped.
//
//	w, err := c.Register(topic, correlator.WithFilter(device.IsReply))
//	if err != nil {
//	    return err
//	}
//	if err := publish(topic, "GET"); err != nil {
//	    w.Cancel()
//	    return err
//	}
//	reply, err := w.Wait(ctx, 5*time.Second)
package correlator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Reply is a message delivered to a waiter.
type Reply struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Filter decides whether a message may fill a registration. A rejected
// message is dropped and the registration stays armed. It runs with the
// correlator locked and must not call back into it.
type Filter func(payload []byte) bool

// Option configures a registration.
type Option func(*pending)

// WithFilter only accepts messages for which f returns true.
func WithFilter(f Filter) Option {
	return func(p *pending) {
		p.filter = f
	}
}

// pending is one armed registration.
type pending struct {
	topic     string
	createdAt time.Time
	filter    Filter
	result    chan Reply // Buffered, capacity 1
}

// Correlator hands inbound messages to the caller awaiting them.
//
// Deliver is called from the transport's receive goroutines and never
// blocks. All methods are safe for concurrent use.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pending
	closed  chan struct{}
	once    sync.Once
	now     func() time.Time
}

// New creates an empty correlator.
func New() *Correlator {
	return &Correlator{
		pending: make(map[string]*pending),
		closed:  make(chan struct{}),
		now:     time.Now,
	}
}

// Register arms the slot for topic.
//
// Only one registration per topic may be armed; a second one fails with
// ErrAlreadyAwaiting until the first is resolved or released.
func (c *Correlator) Register(topic string, opts ...Option) (*Waiter, error) {
	p := &pending{
		topic:  topic,
		result: make(chan Reply, 1),
	}
	for _, opt := range opts {
		opt(p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}

	if _, busy := c.pending[topic]; busy {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAwaiting, topic)
	}

	p.createdAt = c.now()
	c.pending[topic] = p
	return &Waiter{c: c, p: p}, nil
}

// AwaitReply registers for topic and waits for the next accepted message.
// Anything that triggers the reply must already be in flight or be sent
// from another goroutine; use Register and Waiter.Wait to publish in between.
func (c *Correlator) AwaitReply(ctx context.Context, topic string, timeout time.Duration, opts ...Option) (Reply, error) {
	w, err := c.Register(topic, opts...)
	if err != nil {
		return Reply{}, err
	}
	return w.Wait(ctx, timeout)
}

// Deliver offers a message to the registration for topic.
//
// It never blocks. With no armed registration, or when the registration's
// filter rejects the payload, the message is dropped. The payload is copied,
// so the caller may reuse its buffer. Deliver reports whether a waiter took
// the message.
func (c *Correlator) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	p, ok := c.pending[topic]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if p.filter != nil && !p.filter(payload) {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, topic)
	c.mu.Unlock()

	reply := Reply{
		Topic:      topic,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: c.now(),
	}

	// Removed from the map under the lock, so only this call can fill the slot.
	p.result <- reply
	return true
}

// Pending returns the number of armed registrations.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close cancels every in-flight wait with ErrClosed and rejects new
// registrations. Calling Close more than once is safe.
func (c *Correlator) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		close(c.closed)
		c.pending = make(map[string]*pending)
		c.mu.Unlock()
	})
}

// release disarms p if it is still the registration for its topic.
func (c *Correlator) release(p *pending) {
	c.mu.Lock()
	if c.pending[p.topic] == p {
		delete(c.pending, p.topic)
	}
	c.mu.Unlock()
}

// Waiter is an armed registration returned by Register.
type Waiter struct {
	c *Correlator
	p *pending
}

// Topic returns the topic the waiter is registered on.
func (w *Waiter) Topic() string {
	return w.p.topic
}

// Wait blocks until a reply fills the slot, the timeout elapses, ctx ends or
// the correlator is closed. The registration is always released on return.
//
// Errors: ErrTimedOut, ErrClosed, or ctx.Err().
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (Reply, error) {
	defer w.c.release(w.p)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case reply := <-w.p.result:
		return reply, nil
	case <-timer.C:
		err = fmt.Errorf("%w: %s after %v", ErrTimedOut, w.p.topic, timeout)
	case <-ctx.Done():
		err = ctx.Err()
	case <-w.c.closed:
		err = ErrClosed
	}

	// A reply that raced the other cases is still a reply.
	select {
	case reply := <-w.p.result:
		return reply, nil
	default:
		return Reply{}, err
	}
}

// Cancel releases a registration that will not be waited on, for example
// because publishing the request failed.
func (w *Waiter) Cancel() {
	w.c.release(w.p)
}

// Age returns how long the registration has been armed.
func (w *Waiter) Age() time.Duration {
	return w.c.now().Sub(w.p.createdAt)
}

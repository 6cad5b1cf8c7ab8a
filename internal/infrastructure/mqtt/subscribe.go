package mqtt

import (
	"fmt"
	"sort"
)

// route is a subscription kept for replay after a reconnect.
type route struct {
	qos     byte
	handler MessageHandler
}

// Subscribe routes messages matching pattern to handler. Patterns may use
// the + and # wildcards; the controller subscribes to Topics.AllDevices and
// each simulator to its own device topic.
//
// The route survives reconnects. Subscribing the same pattern again
// replaces its handler.
func (c *Client) Subscribe(pattern string, qos byte, handler MessageHandler) error {
	if err := checkAddress(pattern, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, pattern)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.routes[pattern] = route{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := waitAck(c.paho.Subscribe(pattern, qos, c.deliver(handler)), ackTimeout, ErrSubscribeFailed); err != nil {
		c.mu.Lock()
		delete(c.routes, pattern)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Routes returns the subscribed patterns in sorted order.
func (c *Client) Routes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	patterns := make([]string, 0, len(c.routes))
	for p := range c.routes {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	return patterns
}

// replayRoutes re-subscribes every route after paho reconnects with a clean
// session. Failures are logged; the next reconnect tries again.
func (c *Client) replayRoutes() {
	c.mu.RLock()
	routes := make(map[string]route, len(c.routes))
	for p, r := range c.routes {
		routes[p] = r
	}
	c.mu.RUnlock()

	for pattern, r := range routes {
		token := c.paho.Subscribe(pattern, r.qos, c.deliver(r.handler))
		go func(pattern string) {
			if err := waitAck(token, ackTimeout, ErrSubscribeFailed); err != nil {
				c.log().Warn("restoring subscription failed", "pattern", pattern, "error", err)
			}
		}(pattern)
	}
}

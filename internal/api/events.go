package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/homebus/internal/controller"
	"github.com/nerrad567/homebus/internal/infrastructure/config"
	"github.com/nerrad567/homebus/internal/infrastructure/logging"
)

// allChannels subscribes to every controller event channel.
const allChannels = "*"

// outboxSize is how many frames a subscriber may fall behind before events
// are dropped for it.
const outboxSize = 256

// Ops a client may send, and the op of the ack it gets back.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// Event is one controller event as streamed to subscribers.
type Event struct {
	Channel string    `json:"channel"`
	At      time.Time `json:"at"`
	Data    any       `json:"data,omitempty"`
}

// Command changes what a subscriber receives.
type Command struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// Ack answers a Command with the subscriber's channels after it was
// applied. A rejected Command sets Error and changes nothing.
type Ack struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
	Error    string   `json:"error,omitempty"`
}

// parseChannels resolves channel names against the controller's event
// channels. "*" stands for all of them.
func parseChannels(names []string) (map[string]bool, error) {
	known := controller.EventChannels()
	set := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		switch {
		case name == "":
		case name == allChannels:
			for _, ch := range known {
				set[ch] = true
			}
		case slices.Contains(known, name):
			set[name] = true
		default:
			return nil, fmt.Errorf("unknown event channel %q", name)
		}
	}
	return set, nil
}

// Hub streams controller events to WebSocket subscribers. It implements
// controller.Events; a subscriber that falls behind misses events instead of
// stalling the controller.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub creates a hub with no subscribers.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, subs: make(map[*subscriber]struct{})}
}

// Broadcast encodes payload once and queues it for every subscriber of
// channel.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := json.Marshal(Event{Channel: channel, At: time.Now().UTC(), Data: payload})
	if err != nil {
		h.logger.Error("encoding event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.wants(channel) && !sub.offer(frame) {
			h.logger.Debug("event dropped for slow subscriber", "channel", channel)
		}
	}
}

// Subscribers returns the number of open streams.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.stop()
}

// closeAll ends every stream with a close frame.
func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
}

func (h *Hub) pingInterval() time.Duration {
	return time.Duration(h.cfg.PingInterval) * time.Second
}

func (h *Hub) pongTimeout() time.Duration {
	return time.Duration(h.cfg.PongTimeout) * time.Second
}

// subscriber is one WebSocket stream. Only its write loop writes data
// frames to conn; everything else goes through out.
type subscriber struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once

	mu       sync.RWMutex
	channels map[string]bool
}

func newSubscriber(conn *websocket.Conn, channels map[string]bool) *subscriber {
	return &subscriber{
		conn:     conn,
		out:      make(chan []byte, outboxSize),
		done:     make(chan struct{}),
		channels: channels,
	}
}

func (s *subscriber) wants(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[channel]
}

// offer queues frame without blocking. It reports false when the frame was
// dropped.
func (s *subscriber) offer(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- frame:
		return true
	default:
		return false
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// apply runs one client frame and returns the ack to send back.
func (s *subscriber) apply(frame []byte) Ack {
	var cmd Command
	if err := json.Unmarshal(frame, &cmd); err != nil {
		return Ack{Channels: s.list(), Error: "invalid command: " + err.Error()}
	}
	if cmd.Op != OpSubscribe && cmd.Op != OpUnsubscribe {
		return Ack{Op: cmd.Op, Channels: s.list(), Error: fmt.Sprintf("unknown op %q", cmd.Op)}
	}
	named, err := parseChannels(cmd.Channels)
	if err != nil {
		return Ack{Op: cmd.Op, Channels: s.list(), Error: err.Error()}
	}

	s.mu.Lock()
	for ch := range named {
		if cmd.Op == OpSubscribe {
			s.channels[ch] = true
		} else {
			delete(s.channels, ch)
		}
	}
	s.mu.Unlock()
	return Ack{Op: cmd.Op, Channels: s.list()}
}

// list returns the subscribed channels, sorted.
func (s *subscriber) list() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// readLoop applies client commands until the connection fails, then drops
// the subscriber.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.remove(sub)

	wait := h.pingInterval() + h.pongTimeout()
	sub.conn.SetReadLimit(int64(h.cfg.MaxMessageSize))
	//nolint:errcheck // A failed deadline surfaces as a read error
	sub.conn.SetReadDeadline(time.Now().Add(wait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, frame, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("event stream read failed", "error", err)
			}
			return
		}

		ack, err := json.Marshal(sub.apply(frame))
		if err != nil {
			h.logger.Error("encoding ack", "error", err)
			continue
		}
		sub.offer(ack)
	}
}

// writeLoop sends queued frames and keepalive pings. When the subscriber
// stops it sends a close frame and closes the connection, which ends
// readLoop.
func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(h.pingInterval())
	defer ticker.Stop()
	defer sub.conn.Close()

	deadline := func() time.Time { return time.Now().Add(h.pongTimeout()) }
	for {
		select {
		case <-sub.done:
			//nolint:errcheck // The peer may already be gone
			sub.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline())
			return
		case frame := <-sub.out:
			//nolint:errcheck // A failed deadline surfaces as a write error
			sub.conn.SetWriteDeadline(deadline())
			if err := sub.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.remove(sub)
				return
			}
		case <-ticker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, deadline()); err != nil {
				h.remove(sub)
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to loopback by default and carries no credentials.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents opens an event stream. ?channels=a,b picks the starting
// channels; without it the stream starts with all of them.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	names := []string{allChannels}
	if r.URL.Query().Has("channels") {
		names = strings.Split(r.URL.Query().Get("channels"), ",")
	}
	channels, err := parseChannels(names)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r.Context()))
		return
	}

	sub := newSubscriber(conn, channels)
	s.hub.add(sub)
	go s.hub.writeLoop(sub)
	go s.hub.readLoop(sub)
}

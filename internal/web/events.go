/*

This file contains the websocket event feed.

EventHub implements rebalancer.Publisher. Every subscriber gets a buffered queue; a subscriber that
falls behind loses events instead of slowing the service down. Subscribers may narrow the feed to
one portfolio with ?manager=<base58>.

*/

package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elys-network/rebalancer/internal/rebalancer"
	"github.com/elys-network/rebalancer/internal/types"
)

// Websocket timings
const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	subscriberBacklog = 64
)

type subscriber struct {
	conn    *websocket.Conn
	send    chan rebalancer.Event
	manager types.ID // zero means every portfolio
	once    sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// EventHub fans committed service events out to websocket subscribers.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	upgrader    websocket.Upgrader
	closed      bool
}

func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Publish implements rebalancer.Publisher.
func (h *EventHub) Publish(event rebalancer.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subscribers {
		if !s.manager.IsZero() && !s.manager.Equals(event.Manager) {
			continue
		}
		select {
		case s.send <- event:
		default:
			webLogger.Warn().Str("event", string(event.Type)).Str("remote", s.conn.RemoteAddr().String()).Msg("Dropping event for slow subscriber")
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close disconnects every subscriber and rejects new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subscribers {
		delete(h.subscribers, s)
		s.close()
	}
}

// ServeHTTP upgrades the request and streams events until the client disconnects.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var manager types.ID
	if raw := r.URL.Query().Get("manager"); raw != "" {
		parsed, err := types.ParseID(raw)
		if err != nil {
			http.Error(w, "invalid manager identity", http.StatusBadRequest)
			return
		}
		manager = parsed
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		webLogger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	s := &subscriber{conn: conn, send: make(chan rebalancer.Event, subscriberBacklog), manager: manager}
	if !h.register(s) {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	webLogger.Info().Str("remote", conn.RemoteAddr().String()).Str("manager", manager.String()).Msg("Event subscriber connected")

	go h.writePump(s)
	h.readPump(s)
}

func (h *EventHub) register(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subscribers[s] = struct{}{}
	return true
}

func (h *EventHub) unregister(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[s]; ok {
		delete(h.subscribers, s)
		s.close()
	}
}

// readPump discards client messages and detects disconnects.
func (h *EventHub) readPump(s *subscriber) {
	defer func() {
		h.unregister(s)
		webLogger.Info().Str("remote", s.conn.RemoteAddr().String()).Msg("Event subscriber disconnected")
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case event, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(event); err != nil {
				webLogger.Debug().Err(err).Msg("Failed to write event")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

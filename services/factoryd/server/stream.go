package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"stablefactory/core/events"
	"stablefactory/observability"
)

const (
	wsWriteTimeout        = 10 * time.Second
	defaultSubscriberSize = 64
)

type subscriber struct {
	ch    chan []byte
	types map[string]struct{}
}

func (s *subscriber) wants(eventType string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// Hub fans committed events out to websocket subscribers. A subscriber whose
// buffer is full misses the event rather than blocking the engine.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	buffer int
	closed bool
	logger *slog.Logger
}

// NewHub constructs a hub with the given per-subscriber buffer.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), buffer: buffer, logger: logger}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	renderable, ok := evt.(events.Renderable)
	if !ok {
		return
	}
	rendered := renderable.Event()
	if rendered == nil {
		return
	}
	payload, err := json.Marshal(rendered)
	if err != nil {
		h.logger.Warn("encode stream event", "type", rendered.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(rendered.Type) {
			continue
		}
		select {
		case sub.ch <- payload:
		default:
			observability.Events().RecordDrop("stream")
		}
	}
}

// Subscribe registers a subscriber for the given event types; none means all.
// The returned cancel func must be called once the subscriber is done.
func (h *Hub) Subscribe(types []string) (<-chan []byte, func()) {
	sub := &subscriber{ch: make(chan []byte, h.buffer), types: make(map[string]struct{}, len(types))}
	for _, t := range types {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			sub.types[trimmed] = struct{}{}
		}
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
			h.mu.Unlock()
		})
	}
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var types []string
	if raw := strings.TrimSpace(r.URL.Query().Get("types")); raw != "" {
		types = strings.Split(raw, ",")
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	updates, cancel := s.hub.Subscribe(types)
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-updates:
			if !ok {
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

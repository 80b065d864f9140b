package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"keywarden/internal/infrastructure"
	"keywarden/pkg/contracts/events"
)

// broadcastQueueSize bounds the pending-event queue. Broadcasts beyond it
// are dropped, never blocked on.
const broadcastQueueSize = 64

// Hub maintains the set of subscribed clients and fans events out to them.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	logger         *slog.Logger
	metrics        *infrastructure.BusinessMetrics
	allowedOrigins []string

	quit    chan struct{}
	running bool
}

// NewHub creates a new Hub instance. metrics may be nil; allowedOrigins
// empty (or containing "*") admits any Origin.
func NewHub(logger *slog.Logger, metrics *infrastructure.BusinessMetrics, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:        make(map[*Client]bool),
		broadcast:      make(chan []byte, broadcastQueueSize),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		logger:         logger.With(slog.String("component", "events.hub")),
		metrics:        metrics,
		allowedOrigins: allowedOrigins,
		quit:           make(chan struct{}),
	}
}

// Start launches the hub loop. Safe to call once.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)

	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.recordSubscribers(context.Background(), int64(-dropped))
}

// run is the hub's main loop: one goroutine owns all client set changes.
func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("event hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("event client subscribed",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))
			h.recordSubscribers(context.Background(), 1)

			// Acknowledge the subscription so dashboards can confirm the
			// stream is live before any lifecycle event arrives.
			if raw, err := marshalEvent(events.EventConnectionEstablished, events.ConnectionPayload{
				ClientID: client.id,
				Message:  "subscribed to keywarden events",
			}); err == nil {
				select {
				case client.send <- raw:
				default:
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				count := len(h.clients)
				h.mu.Unlock()

				h.logger.Info("event client unsubscribed",
					slog.Int("total_clients", count),
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))
				h.recordSubscribers(context.Background(), -1)
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// The client cannot keep up; evict instead of
					// stalling everyone else.
					h.mu.Lock()
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
					h.mu.Unlock()

					h.logger.Warn("event client send buffer full, disconnecting",
						slog.String("client_id", client.id))
					h.recordSubscribers(context.Background(), -1)
				}
			}
		}
	}
}

// Broadcast wraps data in an event envelope and queues it for delivery to
// every subscriber. Implements the services.EventPublisher interface.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	raw, err := marshalEvent(events.EventType(eventType), data)
	if err != nil {
		h.logger.Error("failed to marshal event",
			slog.String("type", eventType),
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- raw:
		h.recordPublished(eventType)
	default:
		h.logger.Warn("event dropped, broadcast queue full",
			slog.String("type", eventType))
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of subscribed clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler returns the HTTP handler that upgrades admin connections into
// event stream subscriptions. Authentication happens in the router group
// in front of this handler.
func (h *Hub) Handler() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error response.
			h.logger.ErrorContext(r.Context(), "websocket upgrade failed",
				slog.String("error", err.Error()),
				slog.String("remote_addr", r.RemoteAddr))
			return
		}

		client := NewClient(h, newGorillaConn(conn), h.logger)
		h.Register(client)

		go client.writePump()
		go client.readPump()
	}
}

// checkOrigin admits browser clients from the configured origins. Absent
// Origin headers (native clients, curl) are always admitted; the admin
// token still gates the route itself.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
	return false
}

func (h *Hub) recordSubscribers(ctx context.Context, delta int64) {
	if h.metrics == nil || delta == 0 {
		return
	}
	h.metrics.EventSubscribers.Add(ctx, delta)
}

func (h *Hub) recordPublished(eventType string) {
	if h.metrics == nil {
		return
	}
	h.metrics.EventsPublished.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("type", eventType)))
}

// marshalEvent builds the wire envelope for one event.
func marshalEvent(eventType events.EventType, data interface{}) ([]byte, error) {
	var payload json.RawMessage
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		payload = raw
	}
	return json.Marshal(events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

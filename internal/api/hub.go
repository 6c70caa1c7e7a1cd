package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

// Hub streams collector notifications to websocket subscribers using the
// Gorilla hub pattern. It implements collector.Listener.
type Hub struct {
	clients    map[string]*subscriber
	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan []byte

	authToken      string
	allowedOrigins []string

	upgrader websocket.Upgrader
	logger   *zap.Logger
	mu       sync.RWMutex
	ctx      context.Context
	now      func() time.Time
}

func NewHub(ctx context.Context, authToken string, allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients:        make(map[string]*subscriber),
		register:       make(chan *subscriber),
		unregister:     make(chan *subscriber),
		broadcast:      make(chan []byte, 256),
		authToken:      authToken,
		allowedOrigins: allowedOrigins,
		logger:         logger,
		ctx:            ctx,
		now:            time.Now,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for id, sub := range h.clients {
				close(sub.send)
				sub.conn.Close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.clients[sub.id] = sub
			h.mu.Unlock()
			h.logger.Info("subscriber connected", zap.String("subscriber_id", sub.id))

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[sub.id]; ok {
				delete(h.clients, sub.id)
				close(sub.send)
				h.logger.Info("subscriber disconnected", zap.String("subscriber_id", sub.id))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, sub := range h.clients {
				select {
				case sub.send <- msg:
				default:
					h.logger.Warn("dropping slow subscriber", zap.String("subscriber_id", id))
					close(sub.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ServeWS upgrades a subscriber. When a token is configured it must be
// given as a bearer header or a token query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := ""
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}

	if h.authToken != "" && token != h.authToken {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := newSubscriber(h, conn, uuid.New().String())
	select {
	case h.register <- sub:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go sub.writePump()
	go sub.readPump()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) OnInfo(message string) {
	h.publish(shared.EventTypeInfo, map[string]string{"message": message})
}

func (h *Hub) OnError(err error) {
	h.publish(shared.EventTypeError, map[string]string{"error": err.Error()})
}

func (h *Hub) OnUpdate(nodes []shared.Node) {
	h.publish(shared.EventTypeUpdate, nodes)
}

func (h *Hub) OnPolling(events []shared.PollingEvent) {
	h.publish(shared.EventTypePolling, events)
}

func (h *Hub) publish(eventType shared.EventType, payload interface{}) {
	env, err := shared.NewEnvelope(eventType, "", h.now().Unix(), payload)
	if err != nil {
		h.logger.Warn("failed to build event envelope", zap.Error(err))
		return
	}
	data, err := shared.MarshalEnvelope(env)
	if err != nil {
		h.logger.Warn("failed to marshal event envelope", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("event broadcast buffer full", zap.String("type", string(eventType)))
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if MatchOrigin(origin, allowed) {
			return true
		}
	}
	h.logger.Warn("rejected subscriber from unauthorized origin", zap.String("origin", origin))
	return false
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"blockpulse/internal/logger"
	"blockpulse/internal/models"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	heartbeatInterval = 15 * time.Second
	clientBuffer      = 10
	wsWriteWait       = 10 * time.Second
)

// MessageSource yields triggered-alert events, typically a Redis subscription.
type MessageSource interface {
	ReceiveMessage(ctx context.Context) (*redis.Message, error)
}

// Hub fans alert events out to the connected SSE and WebSocket clients of the
// user each event belongs to.
type Hub struct {
	mu        sync.Mutex
	clients   map[chan models.AlertMessage]string
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

// NewHub builds a hub whose WebSocket endpoint accepts browser connections
// from allowedOrigins only. With none given, the origin must match the host.
func NewHub(allowedOrigins ...string) *Hub {
	h := &Hub{
		clients:   make(map[chan models.AlertMessage]string),
		heartbeat: heartbeatInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if n := normalizeOrigin(o); n != "" {
			origins[n] = true
		}
	}
	if len(origins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return origins[normalizeOrigin(origin)]
		}
	}
	return h
}

// normalizeOrigin reduces a URL to its lower-cased scheme://host.
func normalizeOrigin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// Listen broadcasts every message received from source until ctx is done.
func (h *Hub) Listen(ctx context.Context, source MessageSource) error {
	logger.Log.Info("Starting to listen for alerts")

	for {
		msg, err := source.ReceiveMessage(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Log.Error("Error receiving alert message", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var alert models.AlertMessage
		if err := json.Unmarshal([]byte(msg.Payload), &alert); err != nil {
			logger.Log.Error("Error unmarshaling alert message", zap.Error(err))
			continue
		}

		h.Broadcast(alert)
	}
}

// Broadcast delivers alert to the user's clients and returns how many got it.
// Slow clients whose buffer is full miss the event.
func (h *Hub) Broadcast(alert models.AlertMessage) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for clientChan, userID := range h.clients {
		if userID != alert.UserID {
			continue
		}
		select {
		case clientChan <- alert:
			delivered++
		default:
			logger.Log.Warn("Alert dropped due to slow client",
				zap.String("user_id", userID),
				zap.String("alert_id", alert.AlertID),
			)
		}
	}

	logger.Log.Debug("Broadcast alert",
		zap.String("user_id", alert.UserID),
		zap.String("symbol_id", alert.SymbolID),
		zap.Int("delivered", delivered),
	)
	return delivered
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(userID string) chan models.AlertMessage {
	clientChan := make(chan models.AlertMessage, clientBuffer)

	h.mu.Lock()
	h.clients[clientChan] = userID
	clientCount := len(h.clients)
	h.mu.Unlock()

	logger.Log.Info("Stream client connected",
		zap.String("user_id", userID),
		zap.Int("total_clients", clientCount),
	)
	return clientChan
}

func (h *Hub) unregister(clientChan chan models.AlertMessage) {
	h.mu.Lock()
	userID := h.clients[clientChan]
	delete(h.clients, clientChan)
	clientCount := len(h.clients)
	h.mu.Unlock()

	logger.Log.Info("Stream client disconnected",
		zap.String("user_id", userID),
		zap.Int("total_clients", clientCount),
	)
}

// StreamAlertsHandler serves the caller's alerts as server-sent events.
func (h *Hub) StreamAlertsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	user, _ := UserFromContext(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientChan := h.register(user.ID)
	defer h.unregister(clientChan)

	heartbeatTicker := time.NewTicker(h.heartbeat)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeatTicker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case alert := <-clientChan:
			alertData, err := json.Marshal(alert)
			if err != nil {
				logger.Log.Error("Failed to marshal alert data", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: alert\ndata: %s\n\n", alertData)
			flusher.Flush()
		}
	}
}

// WebSocketHandler serves the caller's alerts over a WebSocket. Pings double
// as the heartbeat; the read loop only exists to notice the client going away.
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	clientChan := h.register(user.ID)
	defer h.unregister(clientChan)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pongWait := 2 * h.heartbeat
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(h.heartbeat)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case alert := <-clientChan:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(alert); err != nil {
				logger.Log.Warn("Failed to write alert to WebSocket",
					zap.String("user_id", user.ID),
					zap.Error(err),
				)
				return
			}
		}
	}
}

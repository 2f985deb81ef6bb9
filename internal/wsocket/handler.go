package wsocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tarot_reading_go_backend/internal/models"
	"tarot_reading_go_backend/internal/services"
	"tarot_reading_go_backend/internal/utils/broker"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler streams session events to connected admin dashboards.
type Handler struct {
	upgrader     websocket.Upgrader
	broker       *broker.Broker
	pingInterval time.Duration
	logger       zerolog.Logger
}

func NewHandler(upgrader websocket.Upgrader, messageBroker *broker.Broker, pingInterval time.Duration) *Handler {
	return &Handler{
		upgrader:     upgrader,
		broker:       messageBroker,
		pingInterval: pingInterval,
		logger:       log.With().Str("component", "admin_ws").Logger(),
	}
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Error upgrading connection")
		return
	}
	defer conn.Close()
	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Admin dashboard connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := h.broker.Subscribe(services.AdminEventsTopic)
	defer h.broker.Unsubscribe(services.AdminEventsTopic, events)

	pings := make(chan string, 1)
	go h.readLoop(ctx, cancel, conn, pings)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug().Err(err).Msg("Error sending session event")
				return
			}
		case sessionID := <-pings:
			if err := conn.WriteJSON(models.SessionEvent{Type: "pong", SessionID: sessionID}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so close and pong frames are processed.
// A {"type":"ping"} message is answered by the write loop.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, pings chan<- string) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg models.SessionEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug().Err(err).Msg("Ignoring malformed admin message")
			continue
		}
		if msg.Type == "ping" {
			select {
			case pings <- msg.SessionID:
			case <-ctx.Done():
				return
			}
		}
	}
}

package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/agentia/replyflow/internal/identity"
	"github.com/agentia/replyflow/internal/service"
	"github.com/gorilla/websocket"
)

// WSHandler streams the user's event channel over a websocket. Clients
// authenticate with their session token as a query parameter.
type WSHandler struct {
	logger    *slog.Logger
	app       *service.App
	identity  *identity.Service
	deliverer service.Deliverer
	upgrader  websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, app *service.App, ids *identity.Service, deliverer service.Deliverer) *WSHandler {
	return &WSHandler{
		logger:    logger,
		app:       app,
		identity:  ids,
		deliverer: deliverer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	username, err := h.app.Auth(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	user, err := h.identity.Get(username)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn, err := h.deliverer.Subscribe(r.Context(), user.UserID)
	if err != nil {
		return
	}
	defer h.deliverer.Unsubscribe(user.UserID, conn.ID())

	h.logger.Info("ws opened", "user", username, "conn_id", conn.ID())

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done():
			return
		case ev := <-conn.Recv():
			if ev == nil {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("ws event marshal failed", "error", err)
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("ws send failed", "user", username, "error", err)
				return
			}
		}
	}
}

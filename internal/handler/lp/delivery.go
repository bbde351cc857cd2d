package lp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/agentia/replyflow/internal/domain/event"
	"github.com/agentia/replyflow/internal/identity"
	"github.com/agentia/replyflow/internal/service"
)

// LPHandler is the long-polling fallback for clients without websocket
// support. The subscription lives only for the duration of one request.
type LPHandler struct {
	app       *service.App
	identity  *identity.Service
	deliverer service.Deliverer
}

func NewLPHandler(app *service.App, ids *identity.Service, deliverer service.Deliverer) *LPHandler {
	return &LPHandler{app: app, identity: ids, deliverer: deliverer}
}

// Poll holds the request until an event arrives or the poll window expires.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
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

	conn, err := h.deliverer.Subscribe(r.Context(), user.UserID)
	if err != nil {
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer h.deliverer.Unsubscribe(user.UserID, conn.ID())

	var events []event.Eventer
	select {
	case <-r.Context().Done():
		return
	case <-time.After(30 * time.Second):
		w.WriteHeader(http.StatusNoContent)
		return
	case ev := <-conn.Recv():
		if ev == nil {
			return
		}
		events = append(events, ev)
		// Drain a small burst so the client needs fewer round-trips.
	drainLoop:
		for i := 0; i < 15; i++ {
			select {
			case next := <-conn.Recv():
				if next == nil {
					break drainLoop
				}
				events = append(events, next)
			default:
				break drainLoop
			}
		}
	}

	data, err := json.Marshal(events)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

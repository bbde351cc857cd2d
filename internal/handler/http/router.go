// Package http exposes the command surface as a JSON REST API under chi,
// with the websocket and long-poll event channels mounted alongside.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/agentia/replyflow/internal/handler/lp"
	"github.com/agentia/replyflow/internal/handler/ws"
	"github.com/agentia/replyflow/internal/identity"
	"github.com/agentia/replyflow/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const userKey ctxKey = iota

// Handler carries the shared dependencies of every route.
type Handler struct {
	logger *slog.Logger
	app    *service.App
}

func NewHandler(logger *slog.Logger, app *service.App) *Handler {
	return &Handler{logger: logger, app: app}
}

// Router assembles the full route tree.
func Router(h *Handler, wsHandler *ws.WSHandler, lpHandler *lp.LPHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Post("/register", h.register)
		r.Post("/reset-password", h.resetPassword)

		r.Group(func(r chi.Router) {
			r.Use(h.auth)

			r.Post("/logout", h.logout)
			r.Post("/change-password", h.changePassword)
			r.Post("/rename", h.rename)

			r.Post("/monitor/start", h.startMonitor)
			r.Post("/monitor/stop", h.stopMonitor)
			r.Post("/auto-process", h.toggleAutoProcess)
			r.Post("/refresh", h.refresh)

			r.Get("/emails", h.emails)
			r.Post("/emails/process-all", h.processAll)
			r.Post("/emails/stop-all", h.stopAll)
			r.Post("/emails/{id}/process", h.processOne)
			r.Post("/emails/{id}/stop", h.stopOne)
			r.Post("/emails/{id}/send", h.sendReply)
			r.Put("/emails/{id}/reply", h.updateReply)
			r.Post("/emails/{id}/mark-read", h.markRead)
			r.Post("/emails/{id}/retry-rag", h.retryRAG)
			r.Delete("/emails/{id}", h.deleteEmail)

			r.Post("/summarise", h.summariseText)

			r.Get("/kb/documents", h.listDocuments)
			r.Get("/kb/documents/{name}/preview", h.previewDocument)
			r.Get("/kb/documents/{name}/download", h.downloadDocument)
			r.Delete("/kb/documents/{name}", h.deleteDocument)
			r.Post("/kb/rebuild", h.rebuildIndex)

			r.Post("/test/rag", h.testRAG)
			r.Post("/test/mailbox", h.testMailbox)
			r.Post("/test/ai", h.testAI)

			r.Get("/settings", h.settings)
			r.Post("/settings", h.saveSettings)

			r.Get("/activities", h.activities)
			r.Get("/stats", h.stats)
			r.Get("/stats/categories", h.categoryStats)
			r.Get("/stats/trend", h.trend)

			r.Get("/history", h.history)
			r.Post("/history/clear", h.clearHistory)
			r.Get("/history/export", h.exportHistory)
		})
	})

	r.Get("/ws", wsHandler.ServeHTTP)
	r.Get("/poll", lpHandler.Poll)
	return r
}

// auth resolves the bearer token into a username stored on the context.
func (h *Handler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
		username, err := h.app.Auth(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, username)))
	})
}

func username(r *http.Request) string {
	name, _ := r.Context().Value(userKey).(string)
	return name
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": v})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	var renamed *identity.RenamedError
	switch {
	case errors.As(err, &renamed):
		return http.StatusConflict
	case errors.Is(err, service.ErrUnauthorized),
		errors.Is(err, identity.ErrBadCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, identity.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, identity.ErrUserExists),
		errors.Is(err, identity.ErrUsernameRetired):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decode[T any](r *http.Request) (T, error) {
	var v T
	err := json.NewDecoder(r.Body).Decode(&v)
	return v, err
}

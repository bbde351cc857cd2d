package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/agentia/replyflow/internal/domain/event"
	"github.com/google/uuid"
)

// Hubber is the external API of the per-user event registry.
type Hubber interface {
	Broadcast(ev event.Eventer) bool
	Register(conn Connector)
	Unregister(userID string, connID uuid.UUID)
	IsConnected(userID string) bool
	Shutdown()
}

// Hub fans events out to per-user cells. Each active user gets one cell that
// owns the delivery loop for all of that user's sessions.
type Hub struct {
	cells sync.Map // userID -> Celler

	logger           *slog.Logger
	evictionInterval time.Duration
	idleTimeout      time.Duration
	mailboxSize      int
	stopCh           chan struct{}
}

// NewHub builds the registry and starts the idle-cell janitor.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger:           logger,
		evictionInterval: 1 * time.Minute,
		idleTimeout:      5 * time.Minute,
		mailboxSize:      256,
		stopCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.runEvictor()
	return h
}

func (h *Hub) IsConnected(userID string) bool {
	_, ok := h.cells.Load(userID)
	return ok
}

// Broadcast pushes an event into the target user's cell mailbox. Returns
// false when the user has no cell or the mailbox is saturated; delivery is
// best-effort and the caller never blocks.
func (h *Hub) Broadcast(ev event.Eventer) bool {
	if val, ok := h.cells.Load(ev.GetUserID()); ok {
		if cell, ok := val.(Celler); ok {
			return cell.Push(ev)
		}
	}
	return false
}

func (h *Hub) Register(conn Connector) {
	val, _ := h.cells.LoadOrStore(conn.UserID(), NewCell(conn.UserID(), h.mailboxSize))
	if cell, ok := val.(Celler); ok {
		cell.Attach(conn)
	}
}

// Unregister detaches one session. The empty cell itself is reclaimed later
// by the evictor.
func (h *Hub) Unregister(userID string, connID uuid.UUID) {
	if val, ok := h.cells.Load(userID); ok {
		if cell, ok := val.(Celler); ok {
			cell.Detach(connID)
		}
	}
}

func (h *Hub) runEvictor() {
	ticker := time.NewTicker(h.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.evictIdle()
		}
	}
}

func (h *Hub) evictIdle() {
	reaped := 0
	h.cells.Range(func(key, value any) bool {
		if cell, ok := value.(Celler); ok {
			if cell.IsIdle(h.idleTimeout) {
				cell.Stop()
				h.cells.Delete(key)
				reaped++
			}
		}
		return true
	})
	if reaped > 0 {
		h.logger.Debug("reclaimed idle user cells", "count", reaped)
	}
}

func (h *Hub) Shutdown() {
	close(h.stopCh)
	h.cells.Range(func(key, value any) bool {
		if cell, ok := value.(Celler); ok {
			cell.Stop()
		}
		return true
	})
}

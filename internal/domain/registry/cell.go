package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentia/replyflow/internal/domain/event"
	"github.com/google/uuid"
)

// Celler is the internal API for user-specific delivery units.
type Celler interface {
	Push(ev event.Eventer) bool
	Attach(conn Connector)
	Detach(connID uuid.UUID) bool
	IsIdle(timeout time.Duration) bool
	Stop()
}

// Cell delivers events for a single user. The mailbox channel decouples
// publishers from delivery so a slow websocket never blocks a worker task.
type Cell struct {
	userID  string
	mailbox chan event.Eventer

	// sessions multiplexes one event to every open connection of the user.
	sessions map[uuid.UUID]Connector
	mu       sync.RWMutex

	doneCh   chan struct{}
	stopOnce sync.Once

	lastActivityUnix int64
}

func NewCell(userID string, bufferSize int) *Cell {
	c := &Cell{
		userID:           userID,
		mailbox:          make(chan event.Eventer, bufferSize),
		sessions:         make(map[uuid.UUID]Connector),
		doneCh:           make(chan struct{}),
		lastActivityUnix: time.Now().Unix(),
	}
	go c.loop()
	return c
}

func (c *Cell) touch() {
	atomic.StoreInt64(&c.lastActivityUnix, time.Now().Unix())
}

// IsIdle reports whether the cell has no sessions and has been quiet past the
// timeout, making it eligible for eviction.
func (c *Cell) IsIdle(timeout time.Duration) bool {
	c.mu.RLock()
	hasSessions := len(c.sessions) > 0
	c.mu.RUnlock()
	if hasSessions {
		return false
	}
	last := time.Unix(atomic.LoadInt64(&c.lastActivityUnix), 0)
	return time.Since(last) > timeout
}

// Push enqueues without blocking; a full mailbox drops the event.
func (c *Cell) Push(ev event.Eventer) bool {
	c.touch()
	select {
	case c.mailbox <- ev:
		return true
	default:
		return false
	}
}

func (c *Cell) Attach(conn Connector) {
	c.mu.Lock()
	c.sessions[conn.ID()] = conn
	c.mu.Unlock()
	c.touch()
}

func (c *Cell) Detach(connID uuid.UUID) bool {
	c.mu.Lock()
	if conn, ok := c.sessions[connID]; ok {
		delete(c.sessions, connID)
		conn.Close()
	}
	isEmpty := len(c.sessions) == 0
	c.mu.Unlock()
	c.touch()
	return isEmpty
}

func (c *Cell) loop() {
	for {
		select {
		case <-c.doneCh:
			return
		case ev := <-c.mailbox:
			c.deliver(ev)
			// Drain a burst before returning to select.
			for i := 0; i < 64; i++ {
				select {
				case next := <-c.mailbox:
					c.deliver(next)
				default:
					goto wait
				}
			}
		wait:
		}
	}
}

// deliver fans one event out to all sessions. A stalled connection only loses
// its own copy; the loop moves on after the per-session window.
func (c *Cell) deliver(ev event.Eventer) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, conn := range c.sessions {
		conn.Send(ev, 250*time.Millisecond)
	}
}

func (c *Cell) Stop() {
	c.stopOnce.Do(func() {
		close(c.doneCh)
		c.mu.Lock()
		defer c.mu.Unlock()
		for id, conn := range c.sessions {
			conn.Close()
			delete(c.sessions, id)
		}
	})
}

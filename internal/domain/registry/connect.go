package registry

import (
	"context"
	"sync"
	"time"

	"github.com/agentia/replyflow/internal/domain/event"
	"github.com/google/uuid"
)

var _ Connector = (*connect)(nil)

// Connector is one client session attached to a user cell. Transport handlers
// (websocket, long-poll) consume Recv until Done fires, then tear down.
type Connector interface {
	ID() uuid.UUID
	UserID() string
	Send(ev event.Eventer, timeout time.Duration) bool
	Recv() <-chan event.Eventer
	Done() <-chan struct{}
	Close()
}

type connect struct {
	id        uuid.UUID
	userID    string
	ctx       context.Context
	cancelFn  context.CancelFunc
	sendCh    chan event.Eventer
	closeOnce sync.Once
}

// NewConnector builds a session-scoped connector. The context bounds its
// lifetime to the transport request.
func NewConnector(ctx context.Context, userID string, bufferSize int) Connector {
	childCtx, cancel := context.WithCancel(ctx)
	return &connect{
		id:       uuid.New(),
		userID:   userID,
		ctx:      childCtx,
		cancelFn: cancel,
		sendCh:   make(chan event.Eventer, bufferSize),
	}
}

func (c *connect) ID() uuid.UUID  { return c.id }
func (c *connect) UserID() string { return c.userID }

// Send waits up to timeout for buffer space, then gives up. Dropping beats
// holding the cell loop hostage to one congested session.
func (c *connect) Send(ev event.Eventer, timeout time.Duration) bool {
	if c.ctx.Err() != nil {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- ev:
		return true
	case <-timer.C:
		return false
	}
}

func (c *connect) Recv() <-chan event.Eventer { return c.sendCh }

func (c *connect) Done() <-chan struct{} { return c.ctx.Done() }

// Close is idempotent. The send channel is left open; consumers observe
// termination through Done, which keeps Close safe against in-flight Sends.
func (c *connect) Close() {
	c.closeOnce.Do(c.cancelFn)
}

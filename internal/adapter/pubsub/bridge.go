package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/agentia/replyflow/internal/domain/event"
	"github.com/agentia/replyflow/internal/domain/registry"
)

// Bridge drains the events topic into the per-user hub. It is the only
// subscriber of EventsTopic; transports attach to the hub, never to the bus.
type Bridge struct {
	subscriber message.Subscriber
	hub        registry.Hubber
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewBridge(sub message.Subscriber, hub registry.Hubber, logger *slog.Logger) *Bridge {
	return &Bridge{
		subscriber: sub,
		hub:        hub,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

func (b *Bridge) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel

	messages, err := b.subscriber.Subscribe(runCtx, EventsTopic)
	if err != nil {
		cancel()
		return err
	}

	go func() {
		defer close(b.done)
		for msg := range messages {
			b.handle(msg)
			msg.Ack()
		}
	}()
	return nil
}

func (b *Bridge) Stop(context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	<-b.done
	return nil
}

func (b *Bridge) handle(msg *message.Message) {
	var ev event.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		b.logger.Error("bridge: undecodable event dropped", "error", err)
		return
	}
	ev.UserID = msg.Metadata.Get(metaUserID)
	if ev.UserID == "" {
		b.logger.Error("bridge: event without user metadata dropped", "kind", ev.Kind)
		return
	}
	b.hub.Broadcast(&ev)
}

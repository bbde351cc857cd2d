package pubsub

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/agentia/replyflow/internal/domain/event"
)

// EventsTopic carries every user-facing event inside the process. Routing to
// the right user happens at the hub, keyed by the user_id metadata.
const EventsTopic = "delivery.events"

const metaUserID = "user_id"

// EventDispatcher is the high-level contract for emitting events. Worker
// tasks hold this and stay agnostic of the bus implementation.
type EventDispatcher interface {
	Publish(ev event.Eventer) error
}

type eventDispatcher struct {
	publisher message.Publisher
}

func NewEventDispatcher(pub message.Publisher) EventDispatcher {
	return &eventDispatcher{publisher: pub}
}

func (d *eventDispatcher) Publish(ev event.Eventer) error {
	if ev == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil event")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metaUserID, ev.GetUserID())

	if err := d.publisher.Publish(EventsTopic, msg); err != nil {
		return fmt.Errorf("event dispatcher: publish: %w", err)
	}
	return nil
}

package service

import (
	"context"

	"github.com/agentia/replyflow/internal/domain/registry"
	"github.com/google/uuid"
)

// Deliverer is the interface transport handlers use to attach an event
// stream for a user session.
type Deliverer interface {
	Subscribe(ctx context.Context, userID string) (registry.Connector, error)
	Unsubscribe(userID string, connID uuid.UUID)
}

type DeliveryService struct {
	hub registry.Hubber
}

func NewDeliveryService(hub registry.Hubber) *DeliveryService {
	return &DeliveryService{hub: hub}
}

// Subscribe creates a session connector and attaches it to the user's cell.
func (s *DeliveryService) Subscribe(ctx context.Context, userID string) (registry.Connector, error) {
	const bufferSize = 256
	conn := registry.NewConnector(ctx, userID, bufferSize)
	s.hub.Register(conn)
	return conn, nil
}

// Unsubscribe detaches and closes the session.
func (s *DeliveryService) Unsubscribe(userID string, connID uuid.UUID) {
	s.hub.Unregister(userID, connID)
}

package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind names a client-visible event type. Values are part of the wire format
// consumed by the web client.
type Kind string

const (
	NewEmails            Kind = "new_emails"
	EmailProcessStarted  Kind = "email_process_started"
	RAGQueriesGenerated  Kind = "rag_queries_generated"
	EmailProcessComplete Kind = "email_process_complete"
	EmailProcessStopping Kind = "email_process_stopping"
	EmailProcessStopped  Kind = "email_process_stopped"
	EmailProcessFailed   Kind = "email_process_failed"
	ProcessAllStopping   Kind = "process_all_stopping"
	ProcessAllStopped    Kind = "process_all_stopped"
	ProcessAllComplete   Kind = "process_all_complete"
	AutoProcessComplete  Kind = "auto_process_complete"
	SummarySaved         Kind = "summary_saved"
	RAGTestComplete      Kind = "rag_test_complete"
)

// Eventer is the contract for everything flowing through the hub.
type Eventer interface {
	GetID() string
	GetKind() Kind
	GetUserID() string
	GetOccurredAt() int64
	GetPayload() any
}

// Event is the single concrete Eventer. Payload must be JSON-marshalable.
type Event struct {
	ID         string `json:"id"`
	Kind       Kind   `json:"type"`
	UserID     string `json:"-"`
	OccurredAt int64  `json:"ts"`
	Payload    any    `json:"data,omitempty"`
}

func New(kind Kind, userID string, payload any) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		UserID:     userID,
		OccurredAt: time.Now().UnixMilli(),
		Payload:    payload,
	}
}

func (e *Event) GetID() string        { return e.ID }
func (e *Event) GetKind() Kind        { return e.Kind }
func (e *Event) GetUserID() string    { return e.UserID }
func (e *Event) GetOccurredAt() int64 { return e.OccurredAt }
func (e *Event) GetPayload() any      { return e.Payload }

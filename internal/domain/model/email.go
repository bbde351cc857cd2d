package model

import "time"

// Status tracks a message through the processing pipeline. Values are part of
// the persisted file format and must stay stable.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusStopping   Status = "stopping"
	StatusProcessed  Status = "processed"
	StatusSent       Status = "sent"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
	StatusRead       Status = "read"
)

// Terminal reports whether the status is a resting state the pipeline will not
// advance on its own.
func (s Status) Terminal() bool {
	switch s {
	case StatusProcessed, StatusSent, StatusSkipped, StatusFailed, StatusRead:
		return true
	}
	return false
}

// Category is the classification a message receives before routing.
type Category string

const (
	CategoryProductEnquiry    Category = "product_enquiry"
	CategoryCustomerComplaint Category = "customer_complaint"
	CategoryCustomerFeedback  Category = "customer_feedback"
	CategoryUnrelated         Category = "unrelated"
)

// Urgency is the keyword-driven urgency level annotated at ingestion.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

// Email is one inbound message and everything the pipeline attached to it.
type Email struct {
	ID         string `json:"id"`
	ThreadID   string `json:"threadId"`
	MessageID  string `json:"messageId"`
	References string `json:"references"`
	Sender     string `json:"sender"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`

	// SeqNum is the backend-assigned mailbox sequence used for flagging.
	// Stored as a string because legacy files carried it that way.
	SeqNum string `json:"imap_id"`

	ReceivedAt      string   `json:"date"`
	Status          Status   `json:"status"`
	Category        Category `json:"category,omitempty"`
	UrgencyLevel    Urgency  `json:"urgency_level,omitempty"`
	UrgencyKeywords []string `json:"urgency_keywords,omitempty"`

	Reply        string   `json:"reply,omitempty"`
	RAGQueries   []string `json:"rag_queries,omitempty"`
	BodySummary  string   `json:"body_summary,omitempty"`
	ReplySummary string   `json:"reply_summary,omitempty"`
}

// HistoryRecord is a post-terminal snapshot of an Email.
type HistoryRecord struct {
	Email
	ProcessedTime string `json:"processed_time"`
}

// TimeLayout is the timestamp format used across persisted state, chosen so
// that a date prefix comparison selects "today".
const TimeLayout = "2006-01-02 15:04:05"

// Now returns the current local time in the persisted layout.
func Now() string {
	return time.Now().Format(TimeLayout)
}

// Package mailbox is the thin port to the user's mail account: IMAP polling
// and flagging inbound, SMTP replies outbound.
package mailbox

import (
	"context"

	"github.com/agentia/replyflow/internal/domain/model"
)

// Mailbox is the adapter surface the orchestrator and pipeline depend on.
type Mailbox interface {
	// FetchUnread returns unseen messages from the last 8 hours, newest
	// last, bounded by maxResults. Own sends and empty bodies are skipped.
	FetchUnread(ctx context.Context, maxResults int) ([]model.Email, error)
	// MarkRead flags a message seen by its mailbox sequence. Best-effort;
	// non-numeric sequences are rejected.
	MarkRead(ctx context.Context, seq string) error
	// SendReply answers the original message, threading via In-Reply-To and
	// References.
	SendReply(ctx context.Context, original *model.Email, replyText string) error
	// Test verifies login and inbox selection round-trip.
	Test(ctx context.Context) error
}

// Factory builds a mailbox bound to one user's address and auth secret.
type Factory interface {
	ForAccount(address, authCode string) Mailbox
}

package mailbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentia/replyflow/internal/domain/model"
	gomail "gopkg.in/gomail.v2"
)

func (m *imapMailbox) SendReply(ctx context.Context, original *model.Email, replyText string) error {
	recipient := extractAddress(original.Sender)
	if recipient == "" || !strings.Contains(recipient, "@") {
		return fmt.Errorf("mailbox: invalid recipient %q", original.Sender)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.address)
	msg.SetHeader("To", recipient)
	msg.SetHeader("Subject", "Re: "+original.Subject)
	if original.MessageID != "" {
		msg.SetHeader("In-Reply-To", original.MessageID)
		if original.References != "" {
			msg.SetHeader("References", original.References)
		} else {
			msg.SetHeader("References", original.MessageID)
		}
	}
	msg.SetBody("text/plain", replyText)

	dialer := gomail.NewDialer(m.cfg.SMTPHost, m.cfg.SMTPPort, m.address, m.authCode)
	dialer.SSL = true
	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("mailbox: send to %s: %w", recipient, err)
	}
	m.logger.Info("reply sent", "to", recipient, "subject", original.Subject)
	return nil
}

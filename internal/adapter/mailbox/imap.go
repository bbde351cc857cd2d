package mailbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agentia/replyflow/config"
	"github.com/agentia/replyflow/internal/domain/model"
	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	gomessage "github.com/emersion/go-message/mail"
)

type factory struct {
	cfg    config.MailboxConfig
	logger *slog.Logger
}

// NewFactory builds account-bound mailboxes over the configured IMAP/SMTP
// hosts.
func NewFactory(cfg *config.Config, logger *slog.Logger) Factory {
	return &factory{cfg: cfg.Mailbox, logger: logger}
}

func (f *factory) ForAccount(address, authCode string) Mailbox {
	return &imapMailbox{
		cfg:      f.cfg,
		logger:   f.logger,
		address:  address,
		authCode: authCode,
	}
}

// imapMailbox opens a fresh connection per operation. Polls are minutes
// apart, so holding idle IMAP sessions buys nothing and QQ's server drops
// them anyway.
type imapMailbox struct {
	cfg      config.MailboxConfig
	logger   *slog.Logger
	address  string
	authCode string
}

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

func (m *imapMailbox) dial(ctx context.Context) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", m.cfg.IMAPHost, m.cfg.IMAPPort)
	c, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("mailbox: dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}
	if err := c.Login(m.address, m.authCode); err != nil {
		c.Logout()
		return nil, loginError(m.cfg.IMAPHost, err)
	}
	return c, nil
}

// loginError augments auth failures with the QQ authorization-code hint the
// operators keep tripping over.
func loginError(host string, err error) error {
	if strings.Contains(strings.ToLower(host), "qq.com") {
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "login fail") || strings.Contains(lower, "auth") {
			return fmt.Errorf("mailbox: login: %w\n提示：QQ邮箱需要在网页版「设置 -> 账户」开启 IMAP/SMTP 服务，并使用生成的授权码（不是QQ登录密码）", err)
		}
	}
	return fmt.Errorf("mailbox: login: %w", err)
}

func (m *imapMailbox) Test(ctx context.Context) error {
	c, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Logout()
	if _, err := c.Select("INBOX", true); err != nil {
		return fmt.Errorf("mailbox: select inbox: %w", err)
	}
	return nil
}

func (m *imapMailbox) FetchUnread(ctx context.Context, maxResults int) ([]model.Email, error) {
	c, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("mailbox: select inbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = time.Now().Add(-8 * time.Hour)
	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("mailbox: search: %w", err)
	}
	if len(seqNums) == 0 {
		return nil, nil
	}
	if len(seqNums) > maxResults {
		seqNums = seqNums[len(seqNums)-maxResults:]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope}

	messages := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, items, messages)
	}()

	var emails []model.Email
	skipped := 0
	for msg := range messages {
		em, ok := m.parseMessage(msg, section)
		if !ok {
			skipped++
			continue
		}
		emails = append(emails, em)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("mailbox: fetch: %w", err)
	}
	if skipped > 0 {
		m.logger.Debug("messages filtered during fetch", "skipped", skipped, "kept", len(emails))
	}
	return emails, nil
}

func (m *imapMailbox) parseMessage(msg *imap.Message, section *imap.BodySectionName) (model.Email, bool) {
	body := msg.GetBody(section)
	if body == nil {
		return model.Email{}, false
	}
	mr, err := gomessage.CreateReader(body)
	if err != nil {
		m.logger.Debug("unparseable message skipped", "seq", msg.SeqNum, "error", err)
		return model.Email{}, false
	}

	header := mr.Header
	subject, _ := header.Subject()
	if subject == "" {
		subject = "(无主题)"
	}
	messageID, _ := header.MessageID()
	if messageID != "" && !strings.HasPrefix(messageID, "<") {
		messageID = "<" + messageID + ">"
	}
	references := header.Get("References")
	inReplyTo := header.Get("In-Reply-To")

	sender := extractAddress(header.Get("From"))
	if sender == "" || !strings.Contains(sender, "@") {
		return model.Email{}, false
	}
	// Own sends come back as unseen when the account CCs itself.
	if strings.Contains(sender, m.address) {
		return model.Email{}, false
	}

	text := extractBody(mr)
	if strings.TrimSpace(text) == "" {
		return model.Email{}, false
	}

	id := messageID
	if id == "" {
		id = fmt.Sprintf("email_%d", msg.SeqNum)
	}
	threadID := inReplyTo
	if threadID == "" {
		threadID = messageID
	}

	return model.Email{
		ID:         id,
		ThreadID:   threadID,
		MessageID:  messageID,
		References: references,
		Sender:     sender,
		Subject:    subject,
		Body:       text,
		SeqNum:     strconv.FormatUint(uint64(msg.SeqNum), 10),
		ReceivedAt: model.Now(),
		Status:     model.StatusPending,
	}, true
}

// extractAddress pulls the bare address out of a From header, preferring the
// angle-bracket form.
func extractAddress(from string) string {
	from = strings.TrimSpace(from)
	if lt := strings.Index(from, "<"); lt >= 0 {
		if gt := strings.Index(from[lt:], ">"); gt > 0 {
			from = from[lt+1 : lt+gt]
		}
	}
	return strings.Trim(strings.TrimSpace(from), `"'`)
}

// extractBody prefers text/plain; an HTML-only message gets its tags
// stripped.
func extractBody(mr *gomessage.Reader) string {
	var html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		inline, ok := part.Header.(*gomessage.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := inline.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch ct {
		case "text/plain":
			return string(data)
		case "text/html":
			if html == "" {
				html = string(data)
			}
		}
	}
	return htmlTagRe.ReplaceAllString(html, "")
}

func (m *imapMailbox) MarkRead(ctx context.Context, seq string) error {
	seq = strings.TrimSpace(seq)
	num, err := strconv.ParseUint(seq, 10, 32)
	if err != nil {
		return fmt.Errorf("mailbox: invalid sequence %q", seq)
	}

	c, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", false); err != nil {
		return fmt.Errorf("mailbox: select inbox: %w", err)
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uint32(num))
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqSet, item, []any{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("mailbox: mark read %s: %w", seq, err)
	}
	return nil
}

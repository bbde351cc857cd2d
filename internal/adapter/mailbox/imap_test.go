package mailbox

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/agentia/replyflow/config"
	gomessage "github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"张三 <zhangsan@example.com>", "zhangsan@example.com"},
		{"<plain@example.com>", "plain@example.com"},
		{"bare@example.com", "bare@example.com"},
		{`"Quoted Name" <q@example.com>`, "q@example.com"},
		{"  spaced@example.com  ", "spaced@example.com"},
		{"'single@example.com'", "single@example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractAddress(tt.in), "input %q", tt.in)
	}
}

func TestExtractBodyPrefersPlainText(t *testing.T) {
	raw := strings.Join([]string{
		"From: a@example.com",
		"To: b@example.com",
		"Subject: test",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="BOUNDARY"`,
		"",
		"--BOUNDARY",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html <b>body</b></p>",
		"--BOUNDARY",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain body",
		"--BOUNDARY--",
		"",
	}, "\r\n")

	mr, err := gomessage.CreateReader(strings.NewReader(raw))
	require.NoError(t, err)
	body := extractBody(mr)
	assert.Equal(t, "plain body", strings.TrimSpace(body))
}

func TestExtractBodyStripsHTMLWhenOnlyHTML(t *testing.T) {
	raw := strings.Join([]string{
		"From: a@example.com",
		"Subject: test",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="BOUNDARY"`,
		"",
		"--BOUNDARY",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<div>您好，<b>客户</b></div>",
		"--BOUNDARY--",
		"",
	}, "\r\n")

	mr, err := gomessage.CreateReader(strings.NewReader(raw))
	require.NoError(t, err)
	body := extractBody(mr)
	assert.NotContains(t, body, "<")
	assert.Contains(t, body, "您好")
	assert.Contains(t, body, "客户")
}

func TestMarkReadRejectsNonNumericSequence(t *testing.T) {
	cfg := &config.Config{}
	cfg.Mailbox.IMAPHost = "imap.qq.com"
	cfg.Mailbox.IMAPPort = 993
	f := NewFactory(cfg, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	box := f.ForAccount("me@qq.com", "code")

	err := box.MarkRead(context.Background(), "b'89'")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sequence")

	err = box.MarkRead(context.Background(), "")
	assert.Error(t, err)
}

func TestLoginErrorAddsQQHint(t *testing.T) {
	base := errors.New("LOGIN fail: authentication failed")
	err := loginError("imap.qq.com", base)
	assert.Contains(t, err.Error(), "授权码")

	err = loginError("imap.example.com", base)
	assert.NotContains(t, err.Error(), "授权码")
}

// Package smtpmail sends notification mail over plain SMTP.
package smtpmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/housecall/housecall/config"
	"github.com/housecall/housecall/internal/core"
)

// Mailer delivers messages through a single SMTP endpoint. It implements
// core.Mailer.
type Mailer struct {
	addr   string
	from   string
	auth   smtp.Auth
	logger *slog.Logger
}

// MailerOptions configures an SMTP mailer.
type MailerOptions struct {
	Config config.MailConfig
	Logger *slog.Logger
}

// NewMailer builds a mailer from SMTP settings. Auth is only used when a
// username is configured, which keeps local relays like MailHog working
// without credentials.
func NewMailer(opts MailerOptions) (*Mailer, error) {
	if opts.Config.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if opts.Config.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var auth smtp.Auth
	if opts.Config.Username != "" {
		auth = smtp.PlainAuth("", opts.Config.Username, opts.Config.Password, opts.Config.Host)
	}

	return &Mailer{
		addr:   net.JoinHostPort(opts.Config.Host, strconv.Itoa(opts.Config.Port)),
		from:   opts.Config.From,
		auth:   auth,
		logger: opts.Logger,
	}, nil
}

// Send delivers one message. The context is checked before dialing; the
// dial itself follows net/smtp's own timeouts.
func (m *Mailer) Send(ctx context.Context, msg core.MailMessage) error {
	if msg.To == "" {
		return errors.New("mail recipient is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body := formatMessage(m.from, msg)
	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{msg.To}, body); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}

	m.logger.DebugContext(ctx, "mail sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// formatMessage renders RFC 5322 headers plus the body with CRLF line
// endings as SMTP requires.
func formatMessage(from string, msg core.MailMessage) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

var _ core.Mailer = (*Mailer)(nil)

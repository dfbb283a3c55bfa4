package core

import "context"

// MailMessage is an outbound plain-text email.
type MailMessage struct {
	To      string
	Subject string
	Body    string
}

// Mailer defines the interface for outbound mail delivery. Batch senders
// treat a per-recipient failure as non-fatal: they log it and move on to
// the next recipient.
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

package notify

import (
	"context"

	"github.com/pkg/errors"
	"github.com/wneessen/go-mail"
)

// SMTPMailer submits messages to a mail relay, by default the one on localhost.
type SMTPMailer struct {
	host     string
	port     int
	from     string
	fromName string
}

// NewSMTPMailer creates a mailer for an unauthenticated relay.
func NewSMTPMailer(host string, port int, from, fromName string) *SMTPMailer {
	return &SMTPMailer{host: host, port: port, from: from, fromName: fromName}
}

// Send builds a multipart/alternative message and submits it.
func (m *SMTPMailer) Send(ctx context.Context, e Email) error {
	wrapMsg := "unable to submit email"

	msg := mail.NewMsg()
	if err := msg.FromFormat(m.fromName, m.from); err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	if err := msg.To(e.To); err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	msg.Subject(e.Subject)
	msg.SetBodyString(mail.TypeTextPlain, e.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, e.HTML)

	client, err := mail.NewClient(m.host,
		mail.WithPort(m.port),
		mail.WithTLSPolicy(mail.NoTLS),
	)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return errors.Wrap(client.DialAndSendWithContext(ctx, msg), wrapMsg)
}

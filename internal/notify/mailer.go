package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"text/template"

	"github.com/bridgecall/bridgecall/internal/queue"
)

// DefaultMailTemplate is the body of the magic-link email.
const DefaultMailTemplate = `Hi,

Use this link to sign in to BridgeCall:

{{.Link}}

The link is valid for {{.TTLMinutes}} minutes and works exactly once.

If you did not request a sign-in link, you can ignore this email.
`

const mailSubject = "Your BridgeCall sign-in link"

// SendFunc sends a rendered email. Split out so tests and development mode
// can swap the SMTP transport.
type SendFunc func(to, subject, body string) error

// Mailer renders and sends magic-link emails for consumed mail jobs.
type Mailer struct {
	tmpl *template.Template
	send SendFunc
}

// NewMailer creates a mailer with the default template.
func NewMailer(send SendFunc) (*Mailer, error) {
	tmpl, err := template.New("mail").Parse(DefaultMailTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse mail template: %w", err)
	}
	return &Mailer{tmpl: tmpl, send: send}, nil
}

// Deliver renders the email for a mail job and sends it. It is the
// queue.MailHandler wired into the consumer.
func (m *Mailer) Deliver(ctx context.Context, job *queue.MailJob) error {
	var body bytes.Buffer
	if err := m.tmpl.Execute(&body, job); err != nil {
		return fmt.Errorf("render mail body: %w", err)
	}
	if err := m.send(job.Email, mailSubject, body.String()); err != nil {
		return fmt.Errorf("send mail to %s: %w", job.Email, err)
	}
	return nil
}

// SMTPSend returns a SendFunc that delivers through the given SMTP server.
func SMTPSend(addr, from string) SendFunc {
	return func(to, subject, body string) error {
		msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body)
		return smtp.SendMail(addr, nil, from, []string{to}, []byte(msg))
	}
}

package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/inkroom/inkroom-api/pkg/config"
)

// SMTPMailer delivers transactional email over plain SMTP with AUTH, the
// same transport the front-of-house app uses. Each Send opens a fresh
// connection bounded by the configured timeout.
type SMTPMailer struct {
	cfg    config.MailConfig
	appURL string
}

// NewSMTPMailer constructs an SMTPMailer.
func NewSMTPMailer(cfg config.MailConfig, appURL string) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, appURL: strings.TrimRight(appURL, "/")}
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, kind Kind, recipient, rawToken, locale string) error {
	msg := messageFor(kind, locale)
	url := actionURL(m.appURL, msg, rawToken)

	from := m.cfg.From
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.From)
	}

	var body strings.Builder
	body.WriteString("From: " + from + "\r\n")
	body.WriteString("To: " + recipient + "\r\n")
	body.WriteString("Subject: " + msg.subject + "\r\n")
	body.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	body.WriteString(fmt.Sprintf(msg.lineFmt, url))
	body.WriteString("\r\n")

	timeout := m.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprintf("%d", m.cfg.Port))
	done := make(chan error, 1)
	go func() {
		var auth smtp.Auth
		if m.cfg.User != "" {
			auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
		}
		done <- smtp.SendMail(addr, auth, m.cfg.From, []string{recipient}, []byte(body.String()))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("smtp send: timeout after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

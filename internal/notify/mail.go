package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Mail sends notifications over SMTP. Auth is PLAIN and only used when User
// is set.
type Mail struct {
	Addr     string // host:port
	User     string
	Password string
	From     string
	To       []string
}

var _ Notifier = (*Mail)(nil)

// sendMail is swapped in tests.
var sendMail = smtp.SendMail

// Notify implements Notifier.
func (m *Mail) Notify(ctx context.Context, subject, body string) error {
	if len(m.To) == 0 {
		return fmt.Errorf("send mail: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.User != "" {
		host, _, err := net.SplitHostPort(m.Addr)
		if err != nil {
			return fmt.Errorf("parse smtp addr %q: %w", m.Addr, err)
		}
		auth = smtp.PlainAuth("", m.User, m.Password, host)
	}

	if err := sendMail(m.Addr, auth, m.From, m.To, m.message(subject, body)); err != nil {
		return fmt.Errorf("send mail via %s: %w", m.Addr, err)
	}
	return nil
}

func (m *Mail) message(subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

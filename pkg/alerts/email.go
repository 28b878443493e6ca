package alerts

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// EmailChannel delivers plain-text mail over SMTP. Port 465 uses implicit
// TLS and port 587 upgrades with STARTTLS. Settings: smtp_server,
// smtp_port, username, password, to_emails.
type EmailChannel struct {
	tlsConfig *tls.Config
}

// NewEmailChannel creates an SMTP channel.
func NewEmailChannel() *EmailChannel {
	return &EmailChannel{}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Send(ctx context.Context, cfg model.ChannelConfig, msg Message) error {
	host := cfg.String("smtp_server")
	port := cfg.Int("smtp_port", 25)
	username := cfg.String("username")
	password := cfg.String("password")
	to := splitList(cfg.String("to_emails"))
	if host == "" || username == "" || password == "" || len(to) == 0 {
		return fmt.Errorf("email settings incomplete")
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{Deadline: deadline}
	tlsConfig := e.tlsConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: host}
	}

	var conn net.Conn
	var err error
	if port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("connect smtp %s: %w", addr, err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("set smtp deadline: %w", err)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if port == 587 {
		if err := c.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if err := c.Auth(smtp.PlainAuth("", username, password, host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(username); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMail(username, to, msg)); err != nil {
		w.Close()
		return fmt.Errorf("write mail body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish mail body: %w", err)
	}
	return c.Quit()
}

func buildMail(from string, to []string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ",") + "\r\n")
	b.WriteString("Subject: " + mime.BEncoding.Encode("UTF-8", msg.Title) + "\r\n")
	b.WriteString("Date: " + msg.Timestamp.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

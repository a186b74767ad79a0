package mail

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	netmail "net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/env"
	"github.com/google/uuid"
)

// Mailer sends one HTML email and returns a provider message id.
type Mailer interface {
	Send(from, to, subject, html string) (string, error)
}

// NewFromEnv returns the SMTP mailer when SMTP_HOST is configured, or the
// dev logger otherwise so local runs never attempt real delivery.
func NewFromEnv() Mailer {
	if env.GetEnv("SMTP_HOST", "") == "" {
		return &LogMailer{}
	}
	return &SMTPMailer{}
}

// Outbound SMTP is bounded: the whole dialogue has to finish within the
// send timeout or the dispatcher moves on.
const (
	smtpDialTimeout = 10 * time.Second
	smtpSendTimeout = 30 * time.Second
)

// SMTPMailer sends emails via SMTP.
type SMTPMailer struct{}

func (m *SMTPMailer) Send(from, to, subject, html string) (string, error) {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "587")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")

	if strings.TrimSpace(from) == "" {
		from = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("mail: empty sender, using default sender: %s", from)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), host)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMessage-ID: %s\r\n", from, to, subject, messageID) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			html,
	)

	conn, err := (&net.Dialer{Timeout: smtpDialTimeout}).Dial("tcp", addr)
	if err != nil {
		log.Printf("SMTP dial error: %v", err)
		return "", err
	}
	_ = conn.SetDeadline(time.Now().Add(smtpSendTimeout))

	if err := transmit(conn, host, auth, envelopeAddress(from), to, msg); err != nil {
		log.Printf("SMTP send error: %v", err)
		return "", err
	}
	log.Printf("Email sent to %s via %s", to, addr)
	return messageID, nil
}

// envelopeAddress strips a display name so the MAIL FROM line carries the
// bare address.
func envelopeAddress(from string) string {
	if parsed, err := netmail.ParseAddress(from); err == nil {
		return parsed.Address
	}
	return from
}

// transmit drives the SMTP dialogue over an already-deadlined connection.
func transmit(conn net.Conn, host string, auth smtp.Auth, from, to string, msg []byte) error {
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// LogMailer logs instead of sending. Callers still record the ledger row so
// dispatch idempotency behaves the same as in production.
type LogMailer struct{}

const devMessageID = "dev-mode-no-send"

func (m *LogMailer) Send(from, to, subject, html string) (string, error) {
	log.Printf("[DEV] Email would be sent: to=%s subject=%q bytes=%d", to, subject, len(html))
	return devMessageID, nil
}

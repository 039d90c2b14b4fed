package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"time"
)

// Sender hands a rendered message to a mail transfer agent.
type Sender interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Endpoint Endpoint
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPSender delivers messages over a fresh SMTP connection per message.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates a sender for cfg.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send dials the transfer agent, authenticates and submits msg.
func (s *SMTPSender) Send(
	ctx context.Context, from string, to []string, msg []byte,
) error {
	addr := s.cfg.Endpoint.Addr()
	host := s.cfg.Endpoint.Host

	raw, err := s.cfg.Endpoint.dial(ctx, s.cfg.Timeout)
	if err != nil {
		return &TransportError{Op: "dial to SMTP " + addr, Err: err}
	}
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer stop()

	tlsConfig := &tls.Config{ServerName: host}

	conn := raw
	if s.cfg.Endpoint.Security == SecurityTLS {
		tlsConn := tls.Client(raw, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return &TransportError{Op: "SMTP TLS handshake " + addr, Err: err}
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return &TransportError{Op: "creating SMTP client", Err: err}
	}
	defer client.Close()

	if s.cfg.Endpoint.Security == SecurityStartTLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			return &TransportError{Op: "SMTP STARTTLS", Err: err}
		}
	}

	if s.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
			if err := client.Auth(auth); err != nil {
				return &AuthError{Username: s.cfg.Username, Err: err}
			}
		}
	}

	if err := submit(client, from, to, msg); err != nil {
		return &TransportError{Op: "sending message", Err: err}
	}
	return nil
}

// submit sends a message using an already-authenticated SMTP client.
func submit(client *smtp.Client, from string, to []string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT TO %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing message: %w", err)
	}

	return client.Quit()
}

package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultSMTPTimeout = 30 * time.Second

// SMTPConfig describes the relay used by SMTPTransport.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	ImplicitTLS bool
	Timeout     time.Duration
}

// SMTPTransport opens a new SMTP connection for every session.
type SMTPTransport struct {
	cfg    SMTPConfig
	sender Sender
	now    func() time.Time
}

func NewSMTPTransport(cfg SMTPConfig, sender Sender) (*SMTPTransport, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp port must be positive")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	if err := sender.Validate(); err != nil {
		return nil, err
	}

	return &SMTPTransport{
		cfg:    cfg,
		sender: sender,
		now:    time.Now,
	}, nil
}

func (t *SMTPTransport) Open(ctx context.Context) (Session, error) {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	dialer := &net.Dialer{Timeout: t.cfg.Timeout}

	var (
		conn net.Conn
		err  error
	)
	if t.cfg.ImplicitTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: t.cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &ProviderError{
			Message:   "smtp dial failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(t.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, &ProviderError{Message: "smtp handshake failed", Transient: true, Cause: err}
	}

	if !t.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
				_ = client.Close()
				return nil, &ProviderError{Message: "smtp starttls failed", Cause: err}
			}
		}
	}

	if t.cfg.Username != "" && t.cfg.Password != "" {
		auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return nil, &ProviderError{Message: "smtp auth failed", Cause: err}
		}
	}

	return &smtpSession{transport: t, client: client}, nil
}

type smtpSession struct {
	transport *SMTPTransport
	client    *smtp.Client
	closed    bool
}

func (s *smtpSession) Send(ctx context.Context, msg Message) (*Receipt, error) {
	if s.closed {
		return nil, fmt.Errorf("smtp session is closed")
	}
	if err := msg.validate(); err != nil {
		return nil, &ProviderError{Message: "invalid message", Cause: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Message: "smtp send aborted", Cause: err}
	}

	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), s.transport.cfg.Host)
	raw, err := BuildMIME(s.transport.sender, msg, messageID, s.transport.now())
	if err != nil {
		return nil, &ProviderError{Message: "failed to build message", Cause: err}
	}

	if err := s.client.Mail(s.transport.sender.Address); err != nil {
		return nil, smtpError("MAIL FROM rejected", err)
	}
	if err := s.client.Rcpt(msg.To); err != nil {
		return nil, smtpError("RCPT TO rejected", err)
	}

	w, err := s.client.Data()
	if err != nil {
		return nil, smtpError("DATA rejected", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return nil, smtpError("failed to write message", err)
	}
	if err := w.Close(); err != nil {
		return nil, smtpError("message rejected", err)
	}

	return &Receipt{MessageID: messageID}, nil
}

func (s *smtpSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.client.Quit(); err != nil {
		_ = s.client.Close()
		return err
	}
	return nil
}

// smtpError marks 4xx replies as transient.
func smtpError(message string, err error) error {
	transient := false
	var netErr net.Error
	if errors.As(err, &netErr) {
		transient = true
	}

	code := 0
	var replyErr *textproto.Error
	if errors.As(err, &replyErr) {
		code = replyErr.Code
	}
	if code >= 400 && code < 500 {
		transient = true
	}

	return &ProviderError{
		StatusCode: code,
		Message:    message,
		Transient:  transient,
		Cause:      err,
	}
}

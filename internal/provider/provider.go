package provider

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
)

// Transport opens delivery sessions. Callers open one session per message and
// must close it on every path.
type Transport interface {
	Open(ctx context.Context) (Session, error)
}

// Session is a single-use handle to the mail backend.
type Session interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
	Close() error
}

// Message is one rendered notification.
type Message struct {
	To          string
	ToName      string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Attachment is decoded file content attached to a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Receipt stores transport call metadata for results and persistence.
type Receipt struct {
	MessageID  string
	StatusCode int
}

// Sender is the envelope and header identity used by every transport.
type Sender struct {
	Address string
	Name    string
}

func (s Sender) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("sender address is required")
	}
	if _, err := mail.ParseAddress(s.Address); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	return nil
}

func (s Sender) String() string {
	return (&mail.Address{Name: s.Name, Address: s.Address}).String()
}

// DecodeAttachments converts request attachments into transport attachments.
func DecodeAttachments(in []domain.Attachment) ([]Attachment, error) {
	if len(in) == 0 {
		return nil, nil
	}

	out := make([]Attachment, 0, len(in))
	for _, a := range in {
		data, err := a.Decode()
		if err != nil {
			return nil, err
		}
		contentType := strings.TrimSpace(a.ContentType)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		out = append(out, Attachment{
			Filename:    a.Filename,
			ContentType: contentType,
			Data:        data,
		})
	}
	return out, nil
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("message recipient is required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("message subject is required")
	}
	return nil
}

package domain

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DefaultMaxBatchSize bounds recipients per request when no limit is configured.
const DefaultMaxBatchSize = 1000

// Attachment is a file attached to every message of a batch. Content is base64.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Content     string `json:"content"`
}

func (a Attachment) Decode() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(a.Content))
	if err != nil {
		return nil, fmt.Errorf("%w: attachment %q is not valid base64", ErrValidation, a.Filename)
	}
	return data, nil
}

// DispatchRequest is one batch submitted for delivery.
type DispatchRequest struct {
	BatchID      string         `json:"batchId,omitempty"`
	Recipients   []Recipient    `json:"recipients"`
	Subject      string         `json:"subject"`
	TemplateName TemplateName   `json:"template"`
	Variables    map[string]any `json:"variables,omitempty"`
	Attachments  []Attachment   `json:"attachments,omitempty"`
}

// Validate checks the request shape. Address syntax is checked per recipient
// during dispatch, not here.
func (r *DispatchRequest) Validate(maxBatchSize int) error {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}

	if len(r.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}
	if len(r.Recipients) > maxBatchSize {
		return fmt.Errorf("%w: batch size %d exceeds %d", ErrValidation, len(r.Recipients), maxBatchSize)
	}
	if strings.TrimSpace(r.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if strings.TrimSpace(r.TemplateName.String()) == "" {
		return fmt.Errorf("%w: template is required", ErrValidation)
	}
	if !r.TemplateName.IsValid() {
		return fmt.Errorf("%w: unknown template %q", ErrValidation, r.TemplateName)
	}
	for i, recipient := range r.Recipients {
		if strings.TrimSpace(recipient.Address) == "" {
			return fmt.Errorf("%w: recipient %d has no address", ErrValidation, i)
		}
	}
	for _, attachment := range r.Attachments {
		if strings.TrimSpace(attachment.Filename) == "" {
			return fmt.Errorf("%w: attachment filename is required", ErrValidation)
		}
		if _, err := attachment.Decode(); err != nil {
			return err
		}
	}

	return nil
}

// DispatchResult is the outcome for one recipient.
type DispatchResult struct {
	Address   string    `json:"address"`
	Success   bool      `json:"success"`
	MessageID string    `json:"messageId,omitempty"`
	Error     string    `json:"error,omitempty"`
	Kind      ErrorKind `json:"kind,omitempty"`
}

// Statistics summarizes one dispatch run.
type Statistics struct {
	Total       int    `json:"total"`
	Successful  int    `json:"successful"`
	Failed      int    `json:"failed"`
	SuccessRate string `json:"successRate"`
}

package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultDisplayName      = "Valued Customer"
	DefaultOrganizationName = "Our Company"
)

// BillingInfo carries the per-recipient figures a reminder is personalized with.
type BillingInfo struct {
	AmountDue           float64    `json:"amountDue"`
	OverdueInstallments int        `json:"overdueInstallments"`
	NextDueDate         *time.Time `json:"nextDueDate,omitempty"`
	PaymentLink         string     `json:"paymentLink,omitempty"`
}

// Recipient is one notification target within a batch.
type Recipient struct {
	Address          string         `json:"address"`
	DisplayName      string         `json:"displayName,omitempty"`
	OrganizationName string         `json:"organizationName,omitempty"`
	Billing          *BillingInfo   `json:"billing,omitempty"`
	Variables        map[string]any `json:"variables,omitempty"`
}

// UnmarshalJSON accepts either a bare address string or a recipient object.
func (r *Recipient) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var address string
		if err := json.Unmarshal(trimmed, &address); err != nil {
			return fmt.Errorf("%w: invalid recipient: %v", ErrValidation, err)
		}
		*r = Recipient{Address: address}
		return nil
	}

	type plain Recipient
	var decoded plain
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return fmt.Errorf("%w: invalid recipient: %v", ErrValidation, err)
	}
	*r = Recipient(decoded)
	return nil
}

// NormalizedAddress is the comparison key used for de-duplication.
func (r Recipient) NormalizedAddress() string {
	return strings.ToLower(strings.TrimSpace(r.Address))
}

func (r Recipient) NameOrDefault() string {
	if name := strings.TrimSpace(r.DisplayName); name != "" {
		return name
	}
	return DefaultDisplayName
}

func (r Recipient) OrganizationOrDefault() string {
	if org := strings.TrimSpace(r.OrganizationName); org != "" {
		return org
	}
	return DefaultOrganizationName
}

package recipient

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
)

// DefaultDisposableDomains is used when no denylist is configured.
var DefaultDisposableDomains = []string{
	"mailinator.com",
	"guerrillamail.com",
	"10minutemail.com",
	"tempmail.com",
	"temp-mail.org",
	"throwawaymail.com",
	"yopmail.com",
	"trashmail.com",
	"getnada.com",
	"sharklasers.com",
	"dispostable.com",
	"maildrop.cc",
}

// Validator checks address syntax and rejects throwaway domains.
type Validator struct {
	validate *validator.Validate
	denylist []string
}

func NewValidator(disposableDomains []string) *Validator {
	if len(disposableDomains) == 0 {
		disposableDomains = DefaultDisposableDomains
	}

	denylist := make([]string, 0, len(disposableDomains))
	for _, d := range disposableDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			denylist = append(denylist, d)
		}
	}

	return &Validator{
		validate: validator.New(),
		denylist: denylist,
	}
}

// Validate reports whether address is a syntactically valid email address.
func (v *Validator) Validate(address string) bool {
	address = strings.TrimSpace(address)
	if address == "" {
		return false
	}
	return v.validate.Var(address, "required,email") == nil
}

// IsDisposable reports whether the address domain contains a denylisted entry.
func (v *Validator) IsDisposable(address string) bool {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return false
	}
	domainPart := strings.ToLower(strings.TrimSpace(address[at+1:]))
	if domainPart == "" {
		return false
	}

	for _, entry := range v.denylist {
		if strings.Contains(domainPart, entry) {
			return true
		}
	}
	return false
}

// Check combines both predicates and returns the matching domain error.
func (v *Validator) Check(address string) error {
	if !v.Validate(address) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAddress, address)
	}
	if v.IsDisposable(address) {
		return fmt.Errorf("%w: %q", domain.ErrDisposableAddress, address)
	}
	return nil
}

func (v *Validator) Denylist() []string {
	out := make([]string, len(v.denylist))
	copy(out, v.denylist)
	return out
}

package domain

import (
	"fmt"
	"strings"
)

// TemplateName identifies a reminder template from the closed business set.
type TemplateName string

const (
	TemplateFirstNotice    TemplateName = "first-notice"
	Template7DayNotice     TemplateName = "7-day-notice"
	Template15DayNotice    TemplateName = "15-day-notice"
	Template30DayNotice    TemplateName = "30-day-notice"
	TemplateContactRequest TemplateName = "contact-request"
)

var templateDisplayNames = map[TemplateName]string{
	TemplateFirstNotice:    "First payment notice",
	Template7DayNotice:     "7 days overdue",
	Template15DayNotice:    "15 days overdue",
	Template30DayNotice:    "30 days overdue",
	TemplateContactRequest: "Contact request",
}

// TemplateNames returns the allowed identifiers in escalation order.
func TemplateNames() []TemplateName {
	return []TemplateName{
		TemplateFirstNotice,
		Template7DayNotice,
		Template15DayNotice,
		Template30DayNotice,
		TemplateContactRequest,
	}
}

func (t TemplateName) String() string { return string(t) }

func (t TemplateName) IsValid() bool {
	_, ok := templateDisplayNames[t]
	return ok
}

func (t TemplateName) DisplayName() string {
	if name, ok := templateDisplayNames[t]; ok {
		return name
	}
	return string(t)
}

func ParseTemplateName(s string) (TemplateName, error) {
	name := TemplateName(strings.ToLower(strings.TrimSpace(s)))
	if name == "" {
		return "", fmt.Errorf("%w: template is required", ErrValidation)
	}
	if !name.IsValid() {
		return "", fmt.Errorf("%w: unknown template %q", ErrValidation, s)
	}
	return name, nil
}

// TemplateInfo describes a template for discovery.
type TemplateInfo struct {
	Name        TemplateName `json:"name"`
	DisplayName string       `json:"displayName"`
}

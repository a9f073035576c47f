package service

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
	"github.com/kursadbilgin/reminder-dispatch/internal/template"
)

const (
	defaultCurrencySymbol = "$"
	dueDateLayout         = "2006-01-02"
)

// recipientVariables computes the per-recipient template fields. Billing
// fields are only set when the recipient carries billing data, so templates
// show the raw marker otherwise.
func recipientVariables(r domain.Recipient, currencySymbol string) map[string]any {
	vars := map[string]any{
		"name":             r.NameOrDefault(),
		"organizationName": r.OrganizationOrDefault(),
		"email":            strings.TrimSpace(r.Address),
	}

	if r.Billing == nil {
		return vars
	}

	vars["amountDue"] = formatAmount(r.Billing.AmountDue, currencySymbol)
	vars["overdueInstallments"] = strconv.Itoa(r.Billing.OverdueInstallments)
	if r.Billing.NextDueDate != nil {
		vars["nextDueDate"] = r.Billing.NextDueDate.Format(dueDateLayout)
	}
	if link := strings.TrimSpace(r.Billing.PaymentLink); link != "" {
		vars["paymentLink"] = link
	}

	return vars
}

// mergeVariables layers currentYear, request variables, computed recipient
// fields and recipient variables, later layers winning.
func mergeVariables(now time.Time, requestVars map[string]any, r domain.Recipient, currencySymbol string) map[string]any {
	merged := make(map[string]any, len(requestVars)+len(r.Variables)+8)
	merged[template.CurrentYearKey] = strconv.Itoa(now.Year())
	maps.Copy(merged, requestVars)
	maps.Copy(merged, recipientVariables(r, currencySymbol))
	maps.Copy(merged, r.Variables)
	return merged
}

func formatAmount(amount float64, currencySymbol string) string {
	if currencySymbol == "" {
		currencySymbol = defaultCurrencySymbol
	}
	return fmt.Sprintf("%s%.2f", currencySymbol, amount)
}

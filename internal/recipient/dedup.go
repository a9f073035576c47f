package recipient

import "github.com/kursadbilgin/reminder-dispatch/internal/domain"

// Deduplicate drops later recipients whose normalized address was already
// seen. Order of first occurrences is preserved.
func Deduplicate(recipients []domain.Recipient) ([]domain.Recipient, int) {
	seen := make(map[string]struct{}, len(recipients))
	unique := make([]domain.Recipient, 0, len(recipients))

	for _, r := range recipients {
		key := r.NormalizedAddress()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, r)
	}

	return unique, len(recipients) - len(unique)
}

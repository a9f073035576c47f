package service

import (
	"fmt"

	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
)

// Summarize aggregates per-recipient results. SuccessRate is "0%" for an
// empty run.
func Summarize(results []domain.DispatchResult) domain.Statistics {
	stats := domain.Statistics{Total: len(results)}
	for _, r := range results {
		if r.Success {
			stats.Successful++
		} else {
			stats.Failed++
		}
	}

	if stats.Total == 0 {
		stats.SuccessRate = "0%"
		return stats
	}

	rate := float64(stats.Successful) / float64(stats.Total) * 100
	stats.SuccessRate = fmt.Sprintf("%.2f%%", rate)
	return stats
}

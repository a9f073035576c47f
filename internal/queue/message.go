package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
)

// DispatchJob is the broker payload for one asynchronously dispatched batch.
type DispatchJob struct {
	BatchID       string                 `json:"batchId"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Request       domain.DispatchRequest `json:"request"`
	EnqueuedAt    time.Time              `json:"enqueuedAt"`
}

func (j DispatchJob) Validate() error {
	if strings.TrimSpace(j.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if len(j.Request.Recipients) == 0 {
		return fmt.Errorf("request has no recipients")
	}
	if !j.Request.TemplateName.IsValid() {
		return fmt.Errorf("invalid template %q", j.Request.TemplateName)
	}
	return nil
}

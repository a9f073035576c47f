package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
	"github.com/kursadbilgin/reminder-dispatch/internal/observability"
	"github.com/kursadbilgin/reminder-dispatch/internal/provider"
	"github.com/kursadbilgin/reminder-dispatch/internal/queue"
	"github.com/kursadbilgin/reminder-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/reminder-dispatch/internal/recipient"
	"github.com/kursadbilgin/reminder-dispatch/internal/repository"
	"github.com/kursadbilgin/reminder-dispatch/internal/template"
	"go.uber.org/zap"
)

// ErrAsyncDisabled is returned by EnqueueBatch when no publisher is configured.
var ErrAsyncDisabled = errors.New("async dispatch is not configured")

// BatchOutcome is the response of a synchronous batch dispatch.
type BatchOutcome struct {
	Success           bool                    `json:"success"`
	BatchID           string                  `json:"batchId"`
	Statistics        domain.Statistics       `json:"statistics"`
	DuplicatesRemoved int                     `json:"duplicatesRemoved"`
	Counters          ratelimit.Counters      `json:"counters"`
	Results           []domain.DispatchResult `json:"results"`
}

// SingleRequest is a one-recipient dispatch.
type SingleRequest struct {
	Recipient    domain.Recipient    `json:"recipient"`
	Subject      string              `json:"subject"`
	TemplateName domain.TemplateName `json:"template"`
	Variables    map[string]any      `json:"variables,omitempty"`
}

// DispatchService runs capacity check and dispatch under one lock so that
// concurrent callers cannot race past the same check.
type DispatchService struct {
	mu sync.Mutex

	limiter      *ratelimit.Limiter
	templates    template.Store
	dispatcher   *Dispatcher
	validator    *recipient.Validator
	batches      repository.BatchRepository
	publisher    queue.Publisher
	maxBatchSize int
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time
	newID        func() string
}

func NewDispatchService(
	limiter *ratelimit.Limiter,
	templates template.Store,
	dispatcher *Dispatcher,
	validator *recipient.Validator,
	batches repository.BatchRepository,
	publisher queue.Publisher,
	maxBatchSize int,
	logger *zap.Logger,
) (*DispatchService, error) {
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template store is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("recipient validator is required")
	}
	if maxBatchSize <= 0 {
		maxBatchSize = domain.DefaultMaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchService{
		limiter:      limiter,
		templates:    templates,
		dispatcher:   dispatcher,
		validator:    validator,
		batches:      batches,
		publisher:    publisher,
		maxBatchSize: maxBatchSize,
		logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}, nil
}

func (s *DispatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// DispatchBatch validates, de-duplicates, checks capacity for the whole
// batch and delivers it. Request-level failures return before any send.
func (s *DispatchService) DispatchBatch(ctx context.Context, req domain.DispatchRequest) (*BatchOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batchID, err := s.batchID(req.BatchID)
	if err != nil {
		return nil, err
	}
	req.BatchID = batchID

	outcome, err := s.dispatchBatch(ctx, req)
	if err != nil {
		return nil, err
	}

	s.saveBatch(ctx, s.batchRecord(req, outcome), false)
	return outcome, nil
}

func (s *DispatchService) dispatchBatch(ctx context.Context, req domain.DispatchRequest) (*BatchOutcome, error) {
	ctx = observability.WithBatchID(ctx, req.BatchID)
	logger := observability.WithContextLogger(s.logger, ctx)

	if err := req.Validate(s.maxBatchSize); err != nil {
		return nil, err
	}

	attachments, err := provider.DecodeAttachments(req.Attachments)
	if err != nil {
		return nil, err
	}

	unique, removed := recipient.Deduplicate(req.Recipients)

	results, err := s.run(ctx, req.TemplateName, Run{
		Subject:     req.Subject,
		Variables:   req.Variables,
		Attachments: attachments,
		Recipients:  unique,
	})
	if err != nil {
		logger.Warn("batch rejected",
			zap.Int("recipients", len(unique)),
			zap.String("kind", domain.KindOf(err).String()),
			zap.Error(err),
		)
		return nil, err
	}

	outcome := &BatchOutcome{
		Success:           true,
		BatchID:           req.BatchID,
		Statistics:        Summarize(results),
		DuplicatesRemoved: removed,
		Counters:          s.limiter.Counters(),
		Results:           results,
	}

	if s.metrics != nil {
		s.metrics.ObserveBatch(domain.StatusFromStatistics(outcome.Statistics).String(), len(unique), removed)
	}
	logger.Info("batch dispatched",
		zap.String("template", req.TemplateName.String()),
		zap.Int("total", outcome.Statistics.Total),
		zap.Int("successful", outcome.Statistics.Successful),
		zap.Int("failed", outcome.Statistics.Failed),
		zap.String("successRate", outcome.Statistics.SuccessRate),
		zap.Int("duplicatesRemoved", removed),
		zap.Int("sentThisHour", outcome.Counters.SentThisHour),
		zap.Int("sentToday", outcome.Counters.SentToday),
	)

	return outcome, nil
}

// run holds the lock across capacity check, template load and delivery.
func (s *DispatchService) run(ctx context.Context, name domain.TemplateName, run Run) ([]domain.DispatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.limiter.Check(len(run.Recipients)); err != nil {
		if s.metrics != nil {
			s.metrics.IncRateLimitRejected(domain.KindOf(err).String())
		}
		return nil, err
	}

	body, err := s.templates.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	run.Body = body

	return s.dispatcher.Dispatch(ctx, run), nil
}

// DispatchSingle sends to one recipient. Unlike batches, a recipient-level
// failure is returned as an error alongside the result.
func (s *DispatchService) DispatchSingle(ctx context.Context, req SingleRequest) (*domain.DispatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batch := domain.DispatchRequest{
		Recipients:   []domain.Recipient{req.Recipient},
		Subject:      req.Subject,
		TemplateName: req.TemplateName,
		Variables:    req.Variables,
	}
	if err := batch.Validate(1); err != nil {
		return nil, err
	}
	if err := s.validator.Check(strings.TrimSpace(req.Recipient.Address)); err != nil {
		return nil, err
	}

	results, err := s.run(ctx, req.TemplateName, Run{
		Subject:    req.Subject,
		Variables:  req.Variables,
		Recipients: batch.Recipients,
	})
	if err != nil {
		return nil, err
	}

	result := results[0]
	if !result.Success {
		sentinel := domain.ErrTransportFailure
		if result.Kind == domain.KindCanceled {
			sentinel = domain.ErrCanceled
		}
		return &result, fmt.Errorf("%w: %s", sentinel, result.Error)
	}

	return &result, nil
}

// EnqueueBatch validates req, records it as queued and publishes it for the
// background consumer. It returns the batch ID.
func (s *DispatchService) EnqueueBatch(ctx context.Context, req domain.DispatchRequest) (string, error) {
	if s.publisher == nil {
		return "", ErrAsyncDisabled
	}
	if err := req.Validate(s.maxBatchSize); err != nil {
		return "", err
	}
	batchID, err := s.batchID(req.BatchID)
	if err != nil {
		return "", err
	}
	req.BatchID = batchID

	logger := observability.WithContextLogger(s.logger, observability.WithBatchID(ctx, req.BatchID))

	queued := &domain.Batch{
		ID:           req.BatchID,
		TemplateName: req.TemplateName,
		Subject:      req.Subject,
		Status:       domain.BatchStatusQueued,
		TotalCount:   len(req.Recipients),
	}
	if s.batches != nil {
		if err := s.batches.Create(ctx, queued); err != nil {
			return "", fmt.Errorf("failed to record queued batch: %w", err)
		}
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	job := queue.DispatchJob{
		BatchID:       req.BatchID,
		CorrelationID: correlationID,
		Request:       req,
		EnqueuedAt:    s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, queue.BulkQueue, job); err != nil {
		logger.Error("failed to publish dispatch job", zap.Error(err))
		reason := err.Error()
		queued.Status = domain.BatchStatusFailed
		queued.RejectReason = &reason
		s.saveBatch(ctx, queued, true)
		return "", fmt.Errorf("failed to publish dispatch job: %w", err)
	}

	logger.Info("batch queued", zap.Int("recipients", len(req.Recipients)))
	return req.BatchID, nil
}

// HandleJob is the queue handler for asynchronously submitted batches.
// Request-level rejections are recorded and acknowledged, not retried.
func (s *DispatchService) HandleJob(ctx context.Context, job queue.DispatchJob) error {
	if job.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, job.CorrelationID)
	}

	req := job.Request
	req.BatchID = job.BatchID

	outcome, err := s.dispatchBatch(ctx, req)
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindValidationFailure,
			domain.KindTemplateNotFound,
			domain.KindHourlyLimitExceeded,
			domain.KindDailyLimitExceeded:
			reason := err.Error()
			s.saveBatch(ctx, &domain.Batch{
				ID:           req.BatchID,
				TemplateName: req.TemplateName,
				Subject:      req.Subject,
				Status:       domain.BatchStatusRejected,
				TotalCount:   len(req.Recipients),
				RejectReason: &reason,
			}, true)
			return nil
		default:
			return err
		}
	}

	s.saveBatch(ctx, s.batchRecord(req, outcome), true)
	return nil
}

func (s *DispatchService) ListTemplates(ctx context.Context) ([]domain.TemplateInfo, error) {
	return s.templates.List(ctx)
}

func (s *DispatchService) Counters() ratelimit.Counters {
	return s.limiter.Counters()
}

func (s *DispatchService) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	if s.batches == nil {
		return nil, domain.ErrNotFound
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	return s.batches.GetByID(ctx, id)
}

// batchID returns the caller-supplied ID, which must be a UUID, or a new one.
func (s *DispatchService) batchID(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return s.newID(), nil
	}
	if _, err := uuid.Parse(requested); err != nil {
		return "", fmt.Errorf("%w: batchId must be a UUID", domain.ErrValidation)
	}
	return requested, nil
}

func (s *DispatchService) batchRecord(req domain.DispatchRequest, outcome *BatchOutcome) *domain.Batch {
	now := s.now().UTC()
	batch := &domain.Batch{
		ID:                outcome.BatchID,
		TemplateName:      req.TemplateName,
		Subject:           req.Subject,
		Status:            domain.StatusFromStatistics(outcome.Statistics),
		TotalCount:        outcome.Statistics.Total,
		SuccessCount:      outcome.Statistics.Successful,
		FailedCount:       outcome.Statistics.Failed,
		DuplicatesRemoved: outcome.DuplicatesRemoved,
		Results:           make([]domain.BatchResult, 0, len(outcome.Results)),
	}

	for i, r := range outcome.Results {
		result := domain.BatchResult{
			ID:        s.newID(),
			BatchID:   outcome.BatchID,
			Position:  i,
			Address:   r.Address,
			Success:   r.Success,
			CreatedAt: now,
		}
		if r.MessageID != "" {
			messageID := r.MessageID
			result.MessageID = &messageID
		}
		if r.Error != "" {
			errText := r.Error
			result.Error = &errText
		}
		if r.Kind != "" {
			kind := r.Kind
			result.Kind = &kind
		}
		batch.Results = append(batch.Results, result)
	}

	return batch
}

// saveBatch persists batch history. Failures are logged only and never change
// the dispatch outcome.
func (s *DispatchService) saveBatch(ctx context.Context, batch *domain.Batch, queued bool) {
	if s.batches == nil || batch == nil {
		return
	}

	// the dispatch already happened; persist even if the caller went away.
	ctx = context.WithoutCancel(ctx)

	var err error
	if queued {
		err = s.batches.Complete(ctx, batch)
		if errors.Is(err, domain.ErrNotFound) {
			err = s.batches.Create(ctx, batch)
		}
	} else {
		err = s.batches.Create(ctx, batch)
	}
	if err != nil {
		s.logger.Error("failed to persist batch history",
			zap.String("batchId", batch.ID),
			zap.String("status", batch.Status.String()),
			zap.Error(err),
		)
	}
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
	"github.com/kursadbilgin/reminder-dispatch/internal/observability"
	"github.com/kursadbilgin/reminder-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/reminder-dispatch/internal/service"
	"github.com/kursadbilgin/reminder-dispatch/internal/transport"
)

type DispatchService interface {
	DispatchBatch(ctx context.Context, req domain.DispatchRequest) (*service.BatchOutcome, error)
	DispatchSingle(ctx context.Context, req service.SingleRequest) (*domain.DispatchResult, error)
	EnqueueBatch(ctx context.Context, req domain.DispatchRequest) (string, error)
	ListTemplates(ctx context.Context) ([]domain.TemplateInfo, error)
	Counters() ratelimit.Counters
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
}

type DispatchHandler struct {
	service DispatchService
}

func NewDispatchHandler(service DispatchService) (*DispatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	return &DispatchHandler{service: service}, nil
}

func RegisterDispatchRoutes(router fiber.Router, service DispatchService) error {
	h, err := NewDispatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/dispatch/bulk", h.DispatchBulk)
	v1.Post("/dispatch/bulk/async", h.EnqueueBulk)
	v1.Post("/dispatch/single", h.DispatchSingle)
	v1.Get("/dispatch/counters", h.GetCounters)
	v1.Get("/templates", h.ListTemplates)
	v1.Get("/batches/:batchId", h.GetBatch)

	return nil
}

type enqueueResponse struct {
	BatchID string `json:"batchId"`
	Status  string `json:"status"`
}

type templatesResponse struct {
	Data []domain.TemplateInfo `json:"data"`
}

type batchResponse struct {
	BatchID           string                `json:"batchId"`
	Template          string                `json:"template"`
	Subject           string                `json:"subject"`
	Status            string                `json:"status"`
	TotalCount        int                   `json:"totalCount"`
	SuccessCount      int                   `json:"successCount"`
	FailedCount       int                   `json:"failedCount"`
	DuplicatesRemoved int                   `json:"duplicatesRemoved"`
	RejectReason      *string               `json:"rejectReason,omitempty"`
	Results           []batchResultResponse `json:"results"`
	CreatedAt         time.Time             `json:"createdAt,omitempty"`
	UpdatedAt         time.Time             `json:"updatedAt,omitempty"`
}

type batchResultResponse struct {
	Address   string  `json:"address"`
	Success   bool    `json:"success"`
	MessageID *string `json:"messageId,omitempty"`
	Error     *string `json:"error,omitempty"`
	Kind      *string `json:"kind,omitempty"`
}

// DispatchBulk delivers a batch synchronously. Per-recipient failures are
// part of a 200 response.
func (h *DispatchHandler) DispatchBulk(c *fiber.Ctx) error {
	var req domain.DispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	outcome, err := h.service.DispatchBatch(requestContext(c), req)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(outcome)
}

func (h *DispatchHandler) EnqueueBulk(c *fiber.Ctx) error {
	var req domain.DispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	batchID, err := h.service.EnqueueBatch(requestContext(c), req)
	if err != nil {
		if errors.Is(err, service.ErrAsyncDisabled) {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(enqueueResponse{
		BatchID: batchID,
		Status:  domain.BatchStatusQueued.String(),
	})
}

func (h *DispatchHandler) DispatchSingle(c *fiber.Ctx) error {
	var req service.SingleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.DispatchSingle(requestContext(c), req)
	if err != nil {
		if result == nil {
			return err
		}
		// delivery was attempted: report the result with the failure status
		code, _ := transport.StatusFor(err)
		return c.Status(code).JSON(result)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *DispatchHandler) GetCounters(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.service.Counters())
}

func (h *DispatchHandler) ListTemplates(c *fiber.Ctx) error {
	templates, err := h.service.ListTemplates(requestContext(c))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(templatesResponse{Data: templates})
}

func (h *DispatchHandler) GetBatch(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	batch, err := h.service.GetBatch(requestContext(c), batchID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	results := make([]batchResultResponse, 0, len(b.Results))
	for _, r := range b.Results {
		item := batchResultResponse{
			Address:   r.Address,
			Success:   r.Success,
			MessageID: r.MessageID,
			Error:     r.Error,
		}
		if r.Kind != nil {
			kind := r.Kind.String()
			item.Kind = &kind
		}
		results = append(results, item)
	}

	return batchResponse{
		BatchID:           b.ID,
		Template:          b.TemplateName.String(),
		Subject:           b.Subject,
		Status:            b.Status.String(),
		TotalCount:        b.TotalCount,
		SuccessCount:      b.SuccessCount,
		FailedCount:       b.FailedCount,
		DuplicatesRemoved: b.DuplicatesRemoved,
		RejectReason:      b.RejectReason,
		Results:           results,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

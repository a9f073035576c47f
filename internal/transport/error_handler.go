package transport

import (
	"errors"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
	"github.com/kursadbilgin/reminder-dispatch/internal/ratelimit"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error             string           `json:"error"`
	Kind              domain.ErrorKind `json:"kind,omitempty"`
	RetryAfterSeconds int              `json:"retryAfterSeconds,omitempty"`
}

// ErrorHandler renders handler errors as {"error", "kind"} JSON with a status
// derived from the domain error kind.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code, kind := StatusFor(err)
		body := errorResponse{Error: err.Error(), Kind: kind}

		var limitErr *ratelimit.LimitError
		if errors.As(err, &limitErr) {
			seconds := int(math.Ceil(limitErr.RetryAfter.Seconds()))
			body.RetryAfterSeconds = seconds
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if kind != "" {
			fields = append(fields, zap.String("kind", kind.String()))
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Warn("request error", fields...)
		}

		return c.Status(code).JSON(body)
	}
}

// StatusFor maps err to an HTTP status and error kind.
func StatusFor(err error) (int, domain.ErrorKind) {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		if fiberErr.Code == fiber.StatusBadRequest {
			return fiberErr.Code, domain.KindValidationFailure
		}
		return fiberErr.Code, ""
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest, domain.KindValidationFailure
	case errors.Is(err, domain.ErrInvalidAddress):
		return fiber.StatusBadRequest, domain.KindInvalidAddress
	case errors.Is(err, domain.ErrDisposableAddress):
		return fiber.StatusBadRequest, domain.KindDisposableAddress
	case errors.Is(err, domain.ErrTemplateNotFound):
		return fiber.StatusNotFound, domain.KindTemplateNotFound
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, domain.KindNotFound
	case errors.Is(err, domain.ErrHourlyLimitExceeded):
		return fiber.StatusTooManyRequests, domain.KindHourlyLimitExceeded
	case errors.Is(err, domain.ErrDailyLimitExceeded):
		return fiber.StatusTooManyRequests, domain.KindDailyLimitExceeded
	case errors.Is(err, domain.ErrTransportFailure):
		return fiber.StatusBadGateway, domain.KindTransportFailure
	case errors.Is(err, domain.ErrCanceled):
		return fiber.StatusServiceUnavailable, domain.KindCanceled
	default:
		return fiber.StatusInternalServerError, ""
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
	"github.com/kursadbilgin/reminder-dispatch/internal/observability"
	"github.com/kursadbilgin/reminder-dispatch/internal/provider"
	"github.com/kursadbilgin/reminder-dispatch/internal/recipient"
	"github.com/kursadbilgin/reminder-dispatch/internal/template"
	"go.uber.org/zap"
)

const DefaultInterMessageDelay = time.Second

// SendRecorder receives one call per confirmed send.
type SendRecorder interface {
	RecordSent()
}

// Run is one validated, de-duplicated batch ready for delivery.
type Run struct {
	Subject     string
	Body        string
	Variables   map[string]any
	Attachments []provider.Attachment
	Recipients  []domain.Recipient
}

// Dispatcher delivers a Run strictly sequentially, pacing sends with a fixed
// delay and isolating per-recipient failures.
type Dispatcher struct {
	validator      *recipient.Validator
	transport      provider.Transport
	recorder       SendRecorder
	delay          time.Duration
	transportName  string
	currencySymbol string
	logger         *zap.Logger
	metrics        *observability.Metrics
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	validator *recipient.Validator,
	transport provider.Transport,
	recorder SendRecorder,
	delay time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if validator == nil {
		return nil, fmt.Errorf("recipient validator is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("send recorder is required")
	}
	if delay < 0 {
		delay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		validator:      validator,
		transport:      transport,
		recorder:       recorder,
		delay:          delay,
		transportName:  "default",
		currencySymbol: defaultCurrencySymbol,
		logger:         logger,
		now:            time.Now,
		sleep:          sleepWithContext,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics, transportName string) {
	if d == nil {
		return
	}
	d.metrics = metrics
	if name := strings.TrimSpace(transportName); name != "" {
		d.transportName = name
	}
}

func (d *Dispatcher) SetCurrencySymbol(symbol string) {
	if d == nil || strings.TrimSpace(symbol) == "" {
		return
	}
	d.currencySymbol = strings.TrimSpace(symbol)
}

// Dispatch returns exactly one result per recipient, in order. When ctx is
// canceled the remaining recipients are reported as canceled without a send.
func (d *Dispatcher) Dispatch(ctx context.Context, run Run) []domain.DispatchResult {
	logger := observability.WithContextLogger(d.logger, ctx)
	results := make([]domain.DispatchResult, 0, len(run.Recipients))

	for i, r := range run.Recipients {
		if err := ctx.Err(); err != nil {
			return appendCanceled(results, run.Recipients[i:])
		}

		result := d.dispatchOne(ctx, logger, run, r)
		results = append(results, result)

		if i < len(run.Recipients)-1 && d.delay > 0 {
			if err := d.sleep(ctx, d.delay); err != nil {
				return appendCanceled(results, run.Recipients[i+1:])
			}
		}
	}

	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, logger *zap.Logger, run Run, r domain.Recipient) domain.DispatchResult {
	address := strings.TrimSpace(r.Address)

	if err := d.validator.Check(address); err != nil {
		result := failedResult(address, err)
		d.logAttempt(logger, result)
		return result
	}

	vars := mergeVariables(d.now(), run.Variables, r, d.currencySymbol)
	msg := provider.Message{
		To:          address,
		ToName:      strings.TrimSpace(r.DisplayName),
		Subject:     template.RenderAt(run.Subject, vars, d.now()),
		HTML:        template.RenderAt(run.Body, vars, d.now()),
		Attachments: run.Attachments,
	}

	start := d.now()
	receipt, err := d.send(ctx, msg)
	if d.metrics != nil {
		d.metrics.ObserveSendDuration(d.transportName, d.now().Sub(start))
	}
	if err != nil {
		result := failedResult(address, err)
		d.logAttempt(logger, result, zap.Bool("transient", provider.IsTransient(err)))
		return result
	}

	d.recorder.RecordSent()
	if d.metrics != nil {
		d.metrics.IncMessageSent(d.transportName)
	}

	result := domain.DispatchResult{Address: address, Success: true}
	if receipt != nil {
		result.MessageID = receipt.MessageID
	}
	d.logAttempt(logger, result)
	return result
}

// send opens a fresh session for msg and always closes it.
func (d *Dispatcher) send(ctx context.Context, msg provider.Message) (receipt *provider.Receipt, err error) {
	session, err := d.transport.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open session: %w", domain.ErrTransportFailure, err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			d.logger.Debug("transport session close failed", zap.Error(closeErr))
		}
	}()

	receipt, err = session.Send(ctx, msg)
	if err != nil {
		if !errors.Is(err, domain.ErrTransportFailure) {
			err = fmt.Errorf("%w: %w", domain.ErrTransportFailure, err)
		}
		return nil, err
	}
	return receipt, nil
}

func (d *Dispatcher) logAttempt(logger *zap.Logger, result domain.DispatchResult, extra ...zap.Field) {
	fields := []zap.Field{
		zap.String("recipient", result.Address),
		zap.Bool("success", result.Success),
	}

	if result.Success {
		fields = append(fields, zap.String("messageId", result.MessageID))
		logger.Info("dispatch attempt", append(fields, extra...)...)
		return
	}

	if d.metrics != nil {
		d.metrics.IncMessageFailed(result.Kind.String())
	}
	fields = append(fields,
		zap.String("kind", result.Kind.String()),
		zap.String("error", result.Error),
	)
	logger.Warn("dispatch attempt", append(fields, extra...)...)
}

func failedResult(address string, err error) domain.DispatchResult {
	return domain.DispatchResult{
		Address: address,
		Success: false,
		Error:   err.Error(),
		Kind:    domain.KindOf(err),
	}
}

func appendCanceled(results []domain.DispatchResult, remaining []domain.Recipient) []domain.DispatchResult {
	for _, r := range remaining {
		results = append(results, domain.DispatchResult{
			Address: strings.TrimSpace(r.Address),
			Error:   domain.ErrCanceled.Error(),
			Kind:    domain.KindCanceled,
		})
	}
	return results
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
